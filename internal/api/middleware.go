/**
 * @description
 * This file contains custom middleware for the HTTP router. The only
 * authentication surface this service carries is the internal API key for
 * server-to-server operational endpoints; the public resume endpoint is
 * authenticated by the resume token itself.
 *
 * @dependencies
 * - net/http: Standard Go library.
 */

package api

import (
	"crypto/subtle"
	"net/http"
)

// InternalAuthMiddleware validates the internal API key for server-to-server calls.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				http.Error(w, "Internal API not configured", http.StatusServiceUnavailable)
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
