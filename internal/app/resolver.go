/**
 * @description
 * This file implements the duplicate & fairness resolver: the pure ordering
 * logic that turns a session's undecided requests into an eligible, ordered
 * candidate list. It runs inside the session's allocation transaction, on the
 * snapshot observed under the row lock, and has no side effects of its own.
 *
 * Rules, applied in order:
 *  1. Duplicate collapse — a candidate whose dependent already holds a spot
 *     for the session (accepted, suspended, or confirmed in an earlier batch)
 *     is rejected with reason "duplicate"; among the remaining candidates,
 *     requests sharing (session, dependent) merge into one, the earliest
 *     requested_at survives, and the rest are rejected with the same reason.
 *  2. Per-user quota — a user keeps at most `userSessionCap` surviving
 *     requests per session (earliest first); the excess is rejected with
 *     reason "quota exceeded".
 *  3. Ordering — priority-flagged requests first, then ascending
 *     requested_at, with the request id as a final deterministic tie-break.
 *     No other field affects order.
 */

package app

import (
	"sort"

	"github.com/campseat/registration-service/internal/domain"
	"github.com/campseat/registration-service/internal/store"
	"github.com/google/uuid"
)

// resolveCandidates collapses duplicates, applies the per-user quota, and
// orders the survivors. blockedDependents are dependents that already hold a
// spot for the session; their candidates are duplicates of earlier winners.
// The input is expected in (requested_at, id) order, which the candidate
// query guarantees; the function does not rely on it for correctness, only
// for stable iteration.
func resolveCandidates(candidates []domain.RegistrationRequest, blockedDependents []uuid.UUID, userSessionCap int) (ordered []domain.RegistrationRequest, rejects []store.RejectedCandidate) {
	if userSessionCap <= 0 {
		userSessionCap = 1
	}

	sorted := make([]domain.RegistrationRequest, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].RequestedAt.Equal(sorted[j].RequestedAt) {
			return sorted[i].RequestedAt.Before(sorted[j].RequestedAt)
		}
		return sorted[i].ID.String() < sorted[j].ID.String()
	})

	// 1. Duplicate collapse: dependents holding a spot from an earlier batch
	// block all of their new candidates; within the batch, the first
	// (earliest) request per dependent wins.
	seenDependent := make(map[uuid.UUID]bool, len(sorted)+len(blockedDependents))
	for _, dep := range blockedDependents {
		seenDependent[dep] = true
	}
	var survivors []domain.RegistrationRequest
	for _, req := range sorted {
		if seenDependent[req.DependentID] {
			rejects = append(rejects, store.RejectedCandidate{RequestID: req.ID, Reason: domain.ReasonDuplicate})
			continue
		}
		seenDependent[req.DependentID] = true
		survivors = append(survivors, req)
	}

	// 2. Per-user quota on the survivors, earliest first.
	perUser := make(map[uuid.UUID]int, len(survivors))
	var eligible []domain.RegistrationRequest
	for _, req := range survivors {
		if perUser[req.UserID] >= userSessionCap {
			rejects = append(rejects, store.RejectedCandidate{RequestID: req.ID, Reason: domain.ReasonQuotaExceeded})
			continue
		}
		perUser[req.UserID]++
		eligible = append(eligible, req)
	}

	// 3. Priority first, then FIFO, then id.
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority
		}
		if !eligible[i].RequestedAt.Equal(eligible[j].RequestedAt) {
			return eligible[i].RequestedAt.Before(eligible[j].RequestedAt)
		}
		return eligible[i].ID.String() < eligible[j].ID.String()
	})

	return eligible, rejects
}
