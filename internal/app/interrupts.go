/**
 * @description
 * This file implements finalization and the interrupt manager: the state
 * machine that drives an accepted request through external form submission,
 * suspends it when the collaborator reports a human-verification challenge,
 * and resumes or expires it later.
 *
 * State machine during finalization:
 *
 *   accepted --(submission attempted)--> confirmed | failed | suspended
 *   suspended --(resume: solved)-------> accepted   [re-enters finalization]
 *   suspended --(resume: failed)-------> failed
 *   suspended --(token expires)--------> failed
 *
 * Single-use resume semantics come from the atomic interrupt consumption in
 * the store layer, not from the token encoding: whoever flips the record off
 * `pending` first wins, every later attempt gets "already resolved".
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/campseat/registration-service/internal/domain"
	"github.com/campseat/registration-service/internal/store"
	"github.com/campseat/registration-service/internal/token"
	"github.com/campseat/registration-service/pkg/submitclient"
	"github.com/google/uuid"
)

type finalizeOutcome int

const (
	finalizeConfirmed finalizeOutcome = iota
	finalizeSuspended
	finalizeFailed
	finalizeRescheduled
)

// finalizeRequest attempts to finish one accepted request: submit the
// registration form via the external collaborator, then either capture
// payment, suspend on a verification challenge, or fail/reschedule.
func (s *Service) finalizeRequest(ctx context.Context, req *domain.RegistrationRequest) finalizeOutcome {
	submitCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmissionTimeout)
	result, err := s.submitter.Submit(submitCtx, req.ID, req.SessionID, req.DependentID)
	cancel()
	if err != nil {
		return s.handleSubmissionFailure(ctx, req, err.Error())
	}

	switch result.Outcome {
	case submitclient.OutcomeConfirmed:
		if s.captureForRequest(ctx, req) {
			return finalizeConfirmed
		}
		return finalizeFailed
	case submitclient.OutcomeVerificationRequired:
		return s.suspendForVerification(ctx, req, result.Context)
	default:
		return s.handleSubmissionFailure(ctx, req, result.Reason)
	}
}

// handleSubmissionFailure applies the retry budget: while attempts remain the
// request is parked back in `scheduled` for the next cycle; once the budget
// is exhausted it fails terminally.
func (s *Service) handleSubmissionFailure(ctx context.Context, req *domain.RegistrationRequest, cause string) finalizeOutcome {
	retries, err := s.repo.IncrementRequestRetry(ctx, req.ID, cause)
	if err != nil {
		log.Printf("level=error component=interrupts msg=\"retry bookkeeping failed\" request_id=%s err=%v", req.ID, err)
		retries = s.cfg.SubmissionRetryMax
	}

	if retries < s.cfg.SubmissionRetryMax {
		if _, err := s.repo.RescheduleRequestForRetry(ctx, req.ID); err != nil {
			log.Printf("level=error component=interrupts msg=\"reschedule failed\" request_id=%s err=%v", req.ID, err)
		} else {
			log.Printf("level=info component=interrupts msg=\"submission failed; rescheduled\" request_id=%s retries=%d cause=%q", req.ID, retries, cause)
			return finalizeRescheduled
		}
	}

	if err := s.repo.MarkRequestFailed(ctx, req.ID, domain.ReasonSubmissionFailed, cause); err != nil {
		log.Printf("level=error component=interrupts msg=\"failed-state persistence failed\" request_id=%s err=%v", req.ID, err)
	}
	req.Status = domain.RequestFailed
	s.notify(ctx, req, NoticeFailed, domain.ReasonSubmissionFailed, "")
	return finalizeFailed
}

// suspendForVerification records the interrupt, issues the resume token, and
// parks the request in `suspended`. If an active interrupt already exists the
// call is a no-op that reuses the existing record and its stored token.
func (s *Service) suspendForVerification(ctx context.Context, req *domain.RegistrationRequest, provider string) finalizeOutcome {
	record, err := s.ensureInterrupt(ctx, req, provider)
	if err != nil {
		log.Printf("level=error component=interrupts msg=\"interrupt creation failed\" request_id=%s err=%v", req.ID, err)
		return s.handleSubmissionFailure(ctx, req, "interrupt creation failed: "+err.Error())
	}

	if ok, err := s.repo.MarkRequestSuspended(ctx, req.ID); err != nil {
		log.Printf("level=error component=interrupts msg=\"suspend persistence failed\" request_id=%s err=%v", req.ID, err)
	} else if !ok {
		// Already suspended from an earlier duplicate report; nothing to redo.
		log.Printf("level=info component=interrupts msg=\"request already suspended\" request_id=%s", req.ID)
	}
	req.Status = domain.RequestSuspended
	s.notify(ctx, req, NoticeSuspended, "", s.resumeURL(record.ResumeToken))
	return finalizeSuspended
}

// ensureInterrupt returns the active interrupt record for a request, creating
// one (with a freshly issued token) when none exists. The detection cache
// short-circuits repeated collaborator reports inside the TTL window; the
// database's partial unique index is the authoritative guard.
func (s *Service) ensureInterrupt(ctx context.Context, req *domain.RegistrationRequest, provider string) (*domain.InterruptRecord, error) {
	if s.detection != nil {
		if seen, err := s.detection.RecentlyDetected(ctx, req.ID); err == nil && seen {
			if existing, err := s.repo.FindActiveInterruptByRequestID(ctx, req.ID); err == nil {
				return existing, nil
			}
		}
	}

	existing, err := s.repo.FindActiveInterruptByRequestID(ctx, req.ID)
	if err == nil {
		s.markDetection(ctx, req.ID, time.Until(existing.ExpiresAt))
		return existing, nil
	}
	if !errors.Is(err, store.ErrInterruptNotFound) {
		return nil, err
	}

	record := &domain.InterruptRecord{
		ID:        uuid.New(),
		RequestID: req.ID,
		Provider:  provider,
		Status:    domain.InterruptPending,
		CreatedAt: s.now().UTC(),
	}
	signed, expiresAt, err := s.tokens.Issue(req.ID, record.ID)
	if err != nil {
		return nil, err
	}
	record.ResumeToken = signed
	record.ExpiresAt = expiresAt

	if err := s.repo.CreateInterruptRecord(ctx, record); err != nil {
		if errors.Is(err, store.ErrInterruptActive) {
			// Lost the race to a concurrent report; use the winner's record.
			return s.repo.FindActiveInterruptByRequestID(ctx, req.ID)
		}
		return nil, err
	}
	s.markDetection(ctx, req.ID, s.tokens.TTL())
	return record, nil
}

func (s *Service) markDetection(ctx context.Context, requestID uuid.UUID, ttl time.Duration) {
	if s.detection == nil || ttl <= 0 {
		return
	}
	if err := s.detection.MarkDetected(ctx, requestID, ttl); err != nil {
		log.Printf("level=warn component=interrupts msg=\"detection cache write failed\" request_id=%s err=%v", requestID, err)
	}
}

// Resume authenticates a resume token and applies the human's verdict.
// clientKey identifies the caller for rate limiting (typically the remote IP).
func (s *Service) Resume(ctx context.Context, tokenString string, outcome domain.ResumeOutcome, clientKey string) (*domain.ResumeResult, error) {
	if !outcome.Valid() {
		return nil, ErrInvalidOutcome
	}
	if s.limiter != nil && s.cfg.ResumeRateLimit > 0 && clientKey != "" {
		count, _, err := s.limiter.ConsumeRateLimit(ctx, "resume", clientKey, s.cfg.ResumeRateLimit, s.cfg.ResumeRateWindow)
		if err != nil {
			log.Printf("level=warn component=interrupts msg=\"rate limiter unavailable; allowing resume\" err=%v", err)
		} else if count > s.cfg.ResumeRateLimit {
			return nil, ErrResumeRateLimited
		}
	}

	claims, err := s.tokens.Verify(tokenString)
	if err != nil {
		if errors.Is(err, token.ErrExpiredToken) {
			return nil, ErrResumeTokenExpired
		}
		return nil, ErrInvalidResumeToken
	}

	record, err := s.repo.FindInterruptByID(ctx, claims.InterruptID)
	if err != nil {
		if errors.Is(err, store.ErrInterruptNotFound) {
			return nil, ErrInvalidResumeToken
		}
		return nil, err
	}
	if record.RequestID != claims.RequestID {
		return nil, ErrInvalidResumeToken
	}
	if record.Status != domain.InterruptPending {
		return nil, ErrAlreadyResolved
	}
	if !s.now().Before(record.ExpiresAt) {
		// The sweep will fail the request shortly; reject the token now.
		return nil, ErrResumeTokenExpired
	}

	req, err := s.repo.FindRequestByID(ctx, claims.RequestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.RequestSuspended {
		return nil, ErrRequestNotSuspended
	}

	switch outcome {
	case domain.ResumeSolved:
		return s.resumeSolved(ctx, req, record)
	default:
		return s.resumeFailed(ctx, req, record)
	}
}

// resumeSolved consumes the interrupt, reactivates the request, and re-enters
// finalization exactly once.
func (s *Service) resumeSolved(ctx context.Context, req *domain.RegistrationRequest, record *domain.InterruptRecord) (*domain.ResumeResult, error) {
	consumed, err := s.repo.ConsumeInterrupt(ctx, record.ID, domain.InterruptSolved)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, ErrAlreadyResolved
	}

	reactivated, err := s.repo.ReactivateSuspendedRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if !reactivated {
		return nil, ErrRequestNotSuspended
	}
	req.Status = domain.RequestAccepted

	log.Printf("level=info component=interrupts msg=\"verification solved; re-entering finalization\" request_id=%s interrupt_id=%s", req.ID, record.ID)
	outcome := s.finalizeRequest(ctx, req)
	return &domain.ResumeResult{RequestID: req.ID, Status: statusForOutcome(outcome)}, nil
}

// statusForOutcome maps a finalization outcome onto the request status it
// persisted, so the resume response reports what actually happened rather
// than a re-read that may race or fail.
func statusForOutcome(outcome finalizeOutcome) domain.RequestStatus {
	switch outcome {
	case finalizeConfirmed:
		return domain.RequestConfirmed
	case finalizeSuspended:
		return domain.RequestSuspended
	case finalizeRescheduled:
		return domain.RequestScheduled
	default:
		return domain.RequestFailed
	}
}

// resumeFailed consumes the interrupt and fails the request terminally. The
// consume and the request transition share one transaction: if either write
// fails, the interrupt stays pending and the expiry sweep picks it up.
func (s *Service) resumeFailed(ctx context.Context, req *domain.RegistrationRequest, record *domain.InterruptRecord) (*domain.ResumeResult, error) {
	consumed, err := s.repo.ConsumeInterruptFailingRequest(ctx, record.ID, domain.InterruptFailed, domain.ReasonVerificationFailed)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, ErrAlreadyResolved
	}

	req.Status = domain.RequestFailed
	s.notify(ctx, req, NoticeFailed, domain.ReasonVerificationFailed, "")
	return &domain.ResumeResult{RequestID: req.ID, Status: domain.RequestFailed}, nil
}

// SweepExpiredInterrupts fails every suspended request whose verification
// window lapsed without resolution. Returns the number of interrupts expired.
func (s *Service) SweepExpiredInterrupts(ctx context.Context) int {
	expired, err := s.repo.ListExpiredPendingInterrupts(ctx, s.now().UTC(), s.cfg.SweepBatchSize)
	if err != nil {
		log.Printf("level=error component=interrupts msg=\"expiry sweep listing failed\" err=%v", err)
		return 0
	}

	count := 0
	for _, record := range expired {
		// Consume and fail atomically so a write failure leaves the interrupt
		// pending for the next sweep instead of stranding the request.
		consumed, err := s.repo.ConsumeInterruptFailingRequest(ctx, record.ID, domain.InterruptExpired, domain.ReasonVerificationExpired)
		if err != nil {
			log.Printf("level=error component=interrupts msg=\"expire interrupt failed\" interrupt_id=%s err=%v", record.ID, err)
			continue
		}
		if !consumed {
			continue
		}
		count++

		req, err := s.repo.FindRequestByID(ctx, record.RequestID)
		if err != nil {
			log.Printf("level=error component=interrupts msg=\"expired request lookup failed\" request_id=%s err=%v", record.RequestID, err)
			continue
		}
		s.notify(ctx, req, NoticeFailed, domain.ReasonVerificationExpired, "")
	}
	return count
}

// RecoverStaleAccepted re-enters finalization for accepted requests that have
// sat untouched past the configured threshold. A request stays `accepted`
// only transiently during finalization; a stale one was stranded by a crash
// or a failed confirm write after its spot (and possibly its charge) was
// secured. Re-entry is safe: the charge record is idempotent per request and
// the confirm transition is guarded. Returns the number of requests
// finalized.
func (s *Service) RecoverStaleAccepted(ctx context.Context) int {
	cutoff := s.now().UTC().Add(-s.cfg.StaleAcceptedAfter)
	stale, err := s.repo.ListStaleAcceptedRequests(ctx, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		log.Printf("level=error component=interrupts msg=\"stale accepted listing failed\" err=%v", err)
		return 0
	}

	count := 0
	for i := range stale {
		req := stale[i]
		log.Printf("level=warn component=interrupts msg=\"recovering stale accepted request\" request_id=%s updated_at=%s", req.ID, req.UpdatedAt.Format(time.RFC3339))
		s.finalizeRequest(ctx, &req)
		count++
	}
	return count
}
