/**
 * @description
 * This file implements the allocation cycle: the batch process that, for each
 * session whose registration window has opened, decides accept/reject for the
 * pending requests and drives the accepted ones through finalization.
 *
 * Concurrency model: sessions are processed by a bounded worker pool within a
 * cycle, while each individual session's accept/reject decision is serialized
 * against other cycles by the repository's per-session allocation transaction
 * (row lock with NOWAIT). A session whose lock is contended is skipped this
 * cycle and retried on the next tick; no partial decision is ever persisted.
 */

package app

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/campseat/registration-service/internal/domain"
	"github.com/campseat/registration-service/internal/store"
	"github.com/google/uuid"
)

// RunCycle executes one allocation cycle: expiry sweep, then allocation and
// finalization for up to maxSessionsOverride (or the configured cap) due
// sessions. Errors on individual sessions or requests are isolated and
// counted; only listing failures abort the cycle.
func (s *Service) RunCycle(ctx context.Context, maxSessionsOverride int) (*domain.CycleResult, error) {
	result := &domain.CycleResult{}

	// Suspended requests whose verification window lapsed must reach a
	// terminal state before new allocation work begins, and accepted requests
	// stranded by a crash or a failed confirm write get finalization
	// re-entered before their spot is considered settled.
	result.InterruptsExpired = s.SweepExpiredInterrupts(ctx)
	result.AcceptedRecovered = s.RecoverStaleAccepted(ctx)

	maxSessions := s.cfg.MaxSessionsPerCycle
	if maxSessionsOverride > 0 {
		maxSessions = maxSessionsOverride
	}

	sessionIDs, err := s.repo.ListDueSessionIDs(ctx, s.now().UTC(), maxSessions)
	if err != nil {
		return nil, err
	}
	if len(sessionIDs) == 0 {
		return result, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.cfg.SessionWorkers)
	)
	for _, sessionID := range sessionIDs {
		sessionID := sessionID
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.processSession(ctx, sessionID, result, &mu)
		}()
	}
	wg.Wait()

	log.Printf("level=info component=allocator msg=\"cycle complete\" sessions=%d contended=%d accepted=%d rejected=%d confirmed=%d suspended=%d failed=%d interrupts_expired=%d accepted_recovered=%d",
		result.SessionsProcessed, result.SessionsContended, result.Accepted, result.Rejected,
		result.Confirmed, result.Suspended, result.Failed, result.InterruptsExpired, result.AcceptedRecovered)
	return result, nil
}

// processSession runs the allocation transaction for one session and then
// finalizes each accepted request. All counter updates go through mu.
func (s *Service) processSession(ctx context.Context, sessionID uuid.UUID, result *domain.CycleResult, mu *sync.Mutex) {
	// The decider runs inside the allocation transaction; byID keeps the full
	// request rows around so post-commit notification and finalization do not
	// need to re-read them.
	byID := make(map[uuid.UUID]domain.RegistrationRequest)
	decide := func(session *domain.Session, taken int, blocked []uuid.UUID, candidates []domain.RegistrationRequest) store.AllocationDecision {
		for _, c := range candidates {
			byID[c.ID] = c
		}
		return decideAllocation(session, taken, blocked, candidates, s.cfg.UserSessionCap)
	}

	decision, err := s.repo.AllocateSessionAtomic(ctx, sessionID, decide)
	if err != nil {
		mu.Lock()
		defer mu.Unlock()
		if errors.Is(err, store.ErrSessionBusy) {
			result.SessionsContended++
			log.Printf("level=info component=allocator msg=\"session contended; skipping until next cycle\" session_id=%s", sessionID)
			return
		}
		result.SessionsProcessed++
		log.Printf("level=error component=allocator msg=\"session allocation failed\" session_id=%s err=%v", sessionID, err)
		return
	}

	mu.Lock()
	result.SessionsProcessed++
	result.Accepted += len(decision.Accept)
	result.Rejected += len(decision.Reject)
	mu.Unlock()

	for _, rej := range decision.Reject {
		req, ok := byID[rej.RequestID]
		if !ok {
			continue
		}
		req.Status = domain.RequestRejected
		s.notify(ctx, &req, NoticeRejected, rej.Reason, "")
	}

	for _, id := range decision.Accept {
		req, ok := byID[id]
		if !ok {
			continue
		}
		req.Status = domain.RequestAccepted
		s.notify(ctx, &req, NoticeAccepted, "", "")

		outcome := s.finalizeRequest(ctx, &req)
		mu.Lock()
		switch outcome {
		case finalizeConfirmed:
			result.Confirmed++
		case finalizeSuspended:
			result.Suspended++
		case finalizeFailed:
			result.Failed++
		}
		mu.Unlock()
	}
}

// decideAllocation applies the resolver and the capacity cut: the top
// (capacity - taken) eligible candidates are accepted, the remainder rejected
// with reason "no spot".
func decideAllocation(session *domain.Session, taken int, blocked []uuid.UUID, candidates []domain.RegistrationRequest, userSessionCap int) store.AllocationDecision {
	eligible, rejects := resolveCandidates(candidates, blocked, userSessionCap)

	available := session.Capacity - taken
	if available < 0 {
		available = 0
	}

	decision := store.AllocationDecision{Reject: rejects}
	for i, req := range eligible {
		if i < available {
			decision.Accept = append(decision.Accept, req.ID)
			continue
		}
		decision.Reject = append(decision.Reject, store.RejectedCandidate{
			RequestID: req.ID,
			Reason:    domain.ReasonNoSpot,
		})
	}
	return decision
}
