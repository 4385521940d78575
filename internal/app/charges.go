/**
 * @description
 * This file implements the charge dispatcher: payment capture for requests
 * whose automated submission succeeded. Capture is idempotent per request —
 * the single ChargeRecord row keyed by request id is both the idempotency
 * anchor in our database and the idempotency key sent to the processor, so a
 * retried or timed-out capture can never charge twice.
 *
 * A payment failure is terminal for the request, and the allocated spot is
 * deliberately NOT released back to the pool: trading a possibly-unused spot
 * for the guarantee that no allocation is silently reassigned after being
 * communicated as a success.
 */

package app

import (
	"context"
	"log"

	"github.com/campseat/registration-service/internal/domain"
)

// captureForRequest runs payment capture for an accepted request whose
// submission was confirmed. Returns true when the request ends `confirmed`.
func (s *Service) captureForRequest(ctx context.Context, req *domain.RegistrationRequest) bool {
	session, err := s.repo.FindSessionByID(ctx, req.SessionID)
	if err != nil {
		log.Printf("level=error component=charges msg=\"session lookup failed\" request_id=%s session_id=%s err=%v", req.ID, req.SessionID, err)
		return s.failForPayment(ctx, req, "session lookup failed: "+err.Error())
	}

	charge, err := s.repo.GetOrCreateChargeRecord(ctx, req.ID, session.PriceCents)
	if err != nil {
		log.Printf("level=error component=charges msg=\"charge record unavailable\" request_id=%s err=%v", req.ID, err)
		return s.failForPayment(ctx, req, "charge record unavailable: "+err.Error())
	}

	switch charge.Status {
	case domain.ChargeCaptured:
		// Idempotent no-op: the money already moved; just make sure the
		// request reflects it.
		return s.confirmRequest(ctx, req)
	case domain.ChargeFailed:
		return s.failForPayment(ctx, req, "charge previously failed")
	}

	captureCtx, cancel := context.WithTimeout(ctx, s.cfg.ChargeTimeout)
	resp, err := s.capturer.Capture(captureCtx, req.ID.String(), charge.AmountCents)
	cancel()
	if err != nil {
		// Timeout or transport failure: treated as failure, never as
		// ambiguous. The idempotency key guarantees a manual retry cannot
		// double-capture.
		if _, markErr := s.repo.MarkChargeFailed(ctx, charge.ID, err.Error()); markErr != nil {
			log.Printf("level=error component=charges msg=\"charge failure persistence failed\" charge_id=%s err=%v", charge.ID, markErr)
		}
		return s.failForPayment(ctx, req, err.Error())
	}

	if !resp.Captured {
		if _, markErr := s.repo.MarkChargeFailed(ctx, charge.ID, resp.Reason); markErr != nil {
			log.Printf("level=error component=charges msg=\"charge failure persistence failed\" charge_id=%s err=%v", charge.ID, markErr)
		}
		return s.failForPayment(ctx, req, resp.Reason)
	}

	if captured, err := s.repo.MarkChargeCaptured(ctx, charge.ID, resp.Reference); err != nil {
		log.Printf("level=error component=charges msg=\"capture persistence failed\" charge_id=%s err=%v", charge.ID, err)
	} else if !captured {
		// Another writer got there first; the unique captured row still holds.
		log.Printf("level=info component=charges msg=\"charge already resolved by concurrent writer\" charge_id=%s", charge.ID)
	}
	return s.confirmRequest(ctx, req)
}

func (s *Service) confirmRequest(ctx context.Context, req *domain.RegistrationRequest) bool {
	confirmed, err := s.repo.MarkRequestConfirmed(ctx, req.ID)
	if err != nil {
		log.Printf("level=error component=charges msg=\"confirm persistence failed\" request_id=%s err=%v", req.ID, err)
		return false
	}
	if !confirmed {
		log.Printf("level=info component=charges msg=\"request not in accepted state at confirm time\" request_id=%s", req.ID)
		return false
	}
	req.Status = domain.RequestConfirmed
	s.notify(ctx, req, NoticeConfirmed, "", "")
	return true
}

func (s *Service) failForPayment(ctx context.Context, req *domain.RegistrationRequest, cause string) bool {
	if err := s.repo.MarkRequestFailed(ctx, req.ID, domain.ReasonPaymentFailed, cause); err != nil {
		log.Printf("level=error component=charges msg=\"failed-state persistence failed\" request_id=%s err=%v", req.ID, err)
	}
	req.Status = domain.RequestFailed
	s.notify(ctx, req, NoticeFailed, domain.ReasonPaymentFailed, "")
	return false
}
