/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the registration-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/campseat/registration-service/internal/domain"
	"github.com/google/uuid"
)

// RejectedCandidate pairs a request with the user-visible reason it was
// rejected during allocation.
type RejectedCandidate struct {
	RequestID uuid.UUID
	Reason    string
}

// AllocationDecision is the accept/reject verdict computed for one session
// inside its allocation transaction. Everything listed here is persisted
// atomically; requests in neither list are left untouched for the next cycle.
type AllocationDecision struct {
	Accept []uuid.UUID
	Reject []RejectedCandidate
}

// AllocationDecider computes the decision for a session while its row lock is
// held. `taken` is the number of spots already consumed (confirmed plus
// in-flight accepted/allocating/suspended requests) observed under the lock.
// `blockedDependents` lists dependents that already hold one of those spots:
// a candidate for a blocked dependent is a duplicate of an earlier winner and
// must never be accepted, no matter which batch it arrives in. The function
// must be pure: it sees a consistent snapshot and returns the transitions to
// persist.
type AllocationDecider func(session *domain.Session, taken int, blockedDependents []uuid.UUID, candidates []domain.RegistrationRequest) AllocationDecision

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Session methods
	FindSessionByID(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
	// ListDueSessionIDs returns ids of open sessions whose registration window
	// has opened and which still have undecided pending/scheduled requests.
	ListDueSessionIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// AllocateSessionAtomic runs `decide` under an exclusive row lock on the
	// session and persists the resulting transitions in the same transaction.
	// Returns ErrSessionBusy without side effects when the lock is already
	// held by a concurrent cycle.
	AllocateSessionAtomic(ctx context.Context, sessionID uuid.UUID, decide AllocationDecider) (*AllocationDecision, error)

	// RegistrationRequest methods
	FindRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.RegistrationRequest, error)
	// MarkRequestSuspended transitions accepted -> suspended. Returns false if
	// the request was not in `accepted`.
	MarkRequestSuspended(ctx context.Context, requestID uuid.UUID) (bool, error)
	// ReactivateSuspendedRequest transitions suspended -> accepted. Returns
	// false if the request was not in `suspended`.
	ReactivateSuspendedRequest(ctx context.Context, requestID uuid.UUID) (bool, error)
	// MarkRequestConfirmed transitions accepted -> confirmed. Returns false if
	// the request was not in `accepted`.
	MarkRequestConfirmed(ctx context.Context, requestID uuid.UUID) (bool, error)
	MarkRequestFailed(ctx context.Context, requestID uuid.UUID, reason string, lastError string) error
	// RescheduleRequestForRetry transitions accepted -> scheduled so the next
	// cycle retries submission. Returns false if the request was not in
	// `accepted`.
	RescheduleRequestForRetry(ctx context.Context, requestID uuid.UUID) (bool, error)
	IncrementRequestRetry(ctx context.Context, requestID uuid.UUID, lastError string) (int, error)
	// ListStaleAcceptedRequests returns accepted requests untouched since
	// olderThan, so finalization can be re-entered for rows stranded by a
	// crash or a failed confirm write.
	ListStaleAcceptedRequests(ctx context.Context, olderThan time.Time, limit int) ([]domain.RegistrationRequest, error)

	// InterruptRecord methods
	FindInterruptByID(ctx context.Context, interruptID uuid.UUID) (*domain.InterruptRecord, error)
	FindActiveInterruptByRequestID(ctx context.Context, requestID uuid.UUID) (*domain.InterruptRecord, error)
	// CreateInterruptRecord inserts a new pending record. Returns
	// ErrInterruptActive when the request already has a pending one.
	CreateInterruptRecord(ctx context.Context, record *domain.InterruptRecord) error
	// ConsumeInterrupt flips a pending record to a resolved status exactly
	// once. Returns false when the record was already resolved.
	ConsumeInterrupt(ctx context.Context, interruptID uuid.UUID, status domain.InterruptStatus) (bool, error)
	// ConsumeInterruptFailingRequest consumes a pending interrupt and marks the
	// owning request failed in one transaction, so a persistence failure on
	// either side rolls back both and the sweep can retry. Returns false when
	// the interrupt was already resolved.
	ConsumeInterruptFailingRequest(ctx context.Context, interruptID uuid.UUID, status domain.InterruptStatus, reason string) (bool, error)
	ListExpiredPendingInterrupts(ctx context.Context, now time.Time, limit int) ([]domain.InterruptRecord, error)
	ListInterruptsByRequestID(ctx context.Context, requestID uuid.UUID) ([]domain.InterruptRecord, error)

	// ChargeRecord methods
	// GetOrCreateChargeRecord returns the single charge row for a request,
	// creating it in `pending` if absent. The unique constraint on request_id
	// makes concurrent calls converge on one row.
	GetOrCreateChargeRecord(ctx context.Context, requestID uuid.UUID, amountCents int64) (*domain.ChargeRecord, error)
	// MarkChargeCaptured flips pending -> captured. Returns false if the row
	// was not in `pending` (already captured or failed).
	MarkChargeCaptured(ctx context.Context, chargeID uuid.UUID, externalReference string) (bool, error)
	// MarkChargeFailed flips pending -> failed. A captured charge is never
	// downgraded.
	MarkChargeFailed(ctx context.Context, chargeID uuid.UUID, reason string) (bool, error)
	FindChargeByRequestID(ctx context.Context, requestID uuid.UUID) (*domain.ChargeRecord, error)

	// Audit events
	CreateRegistrationEvent(ctx context.Context, event domain.RegistrationEvent) error
}
