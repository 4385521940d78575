/**
 * @description
 * This file defines the core domain models for the registration-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Prices are stored as `int64` in the smallest currency unit (cents), which
 *   avoids floating-point inaccuracies with money.
 * - Status values are modeled as typed string constants so transitions can be
 *   validated at compile-call sites instead of comparing raw literals.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus enumerates the lifecycle states of a RegistrationRequest.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestScheduled  RequestStatus = "scheduled"
	RequestAllocating RequestStatus = "allocating"
	RequestAccepted   RequestStatus = "accepted"
	RequestRejected   RequestStatus = "rejected"
	RequestSuspended  RequestStatus = "suspended"
	RequestConfirmed  RequestStatus = "confirmed"
	RequestFailed     RequestStatus = "failed"
)

// Terminal reports whether no further automated transition can occur.
func (s RequestStatus) Terminal() bool {
	return s == RequestConfirmed || s == RequestRejected || s == RequestFailed
}

// InterruptStatus enumerates the lifecycle states of an InterruptRecord.
type InterruptStatus string

const (
	InterruptPending InterruptStatus = "pending"
	InterruptSolved  InterruptStatus = "solved"
	InterruptExpired InterruptStatus = "expired"
	InterruptFailed  InterruptStatus = "failed"
)

// ChargeStatus enumerates the lifecycle states of a ChargeRecord.
type ChargeStatus string

const (
	ChargePending  ChargeStatus = "pending"
	ChargeCaptured ChargeStatus = "captured"
	ChargeFailed   ChargeStatus = "failed"
)

// User-visible rejection/failure reasons. These are the only strings surfaced
// to requesters; raw internal errors stay in last_error.
const (
	ReasonDuplicate           = "duplicate"
	ReasonQuotaExceeded       = "quota exceeded"
	ReasonNoSpot              = "no spot"
	ReasonVerificationExpired = "verification expired"
	ReasonVerificationFailed  = "verification declined"
	ReasonSubmissionFailed    = "submission failed"
	ReasonPaymentFailed       = "payment failed"
)

// Session represents one registerable camp/activity session. The catalog
// subsystem owns these rows; this service only reads them and maintains
// confirmed_count inside the allocation transaction.
type Session struct {
	ID                  uuid.UUID `json:"id"`
	Name                string    `json:"name"`
	Capacity            int       `json:"capacity"`
	PriceCents          int64     `json:"price_cents"` // in cents
	RegistrationOpensAt time.Time `json:"registration_opens_at"`
	Status              string    `json:"status"` // 'upcoming', 'open', 'closed'
	ConfirmedCount      int       `json:"confirmed_count"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// RegistrationRequest is a parent's standing order to register one dependent
// for one session the moment its registration window opens. This struct maps
// directly to the `registration_requests` table.
type RegistrationRequest struct {
	ID           uuid.UUID     `json:"id"`
	UserID       uuid.UUID     `json:"user_id"`
	DependentID  uuid.UUID     `json:"dependent_id"`
	SessionID    uuid.UUID     `json:"session_id"`
	Priority     bool          `json:"priority"`
	RequestedAt  time.Time     `json:"requested_at"`
	Status       RequestStatus `json:"status"`
	StatusReason *string       `json:"status_reason,omitempty"`
	RetryCount   int           `json:"retry_count"`
	LastError    *string       `json:"last_error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// InterruptRecord captures a registration attempt suspended on a
// human-verification challenge. At most one record per request may be
// `pending` at a time; the stored resume token is returned unchanged when a
// suspension is re-reported while one is already active.
type InterruptRecord struct {
	ID          uuid.UUID       `json:"id"`
	RequestID   uuid.UUID       `json:"request_id"`
	Provider    string          `json:"provider"` // verification context label, e.g. 'hcaptcha'
	Status      InterruptStatus `json:"status"`
	ResumeToken string          `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// Active reports whether the record can still authorize a resume.
func (i *InterruptRecord) Active(now time.Time) bool {
	return i.Status == InterruptPending && now.Before(i.ExpiresAt)
}

// ChargeRecord is the idempotency anchor for payment capture: exactly one row
// per RegistrationRequest, and at most one ever reaches `captured`.
type ChargeRecord struct {
	ID                uuid.UUID    `json:"id"`
	RequestID         uuid.UUID    `json:"request_id"`
	AmountCents       int64        `json:"amount_cents"`
	Status            ChargeStatus `json:"status"`
	ExternalReference *string      `json:"external_reference,omitempty"`
	FailureReason     *string      `json:"failure_reason,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// RegistrationEvent is the audit row written for every user-visible state
// transition, alongside the fire-and-forget queue publish.
type RegistrationEvent struct {
	ID        uuid.UUID `json:"id"`
	RequestID uuid.UUID `json:"request_id"`
	UserID    uuid.UUID `json:"user_id"`
	Kind      string    `json:"kind"` // e.g. 'request.accepted', 'request.suspended'
	Detail    *string   `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CycleResult summarizes one allocation cycle for the trigger caller.
type CycleResult struct {
	SessionsProcessed int `json:"sessions_processed"`
	SessionsContended int `json:"sessions_contended"`
	Accepted          int `json:"accepted"`
	Rejected          int `json:"rejected"`
	Confirmed         int `json:"confirmed"`
	Suspended         int `json:"suspended"`
	Failed            int `json:"failed"`
	InterruptsExpired int `json:"interrupts_expired"`
	AcceptedRecovered int `json:"accepted_recovered"`
}

// ResumeOutcome is the verdict a human reports when completing (or abandoning)
// a verification challenge.
type ResumeOutcome string

const (
	ResumeSolved ResumeOutcome = "solved"
	ResumeFailed ResumeOutcome = "failed"
)

// Valid reports whether the outcome is one of the two accepted verdicts.
func (o ResumeOutcome) Valid() bool {
	return o == ResumeSolved || o == ResumeFailed
}

// ResumeRequest is the DTO for the public resume endpoint.
type ResumeRequest struct {
	Token   string        `json:"token"`
	Outcome ResumeOutcome `json:"outcome"`
}

// ResumeResult reports what happened to the resumed request.
type ResumeResult struct {
	RequestID uuid.UUID     `json:"request_id"`
	Status    RequestStatus `json:"status"`
}

// RequestDetail is the support-tooling view of a request with its interrupt
// and charge history attached.
type RequestDetail struct {
	Request    *RegistrationRequest `json:"request"`
	Interrupts []InterruptRecord    `json:"interrupts,omitempty"`
	Charge     *ChargeRecord        `json:"charge,omitempty"`
}
