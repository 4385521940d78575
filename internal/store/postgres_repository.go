/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to sessions, registration requests, interrupt records, charges, and
 * audit events.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - Allocation serialization relies on `SELECT ... FOR UPDATE NOWAIT` on the
 *   session row: a concurrent cycle holding the lock surfaces as SQLSTATE
 *   55P03, which is mapped to ErrSessionBusy so callers can skip and retry.
 * - Single-use semantics (interrupt consumption, charge capture) are enforced
 *   with guarded UPDATEs (`WHERE status = 'pending'`) whose affected-row count
 *   tells the caller whether it won the transition.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campseat/registration-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrRequestNotFound   = errors.New("registration request not found")
	ErrInterruptNotFound = errors.New("interrupt record not found")
	ErrChargeNotFound    = errors.New("charge record not found")
	// ErrSessionBusy means another allocation cycle holds the session lock.
	ErrSessionBusy = errors.New("session allocation in progress")
	// ErrInterruptActive means the request already has a pending interrupt.
	ErrInterruptActive = errors.New("request already has an active interrupt")
)

const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindSessionByID returns a single session or ErrSessionNotFound.
func (r *PostgresRepository) FindSessionByID(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	var s domain.Session
	query := `
		SELECT id, name, capacity, price_cents, registration_opens_at, status, confirmed_count, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, sessionID).Scan(
		&s.ID, &s.Name, &s.Capacity, &s.PriceCents, &s.RegistrationOpensAt,
		&s.Status, &s.ConfirmedCount, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &s, nil
}

// ListDueSessionIDs returns open sessions whose registration window has opened
// and which still have undecided pending/scheduled requests. Ordered by
// opens_at so the sessions that have been open longest are drained first when
// the batch limit bites.
func (r *PostgresRepository) ListDueSessionIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT s.id
		FROM sessions s
		WHERE s.status = 'open'
		  AND s.registration_opens_at <= $1
		  AND EXISTS (
			SELECT 1 FROM registration_requests rr
			WHERE rr.session_id = s.id AND rr.status IN ('pending', 'scheduled')
		  )
		ORDER BY s.registration_opens_at ASC, s.id ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due sessions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AllocateSessionAtomic serializes accept/reject decisions for one session.
//
// Two overlapping cycle invocations must not both hand out the same spot, so
// the read (capacity, taken count, candidate list) and the write (status
// transitions) happen inside a single transaction that holds an exclusive
// row-level lock on the session. NOWAIT turns contention into an immediate
// ErrSessionBusy instead of queueing cycles behind each other; the skipped
// session is simply retried on the next tick.
func (r *PostgresRepository) AllocateSessionAtomic(ctx context.Context, sessionID uuid.UUID, decide AllocationDecider) (*AllocationDecision, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin allocation transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Lock the session row. A concurrent holder surfaces as 55P03.
	var s domain.Session
	lockQuery := `
		SELECT id, name, capacity, price_cents, registration_opens_at, status, confirmed_count, created_at, updated_at
		FROM sessions
		WHERE id = $1
		FOR UPDATE NOWAIT
	`
	err = tx.QueryRow(ctx, lockQuery, sessionID).Scan(
		&s.ID, &s.Name, &s.Capacity, &s.PriceCents, &s.RegistrationOpensAt,
		&s.Status, &s.ConfirmedCount, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return nil, ErrSessionBusy
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lock session row: %w", err)
	}

	// 2. Count spots already consumed, observed under the lock. Accepted and
	// suspended requests hold their spot until they reach a terminal state,
	// otherwise a later cycle would hand the same spot out twice.
	var taken int
	takenQuery := `
		SELECT COUNT(*)
		FROM registration_requests
		WHERE session_id = $1
		  AND status IN ('allocating', 'accepted', 'suspended', 'confirmed')
	`
	if err = tx.QueryRow(ctx, takenQuery, sessionID).Scan(&taken); err != nil {
		return nil, fmt.Errorf("count taken spots: %w", err)
	}

	// 3. Dependents already holding a spot for this session. A new request for
	// one of these dependents is a duplicate of an earlier winner even though
	// it arrived in a later batch, and must be rejected rather than allocated.
	blockedRows, err := tx.Query(ctx, `
		SELECT DISTINCT dependent_id
		FROM registration_requests
		WHERE session_id = $1
		  AND status IN ('allocating', 'accepted', 'suspended', 'confirmed')
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list blocked dependents: %w", err)
	}
	var blocked []uuid.UUID
	for blockedRows.Next() {
		var id uuid.UUID
		if scanErr := blockedRows.Scan(&id); scanErr != nil {
			blockedRows.Close()
			return nil, fmt.Errorf("scan blocked dependent: %w", scanErr)
		}
		blocked = append(blocked, id)
	}
	blockedRows.Close()
	if err = blockedRows.Err(); err != nil {
		return nil, fmt.Errorf("list blocked dependents: %w", err)
	}

	// 4. Load the undecided candidates in deterministic order.
	candidateQuery := `
		SELECT id, user_id, dependent_id, session_id, priority, requested_at,
		       status, status_reason, retry_count, last_error, created_at, updated_at
		FROM registration_requests
		WHERE session_id = $1 AND status IN ('pending', 'scheduled')
		ORDER BY requested_at ASC, id ASC
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, candidateQuery, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	candidates, err := scanRequests(rows)
	if err != nil {
		return nil, err
	}

	// 5. Compute the decision on the locked snapshot.
	decision := decide(&s, taken, blocked, candidates)

	// 6. Persist accepts and rejects in the same transaction.
	for _, id := range decision.Accept {
		tag, execErr := tx.Exec(ctx, `
			UPDATE registration_requests
			SET status = 'accepted', status_reason = NULL, updated_at = NOW()
			WHERE id = $1 AND status IN ('pending', 'scheduled')
		`, id)
		if execErr != nil {
			return nil, fmt.Errorf("mark request accepted: %w", execErr)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("accept decision for request %s raced with another writer", id)
		}
	}
	for _, rej := range decision.Reject {
		if _, execErr := tx.Exec(ctx, `
			UPDATE registration_requests
			SET status = 'rejected', status_reason = $2, updated_at = NOW()
			WHERE id = $1 AND status IN ('pending', 'scheduled')
		`, rej.RequestID, rej.Reason); execErr != nil {
			return nil, fmt.Errorf("mark request rejected: %w", execErr)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit allocation: %w", err)
	}
	return &decision, nil
}

// FindRequestByID returns a single registration request or ErrRequestNotFound.
func (r *PostgresRepository) FindRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.RegistrationRequest, error) {
	var req domain.RegistrationRequest
	query := `
		SELECT id, user_id, dependent_id, session_id, priority, requested_at,
		       status, status_reason, retry_count, last_error, created_at, updated_at
		FROM registration_requests
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, requestID).Scan(
		&req.ID, &req.UserID, &req.DependentID, &req.SessionID, &req.Priority, &req.RequestedAt,
		&req.Status, &req.StatusReason, &req.RetryCount, &req.LastError, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("find request: %w", err)
	}
	return &req, nil
}

// MarkRequestSuspended transitions accepted -> suspended.
func (r *PostgresRepository) MarkRequestSuspended(ctx context.Context, requestID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE registration_requests
		SET status = 'suspended', updated_at = NOW()
		WHERE id = $1 AND status = 'accepted'
	`, requestID)
	if err != nil {
		return false, fmt.Errorf("suspend request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReactivateSuspendedRequest transitions suspended -> accepted.
func (r *PostgresRepository) ReactivateSuspendedRequest(ctx context.Context, requestID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE registration_requests
		SET status = 'accepted', updated_at = NOW()
		WHERE id = $1 AND status = 'suspended'
	`, requestID)
	if err != nil {
		return false, fmt.Errorf("reactivate request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRequestConfirmed transitions accepted -> confirmed and bumps the
// session's confirmed counter in the same transaction so the capacity
// invariant stays observable from the sessions table. The partial unique
// index on (session_id, dependent_id) WHERE status = 'confirmed' is the
// last-resort guard against a second confirm for the same dependent; a
// violation reports not-confirmed instead of erroring.
func (r *PostgresRepository) MarkRequestConfirmed(ctx context.Context, requestID uuid.UUID) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin confirm transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE registration_requests
		SET status = 'confirmed', status_reason = NULL, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'accepted'
	`, requestID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("confirm request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err = tx.Exec(ctx, `
		UPDATE sessions
		SET confirmed_count = confirmed_count + 1, updated_at = NOW()
		WHERE id = (SELECT session_id FROM registration_requests WHERE id = $1)
	`, requestID); err != nil {
		return false, fmt.Errorf("increment confirmed_count: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit confirm: %w", err)
	}
	return true, nil
}

// MarkRequestFailed moves a request to the terminal failed state with a
// user-visible reason. The raw error text goes to last_error only.
func (r *PostgresRepository) MarkRequestFailed(ctx context.Context, requestID uuid.UUID, reason string, lastError string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE registration_requests
		SET status = 'failed', status_reason = $2, last_error = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('confirmed', 'rejected', 'failed')
	`, requestID, reason, lastError)
	if err != nil {
		return fmt.Errorf("mark request failed: %w", err)
	}
	return nil
}

// RescheduleRequestForRetry parks an accepted request back in `scheduled` so
// the next allocation cycle retries its submission. Its spot is released; the
// deterministic FIFO/priority order restores its place on re-allocation.
func (r *PostgresRepository) RescheduleRequestForRetry(ctx context.Context, requestID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE registration_requests
		SET status = 'scheduled', updated_at = NOW()
		WHERE id = $1 AND status = 'accepted'
	`, requestID)
	if err != nil {
		return false, fmt.Errorf("reschedule request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementRequestRetry bumps retry_count and records the triggering error,
// returning the new count so the caller can compare against the budget.
func (r *PostgresRepository) IncrementRequestRetry(ctx context.Context, requestID uuid.UUID, lastError string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		UPDATE registration_requests
		SET retry_count = retry_count + 1, last_error = NULLIF($2, ''), updated_at = NOW()
		WHERE id = $1
		RETURNING retry_count
	`, requestID, lastError).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrRequestNotFound
		}
		return 0, fmt.Errorf("increment retry count: %w", err)
	}
	return count, nil
}

// ListStaleAcceptedRequests returns accepted requests untouched since
// olderThan. An accepted row normally finalizes within its own cycle; one
// older than the cutoff was stranded by a crash or a failed confirm write and
// needs finalization re-entered (submission and capture are idempotent per
// request).
func (r *PostgresRepository) ListStaleAcceptedRequests(ctx context.Context, olderThan time.Time, limit int) ([]domain.RegistrationRequest, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, dependent_id, session_id, priority, requested_at,
		       status, status_reason, retry_count, last_error, created_at, updated_at
		FROM registration_requests
		WHERE status = 'accepted' AND updated_at <= $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale accepted requests: %w", err)
	}
	return scanRequests(rows)
}

// FindInterruptByID returns a single interrupt record or ErrInterruptNotFound.
func (r *PostgresRepository) FindInterruptByID(ctx context.Context, interruptID uuid.UUID) (*domain.InterruptRecord, error) {
	rec, err := r.scanInterruptRow(ctx, `
		SELECT id, request_id, provider, status, resume_token, created_at, expires_at, resolved_at
		FROM interrupt_records
		WHERE id = $1
	`, interruptID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// FindActiveInterruptByRequestID returns the pending record for a request, or
// ErrInterruptNotFound when none is active.
func (r *PostgresRepository) FindActiveInterruptByRequestID(ctx context.Context, requestID uuid.UUID) (*domain.InterruptRecord, error) {
	return r.scanInterruptRow(ctx, `
		SELECT id, request_id, provider, status, resume_token, created_at, expires_at, resolved_at
		FROM interrupt_records
		WHERE request_id = $1 AND status = 'pending'
	`, requestID)
}

func (r *PostgresRepository) scanInterruptRow(ctx context.Context, query string, arg any) (*domain.InterruptRecord, error) {
	var rec domain.InterruptRecord
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&rec.ID, &rec.RequestID, &rec.Provider, &rec.Status, &rec.ResumeToken,
		&rec.CreatedAt, &rec.ExpiresAt, &rec.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInterruptNotFound
		}
		return nil, fmt.Errorf("find interrupt: %w", err)
	}
	return &rec, nil
}

// CreateInterruptRecord inserts a new pending record. The partial unique
// index on (request_id) WHERE status = 'pending' turns a concurrent duplicate
// into ErrInterruptActive so callers can fall back to the existing record.
func (r *PostgresRepository) CreateInterruptRecord(ctx context.Context, record *domain.InterruptRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO interrupt_records (id, request_id, provider, status, resume_token, created_at, expires_at)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6)
	`, record.ID, record.RequestID, record.Provider, record.ResumeToken, record.CreatedAt, record.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrInterruptActive
		}
		return fmt.Errorf("create interrupt record: %w", err)
	}
	return nil
}

// ConsumeInterrupt flips a pending record to a resolved status exactly once.
// The guarded UPDATE is what makes resume tokens single-use: the first caller
// sees one affected row, every later caller sees zero.
func (r *PostgresRepository) ConsumeInterrupt(ctx context.Context, interruptID uuid.UUID, status domain.InterruptStatus) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE interrupt_records
		SET status = $2, resolved_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, interruptID, status)
	if err != nil {
		return false, fmt.Errorf("consume interrupt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ConsumeInterruptFailingRequest consumes a pending interrupt and marks the
// owning request failed in a single transaction. Coupling the two writes means
// a failure on either side rolls back both, so a request can never be left
// `suspended` with its interrupt already resolved and unreachable.
func (r *PostgresRepository) ConsumeInterruptFailingRequest(ctx context.Context, interruptID uuid.UUID, status domain.InterruptStatus, reason string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin interrupt fail transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var requestID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE interrupt_records
		SET status = $2, resolved_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING request_id
	`, interruptID, status).Scan(&requestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("consume interrupt: %w", err)
	}

	if _, err = tx.Exec(ctx, `
		UPDATE registration_requests
		SET status = 'failed', status_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('confirmed', 'rejected', 'failed')
	`, requestID, reason); err != nil {
		return false, fmt.Errorf("fail interrupted request: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit interrupt fail: %w", err)
	}
	return true, nil
}

// ListExpiredPendingInterrupts returns pending records past their expiry.
func (r *PostgresRepository) ListExpiredPendingInterrupts(ctx context.Context, now time.Time, limit int) ([]domain.InterruptRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, request_id, provider, status, resume_token, created_at, expires_at, resolved_at
		FROM interrupt_records
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired interrupts: %w", err)
	}
	defer rows.Close()
	return scanInterrupts(rows)
}

// ListInterruptsByRequestID returns a request's interrupt history, newest first.
func (r *PostgresRepository) ListInterruptsByRequestID(ctx context.Context, requestID uuid.UUID) ([]domain.InterruptRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, request_id, provider, status, resume_token, created_at, expires_at, resolved_at
		FROM interrupt_records
		WHERE request_id = $1
		ORDER BY created_at DESC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list interrupts: %w", err)
	}
	defer rows.Close()
	return scanInterrupts(rows)
}

// GetOrCreateChargeRecord returns the single charge row for a request,
// creating it in `pending` if absent. ON CONFLICT DO NOTHING plus the
// follow-up select makes concurrent callers converge on one row.
func (r *PostgresRepository) GetOrCreateChargeRecord(ctx context.Context, requestID uuid.UUID, amountCents int64) (*domain.ChargeRecord, error) {
	if _, err := r.db.Exec(ctx, `
		INSERT INTO charge_records (id, request_id, amount_cents, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', NOW(), NOW())
		ON CONFLICT (request_id) DO NOTHING
	`, uuid.New(), requestID, amountCents); err != nil {
		return nil, fmt.Errorf("create charge record: %w", err)
	}
	return r.FindChargeByRequestID(ctx, requestID)
}

// MarkChargeCaptured flips pending -> captured exactly once.
func (r *PostgresRepository) MarkChargeCaptured(ctx context.Context, chargeID uuid.UUID, externalReference string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE charge_records
		SET status = 'captured', external_reference = $2, failure_reason = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, chargeID, externalReference)
	if err != nil {
		return false, fmt.Errorf("mark charge captured: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkChargeFailed flips pending -> failed. A captured charge is never downgraded.
func (r *PostgresRepository) MarkChargeFailed(ctx context.Context, chargeID uuid.UUID, reason string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE charge_records
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, chargeID, reason)
	if err != nil {
		return false, fmt.Errorf("mark charge failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindChargeByRequestID returns the charge row for a request or ErrChargeNotFound.
func (r *PostgresRepository) FindChargeByRequestID(ctx context.Context, requestID uuid.UUID) (*domain.ChargeRecord, error) {
	var c domain.ChargeRecord
	err := r.db.QueryRow(ctx, `
		SELECT id, request_id, amount_cents, status, external_reference, failure_reason, created_at, updated_at
		FROM charge_records
		WHERE request_id = $1
	`, requestID).Scan(
		&c.ID, &c.RequestID, &c.AmountCents, &c.Status,
		&c.ExternalReference, &c.FailureReason, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChargeNotFound
		}
		return nil, fmt.Errorf("find charge: %w", err)
	}
	return &c, nil
}

// CreateRegistrationEvent appends one audit row for a user-visible transition.
func (r *PostgresRepository) CreateRegistrationEvent(ctx context.Context, event domain.RegistrationEvent) error {
	id := event.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO registration_events (id, request_id, user_id, kind, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, id, event.RequestID, event.UserID, event.Kind, event.Detail)
	if err != nil {
		return fmt.Errorf("create registration event: %w", err)
	}
	return nil
}

func scanRequests(rows pgx.Rows) ([]domain.RegistrationRequest, error) {
	defer rows.Close()
	var requests []domain.RegistrationRequest
	for rows.Next() {
		var req domain.RegistrationRequest
		if err := rows.Scan(
			&req.ID, &req.UserID, &req.DependentID, &req.SessionID, &req.Priority, &req.RequestedAt,
			&req.Status, &req.StatusReason, &req.RetryCount, &req.LastError, &req.CreatedAt, &req.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func scanInterrupts(rows pgx.Rows) ([]domain.InterruptRecord, error) {
	var records []domain.InterruptRecord
	for rows.Next() {
		var rec domain.InterruptRecord
		if err := rows.Scan(
			&rec.ID, &rec.RequestID, &rec.Provider, &rec.Status, &rec.ResumeToken,
			&rec.CreatedAt, &rec.ExpiresAt, &rec.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("scan interrupt: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
