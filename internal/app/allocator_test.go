package app

import (
	"context"
	"testing"
	"time"

	"github.com/campseat/registration-service/internal/domain"
	"github.com/campseat/registration-service/internal/store"
	"github.com/campseat/registration-service/pkg/payclient"
	"github.com/campseat/registration-service/pkg/submitclient"
	"github.com/google/uuid"
)

func TestRunCycle_AllocatesConfirmsAndRejects(t *testing.T) {
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	sessionID := uuid.New()
	session := &domain.Session{ID: sessionID, Capacity: 2, PriceCents: 9900, Status: "open"}
	candidates := []domain.RegistrationRequest{
		requestAt(uuid.New(), uuid.New(), base.Add(1*time.Second), false),
		requestAt(uuid.New(), uuid.New(), base.Add(2*time.Second), false),
		requestAt(uuid.New(), uuid.New(), base.Add(3*time.Second), false),
	}
	for i := range candidates {
		candidates[i].SessionID = sessionID
	}

	repo := &stubRepo{
		listDueSessionIDs: func(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
			return []uuid.UUID{sessionID}, nil
		},
		allocateSessionAtomic: func(ctx context.Context, id uuid.UUID, decide store.AllocationDecider) (*store.AllocationDecision, error) {
			decision := decide(session, 0, nil, candidates)
			return &decision, nil
		},
		findSessionByID: func(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
			return session, nil
		},
		getOrCreateCharge: func(ctx context.Context, id uuid.UUID, amount int64) (*domain.ChargeRecord, error) {
			return &domain.ChargeRecord{ID: uuid.New(), RequestID: id, AmountCents: amount, Status: domain.ChargePending}, nil
		},
		markChargeCaptured: func(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
			return true, nil
		},
		markRequestConfirmed: func(ctx context.Context, id uuid.UUID) (bool, error) {
			return true, nil
		},
	}
	submitter := &stubSubmitter{
		submit: func(ctx context.Context, reqID, sessID, depID uuid.UUID) (*submitclient.Result, error) {
			return &submitclient.Result{Outcome: submitclient.OutcomeConfirmed}, nil
		},
	}
	capturer := &stubCapturer{
		capture: func(ctx context.Context, key string, amount int64) (*payclient.CaptureResponse, error) {
			return &payclient.CaptureResponse{Captured: true, Reference: "py_" + key[:8]}, nil
		},
	}
	svc, pub := newTestService(t, repo, submitter, capturer, Config{})

	result, err := svc.RunCycle(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if result.SessionsProcessed != 1 {
		t.Fatalf("expected 1 session processed, got %d", result.SessionsProcessed)
	}
	if result.Accepted != 2 || result.Rejected != 1 {
		t.Fatalf("expected 2 accepted / 1 rejected, got %d / %d", result.Accepted, result.Rejected)
	}
	if result.Confirmed != 2 {
		t.Fatalf("expected 2 confirmed, got %d", result.Confirmed)
	}
	if pub.countKind(NoticeAccepted) != 2 {
		t.Fatalf("expected 2 accepted notices, got %d", pub.countKind(NoticeAccepted))
	}
	if pub.countKind(NoticeConfirmed) != 2 {
		t.Fatalf("expected 2 confirmed notices, got %d", pub.countKind(NoticeConfirmed))
	}
	if pub.countKind(NoticeRejected) != 1 {
		t.Fatalf("expected 1 rejected notice, got %d", pub.countKind(NoticeRejected))
	}
	notice, _ := pub.lastOfKind(NoticeRejected)
	if notice.Reason != domain.ReasonNoSpot {
		t.Fatalf("expected rejection reason %q, got %q", domain.ReasonNoSpot, notice.Reason)
	}
}

func TestRunCycle_ConfirmedDependentNotAllocatedAgain(t *testing.T) {
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	sessionID := uuid.New()
	heldDependent := uuid.New()
	session := &domain.Session{ID: sessionID, Capacity: 2, PriceCents: 9900, Status: "open"}

	// One spot is already confirmed for heldDependent; a new pending request
	// for the same dependent arrives in a later cycle.
	repeat := requestAt(uuid.New(), heldDependent, base.Add(1*time.Second), false)
	repeat.SessionID = sessionID

	repo := &stubRepo{
		listDueSessionIDs: func(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
			return []uuid.UUID{sessionID}, nil
		},
		allocateSessionAtomic: func(ctx context.Context, id uuid.UUID, decide store.AllocationDecider) (*store.AllocationDecision, error) {
			decision := decide(session, 1, []uuid.UUID{heldDependent}, []domain.RegistrationRequest{repeat})
			return &decision, nil
		},
	}
	svc, pub := newTestService(t, repo, nil, nil, Config{})

	result, err := svc.RunCycle(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if result.Accepted != 0 {
		t.Fatalf("expected no accepts for an already-held dependent, got %d", result.Accepted)
	}
	if result.Rejected != 1 || result.Confirmed != 0 {
		t.Fatalf("expected 1 rejected / 0 confirmed, got %d / %d", result.Rejected, result.Confirmed)
	}
	notice, ok := pub.lastOfKind(NoticeRejected)
	if !ok || notice.Reason != domain.ReasonDuplicate {
		t.Fatalf("expected %q rejection notice, got %+v", domain.ReasonDuplicate, notice)
	}
}

func TestRunCycle_RecoversStaleAcceptedRequest(t *testing.T) {
	sessionID := uuid.New()
	session := &domain.Session{ID: sessionID, Capacity: 5, PriceCents: 12500, Status: "open"}
	stale := domain.RegistrationRequest{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		DependentID: uuid.New(),
		SessionID:   sessionID,
		Status:      domain.RequestAccepted,
		UpdatedAt:   time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}

	var gotCutoff time.Time
	repo := &stubRepo{
		listStaleAccepted: func(ctx context.Context, olderThan time.Time, limit int) ([]domain.RegistrationRequest, error) {
			gotCutoff = olderThan
			return []domain.RegistrationRequest{stale}, nil
		},
		listDueSessionIDs: func(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
			return nil, nil
		},
		findSessionByID: func(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
			return session, nil
		},
		getOrCreateCharge: func(ctx context.Context, id uuid.UUID, amount int64) (*domain.ChargeRecord, error) {
			// The crash happened after capture: the money already moved.
			return &domain.ChargeRecord{ID: uuid.New(), RequestID: id, AmountCents: amount, Status: domain.ChargeCaptured}, nil
		},
		markRequestConfirmed: func(ctx context.Context, id uuid.UUID) (bool, error) {
			if id != stale.ID {
				t.Fatalf("confirmed unexpected request %s", id)
			}
			return true, nil
		},
	}
	submitter := &stubSubmitter{
		submit: func(ctx context.Context, reqID, sessID, depID uuid.UUID) (*submitclient.Result, error) {
			return &submitclient.Result{Outcome: submitclient.OutcomeConfirmed}, nil
		},
	}
	capturer := &stubCapturer{
		capture: func(ctx context.Context, key string, amount int64) (*payclient.CaptureResponse, error) {
			t.Fatal("processor must not be called for an already-captured charge")
			return nil, nil
		},
	}
	svc, pub := newTestService(t, repo, submitter, capturer, Config{StaleAcceptedAfter: 10 * time.Minute})

	result, err := svc.RunCycle(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if result.AcceptedRecovered != 1 {
		t.Fatalf("expected 1 recovered request, got %d", result.AcceptedRecovered)
	}
	if pub.countKind(NoticeConfirmed) != 1 {
		t.Fatalf("expected 1 confirmed notice, got %d", pub.countKind(NoticeConfirmed))
	}
	if time.Since(gotCutoff) < 10*time.Minute {
		t.Fatalf("expected cutoff at least the configured threshold in the past, got %s", gotCutoff)
	}
}

func TestRunCycle_ContendedSessionSkipped(t *testing.T) {
	busyID := uuid.New()
	freeID := uuid.New()
	free := &domain.Session{ID: freeID, Capacity: 5, Status: "open"}

	repo := &stubRepo{
		listDueSessionIDs: func(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
			return []uuid.UUID{busyID, freeID}, nil
		},
		allocateSessionAtomic: func(ctx context.Context, id uuid.UUID, decide store.AllocationDecider) (*store.AllocationDecision, error) {
			if id == busyID {
				return nil, store.ErrSessionBusy
			}
			decision := decide(free, 0, nil, nil)
			return &decision, nil
		},
	}
	svc, _ := newTestService(t, repo, nil, nil, Config{})

	result, err := svc.RunCycle(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if result.SessionsContended != 1 {
		t.Fatalf("expected 1 contended session, got %d", result.SessionsContended)
	}
	if result.SessionsProcessed != 1 {
		t.Fatalf("expected 1 processed session, got %d", result.SessionsProcessed)
	}
}

func TestRunCycle_MaxSessionsOverride(t *testing.T) {
	var gotLimit int
	repo := &stubRepo{
		listDueSessionIDs: func(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	svc, _ := newTestService(t, repo, nil, nil, Config{MaxSessionsPerCycle: 50})

	if _, err := svc.RunCycle(context.Background(), 7); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if gotLimit != 7 {
		t.Fatalf("expected override limit 7, got %d", gotLimit)
	}

	if _, err := svc.RunCycle(context.Background(), 0); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if gotLimit != 50 {
		t.Fatalf("expected configured limit 50, got %d", gotLimit)
	}
}

func TestRunCycle_SweepRunsBeforeAllocation(t *testing.T) {
	order := make([]string, 0, 2)
	interrupt := domain.InterruptRecord{ID: uuid.New(), RequestID: uuid.New(), Status: domain.InterruptPending}

	repo := &stubRepo{
		listExpiredInterrupts: func(ctx context.Context, now time.Time, limit int) ([]domain.InterruptRecord, error) {
			order = append(order, "sweep")
			return []domain.InterruptRecord{interrupt}, nil
		},
		consumeFailing: func(ctx context.Context, id uuid.UUID, s domain.InterruptStatus, reason string) (bool, error) {
			return true, nil
		},
		findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.RegistrationRequest, error) {
			return &domain.RegistrationRequest{ID: id, Status: domain.RequestFailed}, nil
		},
		listDueSessionIDs: func(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
			order = append(order, "list")
			return nil, nil
		},
	}
	svc, _ := newTestService(t, repo, nil, nil, Config{})

	result, err := svc.RunCycle(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if result.InterruptsExpired != 1 {
		t.Fatalf("expected 1 interrupt expired in cycle result, got %d", result.InterruptsExpired)
	}
	if len(order) != 2 || order[0] != "sweep" || order[1] != "list" {
		t.Fatalf("expected sweep before session listing, got %v", order)
	}
}
