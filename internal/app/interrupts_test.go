package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campseat/registration-service/internal/domain"
	"github.com/campseat/registration-service/internal/store"
	"github.com/campseat/registration-service/pkg/payclient"
	"github.com/campseat/registration-service/pkg/submitclient"
	"github.com/google/uuid"
)

func TestResume_InvalidOutcome(t *testing.T) {
	svc, _ := newTestService(t, &stubRepo{}, nil, nil, Config{})
	if _, err := svc.Resume(context.Background(), "whatever", domain.ResumeOutcome("maybe"), ""); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
}

func TestResume_InvalidToken(t *testing.T) {
	svc, _ := newTestService(t, &stubRepo{}, nil, nil, Config{})
	if _, err := svc.Resume(context.Background(), "not-a-jwt", domain.ResumeSolved, ""); !errors.Is(err, ErrInvalidResumeToken) {
		t.Fatalf("expected ErrInvalidResumeToken, got %v", err)
	}
}

func TestResume_RateLimited(t *testing.T) {
	svc, _ := newTestService(t, &stubRepo{}, nil, nil, Config{
		ResumeRateLimit:  5,
		ResumeRateWindow: time.Minute,
	})
	svc.SetResumeRateLimiter(&stubLimiter{
		consume: func(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
			if scope != "resume" || subject != "203.0.113.9" {
				t.Fatalf("unexpected rate limit key: scope=%q subject=%q", scope, subject)
			}
			return limit + 1, 30, nil
		},
	})

	if _, err := svc.Resume(context.Background(), "ignored", domain.ResumeSolved, "203.0.113.9"); !errors.Is(err, ErrResumeRateLimited) {
		t.Fatalf("expected ErrResumeRateLimited, got %v", err)
	}
}

func TestResume_LimiterFailureDoesNotBlock(t *testing.T) {
	svc, _ := newTestService(t, &stubRepo{}, nil, nil, Config{
		ResumeRateLimit:  5,
		ResumeRateWindow: time.Minute,
	})
	svc.SetResumeRateLimiter(&stubLimiter{
		consume: func(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
			return 0, 0, errors.New("redis unavailable")
		},
	})

	// The flow proceeds past rate limiting and fails on the garbage token.
	if _, err := svc.Resume(context.Background(), "not-a-jwt", domain.ResumeSolved, "203.0.113.9"); !errors.Is(err, ErrInvalidResumeToken) {
		t.Fatalf("expected ErrInvalidResumeToken after limiter failure, got %v", err)
	}
}

func TestResume_AlreadyResolvedRecord(t *testing.T) {
	requestID := uuid.New()
	interruptID := uuid.New()
	repo := &stubRepo{
		findInterruptByID: func(ctx context.Context, id uuid.UUID) (*domain.InterruptRecord, error) {
			return &domain.InterruptRecord{
				ID:        interruptID,
				RequestID: requestID,
				Status:    domain.InterruptSolved,
				ExpiresAt: time.Now().Add(10 * time.Minute),
			}, nil
		},
	}
	svc, _ := newTestService(t, repo, nil, nil, Config{})
	signed, _, err := svc.tokens.Issue(requestID, interruptID)
	if err != nil {
		t.Fatalf("token issue failed: %v", err)
	}

	if _, err := svc.Resume(context.Background(), signed, domain.ResumeSolved, ""); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestResume_ExpiredWindow(t *testing.T) {
	requestID := uuid.New()
	interruptID := uuid.New()
	repo := &stubRepo{
		findInterruptByID: func(ctx context.Context, id uuid.UUID) (*domain.InterruptRecord, error) {
			return &domain.InterruptRecord{
				ID:        interruptID,
				RequestID: requestID,
				Status:    domain.InterruptPending,
				ExpiresAt: time.Now().Add(-time.Minute),
			}, nil
		},
	}
	svc, _ := newTestService(t, repo, nil, nil, Config{})
	signed, _, err := svc.tokens.Issue(requestID, interruptID)
	if err != nil {
		t.Fatalf("token issue failed: %v", err)
	}

	if _, err := svc.Resume(context.Background(), signed, domain.ResumeSolved, ""); !errors.Is(err, ErrResumeTokenExpired) {
		t.Fatalf("expected ErrResumeTokenExpired, got %v", err)
	}
}

func TestResume_RequestNotSuspended(t *testing.T) {
	requestID := uuid.New()
	interruptID := uuid.New()
	repo := &stubRepo{
		findInterruptByID: func(ctx context.Context, id uuid.UUID) (*domain.InterruptRecord, error) {
			return &domain.InterruptRecord{
				ID:        interruptID,
				RequestID: requestID,
				Status:    domain.InterruptPending,
				ExpiresAt: time.Now().Add(10 * time.Minute),
			}, nil
		},
		findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.RegistrationRequest, error) {
			return &domain.RegistrationRequest{ID: requestID, Status: domain.RequestConfirmed}, nil
		},
	}
	svc, _ := newTestService(t, repo, nil, nil, Config{})
	signed, _, err := svc.tokens.Issue(requestID, interruptID)
	if err != nil {
		t.Fatalf("token issue failed: %v", err)
	}

	if _, err := svc.Resume(context.Background(), signed, domain.ResumeSolved, ""); !errors.Is(err, ErrRequestNotSuspended) {
		t.Fatalf("expected ErrRequestNotSuspended, got %v", err)
	}
}

func TestResume_TokenRequestMismatch(t *testing.T) {
	interruptID := uuid.New()
	repo := &stubRepo{
		findInterruptByID: func(ctx context.Context, id uuid.UUID) (*domain.InterruptRecord, error) {
			return &domain.InterruptRecord{
				ID:        interruptID,
				RequestID: uuid.New(), // not the request the token was bound to
				Status:    domain.InterruptPending,
				ExpiresAt: time.Now().Add(10 * time.Minute),
			}, nil
		},
	}
	svc, _ := newTestService(t, repo, nil, nil, Config{})
	signed, _, err := svc.tokens.Issue(uuid.New(), interruptID)
	if err != nil {
		t.Fatalf("token issue failed: %v", err)
	}

	if _, err := svc.Resume(context.Background(), signed, domain.ResumeSolved, ""); !errors.Is(err, ErrInvalidResumeToken) {
		t.Fatalf("expected ErrInvalidResumeToken, got %v", err)
	}
}

func TestResume_SolvedConfirmsRequest(t *testing.T) {
	requestID := uuid.New()
	interruptID := uuid.New()
	sessionID := uuid.New()
	chargeID := uuid.New()

	status := domain.RequestSuspended
	var consumedWith domain.InterruptStatus

	repo := &stubRepo{
		findInterruptByID: func(ctx context.Context, id uuid.UUID) (*domain.InterruptRecord, error) {
			return &domain.InterruptRecord{
				ID:        interruptID,
				RequestID: requestID,
				Status:    domain.InterruptPending,
				ExpiresAt: time.Now().Add(10 * time.Minute),
			}, nil
		},
		findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.RegistrationRequest, error) {
			return &domain.RegistrationRequest{ID: requestID, SessionID: sessionID, DependentID: uuid.New(), Status: status}, nil
		},
		consumeInterrupt: func(ctx context.Context, id uuid.UUID, s domain.InterruptStatus) (bool, error) {
			consumedWith = s
			return true, nil
		},
		reactivateSuspended: func(ctx context.Context, id uuid.UUID) (bool, error) {
			status = domain.RequestAccepted
			return true, nil
		},
		findSessionByID: func(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
			return &domain.Session{ID: sessionID, Capacity: 10, PriceCents: 12500}, nil
		},
		getOrCreateCharge: func(ctx context.Context, id uuid.UUID, amount int64) (*domain.ChargeRecord, error) {
			return &domain.ChargeRecord{ID: chargeID, RequestID: requestID, AmountCents: amount, Status: domain.ChargePending}, nil
		},
		markChargeCaptured: func(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
			return true, nil
		},
		markRequestConfirmed: func(ctx context.Context, id uuid.UUID) (bool, error) {
			status = domain.RequestConfirmed
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
			return &payclient.CaptureResponse{Captured: true, Reference: "py_123"}, nil
		},
	}
	svc, pub := newTestService(t, repo, submitter, capturer, Config{})
	signed, _, err := svc.tokens.Issue(requestID, interruptID)
	if err != nil {
		t.Fatalf("token issue failed: %v", err)
	}

	result, err := svc.Resume(context.Background(), signed, domain.ResumeSolved, "")
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if result.Status != domain.RequestConfirmed {
		t.Fatalf("expected confirmed result, got %s", result.Status)
	}
	if consumedWith != domain.InterruptSolved {
		t.Fatalf("expected interrupt consumed as solved, got %s", consumedWith)
	}
	if pub.countKind(NoticeConfirmed) != 1 {
		t.Fatalf("expected exactly one confirmed notice, got %d", pub.countKind(NoticeConfirmed))
	}
}

func TestResume_SecondConsumerGetsAlreadyResolved(t *testing.T) {
	requestID := uuid.New()
	interruptID := uuid.New()
	repo := &stubRepo{
		findInterruptByID: func(ctx context.Context, id uuid.UUID) (*domain.InterruptRecord, error) {
			return &domain.InterruptRecord{
				ID:        interruptID,
				RequestID: requestID,
				Status:    domain.InterruptPending,
				ExpiresAt: time.Now().Add(10 * time.Minute),
			}, nil
		},
		findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.RegistrationRequest, error) {
			return &domain.RegistrationRequest{ID: requestID, Status: domain.RequestSuspended}, nil
		},
		consumeInterrupt: func(ctx context.Context, id uuid.UUID, s domain.InterruptStatus) (bool, error) {
			// A concurrent resume won the guarded update.
			return false, nil
		},
	}
	svc, _ := newTestService(t, repo, nil, nil, Config{})
	signed, _, err := svc.tokens.Issue(requestID, interruptID)
	if err != nil {
		t.Fatalf("token issue failed: %v", err)
	}

	if _, err := svc.Resume(context.Background(), signed, domain.ResumeSolved, ""); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestResume_FailedVerdictFailsRequest(t *testing.T) {
	requestID := uuid.New()
	interruptID := uuid.New()
	var consumedStatus domain.InterruptStatus
	var consumedReason string

	repo := &stubRepo{
		findInterruptByID: func(ctx context.Context, id uuid.UUID) (*domain.InterruptRecord, error) {
			return &domain.InterruptRecord{
				ID:        interruptID,
				RequestID: requestID,
				Status:    domain.InterruptPending,
				ExpiresAt: time.Now().Add(10 * time.Minute),
			}, nil
		},
		findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.RegistrationRequest, error) {
			return &domain.RegistrationRequest{ID: requestID, Status: domain.RequestSuspended}, nil
		},
		consumeFailing: func(ctx context.Context, id uuid.UUID, s domain.InterruptStatus, reason string) (bool, error) {
			consumedStatus = s
			consumedReason = reason
			return true, nil
		},
	}
	svc, pub := newTestService(t, repo, nil, nil, Config{})
	signed, _, err := svc.tokens.Issue(requestID, interruptID)
	if err != nil {
		t.Fatalf("token issue failed: %v", err)
	}

	result, err := svc.Resume(context.Background(), signed, domain.ResumeFailed, "")
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if result.Status != domain.RequestFailed {
		t.Fatalf("expected failed result, got %s", result.Status)
	}
	if consumedStatus != domain.InterruptFailed {
		t.Fatalf("expected interrupt consumed as failed, got %s", consumedStatus)
	}
	if consumedReason != domain.ReasonVerificationFailed {
		t.Fatalf("expected reason %q, got %q", domain.ReasonVerificationFailed, consumedReason)
	}
	if pub.countKind(NoticeFailed) != 1 {
		t.Fatalf("expected one failed notice, got %d", pub.countKind(NoticeFailed))
	}
}

func TestResume_FailedVerdictWriteFailureKeepsInterruptPending(t *testing.T) {
	requestID := uuid.New()
	interruptID := uuid.New()

	repo := &stubRepo{
		findInterruptByID: func(ctx context.Context, id uuid.UUID) (*domain.InterruptRecord, error) {
			return &domain.InterruptRecord{
				ID:        interruptID,
				RequestID: requestID,
				Status:    domain.InterruptPending,
				ExpiresAt: time.Now().Add(10 * time.Minute),
			}, nil
		},
		findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.RegistrationRequest, error) {
			return &domain.RegistrationRequest{ID: requestID, Status: domain.RequestSuspended}, nil
		},
		consumeFailing: func(ctx context.Context, id uuid.UUID, s domain.InterruptStatus, reason string) (bool, error) {
			// The transaction rolled back: neither the interrupt nor the
			// request changed state.
			return false, errors.New("connection reset")
		},
	}
	svc, pub := newTestService(t, repo, nil, nil, Config{})
	signed, _, err := svc.tokens.Issue(requestID, interruptID)
	if err != nil {
		t.Fatalf("token issue failed: %v", err)
	}

	if _, err := svc.Resume(context.Background(), signed, domain.ResumeFailed, ""); err == nil {
		t.Fatal("expected Resume to surface the write failure")
	}
	if pub.countKind(NoticeFailed) != 0 {
		t.Fatalf("expected no failed notice after rollback, got %d", pub.countKind(NoticeFailed))
	}
}

func TestResume_SolvedReportsRenewedSuspension(t *testing.T) {
	requestID := uuid.New()
	interruptID := uuid.New()

	repo := &stubRepo{
		findInterruptByID: func(ctx context.Context, id uuid.UUID) (*domain.InterruptRecord, error) {
			return &domain.InterruptRecord{
				ID:        interruptID,
				RequestID: requestID,
				Status:    domain.InterruptPending,
				ExpiresAt: time.Now().Add(10 * time.Minute),
			}, nil
		},
		findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.RegistrationRequest, error) {
			return &domain.RegistrationRequest{ID: requestID, SessionID: uuid.New(), DependentID: uuid.New(), Status: domain.RequestSuspended}, nil
		},
		consumeInterrupt: func(ctx context.Context, id uuid.UUID, s domain.InterruptStatus) (bool, error) {
			return true, nil
		},
		reactivateSuspended: func(ctx context.Context, id uuid.UUID) (bool, error) {
			return true, nil
		},
		findActiveInterrupt: func(ctx context.Context, id uuid.UUID) (*domain.InterruptRecord, error) {
			return nil, store.ErrInterruptNotFound
		},
		createInterrupt: func(ctx context.Context, record *domain.InterruptRecord) error {
			return nil
		},
		markRequestSuspended: func(ctx context.Context, id uuid.UUID) (bool, error) {
			return true, nil
		},
	}
	// The re-entered submission hits a fresh verification challenge.
	submitter := &stubSubmitter{
		submit: func(ctx context.Context, reqID, sessID, depID uuid.UUID) (*submitclient.Result, error) {
			return &submitclient.Result{Outcome: submitclient.OutcomeVerificationRequired, Context: "hcaptcha"}, nil
		},
	}
	svc, _ := newTestService(t, repo, submitter, nil, Config{})
	signed, _, err := svc.tokens.Issue(requestID, interruptID)
	if err != nil {
		t.Fatalf("token issue failed: %v", err)
	}

	result, err := svc.Resume(context.Background(), signed, domain.ResumeSolved, "")
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if result.Status != domain.RequestSuspended {
		t.Fatalf("expected suspended result after a renewed challenge, got %s", result.Status)
	}
}

func TestFinalize_VerificationRequiredSuspends(t *testing.T) {
	requestID := uuid.New()
	var created *domain.InterruptRecord

	repo := &stubRepo{
		findActiveInterrupt: func(ctx context.Context, id uuid.UUID) (*domain.InterruptRecord, error) {
			if created != nil {
				return created, nil
			}
			return nil, store.ErrInterruptNotFound
		},
		createInterrupt: func(ctx context.Context, record *domain.InterruptRecord) error {
			created = record
			return nil
		},
		markRequestSuspended: func(ctx context.Context, id uuid.UUID) (bool, error) {
			return true, nil
		},
	}
	submitter := &stubSubmitter{
		submit: func(ctx context.Context, reqID, sessID, depID uuid.UUID) (*submitclient.Result, error) {
			return &submitclient.Result{Outcome: submitclient.OutcomeVerificationRequired, Context: "hcaptcha"}, nil
		},
	}
	svc, pub := newTestService(t, repo, submitter, nil, Config{ResumeBaseURL: "https://app.campseat.io"})

	req := &domain.RegistrationRequest{ID: requestID, SessionID: uuid.New(), DependentID: uuid.New(), Status: domain.RequestAccepted}
	if outcome := svc.finalizeRequest(context.Background(), req); outcome != finalizeSuspended {
		t.Fatalf("expected finalizeSuspended, got %d", outcome)
	}

	if created == nil {
		t.Fatal("expected an interrupt record to be created")
	}
	if created.Provider != "hcaptcha" {
		t.Fatalf("expected provider hcaptcha, got %q", created.Provider)
	}
	if created.ResumeToken == "" {
		t.Fatal("expected interrupt record to carry the issued resume token")
	}

	notice, ok := pub.lastOfKind(NoticeSuspended)
	if !ok {
		t.Fatal("expected a suspended notice")
	}
	want := "https://app.campseat.io/resume?token=" + created.ResumeToken
	if notice.ResumeURL != want {
		t.Fatalf("expected resume url %q, got %q", want, notice.ResumeURL)
	}
}

func TestFinalize_RepeatVerificationReusesInterrupt(t *testing.T) {
	requestID := uuid.New()
	existing := &domain.InterruptRecord{
		ID:          uuid.New(),
		RequestID:   requestID,
		Provider:    "hcaptcha",
		Status:      domain.InterruptPending,
		ResumeToken: "existing-token",
		ExpiresAt:   time.Now().Add(20 * time.Minute),
	}
	repo := &stubRepo{
		findActiveInterrupt: func(ctx context.Context, id uuid.UUID) (*domain.InterruptRecord, error) {
			return existing, nil
		},
		createInterrupt: func(ctx context.Context, record *domain.InterruptRecord) error {
			t.Fatal("must not create a second interrupt while one is active")
			return nil
		},
		markRequestSuspended: func(ctx context.Context, id uuid.UUID) (bool, error) {
			return false, nil // already suspended
		},
	}
	submitter := &stubSubmitter{
		submit: func(ctx context.Context, reqID, sessID, depID uuid.UUID) (*submitclient.Result, error) {
			return &submitclient.Result{Outcome: submitclient.OutcomeVerificationRequired, Context: "hcaptcha"}, nil
		},
	}
	svc, pub := newTestService(t, repo, submitter, nil, Config{ResumeBaseURL: "https://app.campseat.io"})

	req := &domain.RegistrationRequest{ID: requestID, SessionID: uuid.New(), DependentID: uuid.New(), Status: domain.RequestAccepted}
	if outcome := svc.finalizeRequest(context.Background(), req); outcome != finalizeSuspended {
		t.Fatalf("expected finalizeSuspended, got %d", outcome)
	}

	notice, ok := pub.lastOfKind(NoticeSuspended)
	if !ok {
		t.Fatal("expected a suspended notice")
	}
	if notice.ResumeURL != "https://app.campseat.io/resume?token=existing-token" {
		t.Fatalf("expected existing token in resume url, got %q", notice.ResumeURL)
	}
}

func TestFinalize_SubmissionFailureWithinBudgetReschedules(t *testing.T) {
	requestID := uuid.New()
	rescheduled := false
	repo := &stubRepo{
		incrementRetry: func(ctx context.Context, id uuid.UUID, lastError string) (int, error) {
			return 1, nil
		},
		rescheduleForRetry: func(ctx context.Context, id uuid.UUID) (bool, error) {
			rescheduled = true
			return true, nil
		},
	}
	submitter := &stubSubmitter{
		submit: func(ctx context.Context, reqID, sessID, depID uuid.UUID) (*submitclient.Result, error) {
			return nil, errors.New("provider timeout")
		},
	}
	svc, pub := newTestService(t, repo, submitter, nil, Config{SubmissionRetryMax: 3})

	req := &domain.RegistrationRequest{ID: requestID, SessionID: uuid.New(), DependentID: uuid.New(), Status: domain.RequestAccepted}
	if outcome := svc.finalizeRequest(context.Background(), req); outcome != finalizeRescheduled {
		t.Fatalf("expected finalizeRescheduled, got %d", outcome)
	}
	if !rescheduled {
		t.Fatal("expected request rescheduled for the next cycle")
	}
	if pub.countKind(NoticeFailed) != 0 {
		t.Fatalf("expected no failed notice while retry budget remains, got %d", pub.countKind(NoticeFailed))
	}
}

func TestFinalize_SubmissionBudgetExhaustedFails(t *testing.T) {
	requestID := uuid.New()
	var failedReason string
	repo := &stubRepo{
		incrementRetry: func(ctx context.Context, id uuid.UUID, lastError string) (int, error) {
			return 3, nil
		},
		markRequestFailed: func(ctx context.Context, id uuid.UUID, reason, lastError string) error {
			failedReason = reason
			return nil
		},
	}
	submitter := &stubSubmitter{
		submit: func(ctx context.Context, reqID, sessID, depID uuid.UUID) (*submitclient.Result, error) {
			return &submitclient.Result{Outcome: submitclient.OutcomeFailed, Reason: "form rejected"}, nil
		},
	}
	svc, pub := newTestService(t, repo, submitter, nil, Config{SubmissionRetryMax: 3})

	req := &domain.RegistrationRequest{ID: requestID, SessionID: uuid.New(), DependentID: uuid.New(), Status: domain.RequestAccepted}
	if outcome := svc.finalizeRequest(context.Background(), req); outcome != finalizeFailed {
		t.Fatalf("expected finalizeFailed, got %d", outcome)
	}
	if failedReason != domain.ReasonSubmissionFailed {
		t.Fatalf("expected reason %q, got %q", domain.ReasonSubmissionFailed, failedReason)
	}
	if pub.countKind(NoticeFailed) != 1 {
		t.Fatalf("expected one failed notice, got %d", pub.countKind(NoticeFailed))
	}
}

func TestSweepExpiredInterrupts(t *testing.T) {
	reqA := uuid.New()
	reqB := uuid.New()
	expired := []domain.InterruptRecord{
		{ID: uuid.New(), RequestID: reqA, Status: domain.InterruptPending},
		{ID: uuid.New(), RequestID: reqB, Status: domain.InterruptPending},
	}
	consumed := make(map[uuid.UUID]string)

	repo := &stubRepo{
		listExpiredInterrupts: func(ctx context.Context, now time.Time, limit int) ([]domain.InterruptRecord, error) {
			return expired, nil
		},
		consumeFailing: func(ctx context.Context, id uuid.UUID, s domain.InterruptStatus, reason string) (bool, error) {
			if s != domain.InterruptExpired {
				t.Fatalf("expected interrupt consumed as expired, got %s", s)
			}
			// The second record was resolved concurrently.
			if id != expired[0].ID {
				return false, nil
			}
			consumed[expired[0].RequestID] = reason
			return true, nil
		},
		findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.RegistrationRequest, error) {
			return &domain.RegistrationRequest{ID: id, Status: domain.RequestFailed}, nil
		},
	}
	svc, pub := newTestService(t, repo, nil, nil, Config{})

	if count := svc.SweepExpiredInterrupts(context.Background()); count != 1 {
		t.Fatalf("expected 1 interrupt expired, got %d", count)
	}
	if reason, ok := consumed[reqA]; !ok || reason != domain.ReasonVerificationExpired {
		t.Fatalf("expected request %s failed with %q, got %+v", reqA, domain.ReasonVerificationExpired, consumed)
	}
	if _, ok := consumed[reqB]; ok {
		t.Fatal("request whose interrupt was already resolved must not be failed by the sweep")
	}
	if pub.countKind(NoticeFailed) != 1 {
		t.Fatalf("expected one failed notice, got %d", pub.countKind(NoticeFailed))
	}
}
