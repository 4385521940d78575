/**
 * @description
 * This file defines the core application service for the registration-service.
 * The Service struct wires the repository, the external submission and payment
 * clients, the resume-token service, and the notification publisher together,
 * and carries the tuning knobs for allocation cycles and finalization.
 *
 * The service is stateless: every piece of mutable state lives in PostgreSQL,
 * Redis, or the message broker, so multiple instances can run the cycle
 * concurrently and rely on the per-session allocation lock for correctness.
 *
 * @dependencies
 * - internal/store: Repository interface and sentinel errors.
 * - internal/token: resume-token issuance/verification.
 * - pkg/submitclient, pkg/payclient: external collaborators.
 * - pkg/rabbitmq: notification publisher.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/campseat/registration-service/internal/domain"
	"github.com/campseat/registration-service/internal/store"
	"github.com/campseat/registration-service/internal/token"
	"github.com/campseat/registration-service/pkg/payclient"
	"github.com/campseat/registration-service/pkg/rabbitmq"
	"github.com/campseat/registration-service/pkg/submitclient"
	"github.com/google/uuid"
)

// Notification kinds, one per user-visible transition.
const (
	NoticeAccepted  = "request.accepted"
	NoticeConfirmed = "request.confirmed"
	NoticeRejected  = "request.rejected"
	NoticeSuspended = "request.suspended"
	NoticeFailed    = "request.failed"
)

// Errors surfaced by the resume flow. The API layer maps these onto HTTP
// status codes (400 for token problems, 409 for state conflicts, 429 for
// rate limiting).
var (
	ErrInvalidResumeToken  = errors.New("invalid resume token")
	ErrResumeTokenExpired  = errors.New("resume token expired")
	ErrAlreadyResolved     = errors.New("already resolved")
	ErrRequestNotSuspended = errors.New("request is not suspended")
	ErrInvalidOutcome      = errors.New("outcome must be 'solved' or 'failed'")
	ErrResumeRateLimited   = errors.New("too many resume attempts")
)

// ResumeRateLimiter bounds how often a caller may hit the public resume
// endpoint. Implementations must fail open: an unavailable backend returns a
// zero count, never an error that blocks a legitimate resume.
type ResumeRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// DetectionCache is the injected, externally-owned TTL store that remembers
// recent verification detections per request, so repeated collaborator
// reports within the window short-circuit to the existing interrupt instead
// of racing on record creation.
type DetectionCache interface {
	MarkDetected(ctx context.Context, requestID uuid.UUID, ttl time.Duration) error
	RecentlyDetected(ctx context.Context, requestID uuid.UUID) (bool, error)
}

// Config carries the service tuning knobs, populated from internal/config.
type Config struct {
	MaxSessionsPerCycle int
	SessionWorkers      int
	UserSessionCap      int
	SubmissionRetryMax  int
	SubmissionTimeout   time.Duration
	ChargeTimeout       time.Duration
	ResumeBaseURL       string
	ResumeRateLimit     int
	ResumeRateWindow    time.Duration
	SweepBatchSize      int
	StaleAcceptedAfter  time.Duration
}

// Service is the core application service.
type Service struct {
	repo      store.Repository
	submitter submitclient.Submitter
	capturer  payclient.Capturer
	producer  rabbitmq.Publisher
	tokens    *token.Service
	limiter   ResumeRateLimiter
	detection DetectionCache
	cfg       Config
	now       func() time.Time
}

// NewService initializes the core application service with its dependencies.
// producer may be nil, in which case the no-op fallback is used.
func NewService(
	repo store.Repository,
	submitter submitclient.Submitter,
	capturer payclient.Capturer,
	producer rabbitmq.Publisher,
	tokens *token.Service,
	cfg Config,
) *Service {
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	if cfg.MaxSessionsPerCycle <= 0 {
		cfg.MaxSessionsPerCycle = 50
	}
	if cfg.SessionWorkers <= 0 {
		cfg.SessionWorkers = 4
	}
	if cfg.UserSessionCap <= 0 {
		cfg.UserSessionCap = 1
	}
	if cfg.SubmissionRetryMax <= 0 {
		cfg.SubmissionRetryMax = 3
	}
	if cfg.SubmissionTimeout <= 0 {
		cfg.SubmissionTimeout = 30 * time.Second
	}
	if cfg.ChargeTimeout <= 0 {
		cfg.ChargeTimeout = 15 * time.Second
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 200
	}
	if cfg.StaleAcceptedAfter <= 0 {
		cfg.StaleAcceptedAfter = 10 * time.Minute
	}
	return &Service{
		repo:      repo,
		submitter: submitter,
		capturer:  capturer,
		producer:  producer,
		tokens:    tokens,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetResumeRateLimiter installs the distributed rate limiter for the public
// resume endpoint. Without one, resume attempts are not rate limited.
func (s *Service) SetResumeRateLimiter(limiter ResumeRateLimiter) {
	s.limiter = limiter
}

// SetDetectionCache installs the TTL cache used to dedupe verification
// detections across instances. Without one, dedupe falls back to the
// database's uniqueness guarantee alone.
func (s *Service) SetDetectionCache(cache DetectionCache) {
	s.detection = cache
}

// GetRequestDetail returns a request together with its interrupt history and
// charge record, for support tooling.
func (s *Service) GetRequestDetail(ctx context.Context, requestID uuid.UUID) (*domain.RequestDetail, error) {
	req, err := s.repo.FindRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	detail := &domain.RequestDetail{Request: req}

	interrupts, err := s.repo.ListInterruptsByRequestID(ctx, requestID)
	if err != nil {
		log.Printf("level=warn component=service msg=\"interrupt history lookup failed\" request_id=%s err=%v", requestID, err)
	} else {
		detail.Interrupts = interrupts
	}

	charge, err := s.repo.FindChargeByRequestID(ctx, requestID)
	if err != nil && !errors.Is(err, store.ErrChargeNotFound) {
		log.Printf("level=warn component=service msg=\"charge lookup failed\" request_id=%s err=%v", requestID, err)
	} else if err == nil {
		detail.Charge = charge
	}
	return detail, nil
}

// notify emits exactly one notification for a user-visible transition: an
// audit row plus a fire-and-forget queue publish. Delivery failures are
// logged and never propagate into the state machine.
func (s *Service) notify(ctx context.Context, req *domain.RegistrationRequest, kind, reason, resumeURL string) {
	var detail *string
	if reason != "" {
		detail = &reason
	}
	if err := s.repo.CreateRegistrationEvent(ctx, domain.RegistrationEvent{
		RequestID: req.ID,
		UserID:    req.UserID,
		Kind:      kind,
		Detail:    detail,
	}); err != nil {
		log.Printf("level=warn component=notifier msg=\"audit event write failed\" request_id=%s kind=%s err=%v", req.ID, kind, err)
	}

	notice := rabbitmq.RegistrationNotice{
		RequestID: req.ID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Kind:      kind,
		Reason:    reason,
		ResumeURL: resumeURL,
		Timestamp: s.now().UTC(),
	}
	if err := s.producer.PublishRegistrationNotice(ctx, notice); err != nil {
		log.Printf("level=warn component=notifier msg=\"notice publish failed\" request_id=%s kind=%s err=%v", req.ID, kind, err)
	}
}

func (s *Service) resumeURL(tokenString string) string {
	if s.cfg.ResumeBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/resume?token=%s", s.cfg.ResumeBaseURL, tokenString)
}
