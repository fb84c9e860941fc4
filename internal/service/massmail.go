package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"member-intranet/internal/config"
	"member-intranet/internal/distlock"
	"member-intranet/internal/domain"
	"member-intranet/internal/logger"
	"member-intranet/internal/mailer"
	"member-intranet/internal/repository"
)

// errQueueMassMail is what callers see when the job could not be stored.
// The cause is logged.
var errQueueMassMail = errors.New("failed to queue mass mail, nothing was sent")

type massMailService struct {
	repo        repository.MassMailRepository
	eventRepo   repository.EventRepository
	sender      mailer.Sender
	locks       distlock.Factory
	renderer    *templateRenderer
	limiter     *rate.Limiter
	batchSize   int
	leaseTTL    time.Duration
	resumeDelay time.Duration
	dueLimit    int
	now         func() time.Time
}

func NewMassMailService(
	repo repository.MassMailRepository,
	eventRepo repository.EventRepository,
	sender mailer.Sender,
	locks distlock.Factory,
	cfg config.MassMailConfig,
) MassMailService {
	limit := rate.Inf
	if cfg.SendsPerSecond > 0 {
		limit = rate.Limit(cfg.SendsPerSecond)
	}
	leaseTTL := cfg.LockTTL()
	if leaseTTL <= 0 {
		leaseTTL = 15 * time.Minute
	}
	return &massMailService{
		repo:        repo,
		eventRepo:   eventRepo,
		sender:      sender,
		locks:       locks,
		renderer:    newTemplateRenderer(),
		limiter:     rate.NewLimiter(limit, 1),
		batchSize:   cfg.BatchSize,
		leaseTTL:    leaseTTL,
		resumeDelay: cfg.ResumeDelay(),
		dueLimit:    cfg.DueJobsPerRun,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *massMailService) Send(ctx context.Context, actor domain.ActorContext, in SendMassMailInput) (*MassMailResult, error) {
	logger.EnterMethod("massMailService.Send", "boardID", actor.UserID, "recipients", len(in.Recipients))

	if err := actor.RequireBoard("send mass mail"); err != nil {
		return nil, err
	}
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		return nil, domain.NewValidationError("subject", "is required")
	}
	if strings.TrimSpace(in.BodyTemplate) == "" {
		return nil, domain.NewValidationError("body", "is required")
	}
	if err := s.renderer.Validate("subject", subject); err != nil {
		return nil, err
	}
	if err := s.renderer.Validate("body", in.BodyTemplate); err != nil {
		return nil, err
	}
	recipients, err := normalizeRecipients(in.Recipients)
	if err != nil {
		return nil, err
	}
	event, err := s.loadEvent(ctx, in.EventID)
	if err != nil {
		return nil, err
	}

	if len(recipients) <= s.batchSize {
		result := &MassMailResult{}
		for _, rcpt := range recipients {
			if err := s.limiter.Wait(ctx); err != nil {
				return result, err
			}
			if err := s.deliver(ctx, subject, in.BodyTemplate, rcpt, event); err != nil {
				logger.Error("Mass mail send failed", "to", logger.RedactEmail(rcpt.Email), "error", err)
				result.Failed++
				continue
			}
			result.Sent++
		}
		logger.ExitMethod("massMailService.Send", "sent", result.Sent, "failed", result.Failed)
		return result, nil
	}

	// Due immediately, so a job interrupted during its first batch is
	// still picked up by the scheduler.
	now := s.now()
	job := &domain.MassMailJob{
		Subject:         subject,
		BodyTemplate:    in.BodyTemplate,
		EventID:         in.EventID,
		Status:          domain.MassMailStatusPaused,
		NextRunAt:       &now,
		TotalRecipients: int32(len(recipients)),
		CreatedBy:       actor.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreateJobWithRecipients(ctx, job, recipients); err != nil {
		logger.ExitMethodWithError("massMailService.Send", err, "recipients", len(recipients))
		return nil, errQueueMassMail
	}
	logger.Info("Mass mail job created", "jobID", job.ID, "recipients", job.TotalRecipients)

	result, err := s.processBatch(ctx, job.ID)
	if err != nil {
		logger.ExitMethodWithError("massMailService.Send", err, "jobID", job.ID)
		return result, err
	}
	logger.ExitMethod("massMailService.Send", "jobID", job.ID, "sent", result.Sent, "failed", result.Failed)
	return result, nil
}

func (s *massMailService) Resume(ctx context.Context, actor domain.ActorContext, jobID int32) (*MassMailResult, error) {
	if err := actor.RequireBoard("resume mass mail"); err != nil {
		return nil, err
	}
	return s.processBatch(ctx, jobID)
}

func (s *massMailService) ResumeDue(ctx context.Context, now time.Time) (int, error) {
	jobs, err := s.repo.ListDueJobs(ctx, now, s.dueLimit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		result, err := s.processBatch(ctx, job.ID)
		if errors.Is(err, domain.ErrJobBusy) {
			logger.Info("Mass mail job busy, skipping", "jobID", job.ID)
			continue
		}
		if err != nil {
			logger.Error("Failed to resume mass mail job", "jobID", job.ID, "error", err)
			continue
		}
		logger.Info("Resumed mass mail job", "jobID", job.ID, "sent", result.Sent, "failed", result.Failed, "status", result.Job.Status)
		processed++
	}
	return processed, nil
}

func (s *massMailService) Get(ctx context.Context, actor domain.ActorContext, jobID int32) (*domain.MassMailJob, error) {
	if err := actor.RequireBoard("view mass mail"); err != nil {
		return nil, err
	}
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, notFound(err, "mass mail job", jobID)
	}
	return job, nil
}

func (s *massMailService) List(ctx context.Context, actor domain.ActorContext, page, pageSize int32) ([]domain.MassMailJob, int32, error) {
	if err := actor.RequireBoard("view mass mail"); err != nil {
		return nil, 0, err
	}
	page, pageSize = normalizePage(page, pageSize)
	return s.repo.ListJobs(ctx, pageSize, (page-1)*pageSize)
}

// processBatch sends up to one batch of a job's pending recipients while
// holding the job lock. A completed job is returned unchanged. Each
// recipient is leased before its send, and the job lock is renewed between
// sends; the batch stops as soon as the lock is lost.
func (s *massMailService) processBatch(ctx context.Context, jobID int32) (*MassMailResult, error) {
	lock := s.locks.NewLock(fmt.Sprintf("massmail:job:%d", jobID))
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, domain.ErrJobBusy
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to release mass mail job lock", "jobID", jobID, "error", err)
		}
	}()

	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, notFound(err, "mass mail job", jobID)
	}
	result := &MassMailResult{Job: job}
	if job.Status == domain.MassMailStatusCompleted {
		return result, nil
	}

	event, err := s.loadEvent(ctx, job.EventID)
	if err != nil {
		return nil, err
	}
	pending, err := s.repo.ListPendingRecipients(ctx, jobID, s.batchSize)
	if err != nil {
		return nil, err
	}

	for _, rcpt := range pending {
		if err := s.keepLock(ctx, lock, jobID); err != nil {
			return s.partial(ctx, result, err)
		}
		now := s.now()
		claimed, err := s.repo.ClaimRecipient(ctx, jobID, rcpt.ID, now.Add(s.leaseTTL), now)
		if err != nil {
			return s.partial(ctx, result, err)
		}
		if !claimed {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return s.partial(ctx, result, err)
		}

		status, errMsg := domain.RecipientStatusSent, ""
		if err := s.deliver(ctx, job.Subject, job.BodyTemplate, rcpt, event); err != nil {
			logger.Error("Mass mail send failed", "jobID", jobID, "recipientID", rcpt.ID, "to", logger.RedactEmail(rcpt.Email), "error", err)
			status, errMsg = domain.RecipientStatusFailed, err.Error()
		}

		changed, err := s.repo.MarkRecipient(ctx, jobID, rcpt.ID, status, errMsg, s.now())
		if err != nil {
			return s.partial(ctx, result, err)
		}
		if !changed {
			continue
		}
		if status == domain.RecipientStatusSent {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	// The job row belongs to whoever holds the lock now.
	if err := s.keepLock(ctx, lock, jobID); err != nil {
		return s.partial(ctx, result, err)
	}
	remaining, err := s.repo.ListPendingRecipients(ctx, jobID, 1)
	if err != nil {
		return s.partial(ctx, result, err)
	}
	now := s.now()
	if len(remaining) == 0 {
		err = s.repo.FinishBatch(ctx, jobID, domain.MassMailStatusCompleted, nil, now)
	} else {
		next := now.Add(s.resumeDelay)
		err = s.repo.FinishBatch(ctx, jobID, domain.MassMailStatusPaused, &next, now)
	}
	if err != nil {
		return s.partial(ctx, result, err)
	}

	if job, err = s.repo.GetJob(ctx, jobID); err != nil {
		return result, err
	}
	result.Job = job
	return result, nil
}

func (s *massMailService) keepLock(ctx context.Context, lock distlock.Lock, jobID int32) error {
	held, err := lock.Extend(ctx)
	if err != nil {
		return err
	}
	if !held {
		logger.Warn("Mass mail job lock lost, stopping batch", "jobID", jobID)
		return domain.ErrJobLockLost
	}
	return nil
}

// partial refreshes the job counters so a batch that stopped early still
// reports what it did.
func (s *massMailService) partial(ctx context.Context, result *MassMailResult, cause error) (*MassMailResult, error) {
	if job, err := s.repo.GetJob(context.WithoutCancel(ctx), result.Job.ID); err == nil {
		result.Job = job
	}
	return result, cause
}

func (s *massMailService) deliver(ctx context.Context, subjectTpl, bodyTpl string, rcpt domain.MassMailRecipient, event *domain.Event) error {
	bindings := recipientBindings(rcpt, event)
	subject, err := s.renderer.Render(subjectTpl, bindings)
	if err != nil {
		return fmt.Errorf("render subject: %w", err)
	}
	body, err := s.renderer.Render(bodyTpl, bindings)
	if err != nil {
		return fmt.Errorf("render body: %w", err)
	}
	return s.sender.Send(ctx, mailer.Message{
		To:       rcpt.Email,
		ToName:   rcpt.FullName(),
		Subject:  subject,
		HTMLBody: body,
	})
}

// loadEvent returns nil when no event is referenced or the event is gone.
func (s *massMailService) loadEvent(ctx context.Context, eventID *int32) (*domain.Event, error) {
	if eventID == nil {
		return nil, nil
	}
	event, err := s.eventRepo.GetByID(ctx, *eventID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("Mass mail references a missing event", "eventID", *eventID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func normalizePage(page, pageSize int32) (int32, int32) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
