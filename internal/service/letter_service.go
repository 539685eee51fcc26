package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"letterdesk/internal/account"
	"letterdesk/internal/apperr"
	"letterdesk/internal/events"
	"letterdesk/internal/jobs"
	"letterdesk/internal/ledger"
	"letterdesk/pkg/logger"
)

// LetterService runs the intake and generation workflow across the account
// directory, the job queue and the event bus.
type LetterService struct {
	accounts *account.Directory
	jobs     *jobs.Queue
	ledger   *ledger.Ledger
	bus      events.Bus
	loc      *time.Location
	logger   *zap.Logger
}

func NewLetterService(accounts *account.Directory, queue *jobs.Queue, l *ledger.Ledger, bus events.Bus, logger *zap.Logger) *LetterService {
	if bus == nil {
		bus = events.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LetterService{
		accounts: accounts,
		jobs:     queue,
		ledger:   l,
		bus:      bus,
		loc:      queue.Location(),
		logger:   logger,
	}
}

// SubmitIntake stores the intake as a queued job and announces it. The job
// is kept even when the announcement fails.
func (s *LetterService) SubmitIntake(ctx context.Context, email, bureau, disputeType, round string, payload map[string]any) (*jobs.Job, error) {
	job, err := s.jobs.Enqueue(ctx, email, bureau, disputeType, round, payload)
	if err != nil {
		return nil, err
	}
	err = s.bus.Publish(ctx, events.KeyJobEnqueued, events.JobEnqueued{
		EventID:     events.NewID(),
		LetterID:    job.LetterID,
		Email:       job.Email,
		Bureau:      job.Bureau,
		DisputeType: job.DisputeType,
		RoundName:   job.RoundName,
		Phone:       job.PhoneCached,
		SMSOptIn:    job.SMSOptIn,
		CreatedAt:   job.CreatedAt,
	})
	if err != nil {
		logger.WithTrace(ctx, s.logger).Warn("job.enqueued not delivered",
			zap.String("letter_id", job.LetterID), zap.Error(err))
	}
	return job, nil
}

// RecordLetter spends one credit of acct for letterID and stores the text.
// The credit stays spent when storing the text fails; the error says so.
func (s *LetterService) RecordLetter(ctx context.Context, acct *account.Account, letterID, letterText, accountRef string) (*account.Account, error) {
	letterID = strings.TrimSpace(letterID)
	if letterID == "" {
		return nil, apperr.Invalid("letter_id", "required")
	}
	if strings.TrimSpace(letterText) == "" {
		return nil, apperr.Invalid("letter_text", "required")
	}
	if !s.accounts.CanGenerate(acct) {
		return nil, apperr.ErrQuotaExceeded
	}

	job, err := s.jobs.Get(ctx, letterID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(job.Email, acct.Email) {
		return nil, apperr.NotFound("job", letterID)
	}

	updated, err := s.accounts.RecordGeneration(ctx, acct)
	if err != nil {
		return nil, err
	}
	log := logger.WithTrace(ctx, s.logger)

	if err := s.jobs.UpdateFields(ctx, letterID, map[string]any{jobs.ColLetterText: letterText}); err != nil {
		log.Error("letter text not stored after credit was spent",
			zap.String("letter_id", letterID), logger.Email(acct.Email), zap.Error(err))
		return updated, fmt.Errorf("store letter text: %w", err)
	}

	err = s.bus.Publish(ctx, events.KeyGenerationRecorded, events.GenerationRecorded{
		EventID:     events.NewID(),
		Email:       updated.Email,
		Plan:        updated.Plan,
		LetterID:    letterID,
		Bureau:      job.Bureau,
		DisputeType: job.DisputeType,
		AccountRef:  accountRef,
		Timestamp:   s.accounts.Now().Format(jobs.TimestampLayout),
	})
	if err != nil {
		log.Warn("generation.recorded not delivered", zap.String("letter_id", letterID), zap.Error(err))
	}
	return updated, nil
}

// Usage pairs the live quota with the counts derived from the ledger.
type Usage struct {
	Quota  account.Quota  `json:"quota"`
	Ledger *ledger.Counts `json:"ledger,omitempty"`
}

func (s *LetterService) Usage(ctx context.Context, acct *account.Account) (Usage, error) {
	u := Usage{Quota: s.accounts.Quota(acct)}
	if s.ledger == nil {
		return u, nil
	}
	c, err := s.ledger.Counts(ctx, acct.Email, s.accounts.Now())
	if err != nil {
		return u, err
	}
	u.Ledger = &c
	return u, nil
}
