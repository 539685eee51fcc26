package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"letterdesk/internal/events"
	"letterdesk/internal/ledger"
	"letterdesk/pkg/logger"
)

// Claims guards against duplicate deliveries. *util.Deduper satisfies it.
type Claims interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
	Release(ctx context.Context, handler, id string)
}

// LedgerAppender is the part of the ledger the handler writes to.
type LedgerAppender interface {
	Append(ctx context.Context, e ledger.Entry) (*ledger.Entry, error)
}

type GenerationRecordedLedgerHandler struct {
	ledger LedgerAppender
	claims Claims
	logger *zap.Logger
}

func NewGenerationRecordedLedgerHandler(l LedgerAppender, claims Claims, logger *zap.Logger) *GenerationRecordedLedgerHandler {
	return &GenerationRecordedLedgerHandler{
		ledger: l,
		claims: claims,
		logger: logger,
	}
}

// Handle appends one ledger entry per generation.recorded event. A
// redelivered event with the same id is skipped while its claim lives.
func (h *GenerationRecordedLedgerHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	evt, err := events.Decode[events.GenerationRecorded](raw)
	if err != nil {
		h.logger.Error("Failed to unmarshal generation recorded payload", zap.Error(err))
		return fmt.Errorf("decode %s: %w", events.KeyGenerationRecorded, err)
	}
	log := logger.WithTrace(ctx, h.logger)

	if evt.EventID != "" && h.claims != nil && !h.claims.AcquireOnce(ctx, "ledger", evt.EventID) {
		log.Debug("generation already logged, skipping", zap.String("event_id", evt.EventID))
		return nil
	}

	_, err = h.ledger.Append(ctx, ledger.Entry{
		Timestamp:   evt.Timestamp,
		Email:       evt.Email,
		Bureau:      evt.Bureau,
		DisputeType: evt.DisputeType,
		AccountRef:  evt.AccountRef,
		LetterID:    evt.LetterID,
	})
	if err != nil {
		if evt.EventID != "" && h.claims != nil {
			h.claims.Release(ctx, "ledger", evt.EventID)
		}
		log.Warn("Failed to append ledger entry",
			zap.String("letter_id", evt.LetterID),
			logger.Email(evt.Email),
			zap.Error(err),
		)
		return err
	}
	return nil
}
