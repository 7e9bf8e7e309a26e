package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/goplan/pkg/domain"
)

// LogHooks logs every lifecycle event: step events at debug, step errors at warn,
// call endings at info.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	log := func(level slog.Level) func(context.Context, *domain.Event) {
		return func(ctx context.Context, e *domain.Event) {
			attrs := []any{
				"conversation_id", e.ConversationID,
				"seq", e.Seq,
			}
			if e.Step != "" {
				attrs = append(attrs, "step", e.Step)
			}
			if e.Duration > 0 {
				attrs = append(attrs, "duration", e.Duration)
			}
			if e.Degraded {
				attrs = append(attrs, "degraded", true)
			}
			if e.Error != "" {
				attrs = append(attrs, "err", e.Error)
			}
			logger.Log(ctx, level, string(e.Type), attrs...)
		}
	}
	return domain.LifecycleHooks{
		OnStepStart:  log(slog.LevelDebug),
		OnStepFinish: log(slog.LevelDebug),
		OnStepError:  log(slog.LevelWarn),
		OnCallEnd:    log(slog.LevelInfo),
	}
}
