package speech

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/harunnryd/netra/pkg/errorsx"
	"github.com/harunnryd/netra/pkg/logging"
	"github.com/harunnryd/netra/pkg/metrics"
	"github.com/harunnryd/netra/pkg/resilience"
)

// BreakerSpeaker wraps a Speaker with a circuit breaker so that a
// provider shedding load stops receiving synthesis requests for a
// cooldown window instead of failing every utterance in a row.
type BreakerSpeaker struct {
	Speaker

	breaker *resilience.CircuitBreaker
	log     *slog.Logger
	obs     metrics.Observer
}

// WithBreaker decorates sp with breaker. A nil breaker gets the
// default threshold and cooldown.
func WithBreaker(sp Speaker, breaker *resilience.CircuitBreaker, log *slog.Logger, obs metrics.Observer) *BreakerSpeaker {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(0, 0)
	}
	if log == nil {
		log = slog.Default()
	}
	return &BreakerSpeaker{
		Speaker: sp,
		breaker: breaker,
		log:     logging.NewComponentLogger(log, "speech_breaker"),
		obs:     obs,
	}
}

// Speak delegates to the wrapped provider unless the breaker is open.
// Rate-limit errors from the provider trip the breaker; any success
// closes it again.
func (b *BreakerSpeaker) Speak(ctx context.Context, text string) error {
	if !b.breaker.Allow() {
		b.log.Warn("synthesis_denied", "provider", b.Speaker.Name())
		b.record(metrics.MetricsEvent{
			Name: metrics.EventBreakerDenied,
			Time: time.Now(),
		})
		return errorsx.Wrap(errors.New("speech circuit open"), errorsx.ReasonSpeechCircuitOpen)
	}

	err := b.Speaker.Speak(ctx, text)
	if err != nil {
		b.breaker.OnError(err)
		if resilience.IsRateLimit(err) {
			b.log.Warn("synthesis_rate_limited", "provider", b.Speaker.Name())
			b.record(metrics.MetricsEvent{
				Name: metrics.EventRateLimit,
				Time: time.Now(),
			})
		}
		return err
	}

	b.breaker.OnSuccess()
	return nil
}

func (b *BreakerSpeaker) record(event metrics.MetricsEvent) {
	if b.obs == nil {
		return
	}
	if event.Tags == nil {
		event.Tags = map[string]string{}
	}
	event.Tags["component"] = "speech_breaker"
	event.Tags["provider"] = b.Speaker.Name()
	b.obs.RecordEvent(event)
}

var _ Speaker = (*BreakerSpeaker)(nil)
