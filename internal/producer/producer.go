// Package producer implements the Trade Producer (spec.md §4.2): it opens
// the exchange.Adapter of every configured Source (one adapter may serve
// several products of one exchange), runs each
// under its own supervised goroutine with reconnect/backoff on
// ConnectError and RateLimitError, and publishes every trade onto the
// `trades` topic keyed by product_id.
package producer

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/cryptorun-bars/internal/errs"
	"github.com/sawpanic/cryptorun-bars/internal/exchange"
	"github.com/sawpanic/cryptorun-bars/internal/metrics"
	"github.com/sawpanic/cryptorun-bars/internal/stream"
)

// Source is one configured adapter plus the exchange name used for
// metrics/log labeling.
type Source struct {
	Exchange string
	Adapter  exchange.Adapter
}

// Producer supervises every Source concurrently, publishing to bus.
type Producer struct {
	sources []Source
	bus     stream.EventBus
	topic   string
	log     zerolog.Logger
	sidecar *metrics.Sidecar

	// ReconnectDelay computes the backoff before retrying Open after a
	// ConnectError/RateLimitError. Overridable in tests.
	ReconnectDelay func(attempt int) time.Duration
}

// New builds a Producer that publishes to topic on bus.
func New(sources []Source, bus stream.EventBus, topic string, sidecar *metrics.Sidecar, log zerolog.Logger) *Producer {
	return &Producer{
		sources: sources,
		bus:     bus,
		topic:   topic,
		log:     log,
		sidecar: sidecar,
		ReconnectDelay: func(attempt int) time.Duration {
			d := time.Duration(1<<uint(attempt)) * 250 * time.Millisecond
			if d > 30*time.Second {
				d = 30 * time.Second
			}
			return time.Duration(rand.Float64() * float64(d))
		},
	}
}

// Run starts one supervisor goroutine per Source and blocks until ctx is
// done or every source's feed is exhausted (historical backfills).
func (p *Producer) Run(ctx context.Context) error {
	done := make(chan struct{}, len(p.sources))
	for _, src := range p.sources {
		src := src
		go func() {
			p.supervise(ctx, src)
			done <- struct{}{}
		}()
	}

	remaining := len(p.sources)
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			remaining--
		}
	}
	return nil
}

// supervise drives one Source's open/next/publish loop, reconnecting with
// exponential backoff and full jitter on ConnectError/RateLimitError
// (spec.md §7), and exiting when the context is cancelled or the adapter
// reports IsDone (historical backfill complete).
func (p *Producer) supervise(ctx context.Context, src Source) {
	attempt := 0
	var lastHeartbeats int64
	for {
		if ctx.Err() != nil {
			return
		}

		if err := src.Adapter.Open(ctx); err != nil {
			if isRetryable(err) {
				p.log.Warn().Err(err).Str("exchange", src.Exchange).Msg("adapter open failed, retrying")
				if !sleep(ctx, p.ReconnectDelay(attempt)) {
					return
				}
				attempt++
				continue
			}
			p.log.Error().Err(err).Str("exchange", src.Exchange).Msg("adapter open failed fatally")
			return
		}
		attempt = 0

		err := p.drain(ctx, src, &lastHeartbeats)
		src.Adapter.Close()

		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if isRetryable(err) {
			p.log.Warn().Err(err).Str("exchange", src.Exchange).Msg("adapter connection lost, reconnecting")
			if !sleep(ctx, p.ReconnectDelay(attempt)) {
				return
			}
			attempt++
			continue
		}
		p.log.Error().Err(err).Str("exchange", src.Exchange).Msg("adapter failed fatally")
		return
	}
}

func (p *Producer) drain(ctx context.Context, src Source, lastHeartbeats *int64) error {
	for !src.Adapter.IsDone() {
		start := time.Now()
		trade, err := src.Adapter.Next(ctx)
		if p.sidecar != nil {
			p.sidecar.RequestProcessingSeconds.WithLabelValues(src.Exchange).Observe(time.Since(start).Seconds())
			p.sidecar.RequestCount.WithLabelValues(src.Exchange).Inc()

			if hb := src.Adapter.HeartbeatCount(); hb > *lastHeartbeats {
				p.sidecar.HeartbeatResponses.WithLabelValues(src.Exchange).Add(float64(hb - *lastHeartbeats))
				*lastHeartbeats = hb
			}
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			var protoErr *errs.Error
			if errors.As(err, &protoErr) && protoErr.Kind == errs.KindProtocol {
				p.log.Warn().Err(err).Msg("dropping malformed trade")
				continue
			}
			return err
		}

		payload, err := json.Marshal(trade)
		if err != nil {
			return errs.Serialization(src.Exchange, trade.ProductID, err)
		}
		if err := p.bus.Publish(ctx, p.topic, trade.ProductID, payload); err != nil {
			return errs.Bus(err)
		}
	}
	return nil
}

func isRetryable(err error) bool {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Kind == errs.KindConnect || e.Kind == errs.KindRateLimit
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
