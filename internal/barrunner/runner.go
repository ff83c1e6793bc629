// Package barrunner implements the Bar Builder Runtime (spec.md §4.4): it
// subscribes to the `trades` topic under a consumer group, feeds each
// trade into an internal/barbuilder.Builder, publishes any emitted bars to
// the `bars` topic, and checkpoints the source offset only after that
// publish succeeds — so a crash between receive and checkpoint simply
// replays the trade (at-least-once, tolerated by downstream idempotent
// upserts per spec.md §4.3.3).
package barrunner

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/sawpanic/cryptorun-bars/internal/barbuilder"
	"github.com/sawpanic/cryptorun-bars/internal/domain"
	"github.com/sawpanic/cryptorun-bars/internal/errs"
	"github.com/sawpanic/cryptorun-bars/internal/metrics"
	"github.com/sawpanic/cryptorun-bars/internal/stream"
)

// Runner wires one Builder to an EventBus's trades/bars topics.
type Runner struct {
	bus         stream.EventBus
	builder     *barbuilder.Builder
	inputTopic  string
	outputTopic string
	group       string
	log         zerolog.Logger
	sidecar     *metrics.Sidecar

	// DurableCheckpoint, if set, receives every committed offset in
	// addition to whatever the bus itself tracks, so the last committed
	// offset outlives the process. The Runner only writes it: Start does
	// not read a stored offset back, and delivery after a restart begins
	// wherever the bus begins.
	DurableCheckpoint stream.Checkpointer
}

// New builds a Runner. group is the consumer-group identity; pass a
// UUID-suffixed group (kafka.create_new_consumer_group, spec.md §6) when
// the caller wants a fresh earliest-offset backfill.
func New(bus stream.EventBus, builder *barbuilder.Builder, inputTopic, outputTopic, group string, sidecar *metrics.Sidecar, log zerolog.Logger) *Runner {
	return &Runner{
		bus:         bus,
		builder:     builder,
		inputTopic:  inputTopic,
		outputTopic: outputTopic,
		group:       group,
		sidecar:     sidecar,
		log:         log,
	}
}

// Start registers the runtime's handler with the bus. It returns once
// Subscribe has registered (the bus drives delivery asynchronously).
func (r *Runner) Start(ctx context.Context) error {
	return r.bus.Subscribe(ctx, r.inputTopic, r.group, r.handle)
}

func (r *Runner) handle(ctx context.Context, msg *stream.Message) error {
	var trade domain.Trade
	if err := json.Unmarshal(msg.Payload, &trade); err != nil {
		return errs.Serialization("", "", err)
	}
	if err := trade.Validate(); err != nil {
		r.log.Warn().Err(err).Str("product_id", trade.ProductID).Msg("dropping invalid trade")
		return r.checkpoint(ctx, msg.Offset)
	}

	bars, err := r.builder.Process(trade)
	if err != nil {
		return err
	}

	for _, bar := range bars {
		payload, err := json.Marshal(bar)
		if err != nil {
			return errs.Serialization("", bar.ProductID, err)
		}
		if err := r.bus.Publish(ctx, r.outputTopic, bar.ProductID, payload); err != nil {
			return errs.Bus(err)
		}
		if r.sidecar != nil {
			r.sidecar.BarsEmitted.WithLabelValues(bar.ProductID, string(bar.Kind)).Inc()
		}
	}

	return r.checkpoint(ctx, msg.Offset)
}

func (r *Runner) checkpoint(ctx context.Context, offset int64) error {
	if cp, ok := r.bus.(stream.Checkpointer); ok {
		if err := cp.Checkpoint(ctx, r.inputTopic, r.group, offset); err != nil {
			return err
		}
	}
	if r.DurableCheckpoint != nil {
		if err := r.DurableCheckpoint.Checkpoint(ctx, r.inputTopic, r.group, offset); err != nil {
			r.log.Warn().Err(err).Int64("offset", offset).Msg("durable checkpoint failed")
		}
	}
	return nil
}
