package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/saylorsolutions/weakbus/patterns/eventbus"
	"github.com/saylorsolutions/weakbus/syncx"
	"golang.org/x/sync/errgroup"
	"runtime"
	"sync"
	"time"
)

var ErrDeliveryMismatch = errors.New("delivery count mismatch")

// Message is the event published by each run.
type Message struct{}

// tally records every payload a subscriber receives.
type tally struct {
	mux  sync.Mutex
	seen map[int]int
}

func newTally(expected int) *tally {
	return &tally{seen: make(map[int]int, expected)}
}

func (t *tally) Handle(payload int) {
	t.mux.Lock()
	defer t.mux.Unlock()
	t.seen[payload]++
}

// check returns how many payloads in [0, total) were never seen, and how many extra deliveries were seen.
func (t *tally) check(total int) (missing, duplicates int) {
	t.mux.Lock()
	defer t.mux.Unlock()
	for i := 0; i < total; i++ {
		switch n := t.seen[i]; {
		case n == 0:
			missing++
		case n > 1:
			duplicates += n - 1
		}
	}
	return missing, duplicates
}

// Result summarizes a run.
type Result struct {
	RunID      string
	Expected   int64
	Delivered  int64
	Missing    int
	Duplicates int
	Elapsed    time.Duration
	Published  float64
	Dispatched float64
}

func (r Result) Log(log zerolog.Logger) {
	log.Info().
		Str("run", r.RunID).
		Int64("expected", r.Expected).
		Int64("delivered", r.Delivered).
		Int("missing", r.Missing).
		Int("duplicates", r.Duplicates).
		Dur("elapsed", r.Elapsed).
		Float64("publishedTotal", r.Published).
		Float64("deliveredTotal", r.Dispatched).
		Msg("Run finished")
}

// Bench publishes every publisher's messages to a fresh bus, and verifies that each subscriber saw each message exactly once.
// [ErrDeliveryMismatch] is returned with the result if any message was lost or duplicated.
func Bench(ctx context.Context, cfg *Config, log zerolog.Logger) (Result, error) {
	result := Result{
		RunID:    uuid.NewString(),
		Expected: cfg.Expected(),
	}
	log = log.With().Str("run", result.RunID).Logger()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	reg := prometheus.NewRegistry()
	opts := []eventbus.Option{
		eventbus.PayloadConsistency(cfg.Consistency),
		eventbus.WithLogger(log),
		eventbus.WithMetrics(reg),
	}
	if cfg.Mode == modeAsync && cfg.Async.Workers > 0 {
		opts = append(opts, eventbus.WithWorkerPool(cfg.Async.Workers, cfg.Async.Queue))
	}
	bus, err := eventbus.NewBus("busbench-"+result.RunID, opts...)
	if err != nil {
		return result, err
	}

	total := cfg.Publishers * cfg.Messages
	tallies := make([]*tally, cfg.Subscribers)
	for i := range tallies {
		tallies[i] = newTally(total)
		if err := eventbus.SubscribeHandler[Message, int](bus, tallies[i]); err != nil {
			return result, err
		}
	}
	log.Info().
		Int("publishers", cfg.Publishers).
		Int("messages", cfg.Messages).
		Int("subscribers", cfg.Subscribers).
		Str("mode", cfg.Mode).
		Msg("Starting run")

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < cfg.Publishers; p++ {
		g.Go(func() error {
			return publish(gctx, bus, cfg, p)
		})
	}
	runErr := g.Wait()
	if err := bus.Close(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to drain worker pool: %w", err)
	}
	result.Elapsed = time.Since(start)

	for _, t := range tallies {
		missing, duplicates := t.check(total)
		result.Missing += missing
		result.Duplicates += duplicates
		result.Delivered += int64(total - missing + duplicates)
	}
	runtime.KeepAlive(tallies)

	families, err := reg.Gather()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to gather metrics")
	}
	result.Published = counterTotal(families, "weakbus_published_total")
	result.Dispatched = counterTotal(families, "weakbus_delivered_total")

	if runErr != nil {
		return result, runErr
	}
	if result.Missing > 0 || result.Duplicates > 0 || result.Delivered != result.Expected {
		return result, fmt.Errorf("%w: expected %d deliveries, got %d (%d missing, %d duplicated)",
			ErrDeliveryMismatch, result.Expected, result.Delivered, result.Missing, result.Duplicates)
	}
	return result, nil
}

func publish(ctx context.Context, bus *eventbus.Bus, cfg *Config, publisher int) error {
	offset := publisher * cfg.Messages
	if cfg.Mode == modeSync {
		for i := 0; i < cfg.Messages; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			eventbus.Publish[Message](bus, offset+i)
		}
		return nil
	}

	futures := make([]syncx.Future[error], 0, cfg.Messages)
	for i := 0; i < cfg.Messages; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		futures = append(futures, eventbus.PublishAsync[Message](bus, offset+i))
	}
	for _, f := range futures {
		res, err := f.AwaitContext(ctx)
		if err != nil {
			return err
		}
		if res != nil {
			return res
		}
	}
	return nil
}

func counterTotal(families []*dto.MetricFamily, name string) float64 {
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
