// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package pipeline moves hostname observations from the capture tap into
// the detection log. A collector goroutine classifies and attributes
// observations and cuts batches by size or interval; a writer goroutine
// persists them. The hand-off buffer is bounded: when the writer falls
// behind, the oldest pending batch is dropped and counted, and capture is
// never stalled for more than one batch interval.
package pipeline

import (
	"context"
	"sync"
	"time"

	"grimm.is/campusgate/internal/capture"
	"grimm.is/campusgate/internal/classify"
	"grimm.is/campusgate/internal/logging"
	"grimm.is/campusgate/internal/metrics"
	"grimm.is/campusgate/internal/store"
)

// DetectionWriter is the slice of the store the pipeline needs.
type DetectionWriter interface {
	InsertDetections(batch []store.Detection) (int, error)
}

// LookupFunc resolves a client IP to a user id; "" means unattributed.
type LookupFunc func(clientIP string) (string, error)

type Config struct {
	BatchSize     int
	BatchInterval time.Duration
	BufferBatches int
}

type Batcher struct {
	cfg     Config
	writer  DetectionWriter
	lookup  LookupFunc
	logger  *logging.Logger
	metrics *metrics.Metrics

	batches chan []store.Detection
}

func NewBatcher(cfg Config, writer DetectionWriter, lookup LookupFunc, m *metrics.Metrics, logger *logging.Logger) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 5 * time.Second
	}
	if cfg.BufferBatches <= 0 {
		cfg.BufferBatches = 64
	}
	return &Batcher{
		cfg:     cfg,
		writer:  writer,
		lookup:  lookup,
		logger:  logger.With("component", "pipeline"),
		metrics: m,
		batches: make(chan []store.Detection, cfg.BufferBatches),
	}
}

// Run consumes observations until the context is cancelled, then flushes
// in-flight batches before returning.
func (b *Batcher) Run(ctx context.Context, in <-chan capture.Observation) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.writeLoop()
	}()

	b.collectLoop(ctx, in)
	close(b.batches)
	wg.Wait()
}

func (b *Batcher) collectLoop(ctx context.Context, in <-chan capture.Observation) {
	ticker := time.NewTicker(b.cfg.BatchInterval)
	defer ticker.Stop()

	var pending []store.Detection
	for {
		select {
		case <-ctx.Done():
			b.enqueue(pending)
			return
		case <-ticker.C:
			b.enqueue(pending)
			pending = nil
		case obs, ok := <-in:
			if !ok {
				b.enqueue(pending)
				return
			}
			d, ok := b.attribute(obs)
			if !ok {
				continue
			}
			pending = append(pending, d)
			if len(pending) >= b.cfg.BatchSize {
				b.enqueue(pending)
				pending = nil
			}
		}
	}
}

// attribute turns an observation into a detection, or drops it when the
// source IP has no authenticated user.
func (b *Batcher) attribute(obs capture.Observation) (store.Detection, bool) {
	userID, err := b.lookup(obs.SrcIP)
	if err != nil {
		b.logger.Warn("attribution lookup failed", "client_ip", obs.SrcIP, "error", err)
		return store.Detection{}, false
	}
	if userID == "" {
		b.metrics.UnattributedHosts.Inc()
		return store.Detection{}, false
	}

	category, app := classify.Classify(obs.Hostname)
	return store.Detection{
		TS:       obs.TS,
		UserID:   userID,
		ClientIP: obs.SrcIP,
		Hostname: obs.Hostname,
		App:      app,
		Category: category,
		Score:    1.0,
		Reason:   app + " activity",
	}, true
}

// enqueue hands a batch to the writer, dropping the oldest queued batch
// when the buffer is full.
func (b *Batcher) enqueue(batch []store.Detection) {
	if len(batch) == 0 {
		return
	}
	for {
		select {
		case b.batches <- batch:
			return
		default:
		}
		select {
		case dropped := <-b.batches:
			b.metrics.BatchesDropped.Inc()
			b.logger.Warn("writer behind, dropping oldest batch", "size", len(dropped))
		default:
		}
	}
}

func (b *Batcher) writeLoop() {
	for batch := range b.batches {
		written, err := b.writer.InsertDetections(batch)
		if err != nil {
			b.logger.Error("batch write failed", "size", len(batch), "error", err)
			continue
		}
		b.metrics.DetectionsWritten.Add(float64(written))
	}
}
