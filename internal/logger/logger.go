// Package logger implements a non-blocking, batched join-trace logger.
//
// Log entries are written to an internal buffered channel and flushed in
// batches by a background goroutine — so logging never blocks the gateway's
// hot path. If the channel fills up (> 10 000 entries), new entries are
// dropped and counted in DroppedLogs.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// JoinTrace records one inbound request's full dispatch outcome: the
// primary fetch plus any DataMesh join fan-out it triggered. One entry
// per inbound request, not per upstream call.
type JoinTrace struct {
	ID           uuid.UUID
	Service      string
	Model        string
	PlanSize     int
	FanOutCount  int
	PartialFails int
	RespCacheHit bool
	LatencyMs    uint32
	Status       uint16
	CreatedAt    time.Time
}

// Sink persists flushed batches of JoinTrace entries somewhere durable, in
// addition to the slog line every entry always gets. With no Sink
// configured, traces are slog-only. See ClickHouseSink.
type Sink interface {
	Write(ctx context.Context, batch []JoinTrace) error
}

type Logger struct {
	ch        chan JoinTrace
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	droppedLogs int64

	baseCtx context.Context
	log     *slog.Logger
	sink    Sink
}

// New builds a Logger. sink may be nil, in which case traces are written
// only via slog.
func New(ctx context.Context, slogger *slog.Logger, sink Sink) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("logger: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	l := &Logger{
		ch:      make(chan JoinTrace, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     slogger,
		sink:    sink,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

func (l *Logger) Log(entry JoinTrace) {
	select {
	case l.ch <- entry:
	default:
		atomic.AddInt64(&l.droppedLogs, 1)
	}
}

func (l *Logger) DroppedLogs() int64 {
	return atomic.LoadInt64(&l.droppedLogs)
}

func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]JoinTrace, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			l.log.InfoContext(ctx, "join_trace",
				slog.String("id", e.ID.String()),
				slog.String("service", e.Service),
				slog.String("model", e.Model),
				slog.Int("plan_size", e.PlanSize),
				slog.Int("fan_out_count", e.FanOutCount),
				slog.Int("partial_fails", e.PartialFails),
				slog.Bool("resp_cache_hit", e.RespCacheHit),
				slog.Uint64("latency_ms", uint64(e.LatencyMs)),
				slog.Uint64("status", uint64(e.Status)),
				slog.Time("created_at", normalizeTime(e.CreatedAt)),
			)
		}
		if l.sink != nil {
			if err := l.sink.Write(ctx, batch); err != nil {
				l.log.ErrorContext(ctx, "join_trace sink write failed", slog.String("error", err.Error()))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush(l.baseCtx)
			}

		case <-ticker.C:
			flush(l.baseCtx)

		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush(l.baseCtx)
					}
				default:
					flush(l.baseCtx)
					return
				}
			}
		}
	}
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
