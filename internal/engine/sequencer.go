package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"trailing_go/internal/event"
	"trailing_go/internal/infra"
)

// ErrSequencerStopped is returned by Submit once the loop has exited.
var ErrSequencerStopped = errors.New("sequencer stopped")

// CommitHook runs on the sequencer goroutine after every event that may have
// changed state. nextSeq is the next expected feed sequence.
type CommitHook func(ctx context.Context, nextSeq uint64) error

// Sequencer is the core single-threaded event processor. Feed price updates
// and API commands share one inbox, so every engine call is serialized in
// arrival order.
type Sequencer struct {
	inbox     chan event.Event
	engine    *Engine
	nextSeq   atomic.Uint64
	maxSeqGap uint64
	dumpPath  string
	onCommit  CommitHook
	metrics   *infra.Metrics
	done      chan struct{}
}

// SequencerConfig tunes the event loop.
type SequencerConfig struct {
	InboxSize int
	// MaxSeqGap is the largest forward jump in feed sequence that is logged
	// and skipped over. Larger gaps halt the loop.
	MaxSeqGap uint64
	DumpPath  string
	OnCommit  CommitHook
	Metrics   *infra.Metrics
}

// NewSequencer creates a new sequencer instance.
func NewSequencer(eng *Engine, cfg SequencerConfig) *Sequencer {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if cfg.DumpPath == "" {
		cfg.DumpPath = "panic_dump.json"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = infra.GlobalMetrics
	}
	s := &Sequencer{
		inbox:     make(chan event.Event, cfg.InboxSize),
		engine:    eng,
		maxSeqGap: cfg.MaxSeqGap,
		dumpPath:  cfg.DumpPath,
		onCommit:  cfg.OnCommit,
		metrics:   cfg.Metrics,
		done:      make(chan struct{}),
	}
	s.nextSeq.Store(1)
	return s
}

// Inbox returns the event channel. External workers send events here.
func (s *Sequencer) Inbox() chan<- event.Event {
	return s.inbox
}

// NextSeq returns the next expected feed sequence.
func (s *Sequencer) NextSeq() uint64 {
	return s.nextSeq.Load()
}

// SetNextSeq resumes the feed sequence, e.g. from a snapshot. Call before Run.
func (s *Sequencer) SetNextSeq(seq uint64) {
	s.nextSeq.Store(max(seq, 1))
}

// Run starts the main event loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("Sequencer started (Single-Thread Hotpath)", slog.Uint64("next_seq", s.NextSeq()))
	defer close(s.done)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.dumpPath)
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sequencer stopping...")
			return
		case ev := <-s.inbox:
			if halt := s.processEvent(ctx, ev); halt {
				slog.Info("Sequencer halted by event")
				return
			}
		}
	}
}

// Submit runs fn on the sequencer goroutine and waits for its result.
// ctx only bounds queueing: once the command is in the inbox it runs and
// commits, so Submit waits for its reply regardless of ctx.
func (s *Sequencer) Submit(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := event.NewCommand(name, fn)
	select {
	case s.inbox <- cmd:
	case <-s.done:
		return nil, ErrSequencerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-cmd.Reply:
		return r.Value, r.Err
	case <-s.done:
		// the loop may have replied just before exiting
		select {
		case r := <-cmd.Reply:
			return r.Value, r.Err
		default:
			return nil, ErrSequencerStopped
		}
	}
}

func (s *Sequencer) processEvent(ctx context.Context, ev event.Event) (halt bool) {
	start := time.Now()

	switch e := ev.(type) {
	case *event.PriceUpdateEvent:
		s.handlePriceUpdate(ctx, e)
		event.ReleasePriceUpdateEvent(e)
		s.commit(ctx)
	case *event.CommandEvent:
		r := s.handleCommand(ctx, e)
		// persisted before the caller hears back
		s.commit(ctx)
		if e.Reply != nil {
			e.Reply <- r
		}
	case *event.HaltEvent:
		slog.Warn("SYSTEM_HALT", slog.String("reason", e.Reason))
		return true
	default:
		slog.Warn("Unknown event type", slog.Any("type", ev.GetType()))
		return false
	}

	s.metrics.RecordEvent(time.Since(start).Nanoseconds())
	return false
}

// acceptSeq applies the feed sequence policy: duplicates are dropped, small
// gaps are logged and skipped, gaps above maxSeqGap halt.
func (s *Sequencer) acceptSeq(seq uint64) bool {
	next := s.nextSeq.Load()
	switch {
	case seq < next:
		slog.Debug("Duplicate feed event", slog.Uint64("seq", seq), slog.Uint64("expected", next))
		return false
	case seq-next > s.maxSeqGap:
		panic(fmt.Sprintf("SEQUENCE_GAP_DETECTED: expected %d, got %d", next, seq))
	case seq > next:
		slog.Warn("Feed sequence gap", slog.Uint64("expected", next), slog.Uint64("got", seq))
	}
	s.nextSeq.Store(seq + 1)
	return true
}

func (s *Sequencer) handlePriceUpdate(ctx context.Context, e *event.PriceUpdateEvent) {
	if !s.acceptSeq(e.Seq) {
		s.metrics.RecordSkipped()
		return
	}
	if e.Sender != "" && e.Sender == s.engine.CustodyAccount() {
		s.metrics.RecordSkipped()
		return
	}

	if _, err := s.engine.OnPriceUpdate(ctx, e.Market, e.Tick); err != nil {
		s.metrics.RecordError()
		slog.Warn("Price update rejected",
			slog.Uint64("seq", e.Seq),
			slog.String("market", string(e.Market)),
			slog.Int("tick", int(e.Tick)),
			slog.Any("error", err))
	}
}

func (s *Sequencer) handleCommand(ctx context.Context, e *event.CommandEvent) event.Result {
	var r event.Result
	if e.Fn == nil {
		r.Err = fmt.Errorf("command %q has no body", e.Name)
	} else {
		r.Value, r.Err = e.Fn(ctx)
	}
	if r.Err != nil {
		s.metrics.RecordError()
	}
	return r
}

func (s *Sequencer) commit(ctx context.Context) {
	if s.onCommit == nil {
		return
	}
	if err := s.onCommit(ctx, s.NextSeq()); err != nil {
		panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
	}
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		NextSeq uint64 `json:"next_seq"`
		State   State  `json:"state"`
	}{
		NextSeq: s.NextSeq(),
		State:   s.engine.State(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
