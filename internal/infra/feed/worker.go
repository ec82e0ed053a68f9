package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"trailing_go/internal/domain"
	"trailing_go/internal/event"
	"trailing_go/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
	// consecutive dial failures before the circuit gauge opens
	circuitThreshold = 10
)

// tickMessage is one venue price update on the wire.
type tickMessage struct {
	Type   string          `json:"type"` // tick
	Seq    uint64          `json:"seq"`
	Market domain.MarketID `json:"market"`
	Tick   int32           `json:"tick"`
	Sender domain.Account  `json:"sender"` // swapper that moved the price
	Ts     int64           `json:"ts"`     // unix micros
}

type subscribeMessage struct {
	Op      string            `json:"op"`
	Markets []domain.MarketID `json:"markets,omitempty"`
}

// Config configures a Worker.
type Config struct {
	URL     string
	Source  string
	Markets []domain.MarketID // empty subscribes to every market
	Metrics *infra.Metrics
	// Backoff paces reconnects. Defaults to 100ms..30s.
	Backoff *backoff.Backoff
}

// Worker streams venue ticks into the sequencer inbox and reconnects on failure.
type Worker struct {
	cfg     Config
	inbox   chan<- event.Event
	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorker creates a new venue feed worker
func NewWorker(cfg Config, inbox chan<- event.Event) *Worker {
	if cfg.Metrics == nil {
		cfg.Metrics = infra.GlobalMetrics
	}
	if cfg.Backoff == nil {
		cfg.Backoff = &backoff.Backoff{
			Min:    100 * time.Millisecond,
			Max:    30 * time.Second,
			Jitter: true,
		}
	}
	return &Worker{cfg: cfg, inbox: inbox}
}

// Connect starts the WebSocket connection
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	b := w.cfg.Backoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			attempt := b.Attempt()
			delay := b.Duration()
			if attempt+1 >= circuitThreshold {
				w.cfg.Metrics.SetCircuitState(true)
			}
			slog.Warn("Feed connection failed",
				slog.Any("error", err),
				slog.Int("attempt", int(attempt)+1),
				slog.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		b.Reset()
		w.cfg.Metrics.SetCircuitState(false)
		w.cfg.Metrics.IncrementConnections()
		w.readLoop(ctx)
		w.cfg.Metrics.DecrementConnections()
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, w.cfg.URL, make(http.Header))
	if err != nil {
		return domain.NewNetworkError("dial", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return domain.NewNetworkError("subscribe", err)
	}

	slog.Info("Feed connected", slog.String("source", w.cfg.Source), slog.Int("markets", len(w.cfg.Markets)))
	return nil
}

func (w *Worker) subscribe() error {
	b, err := json.Marshal(subscribeMessage{Op: "subscribe", Markets: w.cfg.Markets})
	if err != nil {
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, w.closeConnection)
	defer stop()

	for {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Feed read failed", slog.Any("error", err))
			}
			w.closeConnection()
			return
		}
		if !w.handleMessage(ctx, msg) {
			w.closeConnection()
			return
		}
	}
}

// handleMessage forwards a tick to the inbox. It reports false once ctx is
// done. Sequencing is left to the sequencer, so ticks are never dropped here.
func (w *Worker) handleMessage(ctx context.Context, msg []byte) bool {
	var m tickMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		slog.Debug("Ignoring malformed feed message", slog.Any("error", err))
		return true
	}
	if m.Type != "tick" {
		return true
	}

	ev := event.AcquirePriceUpdateEvent()
	ev.Seq = m.Seq
	ev.Ts = m.Ts
	ev.Market = m.Market
	ev.Tick = m.Tick
	ev.Sender = m.Sender
	ev.Source = w.cfg.Source

	select {
	case w.inbox <- ev:
		return true
	case <-ctx.Done():
		event.ReleasePriceUpdateEvent(ev)
		return false
	}
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

// Disconnect stops the worker and waits for it to exit.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
