package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Remote is a client-side sink that keeps a socket to a relay's /ws endpoint
// open. Cues sent while disconnected are dropped.
type Remote struct {
	url          string
	dialer       *websocket.Dialer
	retryDelay   time.Duration
	maxRetryWait time.Duration
	onMessage    func(string)

	mu        sync.Mutex
	queue     chan string
	connected bool
}

func NewRemote(url string) *Remote {
	return &Remote{
		url:          url,
		dialer:       &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		retryDelay:   500 * time.Millisecond,
		maxRetryWait: 10 * time.Second,
	}
}

// OnMessage registers fn to receive every message relayed by the hub. It must
// be called before Run.
func (r *Remote) OnMessage(fn func(string)) {
	r.onMessage = fn
}

func (r *Remote) Send(message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return ErrUnavailable
	}
	select {
	case r.queue <- message:
		return nil
	default:
		return fmt.Errorf("send queue full: %w", ErrUnavailable)
	}
}

func (r *Remote) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Run dials and redials until ctx is cancelled.
func (r *Remote) Run(ctx context.Context) {
	wait := r.retryDelay
	for {
		conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("sink: dial failed", "url", r.url, "retry_in", wait, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			wait = min(wait*2, r.maxRetryWait)
			continue
		}

		wait = r.retryDelay
		slog.Info("sink: connected", "url", r.url)
		r.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("sink: connection lost", "url", r.url)
	}
}

func (r *Remote) serve(ctx context.Context, conn *websocket.Conn) {
	queue := make(chan string, clientQueueSize)
	r.mu.Lock()
	r.queue = queue
	r.connected = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.connected = false
		r.queue = nil
		r.mu.Unlock()
		_ = conn.Close()
	}()

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			if r.onMessage != nil {
				r.onMessage(string(data))
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-readErr:
			return
		case msg := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				slog.Warn("sink: write failed", "error", err)
				return
			}
		}
	}
}
