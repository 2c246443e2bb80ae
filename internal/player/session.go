package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mssola/useragent"

	"github.com/hapticdef/hapticdef/internal/analysis"
	"github.com/hapticdef/hapticdef/internal/playback"
	"github.com/hapticdef/hapticdef/internal/schedule"
	"github.com/hapticdef/hapticdef/internal/validate"
)

const (
	maxMessageBytes = 1 << 20
	idleTimeout     = 5 * time.Minute
	writeWait       = 5 * time.Second
)

// AnalysisSource loads stored analyses so a page can arm by ID.
type AnalysisSource interface {
	Get(ctx context.Context, id string) (*analysis.Analysis, error)
}

// inbound is a message from the player page.
type inbound struct {
	Type       string               `json:"type"`
	Time       *float64             `json:"time,omitempty"`
	AnalysisID string               `json:"analysisId,omitempty"`
	Records    []schedule.RawRecord `json:"records,omitempty"`
}

// outbound is a message to the player page.
type outbound struct {
	Type     string                  `json:"type"`
	Events   *int                    `json:"events,omitempty"`
	Warnings []schedule.ParseWarning `json:"warnings,omitempty"`
	Cue      string                  `json:"cue,omitempty"`
	Offset   *float64                `json:"offset,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Stats    *playback.Stats         `json:"stats,omitempty"`
}

type Handler struct {
	sink     playback.Sink
	source   AnalysisSource
	clock    playback.Clock
	upgrader websocket.Upgrader
}

func NewHandler(sink playback.Sink, source AnalysisSource, clock playback.Clock) *Handler {
	return &Handler{
		sink:   sink,
		source: source,
		clock:  clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP runs one playback session for the lifetime of the socket. Every
// message is handled on this goroutine, so the engine sees samples strictly
// in order and disarming on close is immediate.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("player: websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	s := &session{
		id:     uuid.NewString(),
		conn:   conn,
		engine: playback.NewEngine(h.clock, h.sink),
		source: h.source,
	}
	ua := useragent.New(r.UserAgent())
	browser, version := ua.Browser()
	slog.Info("player: session opened", "session_id", s.id, "browser", browser, "browser_version", version, "os", ua.OS())

	s.run(r.Context())

	s.engine.Disarm()
	st := s.engine.Stats()
	slog.Info("player: session closed", "session_id", s.id, "fired", st.Fired, "dropped", st.Dropped, "seeks", st.Seeks)
}

type session struct {
	id     string
	conn   *websocket.Conn
	engine *playback.Engine
	source AnalysisSource
}

func (s *session) run(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageBytes)
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("player: read failed", "session_id", s.id, "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			s.write(outbound{Type: "error", Error: "invalid message"})
			continue
		}
		if err := s.handle(ctx, msg); err != nil {
			s.write(outbound{Type: "error", Error: err.Error()})
		}
	}
}

func (s *session) handle(ctx context.Context, msg inbound) error {
	switch msg.Type {
	case "arm":
		return s.arm(ctx, msg)
	case "tick":
		if msg.Time == nil || *msg.Time < 0 {
			return errors.New("tick requires a non-negative time")
		}
		for _, ev := range s.engine.OnTick(*msg.Time) {
			offset := ev.Offset
			s.write(outbound{Type: "fired", Cue: ev.WireMessage(), Offset: &offset})
		}
		return nil
	case "disarm":
		s.engine.Disarm()
		st := s.engine.Stats()
		s.write(outbound{Type: "disarmed", Stats: &st})
		return nil
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (s *session) arm(ctx context.Context, msg inbound) error {
	records := msg.Records
	if msg.AnalysisID != "" {
		if s.source == nil {
			return errors.New("stored analyses are not available")
		}
		a, err := s.source.Get(ctx, msg.AnalysisID)
		if err != nil {
			slog.Warn("player: failed to load analysis", "session_id", s.id, "analysis_id", msg.AnalysisID, "error", err)
			return errors.New("analysis not found")
		}
		if a.Status != analysis.StatusReady {
			return fmt.Errorf("analysis is %s", a.Status)
		}
		records = a.Records
	}

	if msg := validate.Records(len(records)); msg != "" {
		return errors.New(msg)
	}
	sched, warnings, err := schedule.Parse(records)
	if err != nil && !errors.Is(err, schedule.ErrEmptySchedule) {
		return err
	}
	s.engine.Arm(sched)
	slog.Info("player: armed", "session_id", s.id, "events", sched.Len(), "warnings", len(warnings))
	events := sched.Len()
	s.write(outbound{Type: "armed", Events: &events, Warnings: warnings})
	return nil
}

func (s *session) write(msg outbound) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(msg); err != nil {
		slog.Debug("player: write failed", "session_id", s.id, "error", err)
	}
}
