package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/inkflow-ai/inkflow/core"
	"github.com/inkflow-ai/inkflow/engine"
	"github.com/inkflow-ai/inkflow/logging"
)

// Backlog state headers attached to busy responses.
const (
	HeaderBacklogPending = "X-Backlog-Pending"
	HeaderBacklogLimit   = "X-Backlog-Limit"
)

// DefaultHeartbeat is the interval between SSE comment frames keeping
// idle connections alive through proxies.
const DefaultHeartbeat = 15 * time.Second

// RunRequest is the wire form of a stream-run call.
type RunRequest struct {
	Objective     string         `json:"objective"`
	Mode          string         `json:"mode,omitempty"`
	ThreadID      string         `json:"threadId,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Facets        map[string]any `json:"facets,omitempty"`
}

// HandlerOptions tunes the stream handler.
type HandlerOptions struct {
	// Heartbeat is the comment-frame interval. Defaults to
	// DefaultHeartbeat; negative disables heartbeats.
	Heartbeat time.Duration
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Handler serves run event streams over SSE, gated by a Backlog. Events
// are framed in emission order with a strictly increasing per-stream
// sequence starting at 1; nothing is replayed after a disconnect.
type Handler struct {
	engine    *engine.Engine
	backlog   *Backlog
	heartbeat time.Duration
	logger    logging.Logger
}

// NewHandler constructs a stream handler over an engine and a backlog.
func NewHandler(e *engine.Engine, b *Backlog, optFns ...func(o *HandlerOptions)) *Handler {
	opts := HandlerOptions{Heartbeat: DefaultHeartbeat, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Handler{engine: e, backlog: b, heartbeat: opts.Heartbeat, logger: opts.Logger}
}

// Register mounts the stream routes on an echo group.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/runs/stream", h.StreamRun)
	g.GET("/backlog", h.BacklogQuery)
}

// BacklogQuery answers the synchronous admission snapshot: whether a
// stream opened now would be admitted, and the counts behind the answer.
func (h *Handler) BacklogQuery(c echo.Context) error {
	pending, limit := h.backlog.Snapshot()
	return c.JSON(http.StatusOK, map[string]any{
		"pending": pending,
		"limit":   limit,
		"full":    pending >= limit,
	})
}

// StreamRun admits, starts and streams one run. Admission is the very
// first thing that happens: a busy backlog turns into a 503 with
// Retry-After before the request body is even read.
func (h *Handler) StreamRun(c echo.Context) error {
	release, err := h.backlog.Admit()
	if err != nil {
		var busy *ErrBusy
		if errors.As(err, &busy) {
			return h.busyResponse(c, busy)
		}
		return err
	}
	defer release()

	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "malformed request body"})
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return fmt.Errorf("stream: response writer does not support flushing")
	}

	ctx := c.Request().Context()
	events := make(chan core.Event, 64)

	go func() {
		defer close(events)
		result, rerr := h.engine.Run(ctx, engine.Request{
			Objective:     req.Objective,
			Mode:          req.Mode,
			ThreadID:      req.ThreadID,
			CorrelationID: req.CorrelationID,
			Facets:        req.Facets,
		}, func(ev core.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
		if rerr != nil {
			h.logger.Error("run ended with error", "run_id", result.RunID, "error", rerr)
		} else {
			h.logger.Info("run ended", "run_id", result.RunID, "outcome", string(result.Outcome))
		}
	}()

	var heartbeat <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	var seq int64
	for {
		select {
		case ev, open := <-events:
			if !open {
				return nil
			}
			seq++
			ev.Seq = seq
			if werr := writeFrame(resp.Writer, ev); werr != nil {
				// Client gone; remaining events are dropped, never replayed.
				drain(events)
				return nil
			}
			flusher.Flush()
		case <-heartbeat:
			if _, werr := fmt.Fprint(resp.Writer, ": heartbeat\n\n"); werr != nil {
				drain(events)
				return nil
			}
			flusher.Flush()
		case <-ctx.Done():
			drain(events)
			return nil
		}
	}
}

// drain consumes leftover events so the run goroutine can finish; it
// returns once the run closes the channel.
func drain(events <-chan core.Event) {
	for range events {
	}
}

func (h *Handler) busyResponse(c echo.Context, busy *ErrBusy) error {
	header := c.Response().Header()
	header.Set("Retry-After", strconv.Itoa(int(busy.RetryAfter.Seconds())))
	header.Set(HeaderBacklogPending, strconv.Itoa(busy.Pending))
	header.Set(HeaderBacklogLimit, strconv.Itoa(busy.Limit))
	return c.JSON(http.StatusServiceUnavailable, map[string]any{
		"error":   "backlog full",
		"pending": busy.Pending,
		"limit":   busy.Limit,
	})
}

// writeFrame encodes one event as an SSE frame: the event type, the
// sequence as the SSE id, and the JSON body.
func writeFrame(w http.ResponseWriter, ev core.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("stream: encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", ev.Type, ev.Seq, body)
	return err
}
