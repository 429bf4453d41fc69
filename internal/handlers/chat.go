package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/medigem-relay/internal/models"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

type chatRequest struct {
	Messages json.RawMessage `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const upstreamFailureMessage = "Failed to get response from AI"

// HandleChat relays one chat turn. It expects a JSON body {"messages": [{role, content}, ...]} holding
// the caller's complete conversation, prepends the system instruction and streams the upstream reply
// back as server-sent events, one `data: {"content": "..."}` frame per upstream unit, flushed as soon
// as it arrives. The stream ends when the upstream stream ends; no terminal frame is sent.
//
// A missing or malformed conversation is rejected with 400 and an upstream failure before the first
// frame with 500, both with a JSON {"error": "..."} body. Once streaming has begun there is no way to
// report an error in-band, so an upstream failure or an idle upstream aborts the connection and the
// caller sees an unexpectedly closed stream.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	logger := m.logger.With(slog.String("requestID", requestID))
	w.Header().Set("X-Request-ID", requestID)

	if r.Method != http.MethodPost {
		logger.Error("Method not allowed", slog.String("method", r.Method))
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("Failed to decode request", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusBadRequest, models.MessagesRequired)
		return
	}

	history, err := models.DecodeHistory(req.Messages)
	if err != nil {
		reason := models.MessagesRequired
		var reqErr *models.RequestError
		if errors.As(err, &reqErr) {
			reason = reqErr.Reason
		}
		logger.Error("Invalid chat request", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusBadRequest, reason)
		return
	}

	messages := m.upstreamMessages(history)

	// The upstream call lives as long as the caller's connection, unless the relay shuts down or the
	// upstream goes silent for longer than the idle timeout.
	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)
	stopAfterShutdown := context.AfterFunc(m.shutdownCtx, func() {
		cancel(context.Cause(m.shutdownCtx))
	})
	defer stopAfterShutdown()

	idle := m.startIdleTimer(cancel)
	defer idle.stop()

	logger.Info("Relaying chat", slog.Int("messages", len(history)))

	next, stop := iter.Pull2(m.llm.Chat(ctx, messages))
	defer stop()

	delta, err, ok := next()
	if err == nil && !ok {
		err = interruption(ctx)
	}
	if err != nil {
		if r.Context().Err() != nil {
			logger.Info("Client went away before the first frame")
			return
		}
		logger.Error("Upstream failed before streaming", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, upstreamFailureMessage)
		return
	}

	setStreamHeaders(w)
	if !ok {
		// A clean upstream end with no units still gets an (empty) event stream.
		w.WriteHeader(http.StatusOK)
		logger.Info("Stream completed", slog.Int("frames", 0))
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		logger.Error("Failed to upgrade to event stream", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, upstreamFailureMessage)
		return
	}

	frames := 0
	for {
		if err := writeFrame(sess, delta); err != nil {
			logger.Warn("Failed to write frame, dropping stream",
				slog.Int("frames", frames),
				slog.String(errLoggerKey, err.Error()))
			return
		}
		frames++

		delta, err, ok = next()
		if err == nil && !ok {
			err = interruption(ctx)
		}
		if err != nil {
			if r.Context().Err() != nil {
				logger.Info("Client went away mid-stream", slog.Int("frames", frames))
				return
			}
			logger.Error("Upstream failed mid-stream, aborting connection",
				slog.Int("frames", frames),
				slog.String(errLoggerKey, err.Error()))
			abortStream()
		}
		if !ok {
			break
		}
		idle.reset()
	}

	logger.Info("Stream completed", slog.Int("frames", frames))
}

func (m Main) upstreamMessages(history []models.Message) []models.Message {
	messages := make([]models.Message, 0, len(history)+1)
	messages = append(messages, models.Message{
		Role:    models.RoleSystem,
		Content: m.systemPrompt,
	})
	return append(messages, history...)
}

// interruption returns why ctx was canceled, or nil if it is still live. LLM implementations end their
// iteration silently on cancellation, so this is how an idle timeout or a shutdown is told apart from a
// clean end of the upstream stream.
func interruption(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}

// abortStream makes net/http drop the connection without terminating the chunked body, which the
// client observes as an unexpected EOF.
func abortStream() {
	panic(http.ErrAbortHandler)
}

func writeFrame(sess *sse.Session, delta string) error {
	b, err := json.Marshal(models.Fragment{Content: delta})
	if err != nil {
		return fmt.Errorf("failed to marshal fragment: %w", err)
	}

	msg := &sse.Message{}
	msg.AppendData(string(b))
	if err := sess.Send(msg); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	if err := sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush frame: %w", err)
	}
	return nil
}

func setStreamHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

type idleTimer struct {
	timer   *time.Timer
	timeout time.Duration
}

func (m Main) startIdleTimer(cancel context.CancelCauseFunc) idleTimer {
	if m.idleTimeout <= 0 {
		return idleTimer{}
	}
	return idleTimer{
		timer: time.AfterFunc(m.idleTimeout, func() {
			cancel(models.ErrIdleTimeout)
		}),
		timeout: m.idleTimeout,
	}
}

func (t idleTimer) reset() {
	if t.timer != nil {
		t.timer.Reset(t.timeout)
	}
}

func (t idleTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}
