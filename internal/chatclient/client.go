package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/medigem-relay/internal/models"
)

// Client drives chat turns against a relay's chat endpoint and reconstructs the streamed replies.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	idleTimeout time.Duration

	logger *slog.Logger
}

// Option configures optional behavior of Client.
type Option func(*Client)

// Observer is notified while a turn progresses, from the goroutine running SendTurn. Both callbacks
// are optional.
type Observer struct {
	// State is called on every state transition of the turn.
	State func(models.TurnState)
	// Fragment is called for every received fragment with the fragment and the reply so far.
	Fragment func(fragment, content string)
}

// TurnResult describes how a turn ended.
type TurnResult struct {
	State models.TurnState
	// Content is the reply as reconstructed from the received fragments.
	Content string
	// Frames is the number of fragments received, Skipped the number of malformed frames dropped.
	Frames  int
	Skipped int
	// Fallback reports whether FallbackReply was put in place of an empty reply.
	Fallback bool
	// Err is set when State is failed.
	Err error
}

const (
	// FallbackReply is shown in place of the reply when a turn fails before producing any content.
	FallbackReply = "Sorry, I'm having trouble connecting. Please try again later."

	// DefaultIdleTimeout bounds how long the client waits for the next frame.
	DefaultIdleTimeout = 60 * time.Second

	errLoggerKey = "err"
)

// ErrTurnInProgress is returned when a turn is started on a conversation that is already streaming one.
var ErrTurnInProgress = errors.New("a turn is already in progress")

// WithHTTPClient sets the HTTP client used to reach the relay. The client must not set an overall
// timeout, since replies are streamed for as long as the model writes.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithIdleTimeout overrides DefaultIdleTimeout. A non-positive duration disables the idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.idleTimeout = d
	}
}

// New creates a Client for the chat endpoint at endpoint, e.g. http://localhost:3001/api/chat.
func New(endpoint string, logger *slog.Logger, opts ...Option) Client {
	c := Client{
		endpoint:    endpoint,
		httpClient:  &http.Client{},
		idleTimeout: DefaultIdleTimeout,
		logger:      logger.With(slog.String("module", "chatclient")),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

type chatRequest struct {
	Messages []models.Message `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SendTurn appends userText to conv as a user message, sends the whole conversation to the relay and
// streams the reply into conv.
//
// The first fragment appends a new assistant message to conv; every later fragment is appended to that
// message in place, so the reply only ever grows. A clean end of the stream completes the turn; a
// stream that ends without any fragment adds no assistant message. When the request or the stream fails
// the turn fails: content received so far is kept, and if none was received FallbackReply is put in
// place of the reply. Failures are reported in TurnResult.Err.
//
// SendTurn returns an error only when no turn was started: models.ErrEmptyInput for blank text, in
// which case nothing is sent and conv is untouched, or ErrTurnInProgress.
func (c Client) SendTurn(ctx context.Context, conv *Conversation, userText string, obs Observer) (TurnResult, error) {
	if strings.TrimSpace(userText) == "" {
		return TurnResult{State: models.TurnStateIdle}, models.ErrEmptyInput
	}
	if !conv.turn.TryLock() {
		return TurnResult{State: models.TurnStateIdle}, ErrTurnInProgress
	}
	defer conv.turn.Unlock()

	conv.append(models.Message{Role: models.RoleUser, Content: userText})

	t := &turn{conv: conv, obs: obs, state: models.TurnStateIdle, idx: -1}
	t.transition(models.TurnStateRequesting)

	if err := c.stream(ctx, conv.Messages(), t); err != nil {
		c.logger.Warn("Turn failed",
			slog.Int("frames", t.frames),
			slog.String(errLoggerKey, err.Error()))
		t.fail(err)
	} else {
		t.transition(models.TurnStateCompleted)
	}

	return t.result(), nil
}

func (c Client) stream(ctx context.Context, history []models.Message, t *turn) error {
	body, err := json.Marshal(chatRequest{Messages: history})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var idle *time.Timer
	if c.idleTimeout > 0 {
		idle = time.AfterFunc(c.idleTimeout, func() {
			cancel(models.ErrIdleTimeout)
		})
		defer idle.Stop()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(ctx, models.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	for f, err := range Fragments(resp.Body) {
		if errors.Is(err, models.ErrParse) {
			t.skipped++
			c.logger.Warn("Skipping malformed frame", slog.String(errLoggerKey, err.Error()))
			continue
		}
		if err != nil {
			return classify(ctx, models.ErrTransportClosed, err)
		}
		if idle != nil {
			idle.Reset(c.idleTimeout)
		}
		t.add(f.Content)
	}

	// The body may also end early because the context was canceled.
	if ctx.Err() != nil {
		return classify(ctx, models.ErrTransportClosed, ctx.Err())
	}
	return nil
}

func statusError(resp *http.Response) error {
	var e errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)

	kind := models.ErrUpstreamUnavailable
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		kind = models.ErrInvalidRequest
	}
	if e.Error == "" {
		return fmt.Errorf("%w: status %d", kind, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d: %s", kind, resp.StatusCode, e.Error)
}

// classify maps a transport error to the turn failure it represents. Errors caused by ctx are reported
// as the cancellation cause, anything else as kind.
func classify(ctx context.Context, kind, err error) error {
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); errors.Is(cause, models.ErrIdleTimeout) {
			return cause
		}
		return ctx.Err()
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// turn is the consumer side state of one turn: the in-progress assistant message and its progress.
type turn struct {
	conv *Conversation
	obs  Observer

	state models.TurnState
	// idx is the position of the in-progress assistant message in conv, or -1 before the first fragment.
	idx     int
	content strings.Builder

	frames   int
	skipped  int
	fallback bool
	err      error
}

func (t *turn) transition(s models.TurnState) {
	if t.state.Terminal() {
		return
	}
	t.state = s
	if t.obs.State != nil {
		t.obs.State(s)
	}
}

func (t *turn) add(fragment string) {
	t.frames++
	t.content.WriteString(fragment)

	if t.idx < 0 {
		t.idx = t.conv.append(models.Message{Role: models.RoleAssistant, Content: fragment})
		t.transition(models.TurnStateStreaming)
	} else {
		t.conv.extend(t.idx, fragment)
	}

	if t.obs.Fragment != nil {
		t.obs.Fragment(fragment, t.content.String())
	}
}

func (t *turn) fail(err error) {
	t.err = err
	if t.content.Len() == 0 {
		t.fallback = true
		if t.idx < 0 {
			t.idx = t.conv.append(models.Message{Role: models.RoleAssistant, Content: FallbackReply})
		} else {
			t.conv.extend(t.idx, FallbackReply)
		}
	}
	t.transition(models.TurnStateFailed)
}

func (t *turn) result() TurnResult {
	return TurnResult{
		State:    t.state,
		Content:  t.content.String(),
		Frames:   t.frames,
		Skipped:  t.skipped,
		Fallback: t.fallback,
		Err:      t.err,
	}
}
