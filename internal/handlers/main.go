package handlers

import (
	"context"
	"errors"
	"html/template"
	"iter"
	"log/slog"
	"time"

	medigem "github.com/MegaGrindStone/medigem-relay"
	"github.com/MegaGrindStone/medigem-relay/internal/models"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// LLM represents a large language model that provides streaming chat completions. It accepts a context
// and the complete upstream conversation, returning an iterator that yields one delta per upstream unit,
// in arrival order, and potential errors. A unit without text yields an empty string. Cancellation of
// ctx must tear down the upstream call and end the iteration without an error.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error]
}

// Main serves the chat relay: it injects the fixed system instruction into every conversation, relays
// the upstream stream to the caller frame by frame, and serves the browser chat page.
type Main struct {
	llm          LLM
	systemPrompt string
	idleTimeout  time.Duration

	templates *template.Template
	markdown  goldmark.Markdown

	// shutdownCtx is canceled by Shutdown to tear down every in-flight stream.
	shutdownCtx context.Context
	shutdown    context.CancelCauseFunc

	logger *slog.Logger
}

// Option configures optional behavior of Main.
type Option func(*Main)

const (
	// DefaultIdleTimeout bounds how long the relay waits for the next upstream unit.
	DefaultIdleTimeout = 60 * time.Second

	errLoggerKey = "err"
)

var errShuttingDown = errors.New("relay shutting down")

// WithIdleTimeout overrides DefaultIdleTimeout. A non-positive duration disables the idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Main) {
		m.idleTimeout = d
	}
}

// NewMain creates a new Main relaying to llm. The systemPrompt is prepended to every upstream
// conversation; it is never caller controlled and never echoed on the wire.
func NewMain(llm LLM, systemPrompt string, logger *slog.Logger, opts ...Option) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		medigem.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	shutdownCtx, shutdown := context.WithCancelCause(context.Background())

	m := Main{
		llm:          llm,
		systemPrompt: systemPrompt,
		idleTimeout:  DefaultIdleTimeout,
		templates:    tmpl,
		markdown: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(highlighting.WithStyle("monokai")),
			),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		shutdownCtx: shutdownCtx,
		shutdown:    shutdown,
		logger:      logger.With(slog.String("module", "main")),
	}
	for _, opt := range opts {
		opt(&m)
	}

	return m, nil
}

// Shutdown cancels every in-flight stream, which aborts the corresponding client connections, so an
// http.Server shutdown is not held up by long-lived responses.
func (m Main) Shutdown(context.Context) error {
	m.shutdown(errShuttingDown)
	return nil
}
