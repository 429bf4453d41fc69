package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

type renderRequest struct {
	Content string `json:"content"`
}

type renderResponse struct {
	HTML string `json:"html"`
}

const maxRenderBody = 1 << 20

// HandleRender converts the markdown of a finished assistant message to HTML. The browser swaps the
// plain streamed text for the rendered version once a turn completes. Raw HTML in the input is not
// passed through.
func (m Main) HandleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req renderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRenderBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Content is required")
		return
	}

	var sb strings.Builder
	if err := m.markdown.Convert([]byte(req.Content), &sb); err != nil {
		m.logger.Error("Failed to render markdown", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to render content")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(renderResponse{HTML: sb.String()})
}
