package handlers

import (
	"log/slog"
	"net/http"
)

type homePageData struct {
	Title   string
	Welcome []welcomeLine
}

type welcomeLine struct {
	Text  string
	Muted bool
}

// HandleHome renders the browser chat page. The page keeps the conversation in memory and talks to
// HandleChat; nothing about the conversation is stored server side.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := homePageData{
		Title: "AI Medical Assistant",
		Welcome: []welcomeLine{
			{Text: "Welcome to MEDI-GEM AI Chat."},
			{Text: "You can start by describing your symptoms.", Muted: true},
		},
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
