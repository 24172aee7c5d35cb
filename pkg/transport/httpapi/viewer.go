package httpapi

import (
	_ "embed"
	"html/template"
	"net/http"
)

//go:embed viewer.html
var viewerSource string

var viewerTemplate = template.Must(template.New("viewer").Parse(viewerSource))

type viewerPage struct {
	Title       string
	Endpoint    string
	ClearPath   string
	NewestFirst bool
	IntervalMs  int64
}

var (
	viewerDurable = viewerPage{
		Title:     "Device logs",
		Endpoint:  "/get_logs",
		ClearPath: "/clear_server_logs",
	}
	viewerDisplay = viewerPage{
		Title:       "Device logs (live)",
		Endpoint:    "/get_display_logs",
		ClearPath:   "/clear_display_logs",
		NewestFirst: true,
	}
)

func (a *API) handleViewer(page viewerPage) http.HandlerFunc {
	page.IntervalMs = a.poll.Milliseconds()
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := viewerTemplate.Execute(w, page); err != nil {
			a.logger.Error("render viewer", "err", err)
		}
	}
}
