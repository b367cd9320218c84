package httpadapter

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

type uploadPage struct {
	Extensions string
	Error      string
}

type resultPage struct {
	JobID string

	Pending        bool
	RefreshSeconds int

	Failed      bool
	ErrorDetail string

	Finished    bool
	DisplayPath string
	ServableURL string
	Degraded    bool
	Embeddable  bool
	Meta        map[string]string
}

type errorPage struct {
	Title   string
	Message string
}

type views struct {
	tmpl *template.Template
}

func newViews() *views {
	return &views{
		tmpl: template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}
}

// render buffers the page so a template failure can still produce a clean 500.
func (v *views) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := v.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("template_render_failed", "template", name, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
