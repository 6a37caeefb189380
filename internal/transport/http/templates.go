package http

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/brokergate/brokergate/internal/observability/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// consentData feeds the consent form; every field round-trips through
// hidden inputs to /authorize/login.
type consentData struct {
	ClientName          string
	ClientID            string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string
	Scope               string
}

type setupData struct {
	SchwabEnabled bool
}

type messageData struct {
	Title   string
	Message string
	Success bool
}

func renderHTML(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("failed to render template", logger.Error(err), "template", name)
	}
}

func renderMessage(w http.ResponseWriter, status int, title, message string, success bool) {
	renderHTML(w, status, "message.html", messageData{Title: title, Message: message, Success: success})
}
