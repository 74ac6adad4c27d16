package httpapi

import (
	"net/http"
)

// NewRouter registers HTTP routes and returns the handler with middleware.
func NewRouter(app *App) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/sympla", app.webhookHandler)
	mux.HandleFunc("/sync/run", app.syncRunHandler)
	mux.HandleFunc("/sync/reset", app.syncResetHandler)
	mux.HandleFunc("/health", app.healthHandler)
	return WithRequestID(WithLogging(mux))
}
