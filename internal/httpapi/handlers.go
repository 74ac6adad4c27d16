package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/homemade/symphub/internal/obs"
	"github.com/homemade/symphub/sync"
)

// webhookBodyLimit caps accepted webhook bodies at 1 MiB.
const webhookBodyLimit = 1 << 20

// Syncer is the part of the sync orchestrator the HTTP surface needs.
type Syncer interface {
	SyncWebhook(ctx context.Context, body []byte) (sync.SyncSummary, error)
	SyncEvent(ctx context.Context) (sync.SyncSummary, error)
	FullResync(ctx context.Context) (sync.SyncSummary, error)
}

// App wires the HTTP handlers to the sync service. Service is a getter so a
// config reload can swap the orchestrator under a running server.
type App struct {
	WebhookSecret string
	Service       func() Syncer
}

func NewApp(webhookSecret string, service func() Syncer) *App {
	return &App{WebhookSecret: webhookSecret, Service: service}
}

type syncResponse struct {
	Status string `json:"status"`
	sync.SyncSummary
}

func (a *App) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, webhookBodyLimit))
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "failed to read request body", err.Error())
		return
	}

	signature := r.Header.Get("X-Sympla-Signature")
	if err := sync.ValidateWebhookSignature(a.WebhookSecret, body, signature); err != nil {
		obs.Logger.Warn("webhook_invalid_signature", "request_id", RequestIDFromContext(r.Context()))
		WriteJSONError(w, http.StatusUnauthorized, "invalid signature", "")
		return
	}

	summary, err := a.Service().SyncWebhook(r.Context(), body)
	var ignored sync.IgnoredEventTypeError
	switch {
	case errors.As(err, &ignored):
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored", "type": ignored.Type})
	case errors.Is(err, sync.ErrMalformedPayload):
		WriteJSONError(w, http.StatusBadRequest, "malformed payload", err.Error())
	case err != nil:
		obs.Logger.Error("webhook_sync_error", "error", err.Error(), "request_id", RequestIDFromContext(r.Context()))
		WriteJSONError(w, http.StatusInternalServerError, "sync failed", err.Error())
	default:
		WriteJSON(w, http.StatusOK, syncResponse{Status: "ok", SyncSummary: summary})
	}
}

func (a *App) syncRunHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	summary, err := a.Service().SyncEvent(r.Context())
	a.writeRunResponse(w, r, summary, err)
}

func (a *App) syncResetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	summary, err := a.Service().FullResync(r.Context())
	a.writeRunResponse(w, r, summary, err)
}

func (a *App) writeRunResponse(w http.ResponseWriter, r *http.Request, summary sync.SyncSummary, err error) {
	switch {
	case errors.Is(err, sync.ErrSyncRunInProgress):
		WriteJSONError(w, http.StatusConflict, "a sync run is already in progress", "")
	case err != nil:
		obs.Logger.Error("sync_run_error", "error", err.Error(), "request_id", RequestIDFromContext(r.Context()))
		WriteJSONError(w, http.StatusInternalServerError, "sync failed", err.Error())
	default:
		WriteJSON(w, http.StatusOK, syncResponse{Status: "ok", SyncSummary: summary})
	}
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "running"})
}
