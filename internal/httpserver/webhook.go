package httpserver

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"fax/internal/observability"
	"fax/internal/ratelimit"
	"fax/internal/webhook"
)

const maxWebhookBody = 1 << 20

type Ingestor interface {
	Ingest(ctx context.Context, rawBody []byte, headers http.Header) (webhook.Result, error)
}

// WebhookAck is the body returned for every webhook the guard did not reject.
type WebhookAck struct {
	OK        bool   `json:"ok"`
	Duplicate bool   `json:"duplicate"`
	Ignored   bool   `json:"ignored"`
	Message   string `json:"message,omitempty"`
}

type Webhook struct {
	Guard             Ingestor
	Limiter           ratelimit.Limiter
	PerIPPerMinute    int
	TrustForwardedFor bool
}

func (wh *Webhook) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/webhooks/telnyx", wh.handleTelnyx).Methods(http.MethodPost)
}

func (wh *Webhook) handleTelnyx(w http.ResponseWriter, r *http.Request) {
	if wh.Limiter != nil && wh.PerIPPerMinute > 0 {
		ip := ClientIP(r, wh.TrustForwardedFor)
		ok, err := wh.Limiter.Allow(r.Context(), "webhook:ip:"+ip, wh.PerIPPerMinute, time.Minute)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !ok {
			observability.RateLimited.WithLabelValues("webhook_ip").Inc()
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: ErrRateLimited})
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "payload too large"})
		return
	}

	res, err := wh.Guard.Ingest(r.Context(), body, r.Header)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WebhookAck{
		OK:        true,
		Duplicate: res.Outcome == webhook.Duplicate,
		Ignored:   res.Outcome == webhook.Ignored,
		Message:   res.Message,
	})
}
