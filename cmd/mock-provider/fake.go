package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	mrand "math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"fax/internal/providers/telnyx"
)

type apiError struct {
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

type sendRequest struct {
	ConnectionID string `json:"connection_id"`
	MediaURL     string `json:"media_url"`
	From         string `json:"from"`
	To           string `json:"to"`
}

type faxData struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
	To     string `json:"to,omitempty"`
	From   string `json:"from,omitempty"`
	Result string `json:"result,omitempty"`
}

// outcome is what the fake does with one send.
type outcome struct {
	httpStatus    int
	err           *apiError
	timeout       bool
	finalStatus   string
	failureReason string
}

type fake struct {
	cfg    config
	priv   ed25519.PrivateKey
	client *http.Client
	idx    atomic.Uint64
	sleep  func(ctx context.Context, d time.Duration) bool

	mu    sync.Mutex
	faxes map[string]string // id -> status
}

func newFake(cfg config, priv ed25519.PrivateKey) *fake {
	return &fake{
		cfg:    cfg,
		priv:   priv,
		client: &http.Client{Timeout: 5 * time.Second},
		sleep:  sleepCtx,
		faxes:  map[string]string{},
	}
}

func (f *fake) Register(r *mux.Router) {
	r.HandleFunc("/v2/faxes", f.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/v2/faxes/{id}/actions/cancel", f.handleCancel).Methods(http.MethodPost)
}

func (f *fake) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+f.cfg.APIKey
}

func (f *fake) handleSend(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		writeErrors(w, http.StatusUnauthorized, apiError{Code: "10009", Title: "Authentication failed"})
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrors(w, http.StatusBadRequest, apiError{Code: "10015", Title: "Invalid JSON"})
		return
	}
	if req.To == "" || req.MediaURL == "" || req.From == "" || req.ConnectionID == "" {
		writeErrors(w, http.StatusUnprocessableEntity, apiError{Code: "10032", Title: "Missing required parameter"})
		return
	}

	out := classifyOutcome(f.nextOutcome())
	if out.timeout {
		f.sleep(r.Context(), f.cfg.TimeoutDelay)
		writeErrors(w, http.StatusGatewayTimeout, apiError{Code: "90001", Title: "Request timed out"})
		return
	}
	if out.err != nil {
		writeErrors(w, out.httpStatus, *out.err)
		return
	}

	id := uuid.NewString()
	f.setStatus(id, "queued")
	writeJSON(w, http.StatusAccepted, map[string]faxData{"data": {ID: id, Status: "queued", To: req.To, From: req.From}})

	if f.cfg.WebhookURL != "" {
		go f.replay(context.Background(), id, out)
	}
}

func (f *fake) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		writeErrors(w, http.StatusUnauthorized, apiError{Code: "10009", Title: "Authentication failed"})
		return
	}
	id := mux.Vars(r)["id"]
	f.mu.Lock()
	status, ok := f.faxes[id]
	if ok && !isFinal(status) {
		f.faxes[id] = "canceled"
	}
	f.mu.Unlock()

	switch {
	case !ok:
		writeErrors(w, http.StatusNotFound, apiError{Code: "10005", Title: "Resource not found"})
	case isFinal(status):
		writeErrors(w, http.StatusUnprocessableEntity, apiError{Code: "90018", Title: "Fax is not in progress", Detail: status})
	default:
		writeJSON(w, http.StatusOK, map[string]faxData{"data": {Result: "ok"}})
	}
}

// replay posts the progress webhooks and the final one. A cancel stops it.
func (f *fake) replay(ctx context.Context, id string, out outcome) {
	stages := []string{"queued", "media.processed"}
	if out.finalStatus == "delivered" {
		stages = append(stages, "sending.started")
	}
	for _, stage := range stages {
		if !f.sleep(ctx, f.cfg.StageDelay) || f.canceled(id) {
			return
		}
		f.setStatus(id, stage)
		_ = f.postEvent(ctx, id, stage, "")
	}
	if !f.sleep(ctx, f.cfg.FinalDelay) || f.canceled(id) {
		return
	}
	f.setStatus(id, out.finalStatus)
	_ = f.postEvent(ctx, id, out.finalStatus, out.failureReason)
}

func (f *fake) postEvent(ctx context.Context, faxID, status, failureReason string) error {
	payload := map[string]any{"fax_id": faxID, "status": status}
	if failureReason != "" {
		payload["failure_reason"] = failureReason
	}
	body, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"id":          uuid.NewString(),
			"event_type":  "fax." + status,
			"record_type": "event",
			"occurred_at": time.Now().UTC().Format(time.RFC3339Nano),
			"payload":     payload,
		},
	})
	if err != nil {
		return err
	}
	return f.postWithRetry(ctx, body)
}

func (f *fake) postWithRetry(ctx context.Context, body []byte) error {
	attempts := f.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		sig, ts := telnyx.Sign(f.priv, body, time.Now())
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(telnyx.HeaderSignature, sig)
		req.Header.Set(telnyx.HeaderTimestamp, ts)

		status, retryAfter := 0, time.Duration(0)
		resp, err := f.client.Do(req)
		if resp != nil {
			status = resp.StatusCode
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			_ = resp.Body.Close()
		}
		if err == nil && status >= 200 && status < 300 {
			return nil
		}
		if err == nil && !isRetryableStatus(status) {
			slog.Error("mock webhook post non-retryable", "attempt", attempt+1, "status", status)
			return fmt.Errorf("webhook post non-retryable: status=%d", status)
		}
		if attempt == attempts-1 {
			slog.Error("mock webhook post failed", "attempt", attempt+1, "status", status, "err", err)
			return fmt.Errorf("webhook post failed after %d attempts: status=%d", attempts, status)
		}

		wait := retryAfter
		if wait <= 0 {
			wait = f.backoff(attempt)
		}
		slog.Warn("mock webhook post retrying", "attempt", attempt+1, "status", status, "wait_ms", wait.Milliseconds())
		if !f.sleep(ctx, wait) {
			return ctx.Err()
		}
	}
	return nil
}

// backoff is base*2^attempt capped at RetryMax, then jittered.
func (f *fake) backoff(attempt int) time.Duration {
	wait := f.cfg.RetryMax
	if attempt < 30 {
		if d := f.cfg.RetryBase << attempt; d < wait {
			wait = d
		}
	}
	return jitter(wait, f.cfg.RetryJitterPct)
}

func (f *fake) nextOutcome() string {
	switch f.cfg.OutcomeMode {
	case "round_robin":
		i := f.idx.Add(1) - 1
		return f.cfg.Outcomes[int(i%uint64(len(f.cfg.Outcomes)))]
	case "random":
		return f.cfg.Outcomes[mrand.IntN(len(f.cfg.Outcomes))]
	case "weighted":
		if mrand.Float64() <= f.cfg.SuccessRate {
			return "ok"
		}
		return pickWeighted(mrand.Float64(), f.cfg.FailureWeights)
	default:
		return f.cfg.Outcomes[0]
	}
}

func (f *fake) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.faxes[id] != "canceled" {
		f.faxes[id] = status
	}
}

func (f *fake) canceled(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.faxes[id] == "canceled"
}

func isFinal(status string) bool {
	return status == "delivered" || status == "failed" || status == "canceled"
}

// classifyOutcome reads tokens like "ok", "failed:user_busy" or "rate_limit".
func classifyOutcome(raw string) outcome {
	kind, detail, _ := strings.Cut(strings.TrimSpace(raw), ":")
	switch kind {
	case "", "ok", "success", "delivered":
		return outcome{finalStatus: "delivered"}
	case "failed":
		if detail == "" {
			detail = "receiver_call_dropped"
		}
		return outcome{finalStatus: "failed", failureReason: detail}
	case "rate_limit", "429":
		return outcome{httpStatus: http.StatusTooManyRequests, err: &apiError{Code: "10011", Title: "Too many requests"}}
	case "bad_request", "422":
		return outcome{httpStatus: http.StatusUnprocessableEntity, err: &apiError{Code: "10016", Title: "Invalid phone number"}}
	case "server_error", "500":
		return outcome{httpStatus: http.StatusInternalServerError, err: &apiError{Code: "10007", Title: "Unexpected error"}}
	case "timeout":
		return outcome{timeout: true}
	default:
		return outcome{httpStatus: http.StatusInternalServerError, err: &apiError{Code: "10007", Title: "mock error: " + kind}}
	}
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// sleepCtx reports false when ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func writeErrors(w http.ResponseWriter, status int, errs ...apiError) {
	writeJSON(w, status, map[string][]apiError{"errors": errs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
