package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultResendBaseURL = "https://api.resend.com"

type Resend struct {
	APIKey  string
	From    string
	BaseURL string
	HTTP    *http.Client
}

type resendEmail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func (r *Resend) Name() string { return "resend" }

func (r *Resend) Send(ctx context.Context, to, subject, body string) error {
	if strings.TrimSpace(r.From) == "" {
		return errors.New("resend: missing from address")
	}
	payload, err := json.Marshal(resendEmail{From: r.From, To: []string{to}, Subject: subject, Text: body})
	if err != nil {
		return err
	}

	base := strings.TrimRight(r.BaseURL, "/")
	if base == "" {
		base = DefaultResendBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/emails", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := r.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("resend: status %d: %s", resp.StatusCode, raw)
	}
	return nil
}
