package telnyx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"fax/internal/domain"
)

const DefaultBaseURL = "https://api.telnyx.com"

type Client struct {
	APIKey       string
	ConnectionID string
	FromNumber   string
	BaseURL      string
	HTTP         *http.Client

	// RequireHTTPSMedia rejects media URLs the live API cannot fetch.
	RequireHTTPSMedia bool
}

type sendRequest struct {
	ConnectionID string `json:"connection_id"`
	MediaURL     string `json:"media_url"`
	From         string `json:"from"`
	To           string `json:"to"`
	Quality      string `json:"quality"`
}

type faxResponse struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Result string `json:"result"`
	} `json:"data"`
}

// Configured reports whether enough credentials are present for live calls.
func (c *Client) Configured() bool {
	return c.APIKey != "" && c.ConnectionID != "" && c.FromNumber != ""
}

func (c *Client) SendFax(ctx context.Context, destination, mediaURL string) (domain.SendResult, error) {
	if c.RequireHTTPSMedia && !strings.HasPrefix(mediaURL, "https://") {
		return domain.SendResult{}, &domain.ProviderError{Op: "send", Err: errors.New("live mode requires an HTTPS media URL")}
	}

	body, err := json.Marshal(sendRequest{
		ConnectionID: c.ConnectionID,
		MediaURL:     mediaURL,
		From:         c.FromNumber,
		To:           destination,
		Quality:      "high",
	})
	if err != nil {
		return domain.SendResult{}, &domain.ProviderError{Op: "send", Err: err}
	}

	out, err := c.do(ctx, "send", c.baseURL()+"/v2/faxes", body)
	if err != nil {
		return domain.SendResult{}, err
	}
	if out.Data.ID == "" {
		return domain.SendResult{}, &domain.ProviderError{Op: "send", Err: errors.New("response missing fax id")}
	}
	status := out.Data.Status
	if status == "" {
		status = "queued"
	}
	return domain.SendResult{ProviderJobID: out.Data.ID, ProviderStatus: status}, nil
}

// CancelFax asks the provider to stop an in-flight fax and returns the
// provider's cancel status.
func (c *Client) CancelFax(ctx context.Context, providerJobID string) (string, error) {
	if providerJobID == "" {
		return "", &domain.ProviderError{Op: "cancel", Err: errors.New("missing provider fax id")}
	}
	out, err := c.do(ctx, "cancel", c.baseURL()+"/v2/faxes/"+providerJobID+"/actions/cancel", nil)
	if err != nil {
		return "", err
	}
	result := strings.ToLower(strings.TrimSpace(out.Data.Result))
	if result == "" || result == "ok" {
		return "cancel_requested", nil
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, op, endpoint string, body []byte) (faxResponse, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, rdr)
	if err != nil {
		return faxResponse{}, &domain.ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return faxResponse{}, &domain.ProviderError{Op: op, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return faxResponse{}, &domain.ProviderError{Op: op, HTTPStatus: resp.StatusCode, Err: errors.New(truncate(string(b), 200))}
	}

	var out faxResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return faxResponse{}, &domain.ProviderError{Op: op, HTTPStatus: resp.StatusCode, Err: errors.New("response was not valid JSON")}
	}
	return out, nil
}

func (c *Client) baseURL() string {
	u := strings.TrimRight(c.BaseURL, "/")
	if u == "" {
		return DefaultBaseURL
	}
	return u
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
