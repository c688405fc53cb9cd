// mock-provider is a stand-in for the Telnyx fax API. It accepts sends and
// cancels, then replays a signed webhook sequence to MOCK_WEBHOOK_URL.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	mrand "math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"fax/internal/httpserver"
	"fax/internal/logging"
)

type config struct {
	APIKey      string `envconfig:"TELNYX_API_KEY" default:"mock_key"`
	Port        string `envconfig:"PORT" default:"8090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	OutcomeMode string `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"` // fixed | round_robin | random | weighted
	// comma separated: ok, failed[:reason], rate_limit, bad_request, server_error, timeout
	OutcomesRaw       string        `envconfig:"MOCK_OUTCOMES" default:"ok"`
	SuccessRate       float64       `envconfig:"MOCK_SUCCESS_RATE" default:"0.95"`
	FailureWeightsRaw string        `envconfig:"MOCK_FAILURE_WEIGHTS" default:"failed:1"`
	TimeoutDelay      time.Duration `envconfig:"MOCK_TIMEOUT_DELAY" default:"20s"`

	WebhookURL  string        `envconfig:"MOCK_WEBHOOK_URL"`
	StageDelay  time.Duration `envconfig:"MOCK_WEBHOOK_STAGE_DELAY" default:"300ms"`
	FinalDelay  time.Duration `envconfig:"MOCK_WEBHOOK_FINAL_DELAY" default:"500ms"`
	SigningSeed string        `envconfig:"MOCK_WEBHOOK_SIGNING_SEED"` // hex, 32 bytes

	// Retries happen on transport errors and retryable statuses.
	MaxRetries     int           `envconfig:"MOCK_WEBHOOK_MAX_RETRIES" default:"8"`
	RetryBase      time.Duration `envconfig:"MOCK_WEBHOOK_RETRY_BASE" default:"250ms"`
	RetryMax       time.Duration `envconfig:"MOCK_WEBHOOK_RETRY_MAX" default:"10s"`
	RetryJitterPct int           `envconfig:"MOCK_WEBHOOK_RETRY_JITTER_PCT" default:"20"`

	Outcomes       []string          `ignored:"true"`
	FailureWeights []weightedOutcome `ignored:"true"`
}

func main() {
	cfg := loadConfig()
	logging.Init("mock-provider", cfg.LogFormat)

	priv, err := signingKey(cfg.SigningSeed)
	if err != nil {
		slog.Error("mock provider signing key invalid", "err", err)
		os.Exit(1)
	}
	slog.Info("mock provider webhook key",
		"public_key", base64.StdEncoding.EncodeToString(priv.Public().(ed25519.PublicKey)))

	f := newFake(cfg, priv)
	s := httpserver.New()
	f.Register(s.Mux)

	slog.Info("mock provider listening", "port", cfg.Port)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("mock provider server failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig() config {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock provider config load failed", "err", err)
		os.Exit(1)
	}
	return normalize(cfg)
}

func normalize(cfg config) config {
	cfg.OutcomeMode = strings.ToLower(strings.TrimSpace(cfg.OutcomeMode))
	cfg.Outcomes = parseCSV(cfg.OutcomesRaw)
	cfg.FailureWeights = parseWeightedOutcomes(cfg.FailureWeightsRaw)
	cfg.WebhookURL = strings.TrimSpace(cfg.WebhookURL)
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 250 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 10 * time.Second
	}
	if cfg.RetryJitterPct < 0 {
		cfg.RetryJitterPct = 0
	}
	if len(cfg.FailureWeights) == 0 {
		cfg.FailureWeights = []weightedOutcome{{Kind: "failed", Weight: 1}}
	}
	return cfg
}

// signingKey derives the webhook key from a hex seed, or makes a fresh one.
func signingKey(seedHex string) (ed25519.PrivateKey, error) {
	seedHex = strings.TrimSpace(seedHex)
	if seedHex == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes", ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

type weightedOutcome struct {
	Kind   string
	Weight float64
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"ok"}
	}
	return out
}

func parseWeightedOutcomes(s string) []weightedOutcome {
	var out []weightedOutcome
	for _, p := range strings.Split(s, ",") {
		kind, weight, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok || strings.TrimSpace(kind) == "" {
			continue
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
		if err != nil || w <= 0 {
			continue
		}
		out = append(out, weightedOutcome{Kind: strings.TrimSpace(kind), Weight: w})
	}
	return out
}

func pickWeighted(r float64, items []weightedOutcome) string {
	if len(items) == 0 {
		return "failed"
	}
	var total float64
	for _, it := range items {
		total += it.Weight
	}
	target := r * total
	var cumulative float64
	for _, it := range items {
		cumulative += it.Weight
		if target <= cumulative {
			return it.Kind
		}
	}
	return items[len(items)-1].Kind
}

// jitter spreads d by +/- pct percent.
func jitter(d time.Duration, pct int) time.Duration {
	if pct <= 0 || d <= 0 {
		return d
	}
	if pct > 100 {
		pct = 100
	}
	delta := int64(d) * int64(pct) / 100
	if delta <= 0 {
		return d
	}
	return time.Duration(int64(d) + mrand.Int64N(2*delta+1) - delta)
}
