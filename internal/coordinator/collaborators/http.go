package collaborators

// http.go implements the HTTP clients used by the Cycle Coordinator's stage
// orchestration: per-stage timeouts (30s patterns/technical, 10s trading),
// retried twice with exponential backoff (base 500ms, factor 2,
// jitter +/-25%), each call carrying its context deadline through to the
// outbound request so cancellation and timeouts propagate promptly.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/coreerrs"
)

const (
	retryAttempts  = 2
	backoffBase    = 500 * time.Millisecond
	backoffFactor  = 2.0
	backoffJitter  = 0.25
)

// doWithRetry executes req (rebuilt by build on every attempt, since an
// *http.Request body can't be replayed) up to retryAttempts+1 times,
// backing off between attempts. A non-2xx response or transport error is
// retryable; ctx expiry is not.
func doWithRetry(ctx context.Context, client *http.Client, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= retryAttempts; attempt++ {
		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("collaborators: build request: %w", err)
		}

		resp, err := client.Do(req)
		if err == nil && resp.StatusCode < 300 {
			return resp, nil
		}
		if err == nil {
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
			resp.Body.Close()
		} else {
			lastErr = err
		}

		if attempt == retryAttempts {
			break
		}
		select {
		case <-time.After(backoffDelay(attempt)):
		case <-ctx.Done():
			return nil, coreerrs.Wrap(coreerrs.KindDeadlineExceeded, "collaborator call", ctx.Err())
		}
	}
	return nil, coreerrs.Wrap(coreerrs.KindTransientNetwork, "collaborator call exhausted retries", lastErr)
}

func backoffDelay(attempt int) time.Duration {
	d := float64(backoffBase) * pow(backoffFactor, attempt)
	jitter := 1 + (rand.Float64()*2-1)*backoffJitter
	return time.Duration(d * jitter)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// NewsClient reaches the News Collector process (default port 5008).
type NewsClient struct {
	baseURL string
	http    *http.Client
}

func NewNewsClient(baseURL string, timeout time.Duration) *NewsClient {
	return &NewsClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (c *NewsClient) Name() string { return "news_collector" }

func (c *NewsClient) Health(ctx context.Context) error {
	return probeHealth(ctx, c.baseURL+"/health")
}

// Collect calls POST /collect_news.
func (c *NewsClient) Collect(ctx context.Context, mode string) (CollectionReport, error) {
	body, _ := json.Marshal(map[string]string{"mode": mode})
	resp, err := doWithRetry(ctx, c.http, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/collect_news", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return CollectionReport{}, err
	}
	var report CollectionReport
	if err := decodeJSON(resp, &report); err != nil {
		return CollectionReport{}, fmt.Errorf("collaborators.NewsClient.Collect: decode: %w", err)
	}
	return report, nil
}

// UpdateOutcome calls POST /update_outcome.
func (c *NewsClient) UpdateOutcome(ctx context.Context, payload OutcomePayload) error {
	body, _ := json.Marshal(payload)
	resp, err := doWithRetry(ctx, c.http, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/update_outcome", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

// ScannerClient reaches the Catalyst Scanner process (default port 5001).
type ScannerClient struct {
	baseURL string
	http    *http.Client
}

func NewScannerClient(baseURL string, timeout time.Duration) *ScannerClient {
	return &ScannerClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (c *ScannerClient) Name() string { return "scanner" }

func (c *ScannerClient) Health(ctx context.Context) error {
	return probeHealth(ctx, c.baseURL+"/health")
}

// Scan calls GET /scan?mode=.
func (c *ScannerClient) Scan(ctx context.Context, mode string) (ScanResultPayload, error) {
	resp, err := doWithRetry(ctx, c.http, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/scan?mode="+mode, nil)
	})
	if err != nil {
		return ScanResultPayload{}, err
	}
	var result ScanResultPayload
	if err := decodeJSON(resp, &result); err != nil {
		return ScanResultPayload{}, fmt.Errorf("collaborators.ScannerClient.Scan: decode: %w", err)
	}
	return result, nil
}

// PatternClient reaches the external pattern-detection collaborator.
// Its base URL and schema are deployment-specific.
type PatternClient struct {
	baseURL string
	http    *http.Client
}

func NewPatternClient(baseURL string, timeout time.Duration) *PatternClient {
	return &PatternClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (c *PatternClient) Name() string { return "pattern" }

func (c *PatternClient) Health(ctx context.Context) error {
	return probeHealth(ctx, c.baseURL+"/health")
}

// Analyze POSTs a candidate for pattern detection during the Analyze stage.
func (c *PatternClient) Analyze(ctx context.Context, scanID, symbol string) (PatternRecord, error) {
	body, _ := json.Marshal(map[string]string{"scanId": scanID, "symbol": symbol})
	resp, err := doWithRetry(ctx, c.http, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return PatternRecord{}, err
	}
	var rec PatternRecord
	if err := decodeJSON(resp, &rec); err != nil {
		return PatternRecord{}, fmt.Errorf("collaborators.PatternClient.Analyze: decode: %w", err)
	}
	return rec, nil
}

// TechnicalClient reaches the external technical-indicator/signal-fusion
// collaborator.
type TechnicalClient struct {
	baseURL string
	http    *http.Client
}

func NewTechnicalClient(baseURL string, timeout time.Duration) *TechnicalClient {
	return &TechnicalClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (c *TechnicalClient) Name() string { return "technical" }

func (c *TechnicalClient) Health(ctx context.Context) error {
	return probeHealth(ctx, c.baseURL+"/health")
}

// Signal POSTs a pattern record for technical confirmation during the
// Signal stage. Returns nil if the collaborator reports no signal (e.g.
// below its own confidence floor).
func (c *TechnicalClient) Signal(ctx context.Context, pattern PatternRecord) (*SignalRecord, error) {
	body, _ := json.Marshal(pattern)
	resp, err := doWithRetry(ctx, c.http, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/signal", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil, nil
	}
	var rec SignalRecord
	if err := decodeJSON(resp, &rec); err != nil {
		return nil, fmt.Errorf("collaborators.TechnicalClient.Signal: decode: %w", err)
	}
	return &rec, nil
}

// TradingClient reaches the external paper-trading execution service.
type TradingClient struct {
	baseURL string
	http    *http.Client
}

func NewTradingClient(baseURL string, timeout time.Duration) *TradingClient {
	return &TradingClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (c *TradingClient) Name() string { return "trading" }

func (c *TradingClient) Health(ctx context.Context) error {
	return probeHealth(ctx, c.baseURL+"/health")
}

// Execute POSTs a signal for paper-trade placement during the Execute
// stage.
func (c *TradingClient) Execute(ctx context.Context, signal SignalRecord) (tradeID string, err error) {
	body, _ := json.Marshal(signal)
	resp, err := doWithRetry(ctx, c.http, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}
	var out struct {
		TradeID string `json:"tradeId"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", fmt.Errorf("collaborators.TradingClient.Execute: decode: %w", err)
	}
	return out.TradeID, nil
}

// ListClosedSince calls the trading collaborator's closures feed, used by
// the Coordinator's 15-minute outcome-feedback sweep.
func (c *TradingClient) ListClosedSince(ctx context.Context, since time.Time) ([]ClosedTrade, error) {
	url := fmt.Sprintf("%s/closed_trades?since=%s", c.baseURL, since.UTC().Format(time.RFC3339))
	resp, err := doWithRetry(ctx, c.http, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	if err != nil {
		return nil, err
	}
	var out []ClosedTrade
	if err := decodeJSON(resp, &out); err != nil {
		return nil, fmt.Errorf("collaborators.TradingClient.ListClosedSince: decode: %w", err)
	}
	return out, nil
}

func probeHealth(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return coreerrs.Wrap(coreerrs.KindDependencyDown, "health probe", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return coreerrs.New(coreerrs.KindDependencyDown, fmt.Sprintf("health probe returned %d", resp.StatusCode))
	}
	return nil
}
