package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/ledger"
	"github.com/shopspring/decimal"
)

// HTTPConfig points at a CoinGecko-compatible simple/price endpoint.
type HTTPConfig struct {
	BaseURL        string
	APIKey         string
	VsCurrency     string
	CoinIDs        map[ledger.Symbol]string
	AttemptTimeout time.Duration
	MaxAttempts    int
}

func DefaultCoinIDs() map[ledger.Symbol]string {
	return map[ledger.Symbol]string{
		"BTC":  "bitcoin",
		"ETH":  "ethereum",
		"SOL":  "solana",
		"BNB":  "binancecoin",
		"XRP":  "ripple",
		"ADA":  "cardano",
		"DOGE": "dogecoin",
		"DOT":  "polkadot",
		"LTC":  "litecoin",
		"USDT": "tether",
		"USDC": "usd-coin",
	}
}

type HTTPOracle struct {
	cfg     HTTPConfig
	client  *http.Client
	logger  *slog.Logger
	metrics *Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("oracle responded %d", e.code)
}

func NewHTTP(cfg HTTPConfig, client *http.Client, logger *slog.Logger, metrics *Metrics) (*HTTPOracle, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("oracle base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.VsCurrency == "" {
		cfg.VsCurrency = "usd"
	}
	if len(cfg.CoinIDs) == 0 {
		cfg.CoinIDs = DefaultCoinIDs()
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 750 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPOracle{
		cfg:     cfg,
		client:  client,
		logger:  logger,
		metrics: metrics,
		sleep:   sleepContext,
	}, nil
}

func (o *HTTPOracle) Price(ctx context.Context, sym ledger.Symbol) (decimal.Decimal, error) {
	coinID, ok := o.cfg.CoinIDs[sym]
	if !ok {
		o.metrics.IncFailure("unknown_symbol")
		return decimal.Zero, fmt.Errorf("%w: unsupported symbol %s", ledger.ErrPriceUnavailable, sym)
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		start := time.Now()
		price, err := o.fetch(attemptCtx, coinID)
		cancel()
		if err == nil {
			o.metrics.ObserveCall("success", time.Since(start))
			return price, nil
		}

		lastErr = err
		o.metrics.ObserveCall("error", time.Since(start))
		retriable, reason := isRetriable(ctx, err)
		if !retriable {
			o.metrics.IncFailure(reason)
			return decimal.Zero, fmt.Errorf("%w: %s: %v", ledger.ErrPriceUnavailable, sym, err)
		}
		if attempt < o.cfg.MaxAttempts {
			o.metrics.IncRetry()
			o.logger.Warn("price lookup retry", "symbol", sym, "attempt", attempt, "error", err)
			if err := o.sleep(ctx, backoffDuration(attempt)); err != nil {
				lastErr = err
				break
			}
		}
	}

	o.metrics.IncFailure("exhausted")
	return decimal.Zero, fmt.Errorf("%w: %s: %v", ledger.ErrPriceUnavailable, sym, lastErr)
}

func (o *HTTPOracle) fetch(ctx context.Context, coinID string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", coinID)
	q.Set("vs_currencies", o.cfg.VsCurrency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.BaseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")
	if o.cfg.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", o.cfg.APIKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return decimal.Zero, &statusError{code: resp.StatusCode}
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	dec.UseNumber()
	var body map[string]map[string]json.Number
	if err := dec.Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode price response: %w", err)
	}
	raw, ok := body[coinID][o.cfg.VsCurrency]
	if !ok {
		return decimal.Zero, fmt.Errorf("price for %s missing from response", coinID)
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price: %w", err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s for %s", price, coinID)
	}
	return price, nil
}

// isRetriable treats per-attempt timeouts, transport errors, 429 and 5xx as
// transient. A done parent context is final.
func isRetriable(parent context.Context, err error) (bool, string) {
	if parent.Err() != nil {
		return false, "canceled"
	}
	var se *statusError
	if errors.As(err, &se) {
		if se.code == http.StatusTooManyRequests || se.code >= 500 {
			return true, "status"
		}
		return false, "status"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true, "network"
	}
	return false, "bad_response"
}

func backoffDuration(attempt int) time.Duration {
	base := 100 * time.Millisecond
	if attempt <= 1 {
		return base
	}
	return base * time.Duration(attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
