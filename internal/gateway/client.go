package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"mailtrader/internal/domain"
	"mailtrader/internal/util"
)

// Compile-time interface check.
var _ Gateway = (*Client)(nil)

const requestTimeout = 30 * time.Second

// Client implements Gateway against the upstream trade REST API.
//
// Read-only endpoints are retried once on transient failures; the buy
// endpoint is never retried, since the outcome of a timed-out buy is unknown
// and retrying could double-purchase.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *util.RateLimiter
	log        *slog.Logger
}

// NewClient creates a Client for the trade API at the given domain.
func NewClient(domain, apiKey string, ratePerMin int, log *slog.Logger) *Client {
	return &Client{
		baseURL:    domain + "/api/v1/accounts",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    util.NewRateLimiter(ratePerMin),
		log:        log,
	}
}

// Name returns "trade-api".
func (c *Client) Name() string { return "trade-api" }

// GetPrice returns the current unit price for the given variant.
func (c *Client) GetPrice(ctx context.Context, variant domain.Variant) (float64, error) {
	params := url.Values{"is2fa": {strconv.FormatBool(variant.Is2FA())}}
	var out struct {
		UnitPrice float64 `json:"usdPrice"`
	}
	if err := c.getWithRetry(ctx, "/price", params, &out); err != nil {
		return 0, err
	}
	return out.UnitPrice, nil
}

// GetBalance returns the available funding balance.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	var out struct {
		Balance float64 `json:"balance"`
	}
	if err := c.getWithRetry(ctx, "/balance", nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// BuyAccounts purchases count accounts of the given variant. Exactly one
// attempt is made.
func (c *Client) BuyAccounts(ctx context.Context, count int, variant domain.Variant) (*PurchasePack, error) {
	params := url.Values{
		"count": {strconv.Itoa(count)},
		"is2fa": {strconv.FormatBool(variant.Is2FA())},
	}
	pack := &PurchasePack{}
	if err := c.get(ctx, "/buy", params, pack); err != nil {
		return nil, err
	}
	return pack, nil
}

// MaxPerPurchase returns the upstream cap on accounts per single buy.
func (c *Client) MaxPerPurchase(ctx context.Context, variant domain.Variant) (int, error) {
	params := url.Values{"is2fa": {strconv.FormatBool(variant.Is2FA())}}
	var out struct {
		MaxPerPurchase int `json:"maxPerPurchase"`
	}
	if err := c.getWithRetry(ctx, "/max-per-purchase", params, &out); err != nil {
		return 0, err
	}
	return out.MaxPerPurchase, nil
}

// ListPacks returns one page of previously purchased packs.
func (c *Client) ListPacks(ctx context.Context, page, limit int) (*PackPage, error) {
	params := url.Values{
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(limit)},
	}
	out := &PackPage{}
	if err := c.getWithRetry(ctx, "/packs", params, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPack returns the details of a single pack by its ID.
func (c *Client) GetPack(ctx context.Context, packID string) (*PurchasePack, error) {
	pack := &PurchasePack{}
	if err := c.getWithRetry(ctx, "/pack/"+url.PathEscape(packID), nil, pack); err != nil {
		return nil, err
	}
	return pack, nil
}

// getWithRetry performs a read-only GET, retrying once on transient errors.
func (c *Client) getWithRetry(ctx context.Context, endpoint string, params url.Values, out any) error {
	return util.RetryIf(ctx, 2, 500*time.Millisecond, IsTransient, func() error {
		return c.get(ctx, endpoint, params, out)
	})
}

// get performs a single GET request against the trade API and decodes the
// JSON response into out.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: "GET " + endpoint, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", endpoint, err)
		}
		return nil
	case http.StatusPaymentRequired:
		return ErrInsufficientFunds
	case http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		// Upstream error bodies go to operator logs only; callers see a
		// generic error value.
		var body struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		c.log.Error("upstream API error",
			"endpoint", endpoint, "status", resp.StatusCode, "message", body.Message)
		return fmt.Errorf("gateway: upstream returned status %d", resp.StatusCode)
	}
}
