// Package fmp provides a client for the Financial Modeling Prep API
package fmp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
)

const (
	DefaultBaseURL   = "https://financialmodelingprep.com/api"
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 25 // requests per second
)

// Client implements the FMPClient interface
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the per-request HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new FMP client. An empty key is rejected.
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// get performs a rate-limited GET request and decodes the JSON body into result
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Endpoint: path, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("FMP API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Endpoint: path, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	// The API reports some failures (bad key, plan limits) as 200 with an error object
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var apiMsg struct {
			ErrorMessage string `json:"Error Message"`
		}
		if json.Unmarshal(trimmed, &apiMsg) == nil && apiMsg.ErrorMessage != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: apiMsg.ErrorMessage, Endpoint: path}
		}
	}

	if err := json.Unmarshal(trimmed, result); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, path, err)
	}

	return nil
}

// GetAnalystEstimates retrieves forward consensus estimates in upstream order
func (c *Client) GetAnalystEstimates(ctx context.Context, ticker string) ([]models.AnalystEstimate, error) {
	path := fmt.Sprintf("/v3/analyst-estimates/%s", url.PathEscape(ticker))

	var rows []estimateResponse
	if err := c.get(ctx, path, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	out := make([]models.AnalystEstimate, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// GetPriceTargetConsensus retrieves the price target summary
func (c *Client) GetPriceTargetConsensus(ctx context.Context, ticker string) (*models.PriceTargetConsensus, error) {
	params := url.Values{}
	params.Set("symbol", ticker)

	var rows []priceTargetResponse
	if err := c.get(ctx, "/v4/price-target-consensus", params, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	pt := rows[0]
	return &models.PriceTargetConsensus{
		Consensus: pt.TargetConsensus.ptr(),
		High:      pt.TargetHigh.ptr(),
		Low:       pt.TargetLow.ptr(),
		Median:    pt.TargetMedian.ptr(),
	}, nil
}

// GetUpgradesDowngrades retrieves rating actions, newest first
func (c *Client) GetUpgradesDowngrades(ctx context.Context, ticker string) ([]models.RatingAction, error) {
	params := url.Values{}
	params.Set("symbol", ticker)

	var rows []ratingActionResponse
	if err := c.get(ctx, "/v3/upgrades-downgrades", params, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	out := make([]models.RatingAction, len(rows))
	for i, r := range rows {
		date := r.PublishedDate
		if date == "" {
			date = r.Date
		}
		out[i] = models.RatingAction{
			Date:           parseDate(date),
			Action:         r.Action,
			GradingCompany: r.GradingCompany,
			PreviousGrade:  r.PreviousGrade,
			NewGrade:       r.NewGrade,
		}
	}
	return out, nil
}

// GetAnalystRecommendations retrieves the most recent buy/hold/sell distribution
func (c *Client) GetAnalystRecommendations(ctx context.Context, ticker string) (*models.AnalystRatings, error) {
	path := fmt.Sprintf("/v3/analyst-stock-recommendations/%s", url.PathEscape(ticker))

	var rows []recommendationResponse
	if err := c.get(ctx, path, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	r := rows[0]
	return &models.AnalystRatings{
		Date:       r.Date,
		StrongBuy:  r.StrongBuy.intValue(),
		Buy:        r.Buy.intValue(),
		Hold:       r.Hold.intValue(),
		Sell:       r.Sell.intValue(),
		StrongSell: r.StrongSell.intValue(),
	}, nil
}

// GetEarningsSurprises retrieves reported quarters, newest first
func (c *Client) GetEarningsSurprises(ctx context.Context, ticker string) ([]models.EarningsSurprise, error) {
	path := fmt.Sprintf("/v3/earnings-surprises/%s", url.PathEscape(ticker))

	var rows []surpriseResponse
	if err := c.get(ctx, path, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	out := make([]models.EarningsSurprise, len(rows))
	for i, r := range rows {
		out[i] = models.EarningsSurprise{
			Date:      parseDate(r.Date),
			Actual:    r.ActualEarningResult.value(),
			Estimated: r.EstimatedEarning.value(),
		}
	}
	return out, nil
}

// GetCompanyProfile retrieves sector, industry and market cap
func (c *Client) GetCompanyProfile(ctx context.Context, ticker string) (*models.CompanyProfile, error) {
	path := fmt.Sprintf("/v3/profile/%s", url.PathEscape(ticker))

	var rows []profileResponse
	if err := c.get(ctx, path, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	p := rows[0]
	profile := &models.CompanyProfile{
		Symbol:    p.Symbol,
		Name:      p.CompanyName,
		Sector:    p.Sector,
		Industry:  p.Industry,
		MarketCap: p.MktCap.value(),
	}
	if profile.Symbol == "" {
		profile.Symbol = ticker
	}
	if profile.Sector == "" {
		profile.Sector = models.UnknownClassification
	}
	if profile.Industry == "" {
		profile.Industry = models.UnknownClassification
	}
	return profile, nil
}
