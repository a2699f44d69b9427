package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	llamaChartPath = "/chart/"

	defaultLlamaMaxBodyBytes = 8 << 20
)

// LlamaOptions parameterise the DefiLlama yields fetcher.
type LlamaOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// MaxBodyBytes caps the response size read from the API. Zero uses 8 MiB.
	MaxBodyBytes int64
}

// Llama fetches daily TVL and APY history from the DefiLlama yields API.
// Pool identifiers are DefiLlama pool UUIDs.
type Llama struct {
	opts    LlamaOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewLlama constructs a DefiLlama fetcher.
func NewLlama(opts LlamaOptions, logger zerolog.Logger) *Llama {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://yields.llama.fi"
	}

	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultLlamaMaxBodyBytes
	}

	return &Llama{
		opts:    opts,
		logger:  logger.With().Str("component", "llama_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchSeries retrieves the pool chart and keeps the trailing rangeDays points.
// DefiLlama yield pools carry no price, so Prices is left empty.
func (l *Llama) FetchSeries(ctx context.Context, poolID string, rangeDays int) (Series, error) {
	if strings.TrimSpace(poolID) == "" {
		return Series{}, errors.New("pool id required")
	}

	endpoint := l.baseURL + llamaChartPath + url.PathEscape(poolID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Series{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(l.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "riskmetrics/1.0")
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return Series{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, l.opts.MaxBodyBytes+1))
	if err != nil {
		return Series{}, err
	}
	if int64(len(payload)) > l.opts.MaxBodyBytes {
		return Series{}, fmt.Errorf("llama response for %s exceeds %d bytes", poolID, l.opts.MaxBodyBytes)
	}

	if resp.StatusCode == http.StatusNotFound {
		return Series{}, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}
	if resp.StatusCode != http.StatusOK {
		return Series{}, parseLlamaError(resp.StatusCode, payload)
	}

	var chart chartResponse
	if err := json.Unmarshal(payload, &chart); err != nil {
		return Series{}, fmt.Errorf("decode llama chart: %w", err)
	}
	if chart.Status != "" && chart.Status != "success" {
		return Series{}, fmt.Errorf("llama api status %q", chart.Status)
	}
	if len(chart.Data) == 0 {
		return Series{}, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}

	points := chart.Data
	if rangeDays > 0 && len(points) > rangeDays {
		points = points[len(points)-rangeDays:]
	}

	series := Series{
		PoolID: poolID,
		TVL:    make([]float64, 0, len(points)),
		APY:    make([]float64, 0, len(points)),
	}
	for _, p := range points {
		series.TVL = append(series.TVL, p.TvlUSD.InexactFloat64())
		apy := decimal.Zero
		if p.APY.Valid {
			apy = p.APY.Decimal
		}
		series.APY = append(series.APY, apy.InexactFloat64())
	}

	l.logger.Debug().Str("pool", poolID).Int("points", len(points)).Msg("llama chart fetched")
	return series, nil
}

type chartResponse struct {
	Status string       `json:"status"`
	Data   []chartPoint `json:"data"`
}

type chartPoint struct {
	Timestamp string              `json:"timestamp"`
	TvlUSD    decimal.Decimal     `json:"tvlUsd"`
	APY       decimal.NullDecimal `json:"apy"`
}

type llamaErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func parseLlamaError(status int, payload []byte) error {
	var apiErr llamaErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("llama api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("llama api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("llama api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("llama api error (%d)", status)
}

var _ SeriesFetcher = (*Llama)(nil)
