package chart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"stockfeed/internal/market"
)

// DefaultBaseURL is the public chart endpoint; one path segment per symbol.
const DefaultBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// ErrMalformedPayload marks a successfully fetched response whose nested shape
// does not match the chart contract. Not retryable: rotating routes will not
// fix a schema mismatch.
var ErrMalformedPayload = errors.New("chart: malformed payload")

// validIntervals is the fixed set the upstream accepts.
var validIntervals = map[string]struct{}{
	"1m": {}, "2m": {}, "5m": {}, "15m": {}, "30m": {},
	"60m": {}, "90m": {}, "1d": {}, "1wk": {}, "1mo": {},
}

// ValidInterval reports whether the upstream accepts the given interval.
func ValidInterval(s string) bool {
	_, ok := validIntervals[s]
	return ok
}

// Getter is the resilient-fetch dependency of the chart client.
type Getter interface {
	JSON(ctx context.Context, rawurl string, params url.Values) ([]byte, error)
}

// Client fetches and decodes chart payloads for one symbol at a time.
type Client struct {
	http    Getter
	baseURL string
}

func New(g Getter, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: g, baseURL: baseURL}
}

// Fetch retrieves the time series for symbol. rng is a free-form upstream
// duration string such as "10d" or "1y".
func (c *Client) Fetch(ctx context.Context, symbol, interval, rng string) (*Payload, error) {
	if !ValidInterval(interval) {
		return nil, fmt.Errorf("chart: unsupported interval %q", interval)
	}
	u := c.baseURL + "/" + url.PathEscape(symbol)
	params := url.Values{"interval": {interval}, "range": {rng}}
	b, err := c.http.JSON(ctx, u, params)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &p, nil
}

// Payload mirrors the upstream chart JSON. Parallel price arrays carry null
// for intervals with no trade data, hence the pointer slices.
type Payload struct {
	Chart struct {
		Result []Result `json:"result"`
		Error  any      `json:"error"`
	} `json:"chart"`
}

type Result struct {
	Meta       *Meta   `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []QuoteBlock `json:"quote"`
	} `json:"indicators"`
}

// Meta is the summary block the upstream sometimes embeds alongside the
// series.
type Meta struct {
	Currency           string   `json:"currency"`
	ExchangeName       string   `json:"exchangeName"`
	RegularMarketPrice *float64 `json:"regularMarketPrice"`
	PreviousClose      *float64 `json:"previousClose"`
	RegularMarketTime  *int64   `json:"regularMarketTime"`
}

type QuoteBlock struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}

func (p *Payload) result() (*Result, error) {
	if len(p.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: empty result", ErrMalformedPayload)
	}
	r := &p.Chart.Result[0]
	if len(r.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: missing quote block", ErrMalformedPayload)
	}
	return r, nil
}

// MetaBlock returns the embedded summary block, or nil when absent.
func (p *Payload) MetaBlock() *Meta {
	if len(p.Chart.Result) == 0 {
		return nil
	}
	return p.Chart.Result[0].Meta
}

// Bars normalizes the payload into an ordered bar sequence. Bars arrive in
// upstream chronological order and are not re-sorted. A bar is emitted only
// when open, high, low and close are all present; a missing volume becomes 0.
func (p *Payload) Bars() ([]market.Bar, error) {
	r, err := p.result()
	if err != nil {
		return nil, err
	}
	q := r.Indicators.Quote[0]
	bars := make([]market.Bar, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		open := at(q.Open, i)
		high := at(q.High, i)
		low := at(q.Low, i)
		clos := at(q.Close, i)
		if open == nil || high == nil || low == nil || clos == nil {
			continue
		}
		var vol int64
		if v := at(q.Volume, i); v != nil {
			vol = *v
		}
		bars = append(bars, market.Bar{
			TS:     ts * 1000,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  clos,
			Volume: vol,
		})
	}
	return bars, nil
}

func at[T any](s []*T, i int) *T {
	if i >= len(s) {
		return nil
	}
	return s[i]
}
