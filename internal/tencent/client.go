package tencent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"stockfeed/internal/market"
)

// Default upstream endpoints. The quote endpoint takes the code appended
// directly after "q="; the minute endpoint takes it as a query parameter.
const (
	DefaultQuoteURL  = "https://qt.gtimg.cn/q="
	DefaultMinuteURL = "https://web.ifzq.gtimg.cn/appstock/app/minute/query"
)

// ErrUnsupportedSymbol means the instrument code has no translation into this
// source's code scheme. Surfaced immediately, never retried.
var ErrUnsupportedSymbol = errors.New("tencent: unsupported symbol")

// ErrUnexpectedPayload marks a response that fetched fine but does not match
// the documented wire format.
var ErrUnexpectedPayload = errors.New("tencent: unexpected payload")

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=tencent_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the secondary-source adapter: a different upstream with a
// delimited-text wire format, normalized into the same bar and quote shapes
// as the primary path.
type Client struct {
	quoteURL   string
	minuteURL  string
	httpClient HTTPClient
	header     http.Header
	timeout    time.Duration
}

type Option func(*Client)

// WithHTTPClient sets the HTTP client used for both endpoints.
func WithHTTPClient(h HTTPClient) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithQuoteURL overrides the quote endpoint base.
func WithQuoteURL(u string) Option {
	return func(c *Client) { c.quoteURL = u }
}

// WithMinuteURL overrides the intraday endpoint.
func WithMinuteURL(u string) Option {
	return func(c *Client) { c.minuteURL = u }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func New(options ...Option) *Client {
	c := &Client{
		quoteURL:   DefaultQuoteURL,
		minuteURL:  DefaultMinuteURL,
		httpClient: http.DefaultClient,
		header:     http.Header{"User-Agent": {"Mozilla/5.0"}, "Accept": {"*/*"}},
		timeout:    10 * time.Second,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

var hkChartSymbol = regexp.MustCompile(`(?i)^(\d{1,5})\.hk$`)

// ToCode translates a normalized instrument code into this source's scheme.
// Supported inputs: "hk00700", "00700.HK", "700.HK", and bare HK digit codes
// of up to five digits. Bare mainland-exchange numeric codes longer than five
// digits are ambiguous and unsupported.
func ToCode(symbol string) (string, error) {
	s := strings.TrimSpace(symbol)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrUnsupportedSymbol)
	}
	if strings.HasPrefix(s, "hk") && len(s) >= 4 {
		return s, nil
	}
	if m := hkChartSymbol.FindStringSubmatch(s); m != nil {
		return "hk" + pad5(m[1]), nil
	}
	if isDigits(s) && len(s) <= 5 {
		return "hk" + pad5(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedSymbol, symbol)
}

// Quote fetches the real-time quote for symbol. The response is a single
// delimited assignment line, v_hk00700="100~name~code~price~prev~...";, with
// fixed tilde-separated field offsets.
func (c *Client) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	code, err := ToCode(symbol)
	if err != nil {
		return market.Quote{}, err
	}
	body, err := c.get(ctx, c.quoteURL+code)
	if err != nil {
		return market.Quote{}, err
	}

	inner, ok := unquote(string(body))
	if !ok {
		return market.Quote{}, fmt.Errorf("%w: no quote assignment in response", ErrUnexpectedPayload)
	}
	parts := strings.Split(inner, "~")

	q := market.Quote{CalcSource: market.SourceSecondary}
	q.Price = field(parts, 3)
	q.PrevClose = field(parts, 4)
	q.Change, q.PctChange, _ = market.Change(q.Price, q.PrevClose)
	if len(parts) > 30 {
		q.AsOf = parseQuoteTime(parts[30])
	}
	// currency rides near the tail for cross-border listings; scanning for a
	// known code is best effort, null when nothing matches
	for i := len(parts) - 1; i >= 0 && i >= len(parts)-6; i-- {
		switch parts[i] {
		case "HKD", "USD", "CNY":
			q.Currency = parts[i]
		}
		if q.Currency != "" {
			break
		}
	}
	return q, nil
}

// IntradayBars fetches one session of minute data and converts it into the
// normalized bar sequence. The upstream reports cumulative session volume per
// minute; per-minute volume is recovered by successive differencing, with
// negative deltas (resets, out-of-order ticks) clamped to zero. Each minute
// carries a single price point, so bars come out flat.
func (c *Client) IntradayBars(ctx context.Context, symbol string) ([]market.Bar, error) {
	code, err := ToCode(symbol)
	if err != nil {
		return nil, err
	}
	body, err := c.get(ctx, c.minuteURL+"?"+url.Values{"code": {code}}.Encode())
	if err != nil {
		return nil, err
	}

	var resp minuteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedPayload, err)
	}
	session := resp.Data[code].Data
	if len(session.Date) != 8 || len(session.Data) == 0 {
		return nil, nil
	}
	year, _ := strconv.Atoi(session.Date[0:4])
	month, _ := strconv.Atoi(session.Date[4:6])
	day, _ := strconv.Atoi(session.Date[6:8])

	bars := make([]market.Bar, 0, len(session.Data))
	var prevCum *float64
	for _, line := range session.Data {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		hhmm := fields[0]
		if len(hhmm) != 4 || !isDigits(hhmm) {
			continue
		}
		price := safeFloat(fields[1])
		if price == nil {
			continue
		}
		cum := safeFloat(fields[2])

		var vol int64
		if cum != nil {
			if prevCum != nil {
				delta := *cum - *prevCum
				if delta < 0 {
					delta = 0
				}
				vol = int64(delta)
			}
			prevCum = cum
		}

		hh, _ := strconv.Atoi(hhmm[0:2])
		mi, _ := strconv.Atoi(hhmm[2:4])
		ts := time.Date(year, time.Month(month), day, hh, mi, 0, 0, hkLoc).UnixMilli()
		p := *price
		bars = append(bars, market.Bar{TS: ts, Open: &p, High: &p, Low: &p, Close: &p, Volume: vol})
	}
	return bars, nil
}

func (c *Client) get(ctx context.Context, rawurl string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawurl, http.NoBody)
	if err != nil {
		return nil, err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tencent: GET %s -> %d", rawurl, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

type minuteResponse struct {
	Data map[string]struct {
		Data struct {
			Date string   `json:"date"`
			Data []string `json:"data"`
		} `json:"data"`
	} `json:"data"`
}

// hkLoc stamps session timestamps in exchange-local time.
var hkLoc = func() *time.Location {
	if loc, err := time.LoadLocation("Asia/Hong_Kong"); err == nil {
		return loc
	}
	return time.FixedZone("HKT", 8*3600)
}()

// unquote extracts the payload between the first `="` and the closing quote.
func unquote(s string) (string, bool) {
	start := strings.Index(s, `="`)
	if start < 0 {
		return "", false
	}
	rest := s[start+2:]
	end := strings.LastIndex(rest, `"`)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

func field(parts []string, i int) *float64 {
	if i >= len(parts) {
		return nil
	}
	return safeFloat(parts[i])
}

func safeFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// parseQuoteTime handles the two timestamp spellings the quote line uses.
func parseQuoteTime(s string) *int64 {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006/01/02 15:04:05", "20060102150405"} {
		if t, err := time.ParseInLocation(layout, s, hkLoc); err == nil {
			ms := t.UnixMilli()
			return &ms
		}
	}
	return nil
}

func pad5(s string) string {
	for len(s) < 5 {
		s = "0" + s
	}
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
