package fetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"stockfeed/internal/fetchcache"
	"stockfeed/internal/httpx"
	"stockfeed/internal/logging"
	"stockfeed/internal/proxypool"
)

// maxBody caps how much of an upstream response is read into memory.
const maxBody = 8 << 20

// Config is the immutable bundle consumed by a Fetcher at construction.
type Config struct {
	Pool *proxypool.Pool
	// Timeout bounds a single attempt end to end.
	Timeout time.Duration
	// MaxAttemptsPerPort retries each route this many times before moving
	// on. Values below 1 mean 1.
	MaxAttemptsPerPort int
	// SleepBetweenPorts is slept after a route's attempt budget is spent.
	SleepBetweenPorts time.Duration
	// BackoffOnError is slept after every failed attempt.
	BackoffOnError time.Duration
	UserAgent      string
	Accept         string
	CacheTTL       time.Duration
	// MaxRequestsPerMinute caps outbound attempts across all routes; the
	// upstream is rate limited, so going faster only earns blocks. 0
	// disables the cap.
	MaxRequestsPerMinute int
}

// Fetcher issues upstream GETs through a failover list of proxy routes,
// classifying each response and rotating until one route yields JSON. Each
// payload is cached for the configured TTL; identical concurrent fetches are
// coalesced into a single in-flight request.
type Fetcher struct {
	cfg   Config
	cache *fetchcache.Cache
	lim   *rate.Limiter
	sf    singleflight.Group

	mu      sync.Mutex
	clients map[proxypool.Route]*http.Client
}

func New(cfg Config) *Fetcher {
	if cfg.MaxAttemptsPerPort < 1 {
		cfg.MaxAttemptsPerPort = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	f := &Fetcher{
		cfg:     cfg,
		cache:   fetchcache.New(cfg.CacheTTL),
		clients: make(map[proxypool.Route]*http.Client),
	}
	if cfg.MaxRequestsPerMinute > 0 {
		f.lim = rate.NewLimiter(rate.Limit(float64(cfg.MaxRequestsPerMinute)/60.0), cfg.MaxRequestsPerMinute)
	}
	return f
}

// JSON fetches url with the given query parameters and returns the raw JSON
// payload. A cache hit returns immediately with no network activity. On a
// miss it walks the route pool in priority order and returns AllRoutesError
// once every route is exhausted.
func (f *Fetcher) JSON(ctx context.Context, rawurl string, params url.Values) ([]byte, error) {
	key := fetchcache.Key(rawurl, params)
	if b, ok := f.cache.Get(key); ok {
		return b, nil
	}
	v, err, _ := f.sf.Do(key, func() (any, error) {
		// a concurrent flight may have populated the cache already
		if b, ok := f.cache.Get(key); ok {
			return b, nil
		}
		return f.fetch(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (f *Fetcher) fetch(ctx context.Context, reqURL string) ([]byte, error) {
	log := logging.Component("fetch")
	var lastErr error

	for _, route := range f.cfg.Pool.Routes() {
		for attempt := 1; attempt <= f.cfg.MaxAttemptsPerPort; attempt++ {
			if f.lim != nil {
				if err := f.lim.Wait(ctx); err != nil {
					return nil, err
				}
			}
			payload, err := f.attempt(ctx, route, reqURL)
			if err == nil {
				f.cfg.Pool.MarkGood(route)
				f.cache.Set(reqURL, payload)
				log.WithFields(map[string]any{"route": route.String(), "url": reqURL}).Debug("fetch ok")
				return payload, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			f.cfg.Pool.MarkBad(route)
			log.WithFields(map[string]any{"route": route.String(), "attempt": attempt}).WithError(err).Warn("fetch attempt failed")
			if err := sleep(ctx, f.cfg.BackoffOnError); err != nil {
				return nil, err
			}
		}
		if err := sleep(ctx, f.cfg.SleepBetweenPorts); err != nil {
			return nil, err
		}
	}
	return nil, &AllRoutesError{Last: lastErr}
}

// attempt runs one GET through one route and classifies the outcome.
func (f *Fetcher) attempt(ctx context.Context, route proxypool.Route, reqURL string) ([]byte, error) {
	client, err := f.clientFor(route)
	if err != nil {
		return nil, err
	}
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	if f.cfg.Accept != "" {
		req.Header.Set("Accept", f.cfg.Accept)
	}

	resp, err := client.Do(req)
	if err != nil {
		// transport level: refused connection, TLS, timeout, proxy tunnel
		return nil, err
	}
	defer resp.Body.Close()

	ctype := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || strings.Contains(ctype, "text/html"):
		return nil, &BlockedError{Status: resp.StatusCode, ContentType: ctype}
	case resp.StatusCode >= 500:
		return nil, &BadGatewayError{Status: resp.StatusCode, ContentType: ctype}
	case resp.StatusCode != http.StatusOK || !strings.Contains(ctype, "json"):
		return nil, &BlockedError{Status: resp.StatusCode, ContentType: ctype}
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	// a claimed-JSON body that does not decode gets the blocked treatment:
	// interstitial pages sometimes ship with a JSON content type
	if !json.Valid(payload) {
		return nil, &BlockedError{Status: resp.StatusCode, ContentType: ctype}
	}
	return payload, nil
}

func (f *Fetcher) clientFor(route proxypool.Route) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[route]; ok {
		return c, nil
	}
	c, err := httpx.NewProxied(f.cfg.Pool.ProxyURL(route), f.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	f.clients[route] = c
	return c, nil
}

// sleep blocks the calling fetch only; concurrent fetches are unaffected.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
