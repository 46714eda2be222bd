package proxypool

import (
	"fmt"
	"sync"
)

// Credentials authenticate against every route in the pool.
type Credentials struct {
	Username string
	// EncodedSecret must be supplied already percent-encoded (e.g. '=' as
	// %3D); it is embedded in the proxy URL verbatim with no further
	// encoding. This is a configuration contract, not an oversight.
	EncodedSecret string
}

// Endpoint is one egress host with interchangeable ports under one account.
type Endpoint struct {
	Host  string
	Ports []int
}

// Route is a single egress path.
type Route struct {
	Host string
	Port int
}

func (r Route) String() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

// Config describes an immutable route pool.
type Config struct {
	Credentials Credentials
	Endpoints   []Endpoint
	// RememberLastGood yields the most recently successful route first on
	// the next iteration. Advisory only.
	RememberLastGood bool
	// FailureThreshold deprioritizes routes that have accumulated at least
	// this many consecutive failures, keeping the configured order within
	// each group. 0 disables scoring.
	FailureThreshold int
}

// Pool is a priority-ordered failover list of proxy routes. It does no load
// balancing: callers walk Routes() front to back until one works. Endpoint
// order and credentials are read-only after construction; the last-good hint
// and failure counters are guarded by a mutex.
type Pool struct {
	cfg Config

	mu       sync.Mutex
	lastGood *Route
	failures map[Route]int
}

func New(cfg Config) *Pool {
	return &Pool{cfg: cfg, failures: make(map[Route]int)}
}

// ProxyURL builds the egress URL for a route with credentials embedded.
func (p *Pool) ProxyURL(r Route) string {
	return fmt.Sprintf("http://%s:%s@%s:%d", p.cfg.Credentials.Username, p.cfg.Credentials.EncodedSecret, r.Host, r.Port)
}

// Routes returns the iteration order for the next fetch: the last-good route
// first when remembered, then every endpoint's ports in configured order with
// over-threshold routes pushed behind the clean ones.
func (p *Pool) Routes() []Route {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, e := range p.cfg.Endpoints {
		n += len(e.Ports)
	}
	out := make([]Route, 0, n+1)
	if p.cfg.RememberLastGood && p.lastGood != nil {
		out = append(out, *p.lastGood)
	}

	var deprioritized []Route
	for _, e := range p.cfg.Endpoints {
		for _, port := range e.Ports {
			r := Route{Host: e.Host, Port: port}
			if p.cfg.FailureThreshold > 0 && p.failures[r] >= p.cfg.FailureThreshold {
				deprioritized = append(deprioritized, r)
				continue
			}
			out = append(out, r)
		}
	}
	return append(out, deprioritized...)
}

// MarkGood records a successful fetch on r: the route becomes the last-good
// hint (when enabled) and its failure counter resets.
func (p *Pool) MarkGood(r Route) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.RememberLastGood {
		p.lastGood = &r
	}
	delete(p.failures, r)
}

// MarkBad bumps the consecutive-failure counter for r.
func (p *Pool) MarkBad(r Route) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[r]++
}
