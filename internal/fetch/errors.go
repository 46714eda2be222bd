package fetch

import "fmt"

// BlockedError classifies a response that indicates upstream policy blocking:
// HTTP 429, an HTML body where JSON was expected, or any other non-200/non-JSON
// answer. From the client side this is indistinguishable from rate limiting,
// bot flagging, or a degraded proxy; the classification exists so operators can
// tell policy blocking apart from plain network failure when tuning pools.
type BlockedError struct {
	Status      int
	ContentType string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("upstream blocked: status=%d content-type=%q", e.Status, e.ContentType)
}

// BadGatewayError classifies a 5xx answer: the upstream or the proxy in front
// of it failed server-side.
type BadGatewayError struct {
	Status      int
	ContentType string
}

func (e *BadGatewayError) Error() string {
	return fmt.Sprintf("upstream bad gateway: status=%d content-type=%q", e.Status, e.ContentType)
}

// AllRoutesError is terminal for a fetch: every configured route was exhausted
// without a usable response. Last carries the final classified error for
// diagnostics. The fetcher never retries past this point; callers may retry
// the whole operation later.
type AllRoutesError struct {
	Last error
}

func (e *AllRoutesError) Error() string {
	return fmt.Sprintf("all routes failed, last error: %v", e.Last)
}

func (e *AllRoutesError) Unwrap() error { return e.Last }
