// Package upstream holds the shared HTTP plumbing for provider clients.
// Request shaping and response mapping live in the per-provider subpackages;
// everything here is transport, which is what the retry layer classifies.
package upstream

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tickerhub/tickerd/internal/fetch"
)

// NewHTTPClient builds the tuned http.Client every provider shares.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// CheckStatus turns a non-2xx response into a *fetch.StatusError so the
// backoff classifier can read the status. Rate-limit responses carry the
// Retry-After header in the error detail for the logs.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail := http.StatusText(resp.StatusCode)
	if resp.StatusCode == http.StatusTooManyRequests {
		if after := resp.Header.Get("Retry-After"); after != "" {
			detail = fmt.Sprintf("rate limited, retry after %s", after)
		} else {
			detail = "rate limited"
		}
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return &fetch.StatusError{Status: resp.StatusCode, Detail: detail}
}
