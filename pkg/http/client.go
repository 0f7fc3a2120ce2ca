package http

import (
	"fmt"
	"net/http"
	"time"

	"Minerva/pkg/circuitbreaker"
)

// Client is a custom HTTP client that wraps the standard http.Client
// and provides built-in support for circuit breaking and a hard timeout.
type Client struct {
	httpClient *http.Client
	breaker    circuitbreaker.CircuitBreaker
}

// BreakerConfig configures the client's circuit breaker.
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold uint32
	SuccessThreshold uint32
	OpenTimeout      time.Duration
}

// NewClient creates a new Client. The request timeout is mandatory; callers
// that dispatch state-mutating requests rely on it to never wait open-ended.
func NewClient(timeout time.Duration, cfg BreakerConfig) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
	if cfg.Enabled {
		c.breaker = circuitbreaker.New(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout)
	}
	return c
}

// Do executes an HTTP request with circuit breaker protection.
// Status codes >= 500 count as failures for the breaker.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.httpClient.Do(req)
	}

	var resp *http.Response
	var err error

	_, breakerErr := c.breaker.Execute(func() (interface{}, error) {
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("server error: received status code %d", resp.StatusCode)
		}

		return resp, nil
	})

	if breakerErr != nil {
		// resp may still carry the >=500 response body; surface it so the
		// caller can report the failure verbatim.
		if resp != nil && resp.StatusCode >= http.StatusInternalServerError {
			return resp, nil
		}
		return nil, breakerErr
	}

	return resp, nil
}
