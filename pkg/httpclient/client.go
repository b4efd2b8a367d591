// Package httpclient builds the retrying HTTP clients used for outbound
// provider and notification calls.
package httpclient

import (
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/smallbiznis/tontine/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	defaultRetryMax     = 2
	defaultRetryWaitMin = 200 * time.Millisecond
	defaultRetryWaitMax = 2 * time.Second
)

type Options struct {
	Timeout  time.Duration
	RetryMax int
	// NoRetry disables retries on non-idempotent calls such as payment
	// initiation.
	NoRetry bool
}

func New(log *zap.Logger, opts Options) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = logger.RetryableHTTPLogger(log)
	client.RetryWaitMin = defaultRetryWaitMin
	client.RetryWaitMax = defaultRetryWaitMax
	client.RetryMax = defaultRetryMax
	if opts.RetryMax > 0 {
		client.RetryMax = opts.RetryMax
	}
	if opts.NoRetry {
		client.RetryMax = 0
	}
	if opts.Timeout > 0 {
		client.HTTPClient.Timeout = opts.Timeout
	}
	// Return the last response instead of a wrapped "giving up" error so
	// callers can read provider error bodies.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}
