package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/rs/zerolog"
)

const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 4 * time.Second
)

// retryTransport replays a request when the round trip fails with a
// network-class error. HTTP responses, whatever their status, are returned as-is.
type retryTransport struct {
	transport http.RoundTripper
	policy    retrypolicy.RetryPolicy[*http.Response]
}

func newRetryTransport(base http.RoundTripper, maxRetries int, logger zerolog.Logger, provider string) http.RoundTripper {
	if maxRetries <= 0 {
		return base
	}
	policy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(_ *http.Response, err error) bool {
			return IsRetriable(err)
		}).
		WithMaxRetries(maxRetries).
		WithBackoff(retryBaseDelay, retryMaxDelay).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[*http.Response]) {
			logger.Debug().
				Str("provider", provider).
				Int("attempt", e.Attempts()).
				Err(e.LastError()).
				Msg("Retrying request after network error")
		}).
		Build()
	return &retryTransport{transport: base, policy: policy}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	attempt := 0
	return failsafe.With[*http.Response](t.policy).
		WithContext(req.Context()).
		Get(func() (*http.Response, error) {
			attempt++
			r := req
			if attempt > 1 {
				var err error
				if r, err = rewind(req); err != nil {
					return nil, err
				}
			}
			return t.transport.RoundTrip(r)
		})
}

// rewind produces a fresh copy of req whose body can be sent again.
func rewind(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return r, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	r.Body = body
	return r, nil
}

var retriableMessages = []string{
	"timeout",
	"connection reset",
	"connection refused",
	"temporary failure",
	"awaiting headers",
	"no such host",
	"unexpected eof",
}

// IsRetriable reports whether err is a network-class failure worth retrying.
// Context cancellation is never retried; a context deadline is.
func IsRetriable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, token := range retriableMessages {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
