package vision

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig controls how transient classifier failures are retried.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type retryingClassifier struct {
	inner Classifier
	cfg   RetryConfig
}

// WithRetry wraps a classifier so that rate-limit and server errors are
// retried with exponential backoff.
func WithRetry(inner Classifier, cfg RetryConfig) Classifier {
	if inner == nil {
		return nil
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	return &retryingClassifier{inner: inner, cfg: cfg}
}

func (r *retryingClassifier) Enabled() bool {
	return r != nil && r.inner != nil && r.inner.Enabled()
}

func (r *retryingClassifier) Analyze(ctx context.Context, image []byte) (Signals, error) {
	if !r.Enabled() {
		return Signals{}, ErrDisabled
	}

	delay := r.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		signals, err := r.inner.Analyze(ctx, image)
		if err == nil {
			return signals, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Signals{}, ctx.Err()
		}
		if !shouldRetry(err) || attempt == r.cfg.MaxAttempts {
			break
		}

		logrus.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("vision call failed, retrying")

		select {
		case <-ctx.Done():
			return Signals{}, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > r.cfg.MaxBackoff {
			delay = r.cfg.MaxBackoff
		}
	}
	return Signals{}, lastErr
}

func shouldRetry(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	switch statusErr.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
