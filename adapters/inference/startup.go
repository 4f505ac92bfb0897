package inference

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// WaitForStartup polls the readiness endpoint every interval until it
// answers 2xx or initCtx expires
func (c *Client) WaitForStartup(initCtx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	expired := initCtx.Done()
	var lastErr error

	for {
		select {
		case <-ticker.C:
			lastErr = c.checkReady(initCtx)
			if lastErr == nil {
				return nil
			}
			c.logger.
				WithField("action", "inference_wait_for_startup").
				WithError(lastErr).Warn("inference service not ready")
		case <-expired:
			if lastErr == nil {
				lastErr = initCtx.Err()
			}
			return errors.Wrap(lastErr, "init context expired before remote was ready")
		}
	}
}

func (c *Client) checkReady(initCtx context.Context) error {
	// individual checks time out well before the overall init context
	requestCtx, cancel := context.WithTimeout(initCtx, 500*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, c.url("/.well-known/ready"), nil)
	if err != nil {
		return errors.Wrap(err, "create check ready request")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "send check ready request")
	}
	defer res.Body.Close()

	if res.StatusCode > 299 {
		return errors.Errorf("not ready: status %d", res.StatusCode)
	}
	return nil
}
