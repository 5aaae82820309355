package client

import (
	"context"
	"errors"

	"github.com/bpclient/bpclient-go/pkg/connection"
)

// ConnectWithRetry calls Connect until it succeeds, ctx ends or
// maxAttempts attempts have failed (0 means no limit). Delays between
// attempts follow Config.Backoff. Each attempt is a fresh session.
//
// It gives up immediately if a session is already live or the client is
// closed. The last attempt's error is returned.
func (c *Client) ConnectWithRetry(ctx context.Context, url string, maxAttempts int) error {
	backoff := connection.NewBackoffWithConfig(c.config.Backoff)

	for attempt := 1; ; attempt++ {
		err := c.Connect(ctx, url)
		if err == nil {
			return nil
		}
		if errors.Is(err, connection.ErrAlreadyConnected) ||
			errors.Is(err, connection.ErrConnecting) ||
			errors.Is(err, ErrClosed) {
			return err
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return err
		}

		c.logger.Info("connect failed, retrying",
			"url", url,
			"attempt", attempt,
			"delay", backoff.Current(),
			"error", err)

		if serr := backoff.Sleep(ctx); serr != nil {
			return errors.Join(err, serr)
		}
	}
}
