// Package notify delivers system notifications (task auto-disable, global
// circuit breaker trips, sentinel blocks, low-severity health events) and
// lets other subsystems subscribe to them in-process.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"
)

// client is a thin wrapper around the slack-go SDK.
type client struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
}

func newClient(token, channelID string) *client {
	return &client{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "notify-slack"),
	}
}

// newClientWithAPIURL targets a custom API URL, useful for testing with a mock server.
func newClientWithAPIURL(token, channelID, apiURL string) *client {
	return &client{
		api:       goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channelID: channelID,
		logger:    slog.Default().With("component", "notify-slack"),
	}
}

func (c *client) postMessage(ctx context.Context, blocks []goslack.Block, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, _, err := c.api.PostMessageContext(ctx, c.channelID, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}
