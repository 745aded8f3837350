// Package notify delivers reminder text to users, preferring the channel a
// task was created in and falling back to a direct message.
package notify

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/t1modo/NotiTron/pkg/logx"
)

// Target identifies where a notification should land. ChannelID takes
// precedence; UserID is the DM fallback.
type Target struct {
	ChannelID string
	UserID    string
}

// Port is the delivery contract the scheduler depends on.
type Port interface {
	Send(ctx context.Context, target Target, text string) error
}

// Sender is the transport slice Notifier needs.
type Sender interface {
	SendText(ctx context.Context, channelID, text string) error
	SendDM(ctx context.Context, userID, text string) error
}

type Config struct {
	// RatePerSec caps outbound sends. Zero or negative disables limiting.
	RatePerSec float64
	Burst      int
}

// Notifier sends through a transport adapter behind a rate limiter.
type Notifier struct {
	sender  Sender
	log     logx.Logger
	limiter *rate.Limiter
}

func New(sender Sender, cfg Config, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{sender: sender, log: log}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return n
}

func (n *Notifier) Send(ctx context.Context, target Target, text string) error {
	if target.ChannelID == "" && target.UserID == "" {
		return errors.New("notify: target has no channel and no user")
	}
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("notify: rate wait: %w", err)
		}
	}

	if target.ChannelID != "" {
		err := n.sender.SendText(ctx, target.ChannelID, text)
		if err == nil {
			return nil
		}
		if target.UserID == "" {
			return fmt.Errorf("notify: channel send: %w", err)
		}
		n.log.Warn("channel send failed, falling back to DM",
			logx.String("channel_id", target.ChannelID),
			logx.String("user_id", target.UserID),
			logx.Err(err))
	}

	if err := n.sender.SendDM(ctx, target.UserID, text); err != nil {
		return fmt.Errorf("notify: dm send: %w", err)
	}
	return nil
}
