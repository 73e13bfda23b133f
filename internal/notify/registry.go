package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/medcia/medreminder/internal/config"
	"github.com/medcia/medreminder/internal/domain"
)

// Disabled stands in for a channel whose configuration is absent. It is
// never applicable, so the dispatch loop treats it like any other channel.
type Disabled struct {
	ChannelName string
}

func (d Disabled) Name() string { return d.ChannelName }

func (d Disabled) Recipient(domain.Contact) (string, bool) { return "", false }

func (d Disabled) Attempt(_ context.Context, recipient, _, _ string) Outcome {
	return Outcome{Channel: d.ChannelName, Status: StatusFailed, Recipient: recipient, Err: ErrNotConfigured}
}

// Registry is the fixed set of channels built once at process start.
type Registry struct {
	channels []Channel
}

// NewRegistry wraps the given channels in order. Names must be unique.
func NewRegistry(channels ...Channel) (*Registry, error) {
	seen := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		if ch == nil {
			return nil, fmt.Errorf("nil channel")
		}
		if _, dup := seen[ch.Name()]; dup {
			return nil, fmt.Errorf("duplicate channel %q", ch.Name())
		}
		seen[ch.Name()] = struct{}{}
	}
	return &Registry{channels: channels}, nil
}

// FromConfig builds the email and SMS slots. SMS is a Disabled channel
// unless every Twilio credential is present.
func FromConfig(cfg config.Config, logger zerolog.Logger) (*Registry, error) {
	email, err := NewEmail(cfg.Email, logger)
	if err != nil {
		return nil, err
	}

	var sms Channel = Disabled{ChannelName: ChannelSMS}
	if cfg.SMS.Enabled() {
		sms = NewSMS(cfg.SMS)
	} else {
		logger.Info().Msg("sms channel disabled: twilio credentials not configured")
	}

	return NewRegistry(email, sms)
}

// Channels returns the registered channels in registration order.
func (r *Registry) Channels() []Channel {
	out := make([]Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// Names returns the channel names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch.Name())
	}
	return out
}
