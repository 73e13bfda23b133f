package notify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"

	"github.com/medcia/medreminder/internal/config"
	"github.com/medcia/medreminder/internal/domain"
)

// ChannelSMS is the registry name of the SMS channel.
const ChannelSMS = "sms"

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// MessageCreator is the slice of the Twilio REST API the SMS channel uses.
// *twilioApi.ApiService satisfies it.
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMS is the SMS notification channel backed by Twilio.
type SMS struct {
	From     string
	Timeout  time.Duration
	Provider MessageCreator
	// Limiter paces provider calls; nil means unpaced.
	Limiter *rate.Limiter
}

// NewSMS builds the SMS channel from cfg. The caller is expected to check
// cfg.Enabled() first.
func NewSMS(cfg config.SMSConfig) *SMS {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	client.SetTimeout(cfg.Timeout)

	s := &SMS{
		From:     strings.TrimSpace(cfg.FromNumber),
		Timeout:  cfg.Timeout,
		Provider: client.Api,
	}
	if cfg.RatePerSec > 0 {
		s.Limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return s
}

func (s *SMS) Name() string { return ChannelSMS }

// Recipient returns the owner's phone number when one is on file.
func (s *SMS) Recipient(c domain.Contact) (string, bool) {
	if !c.HasPhone() {
		return "", false
	}
	return normalizePhone(c.Phone), true
}

// Attempt validates the number and creates a Twilio message. Time spent
// waiting for the limiter counts against the timeout.
func (s *SMS) Attempt(ctx context.Context, to, subject, body string) Outcome {
	return guard(ctx, ChannelSMS, to, s.Timeout, func(ctx context.Context) error {
		if !e164.MatchString(to) {
			return fmt.Errorf("invalid phone number %q: want E.164", to)
		}
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return fmt.Errorf("sms rate limit: %w", err)
			}
		}

		params := &twilioApi.CreateMessageParams{}
		params.SetTo(to)
		params.SetFrom(s.From)
		params.SetBody(smsText(subject, body))

		resp, err := s.Provider.CreateMessage(params)
		if err != nil {
			return fmt.Errorf("twilio: %w", err)
		}
		if resp != nil && resp.ErrorMessage != nil && *resp.ErrorMessage != "" {
			return fmt.Errorf("twilio: %s", *resp.ErrorMessage)
		}
		return nil
	})
}

// smsText keeps the body as sent by email; the subject only fills in when
// the body is empty.
func smsText(subject, body string) string {
	if strings.TrimSpace(body) == "" {
		return subject
	}
	return body
}

// normalizePhone strips the separators people commonly type.
func normalizePhone(p string) string {
	r := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	return r.Replace(strings.TrimSpace(p))
}
