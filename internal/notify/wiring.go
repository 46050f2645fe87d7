package notify

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vitaqr/go-eds/internal/config"
	"github.com/vitaqr/go-eds/pkg/circuitbreaker"
)

// BuildChannels assembles the per-channel provider chains from configuration.
// Each channel gets a modern direct-API primary and a legacy secondary,
// both guarded by circuit breakers and joined by the fallback decorator.
// In simulation mode every transport is replaced with the simulated
// provider; a single channel with no configured transport degrades to
// simulation on its own.
func BuildChannels(cfg *config.Config, breakers *circuitbreaker.Manager, logger *zap.Logger) (Channels, error) {
	if cfg.Notify.Simulation {
		return Channels{
			SMS:      NewSimulated(ChannelSMS),
			WhatsApp: NewSimulated(ChannelWhatsApp),
			Email:    NewSimulated(ChannelEmail),
		}, nil
	}

	composer := NewComposer()

	twilioCfg := TwilioConfig{
		AccountSID:   cfg.Twilio.AccountSID,
		AuthToken:    cfg.Twilio.AuthToken,
		FromNumber:   cfg.Twilio.FromNumber,
		WhatsAppFrom: cfg.Twilio.WhatsAppFrom,
		TemplateSID:  cfg.Twilio.TemplateSID,
		Timeout:      cfg.Notify.SendTimeout,
	}
	gatewayCfg := GatewayConfig{
		URL:     cfg.Gateway.URL,
		APIKey:  cfg.Gateway.APIKey,
		Sender:  cfg.Gateway.Sender,
		Timeout: cfg.Notify.SendTimeout,
	}

	sms, err := chain(breakers, logger, ChannelSMS,
		NewTwilioSMS(twilioCfg, composer, logger),
		NewGateway(ChannelSMS, gatewayCfg, composer, logger))
	if err != nil {
		return Channels{}, err
	}

	whatsapp, err := chain(breakers, logger, ChannelWhatsApp,
		NewTwilioWhatsApp(twilioCfg, composer, logger),
		NewGateway(ChannelWhatsApp, gatewayCfg, composer, logger))
	if err != nil {
		return Channels{}, err
	}

	email, err := chain(breakers, logger, ChannelEmail,
		NewSendGridEmail(SendGridConfig{
			APIKey:    cfg.SendGrid.APIKey,
			FromEmail: cfg.SendGrid.FromEmail,
			FromName:  cfg.SendGrid.FromName,
			Timeout:   cfg.Notify.SendTimeout,
		}, composer, logger),
		NewSMTPEmail(SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			From:     cfg.SMTP.From,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		}, composer, logger))
	if err != nil {
		return Channels{}, err
	}

	return Channels{SMS: sms, WhatsApp: whatsapp, Email: email}, nil
}

// chain wraps both providers with named circuit breakers and joins them
// with the fallback decorator. A channel with no configured transport at
// all degrades to the simulated provider: the dispatch path still reports
// a marked success instead of failing every send.
func chain(breakers *circuitbreaker.Manager, logger *zap.Logger, ch Channel, primary, secondary Provider) (Provider, error) {
	if !primary.Available() && !secondary.Available() {
		logger.Warn("no transport configured, channel degraded to simulation",
			zap.String("channel", string(ch)))
		return NewSimulated(ch), nil
	}

	p, err := guard(breakers, primary)
	if err != nil {
		return nil, fmt.Errorf("breaker for %s: %w", primary.Name(), err)
	}
	s, err := guard(breakers, secondary)
	if err != nil {
		return nil, fmt.Errorf("breaker for %s: %w", secondary.Name(), err)
	}
	return NewFallback(ch, p, s, logger), nil
}

func guard(breakers *circuitbreaker.Manager, p Provider) (Provider, error) {
	cb, err := breakers.GetOrCreate(p.Name(), circuitbreaker.DefaultConfig(p.Name()))
	if err != nil {
		return nil, err
	}
	return WithBreaker(p, cb), nil
}
