package notify

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vitaqr/go-eds/internal/config"
	"github.com/vitaqr/go-eds/pkg/circuitbreaker"
)

func TestBuildChannelsSimulation(t *testing.T) {
	cfg := &config.Config{Notify: config.NotifyConfig{Simulation: true}}

	channels, err := BuildChannels(cfg, circuitbreaker.NewManager(zap.NewNop()), zap.NewNop())
	if err != nil {
		t.Fatalf("BuildChannels: %v", err)
	}

	for _, p := range []Provider{channels.SMS, channels.WhatsApp, channels.Email} {
		if !p.Available() {
			t.Errorf("%s: simulated provider should always be available", p.Name())
		}
		res := p.Send(context.Background(), SendParams{To: "+5215512345678", PatientName: "María"})
		if !res.OK || !res.Simulated {
			t.Errorf("%s: simulated send = %+v", p.Name(), res)
		}
	}
}

func TestBuildChannelsFallbackChains(t *testing.T) {
	cfg := &config.Config{
		Twilio: config.TwilioConfig{
			AccountSID: "AC123", AuthToken: "secret",
			FromNumber: "+15550001111", WhatsAppFrom: "+15550002222",
		},
		Gateway:  config.GatewayConfig{URL: "https://gw.example.com", APIKey: "k", Sender: "VITAQR"},
		SendGrid: config.SendGridConfig{APIKey: "SG.key", FromEmail: "alerts@vitaqr.mx"},
		SMTP:     config.SMTPConfig{Host: "mail.local", Port: 587, From: "alerts@vitaqr.mx"},
		Notify:   config.NotifyConfig{SendTimeout: 2 * time.Second},
	}

	channels, err := BuildChannels(cfg, circuitbreaker.NewManager(zap.NewNop()), zap.NewNop())
	if err != nil {
		t.Fatalf("BuildChannels: %v", err)
	}

	// Every chain should be usable: the configured primary makes the
	// fallback pair available without touching the network.
	for _, p := range []Provider{channels.SMS, channels.WhatsApp, channels.Email} {
		if !p.Available() {
			t.Errorf("%s: expected configured chain to be available", p.Name())
		}
	}
}

func TestBuildChannelsGatewayOnly(t *testing.T) {
	cfg := &config.Config{
		Gateway: config.GatewayConfig{URL: "https://gw.example.com", APIKey: "k", Sender: "VITAQR"},
		Notify:  config.NotifyConfig{SendTimeout: 2 * time.Second},
	}

	channels, err := BuildChannels(cfg, circuitbreaker.NewManager(zap.NewNop()), zap.NewNop())
	if err != nil {
		t.Fatalf("BuildChannels: %v", err)
	}

	// Twilio is unconfigured, so SMS should stay available through the
	// legacy gateway secondary.
	if !channels.SMS.Available() {
		t.Error("expected gateway-backed SMS chain to be available")
	}
	// Neither email transport is configured: the channel degrades to
	// simulation and sends still report a marked success.
	if !channels.Email.Available() {
		t.Error("expected unconfigured email channel to degrade to simulation")
	}
	res := channels.Email.Send(context.Background(), SendParams{To: "maria@example.mx", PatientName: "María"})
	if !res.OK || !res.Simulated {
		t.Errorf("unconfigured email send = %+v, want simulated success", res)
	}
}
