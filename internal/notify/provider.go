// Package notify implements the multi-channel emergency notification
// pipeline: channel capabilities, concrete transport providers, automatic
// provider fallback, and the per-recipient dispatcher.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vitaqr/go-eds/pkg/circuitbreaker"
)

// Channel is one communication medium.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// EventType distinguishes a panic trigger from a QR access event.
type EventType string

const (
	EventPanic  EventType = "panic"
	EventAccess EventType = "access"
)

// FacilityInfo is the short facility reference embedded in messages.
type FacilityInfo struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// SendParams carries everything a provider needs to compose and deliver one
// message.
type SendParams struct {
	To              string
	PatientName     string
	Lat             float64
	Lng             float64
	Event           EventType
	AccessorName    string
	NearestFacility string
	Facilities      []FacilityInfo
	Locale          string
}

// Result is the outcome of one provider send. Providers report failure
// through the result, never by panicking; the dispatcher treats Error as
// data.
type Result struct {
	OK        bool
	MessageID string
	Error     string
	Provider  string
	Simulated bool
	Metadata  map[string]string
}

// Failure builds a failed result attributed to the named provider.
func Failure(provider string, err error) *Result {
	msg := "send failed"
	if err != nil {
		msg = err.Error()
	}
	return &Result{OK: false, Error: msg, Provider: provider}
}

// Provider is a concrete transport for one channel. Available reports true
// only when the provider has usable credentials/configuration; an
// unavailable provider's Send is never called by the fallback decorator.
type Provider interface {
	Send(ctx context.Context, p SendParams) *Result
	Available() bool
	Name() string
}

// Simulated is the no-transport development provider. When a channel has no
// configured concrete implementation the dispatcher still needs a
// successful, clearly-marked result so the rest of the pipeline stays
// testable without live transports.
type Simulated struct {
	channel Channel
}

// NewSimulated creates a simulation provider for a channel.
func NewSimulated(channel Channel) *Simulated {
	return &Simulated{channel: channel}
}

func (s *Simulated) Name() string    { return fmt.Sprintf("simulated-%s", s.channel) }
func (s *Simulated) Available() bool { return true }

func (s *Simulated) Send(_ context.Context, p SendParams) *Result {
	return &Result{
		OK:        true,
		MessageID: "sim-" + uuid.New().String()[:8],
		Provider:  s.Name(),
		Simulated: true,
		Metadata: map[string]string{
			"simulated": "true",
			"to":        p.To,
			"location":  fmt.Sprintf("%.5f,%.5f", p.Lat, p.Lng),
		},
	}
}

// breakerProvider guards a transport with a circuit breaker. An open
// breaker makes the provider report unavailable, which steers the fallback
// decorator to the secondary without waiting out another timeout.
type breakerProvider struct {
	inner Provider
	cb    *circuitbreaker.CircuitBreaker
}

// WithBreaker wraps a provider with a circuit breaker.
func WithBreaker(inner Provider, cb *circuitbreaker.CircuitBreaker) Provider {
	return &breakerProvider{inner: inner, cb: cb}
}

func (b *breakerProvider) Name() string { return b.inner.Name() }

func (b *breakerProvider) Available() bool {
	return b.inner.Available() && !b.cb.IsOpen()
}

func (b *breakerProvider) Send(ctx context.Context, p SendParams) *Result {
	var result *Result
	_, err := b.cb.Execute(ctx, func() (interface{}, error) {
		result = b.inner.Send(ctx, p)
		if !result.OK {
			return nil, errors.New(result.Error)
		}
		return result, nil
	})
	if err != nil && result == nil {
		// Rejected by the breaker before the transport ran.
		return Failure(b.inner.Name(), err)
	}
	return result
}
