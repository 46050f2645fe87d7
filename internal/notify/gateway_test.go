package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGatewaySend(t *testing.T) {
	var got gatewayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k123" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`{"id":"gw-1","status":"accepted"}`))
	}))
	defer srv.Close()

	g := NewGateway(ChannelSMS, GatewayConfig{URL: srv.URL, APIKey: "k123", Sender: "VITAQR"}, NewComposer(), nil)
	if !g.Available() {
		t.Fatal("configured gateway should be available")
	}
	if g.Name() != "gateway-sms" {
		t.Errorf("Name() = %q", g.Name())
	}

	res := g.Send(context.Background(), SendParams{
		To:          "+5215511111111",
		PatientName: "María",
		Event:       EventPanic,
	})
	if !res.OK {
		t.Fatalf("send failed: %s", res.Error)
	}
	if res.MessageID != "gw-1" {
		t.Errorf("MessageID = %q, want gw-1", res.MessageID)
	}
	if got.Channel != "sms" || got.To != "+5215511111111" || got.Sender != "VITAQR" {
		t.Errorf("unexpected request payload: %+v", got)
	}
	if got.Message == "" {
		t.Errorf("expected a composed message body")
	}
}

func TestGatewayErrorResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"downstream unavailable"}`))
	}))
	defer srv.Close()

	g := NewGateway(ChannelWhatsApp, GatewayConfig{URL: srv.URL, APIKey: "k123"}, NewComposer(), nil)
	res := g.Send(context.Background(), SendParams{To: "+5215511111111"})
	if res.OK {
		t.Fatal("expected failure result")
	}
	if res.Provider != "gateway-whatsapp" {
		t.Errorf("failure must name the provider, got %q", res.Provider)
	}
}

func TestGatewayUnavailableWithoutConfig(t *testing.T) {
	g := NewGateway(ChannelSMS, GatewayConfig{}, NewComposer(), nil)
	if g.Available() {
		t.Error("gateway without url and key must be unavailable")
	}
}
