package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
)

func TestSendGridSend(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sg-key" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.Header().Set("X-Message-Id", "sg-msg-1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewSendGridEmail(SendGridConfig{
		APIKey:    "sg-key",
		FromEmail: "alerts@vitaqr.mx",
		FromName:  "VitaQR",
		BaseURL:   srv.URL,
	}, NewComposer(), nil)

	res := p.Send(context.Background(), SendParams{
		To:          "rep@example.com",
		PatientName: "María",
		Event:       EventPanic,
	})
	if !res.OK {
		t.Fatalf("send failed: %s", res.Error)
	}
	if res.MessageID != "sg-msg-1" {
		t.Errorf("MessageID = %q, want sg-msg-1", res.MessageID)
	}
	if subj, _ := payload["subject"].(string); !strings.Contains(subj, "María") {
		t.Errorf("subject missing patient name: %q", subj)
	}
}

func TestSendGridErrorResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errors":[{"message":"forbidden"}]}`))
	}))
	defer srv.Close()

	p := NewSendGridEmail(SendGridConfig{APIKey: "k", FromEmail: "a@b.c", BaseURL: srv.URL}, NewComposer(), nil)
	res := p.Send(context.Background(), SendParams{To: "rep@example.com"})
	if res.OK {
		t.Fatal("expected failure result")
	}
	if !strings.Contains(res.Error, "403") {
		t.Errorf("error should carry the status code: %q", res.Error)
	}
}

func TestSMTPSend(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string

	p := NewSMTPEmail(SMTPConfig{Host: "mail.local", Port: 587, From: "alerts@vitaqr.mx"}, NewComposer(), nil)
	p.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	res := p.Send(context.Background(), SendParams{
		To:          "rep@example.com",
		PatientName: "María",
		Event:       EventAccess,
	})
	if !res.OK {
		t.Fatalf("send failed: %s", res.Error)
	}
	if gotAddr != "mail.local:587" || gotFrom != "alerts@vitaqr.mx" {
		t.Errorf("addr=%q from=%q", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "rep@example.com" {
		t.Errorf("to = %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: ") || !strings.Contains(gotMsg, "María") {
		t.Errorf("message missing headers or body:\n%s", gotMsg)
	}
}

func TestSMTPSendFailure(t *testing.T) {
	p := NewSMTPEmail(SMTPConfig{Host: "mail.local", Port: 25, From: "a@b.c"}, NewComposer(), nil)
	p.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	res := p.Send(context.Background(), SendParams{To: "rep@example.com"})
	if res.OK {
		t.Fatal("expected failure result")
	}
	if res.Provider != "smtp-email" || !strings.Contains(res.Error, "connection refused") {
		t.Errorf("unexpected failure result: %+v", res)
	}
}
