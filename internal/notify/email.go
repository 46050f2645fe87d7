package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SendGridConfig holds credentials for the SendGrid v3 mail API.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// BaseURL overrides the API host, used by tests.
	BaseURL string
	Timeout time.Duration
}

func (c SendGridConfig) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return "https://api.sendgrid.com"
}

func (c SendGridConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 8 * time.Second
}

// SendGridEmail sends email through the SendGrid HTTP API.
type SendGridEmail struct {
	cfg      SendGridConfig
	client   *http.Client
	composer *Composer
	logger   *zap.Logger
}

// NewSendGridEmail creates a SendGrid email provider.
func NewSendGridEmail(cfg SendGridConfig, composer *Composer, logger *zap.Logger) *SendGridEmail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendGridEmail{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.timeout()},
		composer: composer,
		logger:   logger,
	}
}

func (s *SendGridEmail) Name() string { return "sendgrid-email" }

func (s *SendGridEmail) Available() bool {
	return s.cfg.APIKey != "" && s.cfg.FromEmail != ""
}

func (s *SendGridEmail) Send(ctx context.Context, p SendParams) *Result {
	payload, err := json.Marshal(map[string]interface{}{
		"personalizations": []map[string]interface{}{
			{"to": []map[string]string{{"email": p.To}}},
		},
		"from":    map[string]string{"email": s.cfg.FromEmail, "name": s.cfg.FromName},
		"subject": s.composer.EmailSubject(p),
		"content": []map[string]string{
			{"type": "text/plain", "value": s.composer.Body(p)},
		},
	})
	if err != nil {
		return Failure(s.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.baseURL()+"/v3/mail/send", bytes.NewReader(payload))
	if err != nil {
		return Failure(s.Name(), err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(req)
	if err != nil {
		return Failure(s.Name(), fmt.Errorf("sendgrid request: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1<<16))
		return Failure(s.Name(), fmt.Errorf("sendgrid status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body))))
	}

	return &Result{
		OK:        true,
		MessageID: httpResp.Header.Get("X-Message-Id"),
		Provider:  s.Name(),
	}
}

// SMTPConfig holds credentials for the legacy SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// SMTPEmail sends email through a plain SMTP relay. Legacy secondary
// behind the SendGrid provider.
type SMTPEmail struct {
	cfg      SMTPConfig
	composer *Composer
	logger   *zap.Logger

	// sendMail is swappable for tests; net/smtp has no injectable transport.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPEmail creates an SMTP email provider.
func NewSMTPEmail(cfg SMTPConfig, composer *Composer, logger *zap.Logger) *SMTPEmail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPEmail{cfg: cfg, composer: composer, logger: logger, sendMail: smtp.SendMail}
}

func (s *SMTPEmail) Name() string { return "smtp-email" }

func (s *SMTPEmail) Available() bool {
	return s.cfg.Host != "" && s.cfg.From != ""
}

func (s *SMTPEmail) Send(_ context.Context, p SendParams) *Result {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		s.cfg.From, p.To, s.composer.EmailSubject(p), s.composer.Body(p))

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if err := s.sendMail(addr, auth, s.cfg.From, []string{p.To}, []byte(msg)); err != nil {
		return Failure(s.Name(), fmt.Errorf("smtp send: %w", err))
	}
	return &Result{OK: true, Provider: s.Name()}
}
