package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TwilioConfig holds credentials for the direct Twilio REST API.
type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	FromNumber   string
	WhatsAppFrom string
	// TemplateSID is the pre-approved WhatsApp content template. Business
	// policy requires a template to message a user outside an open
	// conversation window.
	TemplateSID string
	// BaseURL overrides the API host, used by tests.
	BaseURL string
	Timeout time.Duration
}

func (c TwilioConfig) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return "https://api.twilio.com"
}

func (c TwilioConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 8 * time.Second
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// TwilioSMS sends SMS through the Twilio Messages API.
type TwilioSMS struct {
	cfg      TwilioConfig
	client   *http.Client
	composer *Composer
	logger   *zap.Logger
}

// NewTwilioSMS creates a Twilio SMS provider.
func NewTwilioSMS(cfg TwilioConfig, composer *Composer, logger *zap.Logger) *TwilioSMS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TwilioSMS{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.timeout()},
		composer: composer,
		logger:   logger,
	}
}

func (t *TwilioSMS) Name() string { return "twilio-sms" }

func (t *TwilioSMS) Available() bool {
	return t.cfg.AccountSID != "" && t.cfg.AuthToken != "" && t.cfg.FromNumber != ""
}

func (t *TwilioSMS) Send(ctx context.Context, p SendParams) *Result {
	form := url.Values{}
	form.Set("To", p.To)
	form.Set("From", t.cfg.FromNumber)
	form.Set("Body", t.composer.Body(p))

	resp, err := postTwilioMessage(ctx, t.client, t.cfg, form)
	if err != nil {
		return Failure(t.Name(), err)
	}
	return &Result{
		OK:        true,
		MessageID: resp.SID,
		Provider:  t.Name(),
		Metadata:  map[string]string{"status": resp.Status},
	}
}

// TwilioWhatsApp sends WhatsApp messages through the Twilio Messages API.
// It prefers the pre-approved content template and falls back to a
// free-text body if the transport rejects template delivery. That nested
// fallback is provider-internal, separate from the primary/secondary
// channel fallback.
type TwilioWhatsApp struct {
	cfg      TwilioConfig
	client   *http.Client
	composer *Composer
	logger   *zap.Logger
}

// NewTwilioWhatsApp creates a Twilio WhatsApp provider.
func NewTwilioWhatsApp(cfg TwilioConfig, composer *Composer, logger *zap.Logger) *TwilioWhatsApp {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TwilioWhatsApp{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.timeout()},
		composer: composer,
		logger:   logger,
	}
}

func (t *TwilioWhatsApp) Name() string { return "twilio-whatsapp" }

func (t *TwilioWhatsApp) Available() bool {
	return t.cfg.AccountSID != "" && t.cfg.AuthToken != "" && t.cfg.WhatsAppFrom != ""
}

func (t *TwilioWhatsApp) Send(ctx context.Context, p SendParams) *Result {
	to := "whatsapp:" + p.To
	from := "whatsapp:" + t.cfg.WhatsAppFrom

	if t.cfg.TemplateSID != "" {
		form := url.Values{}
		form.Set("To", to)
		form.Set("From", from)
		form.Set("ContentSid", t.cfg.TemplateSID)
		vars, _ := json.Marshal(map[string]string{
			"1": p.PatientName,
			"2": fmt.Sprintf("https://maps.google.com/?q=%.6f,%.6f", p.Lat, p.Lng),
			"3": p.NearestFacility,
		})
		form.Set("ContentVariables", string(vars))

		resp, err := postTwilioMessage(ctx, t.client, t.cfg, form)
		if err == nil {
			return &Result{
				OK:        true,
				MessageID: resp.SID,
				Provider:  t.Name(),
				Metadata:  map[string]string{"status": resp.Status, "template": "true"},
			}
		}
		t.logger.Warn("whatsapp template send rejected, falling back to free text",
			zap.String("to", p.To),
			zap.Error(err),
		)
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", t.composer.Body(p))

	resp, err := postTwilioMessage(ctx, t.client, t.cfg, form)
	if err != nil {
		return Failure(t.Name(), err)
	}
	return &Result{
		OK:        true,
		MessageID: resp.SID,
		Provider:  t.Name(),
		Metadata:  map[string]string{"status": resp.Status, "template": "false"},
	}
}

func postTwilioMessage(ctx context.Context, client *http.Client, cfg TwilioConfig, form url.Values) (*twilioResponse, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", cfg.baseURL(), cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio request: %w", err)
	}
	defer httpResp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1<<16))
	var resp twilioResponse
	_ = json.Unmarshal(body, &resp)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg := resp.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, fmt.Errorf("twilio status %d: %s", httpResp.StatusCode, msg)
	}
	return &resp, nil
}
