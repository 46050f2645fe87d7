package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// GatewayConfig holds credentials for the legacy aggregator gateway that
// predates the direct vendor APIs. Kept as the secondary provider so either
// side of a migration can be toggled primary.
type GatewayConfig struct {
	URL     string
	APIKey  string
	Sender  string
	Timeout time.Duration
}

func (c GatewayConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 8 * time.Second
}

type gatewayRequest struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Sender  string `json:"sender,omitempty"`
	Message string `json:"message"`
}

type gatewayResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Gateway is the legacy gateway provider for one messaging channel.
type Gateway struct {
	channel  Channel
	cfg      GatewayConfig
	client   *http.Client
	composer *Composer
	logger   *zap.Logger
}

// NewGateway creates a legacy gateway provider for the given channel
// (SMS or WhatsApp).
func NewGateway(channel Channel, cfg GatewayConfig, composer *Composer, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		channel:  channel,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.timeout()},
		composer: composer,
		logger:   logger,
	}
}

func (g *Gateway) Name() string { return fmt.Sprintf("gateway-%s", g.channel) }

func (g *Gateway) Available() bool {
	return g.cfg.URL != "" && g.cfg.APIKey != ""
}

func (g *Gateway) Send(ctx context.Context, p SendParams) *Result {
	payload, err := json.Marshal(gatewayRequest{
		Channel: string(g.channel),
		To:      p.To,
		Sender:  g.cfg.Sender,
		Message: g.composer.Body(p),
	})
	if err != nil {
		return Failure(g.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return Failure(g.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", g.cfg.APIKey)

	httpResp, err := g.client.Do(req)
	if err != nil {
		return Failure(g.Name(), fmt.Errorf("gateway request: %w", err))
	}
	defer httpResp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1<<16))
	var resp gatewayResponse
	_ = json.Unmarshal(body, &resp)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg := resp.Error
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return Failure(g.Name(), fmt.Errorf("gateway status %d: %s", httpResp.StatusCode, msg))
	}

	return &Result{
		OK:        true,
		MessageID: resp.ID,
		Provider:  g.Name(),
		Metadata:  map[string]string{"status": resp.Status},
	}
}
