package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// WebhookProvider POSTs booking changes as JSON. Targets on private
// networks need "allow_private_network": true in their config.
type WebhookProvider struct {
	public  *http.Client
	private *http.Client
}

func init() {
	RegisterProvider(&WebhookProvider{
		public:  guardedClient(NewURLGuard(false)),
		private: guardedClient(NewURLGuard(true)),
	})
}

func guardedClient(guard *URLGuard) *http.Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second, Control: guard.Control}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil

	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			return guard.CheckURL(req.URL.String())
		},
	}
}

func allowPrivate(config map[string]interface{}) bool {
	allowed, _ := config["allow_private_network"].(bool)
	return allowed
}

func (w *WebhookProvider) Name() string {
	return "webhook"
}

func (w *WebhookProvider) Send(ctx context.Context, target *Target, message *Message) error {
	webhookURL, _ := target.Config["webhook_url"].(string)
	method, _ := target.Config["method"].(string)
	customHeaders, _ := target.Config["headers"].(map[string]interface{})

	if webhookURL == "" {
		return fmt.Errorf("webhook_url is required")
	}
	if method == "" {
		method = http.MethodPost
	}

	payload := struct {
		*Message
		Text string `json:"text"`
	}{Message: message, Text: FormatMessage(message)}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, webhookURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "schedsync/1.0")
	for key, value := range customHeaders {
		if strValue, ok := value.(string); ok {
			req.Header.Set(key, strValue)
		}
	}

	client := w.public
	if allowPrivate(target.Config) {
		client = w.private
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (w *WebhookProvider) Validate(config map[string]interface{}) error {
	raw, ok := config["webhook_url"].(string)
	if !ok || raw == "" {
		return fmt.Errorf("webhook_url is required")
	}
	if err := NewURLGuard(allowPrivate(config)).CheckURL(raw); err != nil {
		return fmt.Errorf("webhook_url: %w", err)
	}
	return nil
}
