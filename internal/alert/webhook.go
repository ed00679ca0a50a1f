package alert

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookChannel posts alerts as JSON to a generic webhook endpoint
type WebhookChannel struct {
	url    string
	client *resty.Client
}

func NewWebhookChannel(url string) *WebhookChannel {
	client := resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &WebhookChannel{url: url, client: client}
}

func (w *WebhookChannel) Name() string {
	return "webhook"
}

func (w *WebhookChannel) Send(ctx context.Context, alert Payload) error {
	if w.url == "" {
		return nil
	}

	body := map[string]interface{}{
		"level":   string(alert.Level),
		"title":   alert.Title,
		"message": alert.Message,
		"ts":      alert.Timestamp.Unix(),
		"fields":  alert.Fields,
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(w.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}

var _ Channel = (*WebhookChannel)(nil)
