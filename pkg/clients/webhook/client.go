package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mamadbah2/reqsync/internal/config"
	"github.com/mamadbah2/reqsync/internal/domain/models"
)

// ErrNotConfigured indicates the webhook URL is empty.
var ErrNotConfigured = errors.New("webhook url not configured")

// Client posts cycle reports to an HTTP endpoint.
type Client interface {
	NotifyCycle(ctx context.Context, report models.CycleReport) error
}

// APIClient is a resty-backed implementation of Client.
type APIClient struct {
	httpClient *resty.Client
	url        string
}

// NewClient builds a webhook client using the provided configuration values.
func NewClient(cfg config.WebhookConfig) (*APIClient, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}

	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	restyClient := resty.New()
	restyClient.
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "reqsync").
		SetTimeout(timeout)
	if cfg.Token != "" {
		restyClient.SetAuthToken(cfg.Token)
	}

	return &APIClient{
		httpClient: restyClient,
		url:        cfg.URL,
	}, nil
}

// apiError is the optional error payload returned by the receiving endpoint.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NotifyCycle posts the report as JSON. Any non-2xx response is an error.
func (c *APIClient) NotifyCycle(ctx context.Context, report models.CycleReport) error {
	apiErr := new(apiError)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(report).
		SetError(apiErr).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("post cycle report: %w", err)
	}

	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		message := apiErr.Message
		if message == "" {
			message = apiErr.Error
		}
		return fmt.Errorf("webhook error: code=%d, message=%s", resp.StatusCode(), message)
	}

	return nil
}
