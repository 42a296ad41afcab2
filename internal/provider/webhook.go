package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/delivery-tracker/internal/domain"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	maxErrorBodyLength    = 512
)

// receiptHeaders are checked in order for a provider message id when the
// response body carries none.
var receiptHeaders = []string{"X-Request-ID", "X-Message-ID", "X-Correlation-ID"}

type webhookAck struct {
	MessageID string `json:"messageId"`
}

// WebhookSiteProvider posts each side effect, rendered for its channel, to a
// webhook.site-compatible endpoint that fronts the mail relay, the SMS
// gateway and the pharmacy note printer.
type WebhookSiteProvider struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookSiteProvider(endpoint string) (*WebhookSiteProvider, error) {
	return NewWebhookSiteProviderWithClient(endpoint, resty.New().SetTimeout(defaultWebhookTimeout))
}

func NewWebhookSiteProviderWithClient(endpoint string, client *resty.Client) (*WebhookSiteProvider, error) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case endpoint == "":
		return nil, fmt.Errorf("webhook endpoint is required")
	case client == nil:
		return nil, fmt.Errorf("resty client is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	// Retries belong to the dispatch worker, which records every attempt.
	client.SetRetryCount(0)

	return &WebhookSiteProvider{client: client, endpoint: endpoint}, nil
}

func (p *WebhookSiteProvider) Send(ctx context.Context, sideEffect domain.SideEffect) (*Receipt, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if err := sideEffect.Validate(); err != nil {
		return nil, &SendError{Kind: sideEffect.Kind, Message: "invalid side effect", Cause: err}
	}
	body, err := render(sideEffect)
	if err != nil {
		return nil, &SendError{Kind: sideEffect.Kind, Message: "cannot render " + channel(sideEffect.Kind), Cause: err}
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Correlation-ID", sideEffect.CorrelationID).
		SetHeader("X-Side-Effect-Kind", channel(sideEffect.Kind)).
		SetHeader("Idempotency-Key", sideEffect.ID).
		SetBody(body).
		SetResult(&webhookAck{}).
		Post(p.endpoint)
	if err != nil {
		return nil, &SendError{
			Kind:      sideEffect.Kind,
			Message:   "webhook request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	return receiptFor(sideEffect.Kind, response)
}

func receiptFor(kind domain.SideEffectKind, response *resty.Response) (*Receipt, error) {
	status := response.StatusCode()
	text := strings.TrimSpace(response.String())

	if !response.IsSuccess() {
		if len(text) > maxErrorBodyLength {
			text = text[:maxErrorBodyLength]
		}
		message := fmt.Sprintf("webhook returned status %d", status)
		if text != "" {
			message += ": " + text
		}
		return nil, &SendError{
			Kind:       kind,
			StatusCode: status,
			Message:    message,
			Transient:  status == http.StatusTooManyRequests || status >= http.StatusInternalServerError,
		}
	}

	receipt := &Receipt{StatusCode: status, Body: text}
	if ack, ok := response.Result().(*webhookAck); ok && strings.TrimSpace(ack.MessageID) != "" {
		receipt.MessageID = strings.TrimSpace(ack.MessageID)
		return receipt, nil
	}
	for _, header := range receiptHeaders {
		if value := strings.TrimSpace(response.Header().Get(header)); value != "" {
			receipt.MessageID = value
			break
		}
	}
	return receipt, nil
}
