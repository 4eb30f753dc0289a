package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/studiolane/studiolane/internal/config"
	"go.uber.org/zap"
)

// Message template identifiers understood by the mailer service.
const (
	templatePaymentReceipt     = "billing_payment_receipt"
	templatePaymentFailure     = "billing_payment_failure"
	templatePaymentFinalNotice = "billing_payment_final_notice"
	templateAccountPaused      = "billing_account_paused"
	templateAccountDeactivated = "billing_account_deactivated"
)

// MailerClient sends billing messages through the transactional mailer
// service over HTTP.
type MailerClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	log      *zap.Logger
}

// NewMailerClient builds the mailer-backed notifier. An empty endpoint
// yields a Nop notifier so self-hosted installs run without a mailer.
func NewMailerClient(cfg config.Config, log *zap.Logger) Notifier {
	endpoint := strings.TrimSpace(cfg.Mailer.Endpoint)
	if endpoint == "" {
		log.Named("notify").Info("mailer endpoint not configured, notifications disabled")
		return Nop{}
	}
	timeout := cfg.Mailer.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MailerClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   cfg.Mailer.APIKey,
		client:   &http.Client{Timeout: timeout},
		log:      log.Named("notify.mailer"),
	}
}

type mailRequest struct {
	To       string         `json:"to"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
}

func (m *MailerClient) SendPaymentReceipt(ctx context.Context, to Recipient, receipt Receipt) error {
	return m.send(ctx, to, templatePaymentReceipt, map[string]any{
		"org_name":    to.OrgName,
		"amount":      receipt.Amount,
		"currency":    receipt.Currency,
		"receipt_url": receipt.ReceiptURL,
		"paid_at":     receipt.PaidAt,
	})
}

func (m *MailerClient) SendPaymentFailureWarning(ctx context.Context, to Recipient, warning FailureWarning) error {
	template := templatePaymentFailure
	if warning.Final {
		template = templatePaymentFinalNotice
	}
	return m.send(ctx, to, template, map[string]any{
		"org_name":    to.OrgName,
		"amount":      warning.Amount,
		"currency":    warning.Currency,
		"failed_at":   warning.FailedAt,
		"retry_count": warning.RetryCount,
	})
}

func (m *MailerClient) SendAccountPaused(ctx context.Context, to Recipient, reason string) error {
	return m.send(ctx, to, templateAccountPaused, map[string]any{
		"org_name": to.OrgName,
		"reason":   reason,
	})
}

func (m *MailerClient) SendAccountDeactivated(ctx context.Context, to Recipient, reason string) error {
	return m.send(ctx, to, templateAccountDeactivated, map[string]any{
		"org_name": to.OrgName,
		"reason":   reason,
	})
}

func (m *MailerClient) send(ctx context.Context, to Recipient, template string, data map[string]any) error {
	if strings.TrimSpace(to.Email) == "" {
		return ErrNoRecipient
	}
	data["org_id"] = to.OrgID

	body, err := json.Marshal(mailRequest{
		To:       to.Email,
		Template: template,
		Data:     data,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal mail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send %s: %w", template, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notify: mailer returned %d for %s", resp.StatusCode, template)
	}

	m.log.Debug("notification sent",
		zap.String("template", template),
		zap.String("org_id", to.OrgID),
	)
	return nil
}
