package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lebenslotse/lifeplan/config"
	"github.com/lebenslotse/lifeplan/storage"
)

// SendResult is the provider outcome for one delivery attempt. Status and
// failure class drive the outbox transition; the dispatcher never raises
// provider failures further.
type SendResult struct {
	Status            string
	FailureClass      string
	ErrorCode         string
	ErrorMessage      string
	ProviderMessageID string
}

// Provider sends a rendered email to one recipient.
type Provider interface {
	Send(ctx context.Context, toEmail string, rendered RenderedEmail) SendResult
}

// providerTimeout is the fixed wire timeout; timeouts classify retryable.
const providerTimeout = 10 * time.Second

// BrevoProvider delivers email through the Brevo transactional API. A
// circuit breaker sits around the wire call; an open breaker is a retryable
// outcome like any other transport failure.
type BrevoProvider struct {
	cfg     config.EmailConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewBrevoProvider creates the provider from the email configuration.
func NewBrevoProvider(cfg config.EmailConfig, logger *slog.Logger) *BrevoProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrevoProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: providerTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "brevo",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		logger: logger,
	}
}

type brevoRequest struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	TextContent string         `json:"textContent"`
	HTMLContent string         `json:"htmlContent,omitempty"`
	Tracking    brevoTracking  `json:"tracking"`
}

type brevoAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoTracking struct {
	Opens  bool `json:"opens"`
	Clicks bool `json:"clicks"`
}

// Send delivers one email and classifies the outcome.
func (p *BrevoProvider) Send(ctx context.Context, toEmail string, rendered RenderedEmail) SendResult {
	if p.cfg.DryRun {
		return SendResult{Status: storage.OutboxStatusSent, ProviderMessageID: "dry-run"}
	}

	if len(p.cfg.AllowedRecipientDomains) > 0 && !p.recipientAllowed(toEmail) {
		return SendResult{
			Status:       storage.OutboxStatusDead,
			FailureClass: storage.FailurePermanent,
			ErrorCode:    "RECIPIENT_DOMAIN_NOT_ALLOWED",
			ErrorMessage: "recipient domain is not in whitelist",
		}
	}

	if p.cfg.BrevoAPIKey == "" {
		return SendResult{
			Status:       storage.OutboxStatusDead,
			FailureClass: storage.FailurePermanent,
			ErrorCode:    "BREVO_API_KEY_MISSING",
			ErrorMessage: "BREVO_API_KEY missing",
		}
	}

	body, err := json.Marshal(brevoRequest{
		Sender:      brevoAddress{Name: p.cfg.FromName, Email: p.cfg.FromAddress},
		To:          []brevoAddress{{Email: toEmail}},
		Subject:     rendered.Subject,
		TextContent: rendered.TextBody,
		HTMLContent: rendered.HTMLBody,
	})
	if err != nil {
		return SendResult{
			Status:       storage.OutboxStatusDead,
			FailureClass: storage.FailurePermanent,
			ErrorCode:    "MARSHAL_ERROR",
			ErrorMessage: err.Error(),
		}
	}

	raw, err := p.breaker.Execute(func() (any, error) {
		return p.post(ctx, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return SendResult{
			Status:       storage.OutboxStatusPending,
			FailureClass: storage.FailureRetryable,
			ErrorCode:    "CIRCUIT_OPEN",
			ErrorMessage: err.Error(),
		}
	}
	if err != nil {
		code := "HTTP_ERROR"
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			code = "TIMEOUT"
		} else if errors.Is(err, context.DeadlineExceeded) {
			code = "TIMEOUT"
		}
		return SendResult{
			Status:       storage.OutboxStatusPending,
			FailureClass: storage.FailureRetryable,
			ErrorCode:    code,
			ErrorMessage: err.Error(),
		}
	}

	return raw.(SendResult)
}

// post performs the wire call. Only transport errors surface as errors so
// the breaker trips on connectivity, not on HTTP status codes.
func (p *BrevoProvider) post(ctx context.Context, body []byte) (SendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BrevoBaseURL+"/smtp/email", bytes.NewReader(body))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("api-key", p.cfg.BrevoAPIKey)
	req.Header.Set("accept", "application/json")
	req.Header.Set("content-type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return SendResult{}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed struct {
			MessageID string `json:"messageId"`
		}
		_ = json.Unmarshal(respBody, &parsed)
		return SendResult{
			Status:            storage.OutboxStatusSent,
			ProviderMessageID: parsed.MessageID,
		}, nil
	}

	code := fmt.Sprintf("HTTP_%d", resp.StatusCode)
	message := string(respBody)
	if len(message) > 500 {
		message = message[:500]
	}

	if resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusConflict ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= 500 {
		return SendResult{
			Status:       storage.OutboxStatusPending,
			FailureClass: storage.FailureRetryable,
			ErrorCode:    code,
			ErrorMessage: message,
		}, nil
	}

	return SendResult{
		Status:       storage.OutboxStatusDead,
		FailureClass: storage.FailurePermanent,
		ErrorCode:    code,
		ErrorMessage: message,
	}, nil
}

func (p *BrevoProvider) recipientAllowed(toEmail string) bool {
	at := strings.LastIndex(toEmail, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(toEmail[at+1:])
	for _, allowed := range p.cfg.AllowedRecipientDomains {
		if domain == allowed {
			return true
		}
	}
	return false
}
