package external

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"finops-api/internal/monitoring"
)

// ProcessorError is an opaque failure reported by an external processor.
type ProcessorError struct {
	Code    int
	Message string
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor error %d: %s", e.Code, e.Message)
}

// ErrProcessorTimeout marks a call that exceeded its deadline. Callers map
// it to a processor_timeout failure reason.
var ErrProcessorTimeout = errors.New("processor timeout")

// PaymentProcessor is the external payment collaborator (card payments
// and refunds).
type PaymentProcessor interface {
	CreatePayment(ctx context.Context, amount decimal.Decimal, currency, customerRef string, metadata map[string]string) (string, error)
	CreateRefund(ctx context.Context, originalRef string, amount decimal.Decimal) (string, error)
	GetBalance(ctx context.Context, customerRef string) (decimal.Decimal, error)
}

type paymentProcessor struct {
	config     *ProcessorConfig
	httpClient *http.Client
}

type ProcessorConfig struct {
	APIKey        string
	APISecret     string
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int
}

func NewPaymentProcessor(config *ProcessorConfig) PaymentProcessor {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 3
	}

	return &paymentProcessor{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

func (p *paymentProcessor) CreatePayment(ctx context.Context, amount decimal.Decimal, currency, customerRef string, metadata map[string]string) (string, error) {
	payload := map[string]interface{}{
		"amount":      amount.String(),
		"currency":    currency,
		"customer_id": customerRef,
		"metadata":    metadata,
	}

	// Mutating calls are sent exactly once; retry policy belongs to the
	// caller, which tracks idempotency by transaction id.
	response, err := makeRequest(ctx, p.httpClient, p.config, "POST", "/v1/payments", payload, false)
	if err != nil {
		monitoring.RecordProcessorCall("payment", false)
		return "", err
	}
	monitoring.RecordProcessorCall("payment", true)

	var result struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(response, &result); err != nil {
		return "", fmt.Errorf("failed to parse payment response: %w", err)
	}

	return result.ID, nil
}

func (p *paymentProcessor) CreateRefund(ctx context.Context, originalRef string, amount decimal.Decimal) (string, error) {
	payload := map[string]interface{}{
		"payment_id": originalRef,
		"amount":     amount.String(),
	}

	response, err := makeRequest(ctx, p.httpClient, p.config, "POST", "/v1/refunds", payload, false)
	if err != nil {
		monitoring.RecordProcessorCall("payment", false)
		return "", err
	}
	monitoring.RecordProcessorCall("payment", true)

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(response, &result); err != nil {
		return "", fmt.Errorf("failed to parse refund response: %w", err)
	}

	return result.ID, nil
}

func (p *paymentProcessor) GetBalance(ctx context.Context, customerRef string) (decimal.Decimal, error) {
	response, err := makeRequest(ctx, p.httpClient, p.config, "GET", "/v1/customers/"+customerRef+"/balance", nil, true)
	if err != nil {
		monitoring.RecordProcessorCall("payment", false)
		return decimal.Zero, err
	}
	monitoring.RecordProcessorCall("payment", true)

	var result struct {
		Available string `json:"available"`
	}
	if err := json.Unmarshal(response, &result); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance response: %w", err)
	}

	available, err := decimal.NewFromString(result.Available)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance amount: %w", err)
	}

	return available, nil
}

// makeRequest sends one signed request. Idempotent reads retry on
// transport failures and 5xx; mutating calls never do.
func makeRequest(ctx context.Context, client *http.Client, config *ProcessorConfig, method, endpoint string, payload interface{}, idempotent bool) ([]byte, error) {
	var jsonData []byte
	if payload != nil {
		var err error
		jsonData, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	attempts := 1
	if idempotent {
		attempts = config.RetryAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}

		var body io.Reader
		if jsonData != nil {
			body = bytes.NewBuffer(jsonData)
		}

		req, err := http.NewRequestWithContext(ctx, method, config.BaseURL+endpoint, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		if jsonData != nil {
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Signature", signRequest(config.APISecret, method, endpoint, jsonData))
		}
		req.Header.Set("Authorization", "Bearer "+config.APIKey)

		resp, err := client.Do(req)
		if err != nil {
			if isTimeout(err) {
				lastErr = fmt.Errorf("%s %s: %w", method, endpoint, ErrProcessorTimeout)
			} else {
				lastErr = fmt.Errorf("request failed: %w", err)
			}
			continue
		}

		responseBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", readErr)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = processorErrorFrom(resp.StatusCode, responseBody)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, processorErrorFrom(resp.StatusCode, responseBody)
		}

		return responseBody, nil
	}

	return nil, lastErr
}

func processorErrorFrom(status int, body []byte) error {
	var errorResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	message := string(body)
	if json.Unmarshal(body, &errorResp) == nil && errorResp.Message != "" {
		message = errorResp.Message
	}

	return &ProcessorError{Code: status, Message: message}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func signRequest(secret, method, endpoint string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method))
	mac.Write([]byte(endpoint))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
