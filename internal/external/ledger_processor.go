package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"finops-api/internal/monitoring"
)

// InvoiceLine is one line item on an external invoice.
type InvoiceLine struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitAmount  decimal.Decimal `json:"unit_amount"`
}

// LedgerProcessor is the external accounting collaborator.
type LedgerProcessor interface {
	CreateInvoice(ctx context.Context, contactRef string, lines []InvoiceLine) (string, error)
}

type ledgerProcessor struct {
	config     *ProcessorConfig
	httpClient *http.Client
}

func NewLedgerProcessor(config *ProcessorConfig) LedgerProcessor {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 3
	}

	return &ledgerProcessor{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

func (l *ledgerProcessor) CreateInvoice(ctx context.Context, contactRef string, lines []InvoiceLine) (string, error) {
	items := make([]map[string]interface{}, 0, len(lines))
	for _, line := range lines {
		items = append(items, map[string]interface{}{
			"description": line.Description,
			"quantity":    line.Quantity,
			"unit_amount": line.UnitAmount.String(),
		})
	}

	payload := map[string]interface{}{
		"contact_id": contactRef,
		"line_items": items,
	}

	response, err := makeRequest(ctx, l.httpClient, l.config, "POST", "/v1/invoices", payload, false)
	if err != nil {
		monitoring.RecordProcessorCall("ledger", false)
		return "", err
	}
	monitoring.RecordProcessorCall("ledger", true)

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(response, &result); err != nil {
		return "", fmt.Errorf("failed to parse invoice response: %w", err)
	}

	return result.ID, nil
}
