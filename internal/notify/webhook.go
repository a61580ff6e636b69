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

	"github.com/google/uuid"

	"quoteflow/internal/domain"
)

// Webhook posts each notification as JSON to a single endpoint.
type Webhook struct {
	URL    string
	Secret string
	Client *http.Client
	Now    func() time.Time
}

type webhookBody struct {
	ID          string           `json:"id"`
	Kind        string           `json:"kind"`
	TS          string           `json:"ts"`
	Recipient   Recipient        `json:"recipient"`
	QuotationID string           `json:"quotation_id"`
	Quotation   webhookQuotation `json:"quotation"`
	Payload     any              `json:"payload"`
}

type webhookQuotation struct {
	Number        string               `json:"number"`
	Title         string               `json:"title"`
	Status        domain.Status        `json:"status"`
	Version       string               `json:"version"`
	CreatedBy     string               `json:"created_by"`
	ClientID      string               `json:"client_id,omitempty"`
	Total         float64              `json:"total"`
	Currency      string               `json:"currency"`
	ApprovalLevel domain.ApprovalLevel `json:"approval_level,omitempty"`
}

// Notifier returns w as a Notifier.
func (w *Webhook) Notifier() Notifier {
	return Func(w.Post)
}

func (w *Webhook) Post(ctx context.Context, kind string, to Recipient, q domain.Quotation, payload any) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	body := webhookBody{
		ID:          uuid.NewString(),
		Kind:        kind,
		TS:          now().UTC().Format(time.RFC3339),
		Recipient:   to,
		QuotationID: q.ID,
		Quotation: webhookQuotation{
			Number:        q.Number,
			Title:         q.Title,
			Status:        q.Status,
			Version:       q.Version,
			CreatedBy:     q.CreatedBy,
			ClientID:      q.ClientID,
			Total:         q.Total,
			Currency:      q.Currency,
			ApprovalLevel: q.ApprovalLevel,
		},
		Payload: payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Quoteflow-Event", kind)
	req.Header.Set("X-Quoteflow-Delivery", body.ID)
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-Quoteflow-Secret", w.Secret)
	}
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
