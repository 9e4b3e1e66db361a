// Package payout is the boundary to the external payout processor. The state
// machine only ever reaches it from PROCESSING; completion and failure come
// back asynchronously as Result messages.
package payout

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/eventra/payment-settlement/internal/adapters/rabbit"
	"github.com/eventra/payment-settlement/internal/domain"
)

type Processor interface {
	Submit(ctx context.Context, d domain.Disbursement) error
}

// Result is the processor's asynchronous answer to a Submit.
type Result struct {
	DisbursementID uuid.UUID `json:"disbursement_id"`
	Status         string    `json:"status"` // "COMPLETED" or "FAILED"
	Reason         string    `json:"reason,omitempty"`
}

const (
	ResultCompleted = "COMPLETED"
	ResultFailed    = "FAILED"
)

// RabbitProcessor submits payout requests over the topic exchange; the real
// processor consumes them and answers on the results queue.
type RabbitProcessor struct {
	pub *rabbit.Publisher
}

func NewRabbitProcessor(pub *rabbit.Publisher) *RabbitProcessor {
	return &RabbitProcessor{pub: pub}
}

func (p *RabbitProcessor) Submit(ctx context.Context, d domain.Disbursement) error {
	payload, err := json.Marshal(map[string]any{
		"disbursement_id":    d.ID,
		"payout_account_ref": d.PayoutAccountRef,
		"amount":             d.Amount,
	})
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		MessageId:   d.ID.String(),
		ContentType: "application/json",
		Body:        payload,
	}
	return p.pub.Publish(ctx, "payout.submit", msg)
}

func ParseResult(body []byte) (Result, error) {
	var res Result
	err := json.Unmarshal(body, &res)
	return res, err
}
