package refunds

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ariefcatur/pcbuild-orders/internal/amqpx"
	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Response is published on payment/refund.response, correlated by request_id.
type Response struct {
	RequestID string `json:"request_id"`
	OrderID   string `json:"order_id,omitempty"`
	Success   bool   `json:"success"`
	Status    Status `json:"status"`
	RefundID  string `json:"refund_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Worker consumes refund.request. Transient failures go back to the queue's
// retry policy; settled and permanently failed requests get a response.
type Worker struct {
	Coordinator *Coordinator
	Publisher   amqpx.Publisher
	Log         *slog.Logger
}

func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) error {
	var req Request
	if err := json.Unmarshal(d.Body, &req); err != nil {
		return apperr.Validation("decode refund.request: %v", err)
	}
	if req.RequestID == "" {
		req.RequestID = d.MessageId
	}

	out, err := w.Coordinator.InitiateRefund(ctx, req)
	if err != nil && apperr.Retryable(err) {
		return err
	}

	resp := Response{RequestID: req.RequestID, OrderID: out.OrderID, Success: err == nil, Status: out.Status, RefundID: out.RefundID}
	if err != nil {
		resp.Status = StatusFailed
		resp.Error = err.Error()
	}
	if perr := amqpx.PublishJSON(ctx, w.Publisher, amqpx.ExchangePayment, amqpx.KeyRefundResponse, "refund:"+req.RequestID, resp); perr != nil {
		return perr
	}
	// answered, so the message is done even when the refund was refused
	w.Log.InfoContext(ctx, "refund request processed", "request_id", req.RequestID, "status", resp.Status, "success", resp.Success)
	return nil
}
