package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeGateway implements Gateway on Stripe Checkout and Refunds.
type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string, backends *stripe.Backends) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, backends)}
}

// gatewayErr classifies a Stripe failure. 404 is not found. Other 4xx
// answers are rejections, except 409 (a concurrent idempotent request) and
// 429, which are worth retrying like network and 5xx errors.
func gatewayErr(err error, op string) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return apperr.Wrap(apperr.ErrGateway, err, "%s", op)
	}
	switch code := se.HTTPStatusCode; {
	case code == http.StatusNotFound:
		return apperr.Wrap(apperr.ErrNotFound, err, "%s", op)
	case code == http.StatusConflict, code == http.StatusTooManyRequests:
		return apperr.Wrap(apperr.ErrGateway, err, "%s", op)
	case code >= 400 && code < 500:
		return apperr.Wrap(apperr.ErrGatewayRejected, err, "%s", op)
	}
	return apperr.Wrap(apperr.ErrGateway, err, "%s", op)
}

func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	name := req.ProductName
	if name == "" {
		name = "PC build"
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
				UnitAmount: stripe.Int64(req.AmountCents),
			},
			Quantity: stripe.Int64(1),
		}},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, gatewayErr(err, "create checkout session")
	}
	return toSession(s), nil
}

func (g *StripeGateway) GetSession(ctx context.Context, sessionID string) (Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return Session{}, gatewayErr(err, "get checkout session")
	}
	return toSession(s), nil
}

func toSession(s *stripe.CheckoutSession) Session {
	out := Session{
		SessionID:     s.ID,
		CheckoutURL:   s.URL,
		AmountCents:   s.AmountTotal,
		Currency:      string(s.Currency),
		CustomerEmail: s.CustomerEmail,
		PaymentStatus: string(s.PaymentStatus),
		Metadata:      s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.PaymentReference = s.PaymentIntent.ID
	}
	if out.CustomerEmail == "" && s.CustomerDetails != nil {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	return out
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (Refund, error) {
	reason := req.Reason
	if reason == "" {
		reason = ReasonRequestedByCustomer
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentReference),
		Reason:        stripe.String(reason),
	}
	if req.AmountCents != nil {
		params.Amount = stripe.Int64(*req.AmountCents)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return Refund{}, gatewayErr(err, "create refund")
	}
	return toRefund(r), nil
}

func (g *StripeGateway) GetRefund(ctx context.Context, refundID string) (Refund, error) {
	params := &stripe.RefundParams{}
	params.Context = ctx
	r, err := g.api.Refunds.Get(refundID, params)
	if err != nil {
		return Refund{}, gatewayErr(err, "get refund")
	}
	return toRefund(r), nil
}

func toRefund(r *stripe.Refund) Refund {
	return Refund{
		RefundID:    r.ID,
		Status:      RefundStatus(r.Status),
		AmountCents: r.Amount,
		Currency:    string(r.Currency),
	}
}
