// Package payments wraps the payment gateway. The engine records payment
// outcomes; it never computes amounts beyond the listed service price plus
// the configured tax rate.
package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/refund"
)

// Order is a created gateway order awaiting client-side payment.
type Order struct {
	OrderID      string // gateway intent id
	ClientSecret string // handed to the patient app to complete checkout
	AmountCents  int64
}

// Gateway is the engine-facing payment contract.
type Gateway interface {
	CreateOrder(ctx context.Context, amountCents int64, receipt string) (Order, error)
	Refund(ctx context.Context, paymentID string, amountCents int64, reason string) error
}

type Config struct {
	SecretKey string
	Currency  string
}

// StripeGateway implements Gateway on Stripe PaymentIntents.
type StripeGateway struct {
	currency string
}

func NewStripeGateway(cfg Config) *StripeGateway {
	stripe.Key = strings.TrimSpace(cfg.SecretKey)
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &StripeGateway{currency: currency}
}

// Configured reports whether a secret key was supplied. An unconfigured
// gateway rejects every call rather than pretending success.
func (g *StripeGateway) Configured() bool {
	return stripe.Key != ""
}

func (g *StripeGateway) CreateOrder(ctx context.Context, amountCents int64, receipt string) (Order, error) {
	if !g.Configured() {
		return Order{}, fmt.Errorf("stripe gateway not configured")
	}
	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(g.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("receipt", receipt)

	pi, err := paymentintent.New(params)
	if err != nil {
		return Order{}, fmt.Errorf("create payment intent: %w", err)
	}
	return Order{OrderID: pi.ID, ClientSecret: pi.ClientSecret, AmountCents: amountCents}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, paymentID string, amountCents int64, reason string) error {
	if !g.Configured() {
		return fmt.Errorf("stripe gateway not configured")
	}
	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(paymentID),
		Amount:        stripe.Int64(amountCents),
	}
	if reason != "" {
		params.AddMetadata("reason", reason)
	}
	if _, err := refund.New(params); err != nil {
		return fmt.Errorf("refund %s: %w", paymentID, err)
	}
	return nil
}
