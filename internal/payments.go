package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

type PaymentRequest struct {
	Amount         int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

type PaymentReference struct {
	ID           string
	ClientSecret string
}

// PaymentProvider issues a reference for a paid submission. Calls with the same
// idempotency key return the same reference.
type PaymentProvider interface {
	CreatePaymentReference(ctx context.Context, req PaymentRequest) (PaymentReference, error)
	// LookupPaymentReference reloads an issued reference, client secret included.
	LookupPaymentReference(ctx context.Context, id string) (PaymentReference, error)
}

/* ===================== STRIPE ===================== */

type stripePayments struct {
	sc *client.API
}

// NewStripePayments creates PaymentIntents through the Stripe API. backends may
// be nil to use the default endpoints.
func NewStripePayments(secretKey string, backends *stripe.Backends) PaymentProvider {
	if backends == nil {
		httpClient := &http.Client{Timeout: 10 * time.Second}
		backends = &stripe.Backends{
			API:     stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{HTTPClient: httpClient}),
			Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, &stripe.BackendConfig{HTTPClient: httpClient}),
			Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, &stripe.BackendConfig{HTTPClient: httpClient}),
		}
	}
	return &stripePayments{sc: client.New(secretKey, backends)}
}

func (p *stripePayments) CreatePaymentReference(ctx context.Context, req PaymentRequest) (PaymentReference, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := p.sc.PaymentIntents.New(params)
	if err != nil {
		return PaymentReference{}, stripeError(err)
	}
	return PaymentReference{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (p *stripePayments) LookupPaymentReference(ctx context.Context, id string) (PaymentReference, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.sc.PaymentIntents.Get(id, params)
	if err != nil {
		return PaymentReference{}, stripeError(err)
	}
	return PaymentReference{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func stripeError(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		return wrapError(KindPayment, "payment provider rejected the request", err)
	}
	return wrapError(KindPayment, "payment provider unavailable", err)
}

/* ===================== SIMULATED ===================== */

// simulatedPayments issues local references without charging anyone. Used when
// no Stripe key is configured.
type simulatedPayments struct {
	mu     sync.Mutex
	issued map[string]string
}

func NewSimulatedPayments() PaymentProvider {
	return &simulatedPayments{issued: map[string]string{}}
}

func (p *simulatedPayments) CreatePaymentReference(ctx context.Context, req PaymentRequest) (PaymentReference, error) {
	if err := ctx.Err(); err != nil {
		return PaymentReference{}, wrapError(KindPayment, "payment cancelled", err)
	}
	if req.Amount <= 0 {
		return PaymentReference{}, newError(KindPayment, fmt.Sprintf("invalid amount %d", req.Amount))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.issued[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return PaymentReference{ID: id}, nil
	}
	id := "payment_" + uuid.NewString()
	if req.IdempotencyKey != "" {
		p.issued[req.IdempotencyKey] = id
	}
	return PaymentReference{ID: id}, nil
}

// LookupPaymentReference echoes id; simulated references carry no client secret.
func (p *simulatedPayments) LookupPaymentReference(ctx context.Context, id string) (PaymentReference, error) {
	if err := ctx.Err(); err != nil {
		return PaymentReference{}, wrapError(KindPayment, "payment cancelled", err)
	}
	return PaymentReference{ID: id}, nil
}
