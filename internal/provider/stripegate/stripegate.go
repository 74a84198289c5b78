// Package stripegate adapts the Stripe API to the money.PaymentProvider
// contract. Declined charges come back as a verdict, not an error; transport
// and API failures surface as *money.ProviderError with the raw response
// preserved for audit storage.
package stripegate

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/solsticecon/memberd/pkg/money"
)

// Gateway implements money.PaymentProvider against the Stripe REST API.
type Gateway struct {
	api *client.API
}

// New returns a Gateway authenticated with the given secret key.
func New(secretKey string) *Gateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Gateway{api: api}
}

// NewWithClient returns a Gateway over a preconfigured API client.
func NewWithClient(api *client.API) *Gateway {
	return &Gateway{api: api}
}

func (gateway *Gateway) CreateCustomer(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	customer, err := gateway.api.Customers.New(params)
	if err != nil {
		return "", mapError(err)
	}
	return customer.ID, nil
}

func (gateway *Gateway) AttachCardSource(ctx context.Context, customerID string, token money.PaymentToken) (string, error) {
	params := &stripe.PaymentSourceParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	sourceParams, err := stripe.SourceParamsFor(token.String())
	if err != nil {
		return "", mapError(err)
	}
	params.Source = sourceParams
	source, err := gateway.api.PaymentSources.New(params)
	if err != nil {
		return "", mapError(err)
	}
	return source.ID, nil
}

func (gateway *Gateway) CreateCharge(ctx context.Context, request money.ProviderChargeRequest) (money.ProviderCharge, error) {
	params := &stripe.ChargeParams{
		Amount:      stripe.Int64(request.AmountCents.Int64()),
		Currency:    stripe.String(request.Currency.String()),
		Customer:    stripe.String(request.CustomerID),
		Description: stripe.String(request.Description),
	}
	params.Context = ctx
	if request.SourceID != "" {
		if err := params.SetSource(request.SourceID); err != nil {
			return money.ProviderCharge{}, mapError(err)
		}
	}
	charge, err := gateway.api.Charges.New(params)
	if err != nil {
		return money.ProviderCharge{}, mapError(err)
	}
	return money.ProviderCharge{
		ID:          charge.ID,
		Paid:        charge.Paid,
		AmountCents: money.AmountCents(charge.Amount),
		Description: charge.Description,
		Raw:         rawResponse(charge.LastResponse),
	}, nil
}

func (gateway *Gateway) CreateCheckoutSession(ctx context.Context, request money.CheckoutSessionRequest) (money.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(request.CustomerID),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(request.SuccessURL),
		CancelURL:          stripe.String(request.CancelURL),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(request.Currency.String()),
					UnitAmount: stripe.Int64(request.AmountCents.Int64()),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(request.ItemName),
					},
				},
			},
		},
	}
	params.Context = ctx
	session, err := gateway.api.CheckoutSessions.New(params)
	if err != nil {
		return money.CheckoutSession{}, mapError(err)
	}
	return mapSession(session), nil
}

func (gateway *Gateway) GetCheckoutSession(ctx context.Context, sessionID string) (money.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := gateway.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return money.CheckoutSession{}, mapError(err)
	}
	return mapSession(session), nil
}

func mapSession(session *stripe.CheckoutSession) money.CheckoutSession {
	return money.CheckoutSession{
		ID:     session.ID,
		URL:    session.URL,
		Status: money.CheckoutSessionStatus(session.Status),
		Raw:    rawResponse(session.LastResponse),
	}
}

func rawResponse(response *stripe.APIResponse) string {
	if response == nil {
		return ""
	}
	return string(response.RawJSON)
}

func mapError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &money.ProviderError{
			Code:    string(stripeErr.Code),
			Message: stripeErr.Msg,
			Raw:     rawResponse(stripeErr.LastResponse),
		}
	}
	return &money.ProviderError{Message: err.Error()}
}
