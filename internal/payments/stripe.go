package payments

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
)

// Checkout is a hosted payment page for one completed ride.
type Checkout struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

type Gateway interface {
	CheckoutRide(ctx context.Context, r *models.Ride) (*Checkout, error)
}

// StripeClient creates Stripe Checkout sessions charging a ride's fare.
type StripeClient struct {
	currency   string
	successURL string
	cancelURL  string
	newSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewStripeClient(apiKey, currency, successURL, cancelURL string) *StripeClient {
	sc := session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: apiKey}
	return &StripeClient{
		currency:   currency,
		successURL: successURL,
		cancelURL:  cancelURL,
		newSession: sc.New,
	}
}

// MinorUnits converts a whole-unit fare into the smallest currency unit.
func MinorUnits(fare int64) int64 { return fare * 100 }

func (s *StripeClient) CheckoutRide(ctx context.Context, r *models.Ride) (*Checkout, error) {
	if r.Status != models.RideCompleted {
		return nil, errs.E(errs.InvalidState, "only completed rides can be paid")
	}
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(s.currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("Ride from %s to %s", r.Pickup, r.Destination)),
				},
				UnitAmount: stripe.Int64(MinorUnits(r.Fare)),
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
	}
	params.Context = ctx
	params.AddMetadata("rideId", r.ID)
	params.AddMetadata("captainId", r.DriverID)

	cs, err := s.newSession(params)
	if err != nil {
		return nil, errs.Wrap(errs.Upstream, err, "create checkout session")
	}
	return &Checkout{ID: cs.ID, URL: cs.URL}, nil
}
