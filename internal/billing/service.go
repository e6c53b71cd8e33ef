package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"gemini-backend/internal/metrics"
	"gemini-backend/internal/repo"

	stripe "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// ErrInvalidSignature is returned for webhook payloads that fail verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Store is the slice of the repository the billing service needs.
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*repo.User, error)
	SetStripeCustomerID(ctx context.Context, id int64, customerID string) error
	GetUserByStripeCustomer(ctx context.Context, customerID string) (*repo.User, error)
	SetSubscriptionTier(ctx context.Context, id int64, tier string) error
}

// Config holds Stripe credentials and redirect URLs.
type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// Service handles pro-tier checkout and Stripe webhook events.
type Service struct {
	sc      *client.API
	store   Store
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewService builds the billing service with its own Stripe client.
func NewService(store Store, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Service {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)
	return &Service{
		sc:      sc,
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "billing"),
		metrics: m,
	}
}

// SubscribePro creates the user's Stripe customer on first use and opens a
// subscription-mode checkout session. Returns the hosted checkout URL.
func (s *Service) SubscribePro(ctx context.Context, userID int64) (string, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}

	var customerID string
	if user.StripeCustomerID != nil {
		customerID = *user.StripeCustomerID
	} else {
		params := &stripe.CustomerParams{
			Email: stripe.String(user.MobileNumber + "@example.com"),
			Name:  stripe.String("User " + user.MobileNumber),
		}
		params.Context = ctx
		customer, err := s.sc.Customers.New(params)
		if err != nil {
			return "", fmt.Errorf("create stripe customer: %w", err)
		}
		if err := s.store.SetStripeCustomerID(ctx, user.ID, customer.ID); err != nil {
			return "", err
		}
		customerID = customer.ID
		s.logger.Info("stripe customer created", "user_id", user.ID)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(string(stripe.CurrencyUSD)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Gemini Pro Subscription"),
				},
				UnitAmount: stripe.Int64(999),
				Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
					Interval: stripe.String("month"),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(s.cfg.SuccessURL),
		CancelURL:  stripe.String(s.cfg.CancelURL),
	}
	params.Context = ctx
	session, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return session.URL, nil
}

// HandleWebhook verifies a Stripe webhook payload and applies the event.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.cfg.WebhookSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if s.metrics != nil {
		s.metrics.WebhookEvents.WithLabelValues(string(event.Type)).Inc()
	}

	customerID, err := eventCustomerID(event.Data.Raw)
	if err != nil {
		s.logger.Warn("webhook event without customer", "type", event.Type, "error", err)
		return nil
	}
	return s.ApplyEvent(ctx, string(event.Type), customerID)
}

// ApplyEvent maps a known event kind to a tier change. Unknown kinds and
// events for unknown customers are acknowledged and ignored.
func (s *Service) ApplyEvent(ctx context.Context, eventType, customerID string) error {
	var tier string
	switch eventType {
	case "checkout.session.completed":
		tier = repo.TierPro
	case "customer.subscription.deleted":
		tier = repo.TierBasic
	default:
		s.logger.Debug("ignoring webhook event", "type", eventType)
		return nil
	}

	user, err := s.store.GetUserByStripeCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("webhook for unknown customer", "customer", customerID, "type", eventType)
			return nil
		}
		return err
	}
	if err := s.store.SetSubscriptionTier(ctx, user.ID, tier); err != nil {
		return err
	}
	s.logger.Info("subscription tier updated", "user_id", user.ID, "tier", tier)
	return nil
}

// eventCustomerID pulls the customer reference out of the event object with
// strict shape validation instead of trusting the loose payload.
func eventCustomerID(raw json.RawMessage) (string, error) {
	var object struct {
		Customer string `json:"customer"`
	}
	if err := json.Unmarshal(raw, &object); err != nil {
		return "", fmt.Errorf("decode event object: %w", err)
	}
	if object.Customer == "" {
		return "", fmt.Errorf("event object has no customer")
	}
	return object.Customer, nil
}
