package billing

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"gemini-backend/internal/repo"
)

type fakeStore struct {
	byCustomer map[string]*repo.User
	tiers      map[int64]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byCustomer: map[string]*repo.User{
			"cus_123": {ID: 1, SubscriptionTier: repo.TierBasic},
		},
		tiers: map[int64]string{},
	}
}

func (f *fakeStore) GetUserByID(ctx context.Context, id int64) (*repo.User, error) {
	for _, user := range f.byCustomer {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeStore) SetStripeCustomerID(ctx context.Context, id int64, customerID string) error {
	return nil
}

func (f *fakeStore) GetUserByStripeCustomer(ctx context.Context, customerID string) (*repo.User, error) {
	user, ok := f.byCustomer[customerID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) SetSubscriptionTier(ctx context.Context, id int64, tier string) error {
	f.tiers[id] = tier
	return nil
}

func newTestService(store *fakeStore) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, Config{}, logger, nil)
}

func TestApplyEventCheckoutCompleted(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	if err := svc.ApplyEvent(context.Background(), "checkout.session.completed", "cus_123"); err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if store.tiers[1] != repo.TierPro {
		t.Fatalf("expected tier pro, got %q", store.tiers[1])
	}
}

func TestApplyEventSubscriptionDeleted(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	if err := svc.ApplyEvent(context.Background(), "customer.subscription.deleted", "cus_123"); err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if store.tiers[1] != repo.TierBasic {
		t.Fatalf("expected tier basic, got %q", store.tiers[1])
	}
}

func TestApplyEventIgnoresUnknownType(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	if err := svc.ApplyEvent(context.Background(), "invoice.paid", "cus_123"); err != nil {
		t.Fatalf("unknown type must be acknowledged, got %v", err)
	}
	if len(store.tiers) != 0 {
		t.Fatal("unknown type must not change tiers")
	}
}

func TestApplyEventUnknownCustomer(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	if err := svc.ApplyEvent(context.Background(), "checkout.session.completed", "cus_missing"); err != nil {
		t.Fatalf("unknown customer must be acknowledged, got %v", err)
	}
	if len(store.tiers) != 0 {
		t.Fatal("unknown customer must not change tiers")
	}
}

func TestEventCustomerID(t *testing.T) {
	id, err := eventCustomerID([]byte(`{"id":"cs_1","customer":"cus_123"}`))
	if err != nil {
		t.Fatalf("eventCustomerID: %v", err)
	}
	if id != "cus_123" {
		t.Fatalf("expected cus_123, got %q", id)
	}

	if _, err := eventCustomerID([]byte(`{"id":"cs_1"}`)); err == nil {
		t.Fatal("expected error for missing customer")
	}
	if _, err := eventCustomerID([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
