package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"gemini-backend/internal/repo"

	"golang.org/x/crypto/bcrypt"
)

type fakeStore struct {
	users map[string]*repo.User
	otps  map[string]otpRecord
}

type otpRecord struct {
	code      string
	expiresAt time.Time
	used      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[string]*repo.User{},
		otps:  map[string]otpRecord{},
	}
}

func (f *fakeStore) CreateUser(ctx context.Context, mobileNumber string, passwordHash *string) (*repo.User, error) {
	user := &repo.User{
		ID:               int64(len(f.users) + 1),
		MobileNumber:     mobileNumber,
		PasswordHash:     passwordHash,
		SubscriptionTier: repo.TierBasic,
	}
	f.users[mobileNumber] = user
	return user, nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id int64) (*repo.User, error) {
	for _, user := range f.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeStore) GetUserByMobile(ctx context.Context, mobileNumber string) (*repo.User, error) {
	user, ok := f.users[mobileNumber]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	for _, user := range f.users {
		if user.ID == id {
			user.PasswordHash = &hash
			return nil
		}
	}
	return repo.ErrNotFound
}

func (f *fakeStore) CreateOTP(ctx context.Context, mobileNumber, code string, expiresAt time.Time) error {
	f.otps[mobileNumber] = otpRecord{code: code, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) ConsumeOTP(ctx context.Context, mobileNumber, code string, now time.Time) (bool, error) {
	rec, ok := f.otps[mobileNumber]
	if !ok || rec.used || rec.code != code || !rec.expiresAt.After(now) {
		return false, nil
	}
	rec.used = true
	f.otps[mobileNumber] = rec
	return true, nil
}

func newTestService(store *fakeStore) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, "test-secret", time.Hour, logger)
}

func TestSignupAndDuplicate(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	password := "hunter22"
	user, err := svc.Signup(context.Background(), "5551234567", &password)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if user.PasswordHash == nil {
		t.Fatal("expected password hash stored")
	}
	if bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)) != nil {
		t.Fatal("stored hash does not match password")
	}

	if _, err := svc.Signup(context.Background(), "5551234567", nil); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestSignupWithoutPassword(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	user, err := svc.Signup(context.Background(), "5551234567", nil)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if user.PasswordHash != nil {
		t.Fatal("expected no password hash for passwordless signup")
	}
}

func TestOTPLoginFlow(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	user, err := svc.Signup(context.Background(), "5551234567", nil)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	code, err := svc.SendOTP(context.Background(), "5551234567")
	if err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}

	token, err := svc.VerifyOTP(context.Background(), "5551234567", code)
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}

	userID, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if userID != user.ID {
		t.Fatalf("expected user id %d, got %d", user.ID, userID)
	}

	// The code is single use.
	if _, err := svc.VerifyOTP(context.Background(), "5551234567", code); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP on reuse, got %v", err)
	}
}

func TestSendOTPUnknownNumber(t *testing.T) {
	svc := newTestService(newFakeStore())
	if _, err := svc.SendOTP(context.Background(), "5550000000"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyOTPWrongCode(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	if _, err := svc.Signup(context.Background(), "5551234567", nil); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, err := svc.SendOTP(context.Background(), "5551234567"); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	if _, err := svc.VerifyOTP(context.Background(), "5551234567", "000000"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}
}

func TestExpiredOTPRejected(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	if _, err := svc.Signup(context.Background(), "5551234567", nil); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	code, err := svc.SendOTP(context.Background(), "5551234567")
	if err != nil {
		t.Fatalf("SendOTP: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(otpTTL + time.Minute) }
	if _, err := svc.VerifyOTP(context.Background(), "5551234567", code); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP for expired code, got %v", err)
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := newTestService(newFakeStore())
	if _, err := svc.ValidateToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	if _, err := svc.Signup(context.Background(), "5551234567", nil); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	code, err := svc.SendOTP(context.Background(), "5551234567")
	if err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	token, err := svc.VerifyOTP(context.Background(), "5551234567", code)
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	other := NewService(store, "other-secret", time.Hour, logger)
	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	password := "original1"
	user, err := svc.Signup(context.Background(), "5551234567", &password)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	if err := svc.ChangePassword(context.Background(), user.ID, "wrong", "updated1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if err := svc.ChangePassword(context.Background(), user.ID, "original1", "updated1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(*store.users["5551234567"].PasswordHash), []byte("updated1")) != nil {
		t.Fatal("new password not stored")
	}
}
