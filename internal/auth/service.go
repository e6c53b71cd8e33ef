package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"gemini-backend/internal/repo"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const otpTTL = 10 * time.Minute

var (
	// ErrUserExists is returned when signing up an already-registered number.
	ErrUserExists = errors.New("user with this mobile number already exists")
	// ErrInvalidOTP is returned for unknown, used or expired codes.
	ErrInvalidOTP = errors.New("invalid or expired OTP")
	// ErrInvalidCredentials is returned when a password check fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned for unparseable or expired tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Store is the slice of the repository the auth service needs.
type Store interface {
	CreateUser(ctx context.Context, mobileNumber string, passwordHash *string) (*repo.User, error)
	GetUserByID(ctx context.Context, id int64) (*repo.User, error)
	GetUserByMobile(ctx context.Context, mobileNumber string) (*repo.User, error)
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	CreateOTP(ctx context.Context, mobileNumber, code string, expiresAt time.Time) error
	ConsumeOTP(ctx context.Context, mobileNumber, code string, now time.Time) (bool, error)
}

// Claims is the JWT payload issued after OTP verification.
type Claims struct {
	UserID       int64  `json:"uid"`
	MobileNumber string `json:"mobile"`
	jwt.RegisteredClaims
}

// Service implements signup, OTP login and password management.
type Service struct {
	store     Store
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewService builds the auth service.
func NewService(store Store, jwtSecret string, tokenTTL time.Duration, logger *slog.Logger) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 5 * time.Hour
	}
	return &Service{
		store:     store,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		now:       time.Now,
		logger:    logger.With("component", "auth"),
	}
}

// Signup registers a mobile number with an optional password.
func (s *Service) Signup(ctx context.Context, mobileNumber string, password *string) (*repo.User, error) {
	if _, err := s.store.GetUserByMobile(ctx, mobileNumber); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	var hash *string
	if password != nil && *password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		str := string(hashed)
		hash = &str
	}

	user, err := s.store.CreateUser(ctx, mobileNumber, hash)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

// SendOTP issues a fresh code for a registered number. The code is returned
// to the caller; delivery by SMS is mocked.
func (s *Service) SendOTP(ctx context.Context, mobileNumber string) (string, error) {
	if _, err := s.store.GetUserByMobile(ctx, mobileNumber); err != nil {
		return "", err
	}

	code, err := generateOTP()
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	if err := s.store.CreateOTP(ctx, mobileNumber, code, s.now().Add(otpTTL)); err != nil {
		return "", err
	}
	return code, nil
}

// VerifyOTP consumes a code and returns a signed access token.
func (s *Service) VerifyOTP(ctx context.Context, mobileNumber, code string) (string, error) {
	ok, err := s.store.ConsumeOTP(ctx, mobileNumber, code, s.now())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidOTP
	}

	user, err := s.store.GetUserByMobile(ctx, mobileNumber)
	if err != nil {
		return "", err
	}
	return s.issueToken(user)
}

// ChangePassword verifies the current password and stores a new one.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.PasswordHash == nil {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.UpdatePasswordHash(ctx, userID, string(hashed))
}

// ValidateToken parses a bearer token and returns the authenticated user id.
func (s *Service) ValidateToken(tokenString string) (int64, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}
	return claims.UserID, nil
}

func (s *Service) issueToken(user *repo.User) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:       user.ID,
		MobileNumber: user.MobileNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "gemini-backend",
			Subject:   user.MobileNumber,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
