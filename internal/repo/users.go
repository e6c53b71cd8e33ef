package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, mobile_number, password_hash, subscription_tier, daily_message_count, last_message_date, stripe_customer_id, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.MobileNumber,
		&u.PasswordHash,
		&u.SubscriptionTier,
		&u.DailyMessageCount,
		&u.LastMessageDate,
		&u.StripeCustomerID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// CreateUser registers a new user with an optional password credential.
func (r *Postgres) CreateUser(ctx context.Context, mobileNumber string, passwordHash *string) (*User, error) {
	q := `
INSERT INTO users (mobile_number, password_hash, subscription_tier)
VALUES ($1, $2, 'basic')
RETURNING ` + userColumns + `;`
	return scanUser(r.pool.QueryRow(ctx, q, mobileNumber, passwordHash))
}

// GetUserByID returns a user by internal identifier.
func (r *Postgres) GetUserByID(ctx context.Context, id int64) (*User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1;`
	return scanUser(r.pool.QueryRow(ctx, q, id))
}

// GetUserByMobile returns a user by mobile number.
func (r *Postgres) GetUserByMobile(ctx context.Context, mobileNumber string) (*User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE mobile_number = $1 LIMIT 1;`
	return scanUser(r.pool.QueryRow(ctx, q, mobileNumber))
}

// GetUserByStripeCustomer returns the user owning a Stripe customer reference.
func (r *Postgres) GetUserByStripeCustomer(ctx context.Context, customerID string) (*User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE stripe_customer_id = $1 LIMIT 1;`
	return scanUser(r.pool.QueryRow(ctx, q, customerID))
}

// UpdatePasswordHash replaces the stored password credential.
func (r *Postgres) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	const q = `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id, hash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStripeCustomerID attaches a billing customer reference to the user.
func (r *Postgres) SetStripeCustomerID(ctx context.Context, id int64, customerID string) error {
	const q = `UPDATE users SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id, customerID)
	if err != nil {
		return fmt.Errorf("set stripe customer: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSubscriptionTier switches the user's tier.
func (r *Postgres) SetSubscriptionTier(ctx context.Context, id int64, tier string) error {
	const q = `UPDATE users SET subscription_tier = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id, tier)
	if err != nil {
		return fmt.Errorf("set subscription tier: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetDailyCount zeroes the daily message counter and stamps the reset time.
// Re-running it for the same day is harmless.
func (r *Postgres) ResetDailyCount(ctx context.Context, userID int64, now time.Time) error {
	const q = `UPDATE users SET daily_message_count = 0, last_message_date = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, userID, now)
	if err != nil {
		return fmt.Errorf("reset daily count: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementDailyCount bumps the daily message counter.
func (r *Postgres) IncrementDailyCount(ctx context.Context, userID int64, now time.Time) error {
	const q = `UPDATE users SET daily_message_count = daily_message_count + 1, last_message_date = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, userID, now)
	if err != nil {
		return fmt.Errorf("increment daily count: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
