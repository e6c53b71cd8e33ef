package repo

import (
	"context"
	"fmt"
	"time"
)

// CreateOTP invalidates outstanding codes for the number and stores a new one.
func (r *Postgres) CreateOTP(ctx context.Context, mobileNumber, code string, expiresAt time.Time) error {
	const invalidate = `UPDATE otps SET is_used = TRUE WHERE mobile_number = $1 AND NOT is_used;`
	const insert = `INSERT INTO otps (mobile_number, otp_code, expires_at) VALUES ($1, $2, $3);`

	if _, err := r.pool.Exec(ctx, invalidate, mobileNumber); err != nil {
		return fmt.Errorf("invalidate otps: %w", err)
	}
	if _, err := r.pool.Exec(ctx, insert, mobileNumber, code, expiresAt); err != nil {
		return fmt.Errorf("insert otp: %w", err)
	}
	return nil
}

// ConsumeOTP marks a matching, unexpired code as used. The boolean reports
// whether such a code existed.
func (r *Postgres) ConsumeOTP(ctx context.Context, mobileNumber, code string, now time.Time) (bool, error) {
	const q = `
UPDATE otps SET is_used = TRUE
WHERE mobile_number = $1 AND otp_code = $2 AND NOT is_used AND expires_at > $3;`
	ct, err := r.pool.Exec(ctx, q, mobileNumber, code, now)
	if err != nil {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
