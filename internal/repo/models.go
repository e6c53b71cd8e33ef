package repo

import "time"

// Subscription tiers gate the daily message quota.
const (
	TierBasic = "basic"
	TierPro   = "pro"
)

// User represents a row in the users table.
type User struct {
	ID                int64      `json:"id"`
	MobileNumber      string     `json:"mobile_number"`
	PasswordHash      *string    `json:"-"`
	SubscriptionTier  string     `json:"subscription_tier"`
	DailyMessageCount int        `json:"daily_message_count"`
	LastMessageDate   *time.Time `json:"last_message_date,omitempty"`
	StripeCustomerID  *string    `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// Chatroom represents a row in the chatrooms table. Ownership is fixed at
// creation time.
type Chatroom struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"-"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Message represents a row in the messages table. GeminiResponse starts NULL
// and is filled exactly once by a worker or by the orchestrator's fallback.
type Message struct {
	ID             int64     `json:"id"`
	ChatroomID     int64     `json:"-"`
	UserMessage    string    `json:"user_message"`
	GeminiResponse *string   `json:"gemini_response"`
	CreatedAt      time.Time `json:"created_at"`
}

// OTP represents a one-time password issued for a mobile number.
type OTP struct {
	ID           int64
	MobileNumber string
	Code         string
	ExpiresAt    time.Time
	Used         bool
	CreatedAt    time.Time
}
