package repo

import (
	"context"
	"io/fs"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	CreateUser(ctx context.Context, mobileNumber string, passwordHash *string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByMobile(ctx context.Context, mobileNumber string) (*User, error)
	GetUserByStripeCustomer(ctx context.Context, customerID string) (*User, error)
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	SetStripeCustomerID(ctx context.Context, id int64, customerID string) error
	SetSubscriptionTier(ctx context.Context, id int64, tier string) error

	// Quota counters
	ResetDailyCount(ctx context.Context, userID int64, now time.Time) error
	IncrementDailyCount(ctx context.Context, userID int64, now time.Time) error

	// Chatrooms
	CreateChatroom(ctx context.Context, userID int64, name string) (*Chatroom, error)
	ListChatrooms(ctx context.Context, userID int64) ([]Chatroom, error)
	GetChatroomForUser(ctx context.Context, id, userID int64) (*Chatroom, error)

	// Messages
	CreateMessage(ctx context.Context, chatroomID int64, userMessage string) (*Message, error)
	GetMessage(ctx context.Context, id int64) (*Message, error)
	ListMessages(ctx context.Context, chatroomID int64) ([]Message, error)
	SetMessageResponse(ctx context.Context, id int64, response string) error

	// OTPs
	CreateOTP(ctx context.Context, mobileNumber, code string, expiresAt time.Time) error
	ConsumeOTP(ctx context.Context, mobileNumber, code string, now time.Time) (bool, error)
}
