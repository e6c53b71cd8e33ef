package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gemini-backend/internal/cache"
	"gemini-backend/internal/metrics"
	"gemini-backend/internal/queue"
	"gemini-backend/internal/repo"
)

// degradedResponse is committed when the queue or worker could not deliver a
// result in time. From the caller's point of view this is a terminal success
// state, not an error.
const degradedResponse = "Failed to process request"

// Store is the slice of the repository the chat service needs.
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*repo.User, error)
	CreateChatroom(ctx context.Context, userID int64, name string) (*repo.Chatroom, error)
	ListChatrooms(ctx context.Context, userID int64) ([]repo.Chatroom, error)
	GetChatroomForUser(ctx context.Context, id, userID int64) (*repo.Chatroom, error)
	CreateMessage(ctx context.Context, chatroomID int64, userMessage string) (*repo.Message, error)
	GetMessage(ctx context.Context, id int64) (*repo.Message, error)
	ListMessages(ctx context.Context, chatroomID int64) ([]repo.Message, error)
	SetMessageResponse(ctx context.Context, id int64, response string) error
}

// QuotaTracker gates and consumes the per-user daily quota.
type QuotaTracker interface {
	Check(ctx context.Context, user *repo.User) error
	Increment(ctx context.Context, user *repo.User) error
}

// ResultWaiter blocks for a job result with a wall-clock ceiling.
type ResultWaiter interface {
	Await(ctx context.Context, timeout time.Duration) (*queue.Result, error)
}

// JobQueue submits AI jobs for background processing.
type JobQueue interface {
	Enqueue(ctx context.Context, messageID int64, userMessage string) (ResultWaiter, error)
}

// NewJobQueue adapts a *queue.Queue to the JobQueue interface.
func NewJobQueue(q *queue.Queue) JobQueue {
	return queueAdapter{q: q}
}

type queueAdapter struct {
	q *queue.Queue
}

func (a queueAdapter) Enqueue(ctx context.Context, messageID int64, userMessage string) (ResultWaiter, error) {
	handle, err := a.q.Enqueue(ctx, messageID, userMessage)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Service coordinates chatrooms and the message send pipeline.
type Service struct {
	store    Store
	quota    QuotaTracker
	queue    JobQueue
	cache    *cache.Redis
	timeout  time.Duration
	cacheTTL time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Config holds chat service tunables.
type Config struct {
	MessageTimeout   time.Duration
	ChatroomCacheTTL time.Duration
}

// NewService builds the chat service. The cache may be nil; chatroom listing
// then always hits the database.
func NewService(store Store, quota QuotaTracker, jobs JobQueue, redis *cache.Redis, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Service {
	timeout := cfg.MessageTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cacheTTL := cfg.ChatroomCacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Service{
		store:    store,
		quota:    quota,
		queue:    jobs,
		cache:    redis,
		timeout:  timeout,
		cacheTTL: cacheTTL,
		logger:   logger.With("component", "chat"),
		metrics:  m,
	}
}

// SendMessage runs the send pipeline: validate ownership, gate on quota,
// persist the pending message, consume quota, enqueue the AI job and block
// bounded on the result. Queue-layer faults and timeouts degrade the message
// instead of failing the request; the returned record is always populated.
func (s *Service) SendMessage(ctx context.Context, userID, chatroomID int64, userMessage string) (*repo.Message, error) {
	if _, err := s.store.GetChatroomForUser(ctx, chatroomID, userID); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.quota.Check(ctx, user); err != nil {
		return nil, err
	}

	msg, err := s.store.CreateMessage(ctx, chatroomID, userMessage)
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	if err := s.quota.Increment(ctx, user); err != nil {
		return nil, fmt.Errorf("consume quota: %w", err)
	}

	handle, err := s.queue.Enqueue(ctx, msg.ID, userMessage)
	if err != nil {
		s.logger.Error("enqueue failed", "message_id", msg.ID, "error", err)
		return s.degrade(ctx, msg), nil
	}

	result, err := handle.Await(ctx, s.timeout)
	if err != nil {
		if errors.Is(err, queue.ErrTimedOut) {
			if s.metrics != nil {
				s.metrics.AwaitTimeouts.Inc()
			}
			s.logger.Warn("await timed out", "message_id", msg.ID, "timeout", s.timeout)
		} else {
			s.logger.Error("await failed", "message_id", msg.ID, "error", err)
		}
		return s.degrade(ctx, msg), nil
	}
	if result.Err != "" {
		s.logger.Error("worker reported failure", "message_id", msg.ID, "error", result.Err)
		return s.degrade(ctx, msg), nil
	}

	reloaded, err := s.store.GetMessage(ctx, msg.ID)
	if err != nil || reloaded.GeminiResponse == nil {
		return s.degrade(ctx, msg), nil
	}

	if s.metrics != nil {
		s.metrics.MessagesSent.WithLabelValues("completed").Inc()
	}
	return reloaded, nil
}

// degrade commits the fixed fallback response and returns the record with it
// applied. Failures here are logged only; the caller still gets a populated
// message. The commit runs detached from the request context so a client
// disconnect does not leave the row unset.
func (s *Service) degrade(ctx context.Context, msg *repo.Message) *repo.Message {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.SetMessageResponse(ctx, msg.ID, degradedResponse); err != nil {
		s.logger.Error("persist degraded response failed", "message_id", msg.ID, "error", err)
	}
	response := degradedResponse
	msg.GeminiResponse = &response
	if s.metrics != nil {
		s.metrics.MessagesSent.WithLabelValues("degraded").Inc()
	}
	return msg
}

// CreateChatroom creates a chatroom and invalidates the owner's list cache.
func (s *Service) CreateChatroom(ctx context.Context, userID int64, name string) (*repo.Chatroom, error) {
	chatroom, err := s.store.CreateChatroom(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, chatroomsCacheKey(userID)); err != nil {
			s.logger.Warn("invalidate chatroom cache failed", "user_id", userID, "error", err)
		}
	}
	return chatroom, nil
}

// ListChatrooms returns the user's chatrooms, served from cache when fresh.
func (s *Service) ListChatrooms(ctx context.Context, userID int64) ([]repo.Chatroom, error) {
	key := chatroomsCacheKey(userID)
	if s.cache != nil {
		var cached []repo.Chatroom
		ok, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("read chatroom cache failed", "user_id", userID, "error", err)
		} else if ok {
			return cached, nil
		}
	}

	chatrooms, err := s.store.ListChatrooms(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, chatrooms, s.cacheTTL); err != nil {
			s.logger.Warn("set chatroom cache failed", "user_id", userID, "error", err)
		}
	}
	return chatrooms, nil
}

// ChatroomDetail is a chatroom plus its full message history.
type ChatroomDetail struct {
	repo.Chatroom
	Messages []repo.Message `json:"messages"`
}

// GetChatroom loads one owned chatroom with its messages.
func (s *Service) GetChatroom(ctx context.Context, userID, chatroomID int64) (*ChatroomDetail, error) {
	chatroom, err := s.store.GetChatroomForUser(ctx, chatroomID, userID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, chatroomID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []repo.Message{}
	}
	return &ChatroomDetail{Chatroom: *chatroom, Messages: messages}, nil
}

func chatroomsCacheKey(userID int64) string {
	return fmt.Sprintf("chatrooms:%d", userID)
}
