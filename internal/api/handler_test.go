package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gemini-backend/internal/auth"
	"gemini-backend/internal/billing"
	"gemini-backend/internal/chat"
	"gemini-backend/internal/queue"
	"gemini-backend/internal/quota"
	"gemini-backend/internal/repo"
)

// fakeRepo backs all services in the handler tests with in-memory state.
type fakeRepo struct {
	users     map[int64]*repo.User
	chatrooms map[int64]*repo.Chatroom
	messages  map[int64]*repo.Message
	otps      map[string]fakeOTP
	nextID    int64
}

type fakeOTP struct {
	code      string
	expiresAt time.Time
	used      bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:     map[int64]*repo.User{},
		chatrooms: map[int64]*repo.Chatroom{},
		messages:  map[int64]*repo.Message{},
		otps:      map[string]fakeOTP{},
	}
}

func (f *fakeRepo) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeRepo) CreateUser(ctx context.Context, mobileNumber string, passwordHash *string) (*repo.User, error) {
	user := &repo.User{ID: f.id(), MobileNumber: mobileNumber, PasswordHash: passwordHash, SubscriptionTier: repo.TierBasic}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeRepo) GetUserByID(ctx context.Context, id int64) (*repo.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	u := *user
	return &u, nil
}

func (f *fakeRepo) GetUserByMobile(ctx context.Context, mobileNumber string) (*repo.User, error) {
	for _, user := range f.users {
		if user.MobileNumber == mobileNumber {
			u := *user
			return &u, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeRepo) GetUserByStripeCustomer(ctx context.Context, customerID string) (*repo.User, error) {
	for _, user := range f.users {
		if user.StripeCustomerID != nil && *user.StripeCustomerID == customerID {
			u := *user
			return &u, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeRepo) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	user, ok := f.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	user.PasswordHash = &hash
	return nil
}

func (f *fakeRepo) SetStripeCustomerID(ctx context.Context, id int64, customerID string) error {
	user, ok := f.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	user.StripeCustomerID = &customerID
	return nil
}

func (f *fakeRepo) SetSubscriptionTier(ctx context.Context, id int64, tier string) error {
	user, ok := f.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	user.SubscriptionTier = tier
	return nil
}

func (f *fakeRepo) ResetDailyCount(ctx context.Context, userID int64, now time.Time) error {
	user, ok := f.users[userID]
	if !ok {
		return repo.ErrNotFound
	}
	user.DailyMessageCount = 0
	user.LastMessageDate = &now
	return nil
}

func (f *fakeRepo) IncrementDailyCount(ctx context.Context, userID int64, now time.Time) error {
	user, ok := f.users[userID]
	if !ok {
		return repo.ErrNotFound
	}
	user.DailyMessageCount++
	user.LastMessageDate = &now
	return nil
}

func (f *fakeRepo) CreateChatroom(ctx context.Context, userID int64, name string) (*repo.Chatroom, error) {
	chatroom := &repo.Chatroom{ID: f.id(), UserID: userID, Name: name}
	f.chatrooms[chatroom.ID] = chatroom
	return chatroom, nil
}

func (f *fakeRepo) ListChatrooms(ctx context.Context, userID int64) ([]repo.Chatroom, error) {
	var out []repo.Chatroom
	for _, chatroom := range f.chatrooms {
		if chatroom.UserID == userID {
			out = append(out, *chatroom)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetChatroomForUser(ctx context.Context, id, userID int64) (*repo.Chatroom, error) {
	chatroom, ok := f.chatrooms[id]
	if !ok || chatroom.UserID != userID {
		return nil, repo.ErrNotFound
	}
	c := *chatroom
	return &c, nil
}

func (f *fakeRepo) CreateMessage(ctx context.Context, chatroomID int64, userMessage string) (*repo.Message, error) {
	msg := &repo.Message{ID: f.id(), ChatroomID: chatroomID, UserMessage: userMessage}
	f.messages[msg.ID] = msg
	return msg, nil
}

func (f *fakeRepo) GetMessage(ctx context.Context, id int64) (*repo.Message, error) {
	msg, ok := f.messages[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	m := *msg
	return &m, nil
}

func (f *fakeRepo) ListMessages(ctx context.Context, chatroomID int64) ([]repo.Message, error) {
	var out []repo.Message
	for _, msg := range f.messages {
		if msg.ChatroomID == chatroomID {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (f *fakeRepo) SetMessageResponse(ctx context.Context, id int64, response string) error {
	msg, ok := f.messages[id]
	if !ok {
		return repo.ErrNotFound
	}
	r := response
	msg.GeminiResponse = &r
	return nil
}

func (f *fakeRepo) CreateOTP(ctx context.Context, mobileNumber, code string, expiresAt time.Time) error {
	f.otps[mobileNumber] = fakeOTP{code: code, expiresAt: expiresAt}
	return nil
}

func (f *fakeRepo) ConsumeOTP(ctx context.Context, mobileNumber, code string, now time.Time) (bool, error) {
	rec, ok := f.otps[mobileNumber]
	if !ok || rec.used || rec.code != code || !rec.expiresAt.After(now) {
		return false, nil
	}
	rec.used = true
	f.otps[mobileNumber] = rec
	return true, nil
}

// instantQueue answers every job immediately and commits the response like the
// real worker would.
type instantQueue struct {
	store    *fakeRepo
	response string
	failWith error
}

type instantWaiter struct {
	result *queue.Result
	err    error
}

func (w instantWaiter) Await(ctx context.Context, timeout time.Duration) (*queue.Result, error) {
	return w.result, w.err
}

func (q *instantQueue) Enqueue(ctx context.Context, messageID int64, userMessage string) (chat.ResultWaiter, error) {
	if q.failWith != nil {
		return instantWaiter{err: q.failWith}, nil
	}
	if err := q.store.SetMessageResponse(ctx, messageID, q.response); err != nil {
		return nil, err
	}
	return instantWaiter{result: &queue.Result{MessageID: messageID, Response: q.response}}, nil
}

func newTestHandler(t *testing.T, store *fakeRepo, jobs chat.JobQueue) *Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	quotaTracker := quota.New(store, 5, logger, nil)
	chatSvc := chat.NewService(store, quotaTracker, jobs, nil, chat.Config{
		MessageTimeout:   time.Second,
		ChatroomCacheTTL: time.Minute,
	}, logger, nil)
	authSvc := auth.NewService(store, "test-secret", time.Hour, logger)
	billingSvc := billing.NewService(store, billing.Config{}, logger, nil)

	return NewHandler(authSvc, chatSvc, billingSvc, store, 5, logger)
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// signupAndLogin drives the OTP flow and returns a bearer token.
func signupAndLogin(t *testing.T, router http.Handler, mobile string) string {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{"mobile_number": mobile})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/send-otp", "", map[string]string{"mobile_number": mobile})
	if rec.Code != http.StatusOK {
		t.Fatalf("send-otp: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var otpResp map[string]string
	decodeBody(t, rec, &otpResp)
	if otpResp["otp"] == "" {
		t.Fatal("expected otp in response body")
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/verify-otp", "", map[string]string{
		"mobile_number": mobile,
		"otp_code":      otpResp["otp"],
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify-otp: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var tokenResp map[string]string
	decodeBody(t, rec, &tokenResp)
	if tokenResp["access_token"] == "" {
		t.Fatal("expected access token")
	}
	return tokenResp["access_token"]
}

func TestAuthRequired(t *testing.T) {
	store := newFakeRepo()
	router := newTestHandler(t, store, &instantQueue{store: store}).Router()

	rec := doJSON(t, router, http.MethodGet, "/chatroom/", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/chatroom/", "garbage-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
}

func TestChatroomLifecycle(t *testing.T) {
	store := newFakeRepo()
	router := newTestHandler(t, store, &instantQueue{store: store, response: "Hello"}).Router()
	token := signupAndLogin(t, router, "5551234567")

	rec := doJSON(t, router, http.MethodPost, "/chatroom/", token, map[string]string{"name": "General"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create chatroom: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var chatroom repo.Chatroom
	decodeBody(t, rec, &chatroom)

	rec = doJSON(t, router, http.MethodGet, "/chatroom/", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list chatrooms: expected 200, got %d", rec.Code)
	}
	var listed []repo.Chatroom
	decodeBody(t, rec, &listed)
	if len(listed) != 1 || listed[0].Name != "General" {
		t.Fatalf("unexpected chatroom list: %+v", listed)
	}

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/chatroom/%d", chatroom.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get chatroom: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/chatroom/9999", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing chatroom, got %d", rec.Code)
	}
}

func TestSendMessageReturnsResponse(t *testing.T) {
	store := newFakeRepo()
	router := newTestHandler(t, store, &instantQueue{store: store, response: "Hello"}).Router()
	token := signupAndLogin(t, router, "5551234567")

	rec := doJSON(t, router, http.MethodPost, "/chatroom/", token, map[string]string{"name": "General"})
	var chatroom repo.Chatroom
	decodeBody(t, rec, &chatroom)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/chatroom/%d/message", chatroom.ID), token, map[string]string{"user_message": "Hello"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send message: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var msg repo.Message
	decodeBody(t, rec, &msg)
	if msg.GeminiResponse == nil || *msg.GeminiResponse != "Hello" {
		t.Fatalf("expected response in body, got %+v", msg)
	}
}

func TestSendMessageTimeoutStill201(t *testing.T) {
	store := newFakeRepo()
	router := newTestHandler(t, store, &instantQueue{store: store, failWith: queue.ErrTimedOut}).Router()
	token := signupAndLogin(t, router, "5551234567")

	rec := doJSON(t, router, http.MethodPost, "/chatroom/", token, map[string]string{"name": "General"})
	var chatroom repo.Chatroom
	decodeBody(t, rec, &chatroom)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/chatroom/%d/message", chatroom.ID), token, map[string]string{"user_message": "slow"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("degraded send must still be 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var msg repo.Message
	decodeBody(t, rec, &msg)
	if msg.GeminiResponse == nil || *msg.GeminiResponse != "Failed to process request" {
		t.Fatalf("expected fallback response, got %+v", msg)
	}
}

func TestSendMessageQuotaEnforced(t *testing.T) {
	store := newFakeRepo()
	router := newTestHandler(t, store, &instantQueue{store: store, response: "ok"}).Router()
	token := signupAndLogin(t, router, "5551234567")

	rec := doJSON(t, router, http.MethodPost, "/chatroom/", token, map[string]string{"name": "General"})
	var chatroom repo.Chatroom
	decodeBody(t, rec, &chatroom)
	path := fmt.Sprintf("/chatroom/%d/message", chatroom.ID)

	for i := 0; i < 5; i++ {
		rec = doJSON(t, router, http.MethodPost, path, token, map[string]string{"user_message": "hi"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("message %d: expected 201, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}

	rec = doJSON(t, router, http.MethodPost, path, token, map[string]string{"user_message": "one too many"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on sixth message, got %d: %s", rec.Code, rec.Body.String())
	}
	var errResp map[string]string
	decodeBody(t, rec, &errResp)
	if errResp["error"] == "" {
		t.Fatal("expected error message in body")
	}
}

func TestSendMessageForeignChatroom(t *testing.T) {
	store := newFakeRepo()
	router := newTestHandler(t, store, &instantQueue{store: store, response: "ok"}).Router()
	ownerToken := signupAndLogin(t, router, "5551234567")
	otherToken := signupAndLogin(t, router, "5559876543")

	rec := doJSON(t, router, http.MethodPost, "/chatroom/", ownerToken, map[string]string{"name": "Private"})
	var chatroom repo.Chatroom
	decodeBody(t, rec, &chatroom)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/chatroom/%d/message", chatroom.ID), otherToken, map[string]string{"user_message": "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign chatroom, got %d", rec.Code)
	}
}

func TestSendMessageValidation(t *testing.T) {
	store := newFakeRepo()
	router := newTestHandler(t, store, &instantQueue{store: store, response: "ok"}).Router()
	token := signupAndLogin(t, router, "5551234567")

	rec := doJSON(t, router, http.MethodPost, "/chatroom/", token, map[string]string{"name": "General"})
	var chatroom repo.Chatroom
	decodeBody(t, rec, &chatroom)
	path := fmt.Sprintf("/chatroom/%d/message", chatroom.ID)

	rec = doJSON(t, router, http.MethodPost, path, token, map[string]string{"user_message": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", rec.Code)
	}
}

func TestSignupValidation(t *testing.T) {
	store := newFakeRepo()
	router := newTestHandler(t, store, &instantQueue{store: store}).Router()

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{"mobile_number": "123"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short number, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{"mobile_number": "5551234567"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{"mobile_number": "5551234567"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate signup, got %d", rec.Code)
	}
}

func TestSubscriptionStatus(t *testing.T) {
	store := newFakeRepo()
	router := newTestHandler(t, store, &instantQueue{store: store}).Router()
	token := signupAndLogin(t, router, "5551234567")

	rec := doJSON(t, router, http.MethodGet, "/subscription/status", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var status map[string]any
	decodeBody(t, rec, &status)
	if status["subscription_tier"] != repo.TierBasic {
		t.Fatalf("expected basic tier, got %v", status["subscription_tier"])
	}
	if status["daily_limit"] != float64(5) {
		t.Fatalf("expected limit 5, got %v", status["daily_limit"])
	}
}

func TestMeHidesSensitiveFields(t *testing.T) {
	store := newFakeRepo()
	router := newTestHandler(t, store, &instantQueue{store: store}).Router()
	token := signupAndLogin(t, router, "5551234567")

	rec := doJSON(t, router, http.MethodGet, "/user/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var raw map[string]any
	decodeBody(t, rec, &raw)
	if _, ok := raw["password_hash"]; ok {
		t.Fatal("password hash must not be serialized")
	}
	if _, ok := raw["stripe_customer_id"]; ok {
		t.Fatal("stripe customer id must not be serialized")
	}
}

func TestProUserUnlimitedMessages(t *testing.T) {
	store := newFakeRepo()
	router := newTestHandler(t, store, &instantQueue{store: store, response: "ok"}).Router()
	token := signupAndLogin(t, router, "5551234567")

	for _, user := range store.users {
		user.SubscriptionTier = repo.TierPro
	}

	rec := doJSON(t, router, http.MethodPost, "/chatroom/", token, map[string]string{"name": "General"})
	var chatroom repo.Chatroom
	decodeBody(t, rec, &chatroom)
	path := fmt.Sprintf("/chatroom/%d/message", chatroom.ID)

	for i := 0; i < 8; i++ {
		rec = doJSON(t, router, http.MethodPost, path, token, map[string]string{"user_message": "hi"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("pro message %d: expected 201, got %d", i+1, rec.Code)
		}
	}
}
