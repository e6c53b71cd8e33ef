package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"gemini-backend/internal/auth"
	"gemini-backend/internal/billing"
	"gemini-backend/internal/chat"
	"gemini-backend/internal/quota"
	"gemini-backend/internal/repo"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// UserStore loads users for the /user/me and subscription endpoints.
type UserStore interface {
	GetUserByID(ctx context.Context, id int64) (*repo.User, error)
}

// Handler wires all HTTP endpoints to the underlying services.
type Handler struct {
	auth       *auth.Service
	chat       *chat.Service
	billing    *billing.Service
	users      UserStore
	quotaLimit int
	logger     *slog.Logger
}

// NewHandler builds the API handler.
func NewHandler(authSvc *auth.Service, chatSvc *chat.Service, billingSvc *billing.Service, users UserStore, quotaLimit int, logger *slog.Logger) *Handler {
	return &Handler{
		auth:       authSvc,
		chat:       chatSvc,
		billing:    billingSvc,
		users:      users,
		quotaLimit: quotaLimit,
		logger:     logger.With("component", "api"),
	}
}

// Router assembles all routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", h.handleRoot)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.handleSignup)
		r.Post("/send-otp", h.handleSendOTP)
		r.Post("/verify-otp", h.handleVerifyOTP)
		r.Post("/forgot-password", h.handleSendOTP)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth(h.auth))
			r.Post("/change-password", h.handleChangePassword)
		})
	})

	r.Post("/webhook/stripe", h.handleStripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(h.auth))

		r.Get("/user/me", h.handleMe)

		r.Route("/chatroom", func(r chi.Router) {
			r.Post("/", h.handleCreateChatroom)
			r.Get("/", h.handleListChatrooms)
			r.Get("/{id}", h.handleGetChatroom)
			r.Post("/{id}/message", h.handleSendMessage)
		})

		r.Post("/subscribe/pro", h.handleSubscribePro)
		r.Get("/subscription/status", h.handleSubscriptionStatus)
	})

	return r
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Gemini Backend API",
		"version": "1.0.0",
	})
}

type signupRequest struct {
	MobileNumber string  `json:"mobile_number"`
	Password     *string `json:"password,omitempty"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.MobileNumber) < 10 || len(req.MobileNumber) > 15 {
		respondError(w, http.StatusBadRequest, "mobile_number must be 10 to 15 characters")
		return
	}

	if _, err := h.auth.Signup(r.Context(), req.MobileNumber, req.Password); err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.serverError(w, "signup", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"message": "User created successfully"})
}

type sendOTPRequest struct {
	MobileNumber string `json:"mobile_number"`
}

func (h *Handler) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	code, err := h.auth.SendOTP(r.Context(), req.MobileNumber)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			respondError(w, http.StatusNotFound, "User not found")
			return
		}
		h.serverError(w, "send otp", err)
		return
	}
	// The OTP goes back in the body; SMS delivery is mocked.
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "OTP sent successfully",
		"otp":     code,
	})
}

type verifyOTPRequest struct {
	MobileNumber string `json:"mobile_number"`
	OTPCode      string `json:"otp_code"`
}

func (h *Handler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.auth.VerifyOTP(r.Context(), req.MobileNumber, req.OTPCode)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidOTP) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, repo.ErrNotFound) {
			respondError(w, http.StatusNotFound, "User not found")
			return
		}
		h.serverError(w, "verify otp", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.NewPassword) < 6 {
		respondError(w, http.StatusBadRequest, "new_password must be at least 6 characters")
		return
	}

	if err := h.auth.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondError(w, http.StatusBadRequest, "Invalid current password")
			return
		}
		h.serverError(w, "change password", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())
	user, err := h.users.GetUserByID(r.Context(), userID)
	if err != nil {
		h.serverError(w, "load user", err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

type createChatroomRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleCreateChatroom(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())

	var req createChatroomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Name) < 1 || len(req.Name) > 100 {
		respondError(w, http.StatusBadRequest, "name must be 1 to 100 characters")
		return
	}

	chatroom, err := h.chat.CreateChatroom(r.Context(), userID, req.Name)
	if err != nil {
		h.serverError(w, "create chatroom", err)
		return
	}
	respondJSON(w, http.StatusCreated, chatroom)
}

func (h *Handler) handleListChatrooms(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())

	chatrooms, err := h.chat.ListChatrooms(r.Context(), userID)
	if err != nil {
		h.serverError(w, "list chatrooms", err)
		return
	}
	if chatrooms == nil {
		chatrooms = []repo.Chatroom{}
	}
	respondJSON(w, http.StatusOK, chatrooms)
}

func (h *Handler) handleGetChatroom(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())
	chatroomID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid chatroom id")
		return
	}

	detail, err := h.chat.GetChatroom(r.Context(), userID, chatroomID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Chatroom not found")
			return
		}
		h.serverError(w, "get chatroom", err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

type sendMessageRequest struct {
	UserMessage string `json:"user_message"`
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())
	chatroomID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid chatroom id")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.UserMessage) < 1 || len(req.UserMessage) > 1000 {
		respondError(w, http.StatusBadRequest, "user_message must be 1 to 1000 characters")
		return
	}

	message, err := h.chat.SendMessage(r.Context(), userID, chatroomID, req.UserMessage)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			respondError(w, http.StatusNotFound, "Chatroom not found")
		case errors.Is(err, quota.ErrQuotaExceeded):
			respondError(w, http.StatusTooManyRequests, "Daily message limit exceeded. Upgrade to Pro for unlimited messages.")
		default:
			h.serverError(w, "send message", err)
		}
		return
	}
	respondJSON(w, http.StatusCreated, message)
}

func (h *Handler) handleSubscribePro(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())

	checkoutURL, err := h.billing.SubscribePro(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"checkout_url": checkoutURL})
}

func (h *Handler) handleSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())
	user, err := h.users.GetUserByID(r.Context(), userID)
	if err != nil {
		h.serverError(w, "load user", err)
		return
	}

	var limit any = "unlimited"
	if user.SubscriptionTier == repo.TierBasic {
		limit = h.quotaLimit
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"subscription_tier":   user.SubscriptionTier,
		"daily_message_count": user.DailyMessageCount,
		"daily_limit":         limit,
	})
}

func (h *Handler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	err = h.billing.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			respondError(w, http.StatusBadRequest, "Invalid signature")
			return
		}
		h.serverError(w, "stripe webhook", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("request failed", "op", op, "error", err)
	respondError(w, http.StatusInternalServerError, "Internal server error")
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}
