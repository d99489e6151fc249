package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/service"
)

// Handler provides HTTP handlers for the callable API
type Handler struct {
	accounts  *service.Accounts
	admin     *service.Admin
	battles   *service.Battles
	events    *service.Events
	friends   *service.Friends
	logger    *slog.Logger
	jwtSecret []byte
}

// NewHandler creates a new HTTP handler
func NewHandler(
	accounts *service.Accounts,
	admin *service.Admin,
	battles *service.Battles,
	events *service.Events,
	friends *service.Friends,
	jwtSecret string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		accounts:  accounts,
		admin:     admin,
		battles:   battles,
		events:    events,
		friends:   friends,
		logger:    logger,
		jwtSecret: []byte(jwtSecret),
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// API v1 routes, all behind token auth
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.authMiddleware)

		r.Delete("/account", h.DeleteAccount)

		r.Route("/friends", func(r chi.Router) {
			r.Post("/requests", h.SendFriendRequest)
			r.Post("/requests/accept", h.AcceptFriendRequest)
			r.Delete("/{friendEmail}", h.RemoveFriend)
		})
		r.Get("/users/search", h.SearchUsers)

		r.Route("/battles", func(r chi.Router) {
			r.Post("/", h.CreateBattle)
			r.Post("/{battleID}/respond", h.RespondToBattle)
			r.Post("/{battleID}/cancel", h.CancelBattle)
		})
		r.Route("/async-battles", func(r chi.Router) {
			r.Post("/", h.CreateAsyncBattle)
			r.Post("/{battleID}/complete", h.CompleteAsyncBattle)
			r.Post("/{battleID}/cancel", h.CancelAsyncBattle)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/notifications/broadcast", h.NotifyAllUsers)
			r.Post("/notifications/user", h.NotifyUser)
			r.Post("/roles", h.SetAdminRole)
			r.Delete("/roles/{email}", h.RemoveAdminRole)
			r.Post("/roles/super", h.SetSuperAdminRole)
			r.Delete("/chat", h.ClearAdminChat)
			r.Post("/announcements", h.CreateAnnouncement)
			r.Delete("/announcements/{announcementID}", h.RemoveAnnouncement)
			r.Delete("/events/{eventID}", h.DeleteEvent)
		})
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type contextKey string

const principalKey contextKey = "principal"

// authMiddleware verifies the bearer token and attaches the caller's
// principal to the request context.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			h.writeError(w, domain.Unauthenticated("missing bearer token"))
			return
		}

		principal, err := h.verifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			h.logger.Debug("token verification failed", "error", err)
			h.writeError(w, domain.Unauthenticated("invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) verifyToken(tokenString string) (*domain.Principal, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}
	email, _ := claims["email"].(string)
	if email == "" {
		return nil, errors.New("token has no email claim")
	}

	principal := &domain.Principal{Email: email}
	principal.UID, _ = claims["sub"].(string)
	principal.Role, _ = claims["role"].(string)
	if perms, ok := claims["adminPermissions"].(map[string]interface{}); ok {
		principal.AdminPermissions = make(map[string]bool, len(perms))
		for name, v := range perms {
			granted, _ := v.(bool)
			principal.AdminPermissions[name] = granted
		}
	}
	return principal, nil
}

// principal returns the authenticated caller; nil outside authMiddleware.
func principal(r *http.Request) *domain.Principal {
	p, _ := r.Context().Value(principalKey).(*domain.Principal)
	return p
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps a service error onto an HTTP status
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindPermissionDenied:
		return http.StatusForbidden
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindFailedPrecondition:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, domain.InvalidArgument("invalid request body"))
		return false
	}
	return true
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// DeleteAccount removes the caller's account, data first, identity last
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.DeleteAccount(r.Context(), principal(r)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "deleted"})
}

// SendFriendRequest sends a friend request to another user
func (h *Handler) SendFriendRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipientEmail string `json:"recipientEmail"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.friends.SendRequest(r.Context(), principal(r), req.RecipientEmail); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "sent"})
}

// AcceptFriendRequest accepts a pending friend request
func (h *Handler) AcceptFriendRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SenderEmail string `json:"senderEmail"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.friends.AcceptRequest(r.Context(), principal(r), req.SenderEmail); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "accepted"})
}

// RemoveFriend rejects a pending request or removes an existing friend
func (h *Handler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	friendEmail := chi.URLParam(r, "friendEmail")
	if err := h.friends.RejectOrRemove(r.Context(), principal(r), friendEmail); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "removed"})
}

// SearchUsers finds users by exact nickname
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	results, err := h.friends.Search(r.Context(), principal(r), r.URL.Query().Get("nickname"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, results)
}

// CreateBattle sends a live battle request
func (h *Handler) CreateBattle(w http.ResponseWriter, r *http.Request) {
	var req domain.BattleRequestInput
	if !h.decode(w, r, &req) {
		return
	}

	battleID, err := h.battles.SendBattleRequest(r.Context(), principal(r), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"battleId": battleID})
}

// RespondToBattle accepts or rejects a pending battle request
func (h *Handler) RespondToBattle(w http.ResponseWriter, r *http.Request) {
	var req domain.BattleRespondInput
	if !h.decode(w, r, &req) {
		return
	}
	req.BattleID = chi.URLParam(r, "battleID")

	err := h.battles.RespondToBattleRequest(r.Context(), principal(r), req.BattleID, req.Response)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": req.Response})
}

// CancelBattle cancels a live battle
func (h *Handler) CancelBattle(w http.ResponseWriter, r *http.Request) {
	if err := h.battles.CancelBattle(r.Context(), principal(r), chi.URLParam(r, "battleID")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "cancelled"})
}

// CreateAsyncBattle sends an asynchronous battle request
func (h *Handler) CreateAsyncBattle(w http.ResponseWriter, r *http.Request) {
	var req domain.BattleRequestInput
	if !h.decode(w, r, &req) {
		return
	}

	battleID, err := h.battles.SendAsyncBattleRequest(r.Context(), principal(r), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"battleId": battleID})
}

// CompleteAsyncBattle records the caller's run for an asynchronous battle
func (h *Handler) CompleteAsyncBattle(w http.ResponseWriter, r *http.Request) {
	var req domain.BattleCompleteInput
	if !h.decode(w, r, &req) {
		return
	}
	req.BattleID = chi.URLParam(r, "battleID")

	if err := h.battles.CompleteAsyncBattle(r.Context(), principal(r), req); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "recorded"})
}

// CancelAsyncBattle cancels an asynchronous battle
func (h *Handler) CancelAsyncBattle(w http.ResponseWriter, r *http.Request) {
	if err := h.battles.CancelAsyncBattle(r.Context(), principal(r), chi.URLParam(r, "battleID")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "cancelled"})
}

// NotifyAllUsers broadcasts a notification to every user
func (h *Handler) NotifyAllUsers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.admin.NotifyAllUsers(r.Context(), principal(r), req.Title, req.Message); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "sent"})
}

// NotifyUser sends a notification to one user
func (h *Handler) NotifyUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email   string `json:"email"`
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.admin.NotifyUser(r.Context(), principal(r), req.Email, req.Title, req.Message); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "sent"})
}

// SetAdminRole grants an admin role to a user
func (h *Handler) SetAdminRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string          `json:"email"`
		Role        string          `json:"role"`
		Permissions map[string]bool `json:"permissions,omitempty"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.admin.SetAdminRole(r.Context(), principal(r), req.Email, req.Role, req.Permissions); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "granted"})
}

// RemoveAdminRole demotes a user back to a regular account
func (h *Handler) RemoveAdminRole(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.RemoveAdminRole(r.Context(), principal(r), chi.URLParam(r, "email")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "removed"})
}

// SetSuperAdminRole bootstraps the configured super admin account
func (h *Handler) SetSuperAdminRole(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.SetSuperAdminRole(r.Context(), principal(r)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "granted"})
}

// ClearAdminChat deletes the whole admin chat history
func (h *Handler) ClearAdminChat(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.ClearAdminChat(r.Context(), principal(r)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "cleared"})
}

// CreateAnnouncement publishes an announcement
func (h *Handler) CreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.admin.CreateAnnouncement(r.Context(), principal(r), req.Title, req.Message)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    map[string]string{"announcementId": id},
	})
}

// RemoveAnnouncement deletes an announcement
func (h *Handler) RemoveAnnouncement(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.RemoveAnnouncement(r.Context(), principal(r), chi.URLParam(r, "announcementID")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "removed"})
}

// DeleteEvent removes an event challenge and its participants
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.events.Delete(r.Context(), principal(r), chi.URLParam(r, "eventID")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "deleted"})
}
