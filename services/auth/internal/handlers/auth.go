package handlers

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AfshinJalili/kryptbroker/libs/auth"
	"github.com/AfshinJalili/kryptbroker/services/auth/internal/rate"
	"github.com/AfshinJalili/kryptbroker/services/auth/internal/security"
	"github.com/AfshinJalili/kryptbroker/services/auth/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const minPasswordLength = 6

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Store interface {
	CreateAccount(ctx context.Context, in storage.NewAccount) (*storage.Account, error)
	GetByUsername(ctx context.Context, username string) (*storage.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*storage.Account, error)
}

type AuthHandler struct {
	Store     Store
	Logger    *slog.Logger
	JWTSecret []byte
	TokenTTL  time.Duration
	Limiter   rate.Limiter
	Argon2    security.Argon2Params
	Clock     Clock
	Issuer    string
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
}

type registerResponse struct {
	Message string   `json:"message"`
	User    userView `json:"user"`
}

type loginResponse struct {
	Message   string   `json:"message"`
	Token     string   `json:"token"`
	ExpiresIn int64    `json:"expires_in"`
	User      userView `json:"user"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func NewAuthHandler(store Store, logger *slog.Logger, jwtSecret string, tokenTTL time.Duration, limiter rate.Limiter, issuer string, params security.Argon2Params) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		Store:     store,
		Logger:    logger,
		JWTSecret: []byte(jwtSecret),
		TokenTTL:  tokenTTL,
		Limiter:   limiter,
		Argon2:    params,
		Clock:     systemClock{},
		Issuer:    issuer,
	}
}

func (h *AuthHandler) RegisterRoutes(r gin.IRouter) {
	group := r.Group("/api/auth")
	group.POST("/register", h.Register)
	group.POST("/login", h.Login)
	group.POST("/logout", h.Logout)
	group.GET("/me", auth.Middleware(h.JWTSecret), h.Me)
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payload"})
		return
	}

	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !usernamePattern.MatchString(username) {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "username must be 3-32 letters, digits, '.', '_' or '-'"})
		return
	}
	if at := strings.Index(email, "@"); at <= 0 || at == len(email)-1 {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid email"})
		return
	}
	if len(req.Password) < minPasswordLength {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "password too short"})
		return
	}

	hash, err := security.HashPassword(req.Password, h.Argon2)
	if err != nil {
		h.Logger.Error("password hash failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	account, err := h.Store.CreateAccount(c.Request.Context(), storage.NewAccount{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         storage.DefaultRole,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			c.JSON(http.StatusConflict, errorResponse{Code: "CONFLICT", Message: "user exists"})
			return
		}
		h.Logger.Error("account insert failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	h.Logger.Info("account registered", "account_id", account.ID.String(), "username", account.Username)
	c.JSON(http.StatusCreated, registerResponse{
		Message: "Registered successfully",
		User:    newUserView(account, false),
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payload"})
		return
	}

	if !h.allowLogin(c) {
		return
	}

	account, err := h.Store.GetByUsername(c.Request.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid credentials"})
			return
		}
		h.Logger.Error("login lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	ok, err := security.VerifyPassword(req.Password, account.PasswordHash)
	if err != nil {
		h.Logger.Warn("stored password hash unreadable", "account_id", account.ID.String(), "error", err)
	}
	if err != nil || !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid credentials"})
		return
	}

	token, err := auth.IssueToken(account.ID.String(), account.Username, account.Role, h.JWTSecret, h.TokenTTL, h.Clock.Now(), h.Issuer)
	if err != nil {
		h.Logger.Error("jwt sign failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		Message:   "Login successful",
		Token:     token,
		ExpiresIn: int64(h.TokenTTL.Seconds()),
		User:      newUserView(account, false),
	})
}

// allowLogin writes the 429 itself. A limiter backend failure lets the
// attempt through so a Redis outage does not lock everyone out.
func (h *AuthHandler) allowLogin(c *gin.Context) bool {
	if h.Limiter == nil {
		return true
	}
	allowed, retryAfter, err := h.Limiter.Allow(c.Request.Context(), c.ClientIP(), h.Clock.Now())
	if err != nil {
		h.Logger.Warn("rate limiter unavailable", "error", err)
		return true
	}
	if allowed {
		return true
	}
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	c.JSON(http.StatusTooManyRequests, errorResponse{Code: "RATE_LIMITED", Message: "too many requests"})
	return false
}

// Logout is a no-op server side; tokens are stateless and the client drops it.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "unauthorized"})
		return
	}

	account, err := h.Store.GetByID(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Code: "ACCOUNT_NOT_FOUND", Message: "account not found"})
			return
		}
		h.Logger.Error("me lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": newUserView(account, true)})
}

func newUserView(a *storage.Account, withEmail bool) userView {
	view := userView{
		ID:       a.ID.String(),
		Username: a.Username,
		Role:     a.Role,
	}
	if withEmail {
		view.Email = a.Email
	}
	return view
}
