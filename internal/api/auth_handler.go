package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cvforge/internal/api/middleware"
	"cvforge/internal/auth"
	"cvforge/internal/credits"
	"cvforge/internal/database"
)

const refreshTokenCookieName = "refresh_token"
const refreshTokenBlacklistKeyPrefix = "auth:refresh:blacklist:"

// AuthHandler serves registration, login, Google sign-in, token refresh and
// profile reads.
type AuthHandler struct {
	db                    *gorm.DB
	authService           *auth.AuthService
	googleVerifier        *auth.GoogleVerifier
	redis                 redis.UniversalClient
	logger                *slog.Logger
	loginRateLimitPerHour int
	loginLockThreshold    int
	loginLockTTL          time.Duration
}

func NewAuthHandler(
	db *gorm.DB,
	authService *auth.AuthService,
	googleVerifier *auth.GoogleVerifier,
	redisClient redis.UniversalClient,
	logger *slog.Logger,
	loginRateLimitPerHour int,
	loginLockThreshold int,
	loginLockTTL time.Duration,
) *AuthHandler {
	return &AuthHandler{
		db:                    db,
		authService:           authService,
		googleVerifier:        googleVerifier,
		redis:                 redisClient,
		logger:                logger,
		loginRateLimitPerHour: loginRateLimitPerHour,
		loginLockThreshold:    loginLockThreshold,
		loginLockTTL:          loginLockTTL,
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Name     string `json:"name" binding:"max=255"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	User        profileDT `json:"user"`
}

type profileDT struct {
	ID           uint                     `json:"id"`
	Username     string                   `json:"username"`
	Email        string                   `json:"email"`
	Name         string                   `json:"name"`
	Picture      string                   `json:"picture,omitempty"`
	ResumeCount  int                      `json:"resume_count"`
	Subscription credits.SubscriptionInfo `json:"subscription"`
}

func profileOf(user *database.User) profileDT {
	email := ""
	if user.Email != nil {
		email = *user.Email
	}
	return profileDT{
		ID:           user.ID,
		Username:     user.Username,
		Email:        email,
		Name:         user.Name,
		Picture:      user.Picture,
		ResumeCount:  user.ResumeCount,
		Subscription: credits.Summarize(user),
	}
}

// Register creates a password account with the trial credit allowance.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	logger := h.loggerFromContext(c).With(slog.String("email", email))

	var existing database.User
	if err := h.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error; err == nil {
		logger.Info("register conflict: email already registered")
		Conflict(c, "email already registered")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Error("register lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		logger.Error("hash password failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	username, err := h.uniqueUsername(ctx, email)
	if err != nil {
		logger.Error("derive username failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	now := time.Now()
	user := database.User{
		Username:         username,
		Email:            &email,
		PasswordHash:     hashed,
		Name:             strings.TrimSpace(req.Name),
		SubscriptionTier: database.TierTrial,
		CreditsRemaining: database.TrialCredits,
		LastLogin:        &now,
	}

	if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
		logger.Error("create user failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("user registered", slog.Uint64("user_id", uint64(user.ID)))
	h.replyWithTokenPair(c, http.StatusCreated, &user)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login checks the password and returns a token pair. Attempts are
// rate-limited per IP+email and the account locks after repeated failures.
func (h *AuthHandler) Login(c *gin.Context) {
	ip := c.ClientIP()
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	logger := h.loggerFromContext(c).With(slog.String("email", email))

	rateKey := "rate:login:" + ip + ":" + email + ":" + time.Now().UTC().Format("2006010215")
	count, err := incrWithTTL(ctx, h.redis, rateKey, time.Hour)
	if err != nil {
		count = 0
	}
	if count > int64(h.loginRateLimitPerHour) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	lockKey := "lock:login:" + email
	if ttl, _ := h.redis.TTL(ctx, lockKey).Result(); ttl > 0 {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "account temporarily locked"})
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("login failed: user not found")
			_ = h.incrementLoginFail(ctx, email)
			Unauthorized(c)
			return
		}
		logger.Error("login query failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if user.PasswordHash == "" {
		logger.Info("login failed: oauth-only account", slog.Uint64("user_id", uint64(user.ID)))
		BadRequest(c, "this account uses Google sign-in")
		return
	}

	if !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		logger.Info("login failed: password mismatch", slog.Uint64("user_id", uint64(user.ID)))
		_ = h.incrementLoginFail(ctx, email)
		Unauthorized(c)
		return
	}

	_ = h.redis.Del(ctx, "lock:login:fail:"+email).Err()

	now := time.Now()
	if err := h.db.WithContext(ctx).Model(&user).Update("last_login", &now).Error; err != nil {
		logger.Warn("update last login failed", slog.Any("error", err))
	}

	h.replyWithTokenPair(c, http.StatusOK, &user)
}

type googleLoginRequest struct {
	IDToken     string `json:"id_token"`
	AccessToken string `json:"access_token"`
}

// GoogleLogin verifies a Google credential and signs the user in, creating
// the account on first login.
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	var req googleLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.IDToken == "" && req.AccessToken == "" {
		BadRequest(c, "id_token or access_token is required")
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c)

	var identity *auth.GoogleIdentity
	var err error
	if req.IDToken != "" {
		identity, err = h.googleVerifier.VerifyIDToken(ctx, req.IDToken)
	} else {
		identity, err = h.googleVerifier.VerifyAccessToken(ctx, req.AccessToken)
	}
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			logger.Info("google login failed: invalid credential", slog.Any("error", err))
			Unauthorized(c)
			return
		}
		logger.Error("google verification failed", slog.Any("error", err))
		BadGateway(c, "google verification failed")
		return
	}

	user, err := h.findOrCreateGoogleUser(ctx, identity)
	if err != nil {
		logger.Error("google login: resolve account failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("google login", slog.Uint64("user_id", uint64(user.ID)))
	h.replyWithTokenPair(c, http.StatusOK, user)
}

func (h *AuthHandler) findOrCreateGoogleUser(ctx context.Context, identity *auth.GoogleIdentity) (*database.User, error) {
	now := time.Now()
	email := strings.ToLower(identity.Email)

	var user database.User
	err := h.db.WithContext(ctx).Where("google_id = ?", identity.Subject).First(&user).Error
	if err == nil {
		update := map[string]any{
			"name":        identity.Name,
			"picture":     identity.Picture,
			"given_name":  identity.GivenName,
			"family_name": identity.FamilyName,
			"last_login":  &now,
		}
		if err := h.db.WithContext(ctx).Model(&user).Updates(update).Error; err != nil {
			return nil, fmt.Errorf("update google profile: %w", err)
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup by google id: %w", err)
	}

	// Link an existing password account with the same email.
	err = h.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err == nil {
		update := map[string]any{
			"google_id":   identity.Subject,
			"name":        identity.Name,
			"picture":     identity.Picture,
			"given_name":  identity.GivenName,
			"family_name": identity.FamilyName,
			"last_login":  &now,
		}
		if err := h.db.WithContext(ctx).Model(&user).Updates(update).Error; err != nil {
			return nil, fmt.Errorf("link google identity: %w", err)
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup by email: %w", err)
	}

	username, err := h.uniqueUsername(ctx, email)
	if err != nil {
		return nil, err
	}

	subject := identity.Subject
	user = database.User{
		Username:         username,
		Email:            &email,
		GoogleID:         &subject,
		Name:             identity.Name,
		Picture:          identity.Picture,
		GivenName:        identity.GivenName,
		FamilyName:       identity.FamilyName,
		SubscriptionTier: database.TierTrial,
		CreditsRemaining: database.TrialCredits,
		LastLogin:        &now,
	}
	if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create google user: %w", err)
	}
	return &user, nil
}

// uniqueUsername derives a username from the email local part, appending a
// numeric suffix until it is free.
func (h *AuthHandler) uniqueUsername(ctx context.Context, email string) (string, error) {
	base := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		base = email[:at]
	}
	base = strings.ToLower(strings.TrimSpace(base))
	if base == "" {
		base = "user"
	}

	candidate := base
	for suffix := 1; ; suffix++ {
		var count int64
		if err := h.db.WithContext(ctx).
			Model(&database.User{}).
			Where("username = ?", candidate).
			Count(&count).Error; err != nil {
			return "", fmt.Errorf("check username %q: %w", candidate, err)
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, suffix)
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a valid refresh token for a new pair. The old token's
// jti is blacklisted so it cannot be replayed.
func (h *AuthHandler) Refresh(c *gin.Context) {
	refreshToken := h.extractRefreshToken(c)
	if refreshToken == "" {
		Unauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c)

	claims, err := h.authService.ValidateToken(refreshToken)
	if err != nil {
		logger.Info("refresh token invalid", slog.Any("error", err))
		Unauthorized(c)
		return
	}
	if claims.TokenType != auth.TokenTypeRefresh {
		logger.Info("refresh token wrong type", slog.String("token_type", claims.TokenType))
		Unauthorized(c)
		return
	}
	if claims.ID == "" {
		logger.Info("refresh token missing jti")
		Unauthorized(c)
		return
	}

	key := refreshTokenBlacklistKeyPrefix + claims.ID
	if err := h.redis.Get(ctx, key).Err(); err == nil {
		logger.Info("refresh token revoked", slog.String("jti", claims.ID))
		Unauthorized(c)
		return
	} else if !errors.Is(err, redis.Nil) {
		logger.Error("refresh token blacklist lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, claims.UserID).Error; err != nil {
		logger.Info("refresh user not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	// Rotate: the old refresh token dies with this exchange.
	if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
		logger.Error("refresh revoke old token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	h.replyWithTokenPair(c, http.StatusOK, &user)
}

// Logout blacklists the refresh token and clears its cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	refreshToken := h.extractRefreshToken(c)
	if refreshToken == "" {
		BadRequest(c, "refresh token missing")
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c)

	claims, err := h.authService.ValidateToken(refreshToken)
	if err != nil {
		logger.Info("logout token invalid", slog.Any("error", err))
		Unauthorized(c)
		return
	}
	if claims.TokenType != auth.TokenTypeRefresh {
		logger.Info("logout wrong token type", slog.String("token_type", claims.TokenType))
		Unauthorized(c)
		return
	}
	if claims.ID == "" {
		logger.Info("logout token missing jti")
		Unauthorized(c)
		return
	}

	key := refreshTokenBlacklistKeyPrefix + claims.ID
	if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
		logger.Error("logout revoke token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    "",
		MaxAge:   -1,
		Path:     "/",
		Secure:   h.isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	c.Status(http.StatusOK)
}

// Profile returns the caller's profile with the subscription block. A stale
// resume_count is repaired against the real count.
func (h *AuthHandler) Profile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		logger.Info("profile user not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	var actual int64
	if err := h.db.WithContext(ctx).
		Model(&database.Resume{}).
		Where("user_id = ?", userID).
		Count(&actual).Error; err != nil {
		logger.Warn("count resumes failed", slog.Any("error", err))
	} else if int(actual) != user.ResumeCount {
		logger.Info("repairing stale resume count",
			slog.Int("cached", user.ResumeCount),
			slog.Int64("actual", actual),
		)
		if err := h.db.WithContext(ctx).Model(&user).Update("resume_count", int(actual)).Error; err != nil {
			logger.Warn("repair resume count failed", slog.Any("error", err))
		} else {
			user.ResumeCount = int(actual)
		}
	}

	c.JSON(http.StatusOK, profileOf(&user))
}

func (h *AuthHandler) replyWithTokenPair(c *gin.Context, status int, user *database.User) {
	email := ""
	if user.Email != nil {
		email = *user.Email
	}
	tokenPair, err := h.authService.GenerateTokenPair(user.ID, email)
	if err != nil {
		h.loggerFromContext(c).Error("generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	h.setRefreshCookie(c, tokenPair.RefreshToken)
	c.JSON(status, tokenResponse{
		AccessToken: tokenPair.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.authService.AccessTokenTTL().Seconds()),
		User:        profileOf(user),
	})
}

func (h *AuthHandler) extractRefreshToken(c *gin.Context) string {
	if token, err := c.Cookie(refreshTokenCookieName); err == nil && token != "" {
		return token
	}

	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	return ""
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, refreshToken string) {
	maxAge := int(h.authService.RefreshTokenTTL().Seconds())
	if maxAge <= 0 {
		maxAge = int(time.Hour.Seconds())
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    refreshToken,
		MaxAge:   maxAge,
		Path:     "/",
		Secure:   h.isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(h.authService.RefreshTokenTTL()),
	})
}

func (h *AuthHandler) revokeRefreshToken(ctx context.Context, key string, expiresAt *jwt.NumericDate) error {
	var ttl time.Duration
	if expiresAt == nil {
		ttl = h.authService.RefreshTokenTTL()
	} else {
		ttl = time.Until(expiresAt.Time)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return h.redis.Set(ctx, key, "revoked", ttl).Err()
}

func (h *AuthHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

func (h *AuthHandler) isHTTPSRequest(c *gin.Context) bool {
	if c.Request == nil {
		return false
	}
	if c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(c.Request.Header.Get("X-Forwarded-Proto"), "https")
}

func (h *AuthHandler) incrementLoginFail(ctx context.Context, email string) error {
	failKey := "lock:login:fail:" + email
	count, err := h.redis.Incr(ctx, failKey).Result()
	if err != nil {
		return err
	}
	if count == 1 {
		_ = h.redis.Expire(ctx, failKey, h.loginLockTTL).Err()
	}
	if count >= int64(h.loginLockThreshold) {
		_ = h.redis.Set(ctx, "lock:login:"+email, "1", h.loginLockTTL).Err()
	}
	return nil
}
