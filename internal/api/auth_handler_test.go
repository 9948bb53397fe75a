package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cvforge/internal/api/middleware"
	"cvforge/internal/database"
)

// Redis is unreachable in these tests; the rate limiter fails open, which is
// the handler's production behavior too.
func newAuthTestHandler(t *testing.T, db *gorm.DB) *AuthHandler {
	t.Helper()
	redisClient := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	return NewAuthHandler(db, newTestAuthService(t), nil, redisClient, slog.Default(), 10, 5, 15*time.Minute)
}

func jsonRequest(t *testing.T, method, target string, body map[string]any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRegisterCreatesTrialAccount(t *testing.T) {
	db := newTestDB(t)
	h := newAuthTestHandler(t, db)

	c, w := newTestContext(t, 0)
	c.Request = jsonRequest(t, http.MethodPost, "/v1/auth/register", map[string]any{
		"email":    "ada@example.com",
		"password": "analytical-engine",
		"name":     "Ada Lovelace",
	})

	h.Register(c)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}

	var user database.User
	if err := db.Where("username = ?", "ada").First(&user).Error; err != nil {
		t.Fatalf("load created user: %v", err)
	}
	if user.SubscriptionTier != database.TierTrial {
		t.Fatalf("tier = %q", user.SubscriptionTier)
	}
	if user.CreditsRemaining != database.TrialCredits {
		t.Fatalf("credits = %d, want %d", user.CreditsRemaining, database.TrialCredits)
	}
	if user.PasswordHash == "" || user.PasswordHash == "analytical-engine" {
		t.Fatalf("password not hashed")
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["access_token"] == "" {
		t.Fatalf("no access token issued")
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	db := newTestDB(t)
	h := newAuthTestHandler(t, db)

	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		c, w := newTestContext(t, 0)
		c.Request = jsonRequest(t, http.MethodPost, "/v1/auth/register", map[string]any{
			"email":    "dup@example.com",
			"password": "long-enough-pass",
		})
		h.Register(c)
		if w.Code != want {
			t.Fatalf("attempt %d: expected %d, got %d body=%s", i, want, w.Code, w.Body.String())
		}
	}
}

func TestRegisterDeduplicatesUsername(t *testing.T) {
	db := newTestDB(t)
	h := newAuthTestHandler(t, db)

	for _, email := range []string{"sam@one.example", "sam@two.example"} {
		c, w := newTestContext(t, 0)
		c.Request = jsonRequest(t, http.MethodPost, "/v1/auth/register", map[string]any{
			"email":    email,
			"password": "long-enough-pass",
		})
		h.Register(c)
		if w.Code != http.StatusCreated {
			t.Fatalf("register %s: got %d body=%s", email, w.Code, w.Body.String())
		}
	}

	var usernames []string
	if err := db.Model(&database.User{}).Order("id").Pluck("username", &usernames).Error; err != nil {
		t.Fatalf("pluck usernames: %v", err)
	}
	if len(usernames) != 2 || usernames[0] != "sam" || usernames[1] != "sam1" {
		t.Fatalf("usernames = %v", usernames)
	}
}

func TestLoginRoundTrip(t *testing.T) {
	db := newTestDB(t)
	h := newAuthTestHandler(t, db)

	c, w := newTestContext(t, 0)
	c.Request = jsonRequest(t, http.MethodPost, "/v1/auth/register", map[string]any{
		"email":    "grace@example.com",
		"password": "cobol-compiler",
	})
	h.Register(c)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: got %d", w.Code)
	}

	c, w = newTestContext(t, 0)
	c.Request = jsonRequest(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    "grace@example.com",
		"password": "cobol-compiler",
	})
	h.Login(c)
	if w.Code != http.StatusOK {
		t.Fatalf("login: got %d body=%s", w.Code, w.Body.String())
	}

	c, w = newTestContext(t, 0)
	c.Request = jsonRequest(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    "grace@example.com",
		"password": "wrong-password-1",
	})
	h.Login(c)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: got %d body=%s", w.Code, w.Body.String())
	}
}

func TestLoginOAuthOnlyAccount(t *testing.T) {
	db := newTestDB(t)
	h := newAuthTestHandler(t, db)

	email := "oauth@example.com"
	googleID := "google-subject-1"
	user := database.User{
		Username:         "oauth",
		Email:            &email,
		GoogleID:         &googleID,
		SubscriptionTier: database.TierTrial,
		CreditsRemaining: database.TrialCredits,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed oauth user: %v", err)
	}

	c, w := newTestContext(t, 0)
	c.Request = jsonRequest(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    email,
		"password": "whatever-it-is",
	})
	h.Login(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oauth-only account, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestProfileRepairsStaleResumeCount(t *testing.T) {
	db := newTestDB(t)
	h := newAuthTestHandler(t, db)
	user := seedUser(t, db, "stale", 10)
	seedResume(t, db, user.ID, "One")
	seedResume(t, db, user.ID, "Two")
	if err := db.Model(user).Update("resume_count", 7).Error; err != nil {
		t.Fatalf("seed stale count: %v", err)
	}

	c, w := newTestContext(t, user.ID)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/auth/profile", nil)

	h.Profile(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp profileDT
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if resp.ResumeCount != 2 {
		t.Fatalf("resume_count = %d, want repaired 2", resp.ResumeCount)
	}
	if got := reloadUser(t, db, user.ID).ResumeCount; got != 2 {
		t.Fatalf("stored resume_count = %d, want 2", got)
	}
}

func TestAccessTokenRejectedOnRefreshPath(t *testing.T) {
	db := newTestDB(t)
	h := newAuthTestHandler(t, db)
	user := seedUser(t, db, "tokens", 10)

	pair, err := h.authService.GenerateTokenPair(user.ID, "tokens@example.com")
	if err != nil {
		t.Fatalf("generate pair: %v", err)
	}

	c, w := newTestContext(t, 0)
	c.Request = jsonRequest(t, http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refresh_token": pair.AccessToken,
	})
	h.Refresh(c)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for access token on refresh, got %d", w.Code)
	}
}

func TestAuthMiddlewareRejectsRefreshToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestAuthService(t)

	router := gin.New()
	router.GET("/protected", middleware.AuthMiddleware(svc), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	pair, err := svc.GenerateTokenPair(1, "bearer@example.com")
	if err != nil {
		t.Fatalf("generate pair: %v", err)
	}

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"access token accepted", pair.AccessToken, http.StatusOK},
		{"refresh token rejected", pair.RefreshToken, http.StatusUnauthorized},
		{"garbage rejected", "not-a-jwt", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+tc.token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.name, w.Code, tc.want)
		}
	}
}
