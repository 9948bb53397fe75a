package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cvforge/internal/ai"
	"cvforge/internal/auth"
	"cvforge/internal/credits"
	"cvforge/internal/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.User{}, &database.Resume{}, &database.Feedback{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, username string, creditsRemaining int) *database.User {
	t.Helper()
	email := username + "@example.com"
	user := database.User{
		Username:         username,
		Email:            &email,
		PasswordHash:     "x",
		SubscriptionTier: database.TierTrial,
		CreditsRemaining: creditsRemaining,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	// The column default would override a zero balance at insert.
	if err := db.Model(&user).Update("credits_remaining", creditsRemaining).Error; err != nil {
		t.Fatalf("set balance: %v", err)
	}
	user.CreditsRemaining = creditsRemaining
	return &user
}

func seedResume(t *testing.T, db *gorm.DB, userID uint, title string) *database.Resume {
	t.Helper()
	resume := database.Resume{
		Title:   title,
		Content: []byte(`{"name":"Ada"}`),
		UserID:  userID,
		Status:  database.ResumeStatusDraft,
	}
	if err := db.Create(&resume).Error; err != nil {
		t.Fatalf("seed resume: %v", err)
	}
	return &resume
}

func newTestContext(t *testing.T, userID uint) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	if userID != 0 {
		c.Set("userID", userID)
	}
	return c, w
}

type fakeGenerator struct {
	output string
	err    error
	calls  int
}

func (g *fakeGenerator) Generate(_ context.Context, _, _ string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return g.output, nil
}

func newTestPipeline(db *gorm.DB, gen ai.Generator) *ai.Pipeline {
	return ai.NewPipeline(credits.NewLedger(db), gen, slog.Default())
}

func newTestAuthService(t *testing.T) *auth.AuthService {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicDER,
	})

	service, err := auth.NewAuthService(privatePEM, publicPEM, time.Hour, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("init auth service: %v", err)
	}
	return service
}

func reloadUser(t *testing.T, db *gorm.DB, id uint) *database.User {
	t.Helper()
	var user database.User
	if err := db.First(&user, id).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	return &user
}
