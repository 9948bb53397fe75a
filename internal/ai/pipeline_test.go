package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cvforge/internal/credits"
	"cvforge/internal/database"
)

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

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, tier string, remaining int) *database.User {
	t.Helper()
	user := database.User{
		Username:         "tester",
		SubscriptionTier: tier,
		CreditsRemaining: remaining,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	// Zero values are skipped on insert for columns with gorm defaults, so
	// force the requested balance explicitly.
	if err := db.Model(&user).Update("credits_remaining", remaining).Error; err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	return &user
}

func counters(t *testing.T, db *gorm.DB, id uint) (int, int) {
	t.Helper()
	var user database.User
	if err := db.First(&user, id).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	return user.CreditsRemaining, user.CreditsUsed
}

func TestRunSuccessKeepsReservation(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, database.TierTrial, 10)
	gen := &fakeGenerator{output: "Led a team of five engineers."}
	p := NewPipeline(credits.NewLedger(db), gen, nil)

	out, err := p.Run(context.Background(), user.ID, credits.OpEnhance, EnhanceInstructions, "led team", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != gen.output {
		t.Fatalf("output = %q", out)
	}

	remaining, used := counters(t, db, user.ID)
	if remaining != 9 || used != 1 {
		t.Fatalf("counters = (%d, %d), want (9, 1)", remaining, used)
	}
}

func TestRunEmptyContentRefunds(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, database.TierTrial, 10)
	gen := &fakeGenerator{output: "unused"}
	p := NewPipeline(credits.NewLedger(db), gen, nil)

	_, err := p.Run(context.Background(), user.ID, credits.OpEnhance, EnhanceInstructions, "   ", nil)
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("generator called %d times for invalid input", gen.calls)
	}

	remaining, used := counters(t, db, user.ID)
	if remaining != 10 || used != 0 {
		t.Fatalf("counters = (%d, %d), want (10, 0)", remaining, used)
	}
}

func TestRunInsufficientBlocksDelegation(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, database.TierBasic, 0)
	gen := &fakeGenerator{output: "unused"}
	p := NewPipeline(credits.NewLedger(db), gen, nil)

	_, err := p.Run(context.Background(), user.ID, credits.OpAnalyze, AnalyzeInstructions, "content", nil)
	var insufficient *credits.InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("external call attempted despite empty balance")
	}

	remaining, used := counters(t, db, user.ID)
	if remaining != 0 || used != 0 {
		t.Fatalf("counters changed: (%d, %d)", remaining, used)
	}
}

func TestRunDelegationFailureRefunds(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, database.TierTrial, 10)
	gen := &fakeGenerator{err: errors.New("provider unavailable")}
	p := NewPipeline(credits.NewLedger(db), gen, nil)

	_, err := p.Run(context.Background(), user.ID, credits.OpEnhance, EnhanceInstructions, "content", nil)
	var delegation *DelegationError
	if !errors.As(err, &delegation) {
		t.Fatalf("expected DelegationError, got %v", err)
	}
	if delegation.Kind != credits.OpEnhance {
		t.Fatalf("delegation kind = %q", delegation.Kind)
	}

	remaining, used := counters(t, db, user.ID)
	if remaining != 10 || used != 0 {
		t.Fatalf("counters = (%d, %d), want (10, 0)", remaining, used)
	}
}

func TestRunPostValidationFailureRefunds(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, database.TierTrial, 10)
	gen := &fakeGenerator{output: "not json at all"}
	p := NewPipeline(credits.NewLedger(db), gen, nil)

	post := func(s string) (string, error) {
		return "", errors.New("malformed output")
	}
	_, err := p.Run(context.Background(), user.ID, "parse", ParseInstructions, "resume text", post)
	var delegation *DelegationError
	if !errors.As(err, &delegation) {
		t.Fatalf("expected DelegationError, got %v", err)
	}

	remaining, used := counters(t, db, user.ID)
	if remaining != 10 || used != 0 {
		t.Fatalf("counters = (%d, %d), want (10, 0)", remaining, used)
	}
}

func TestRunUnlimitedTierTracksUsage(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, database.TierPro, 0)
	gen := &fakeGenerator{output: "ok"}
	p := NewPipeline(credits.NewLedger(db), gen, nil)

	for i := 0; i < 5; i++ {
		if _, err := p.Run(context.Background(), user.ID, credits.OpEnhance, EnhanceInstructions, "content", nil); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	remaining, used := counters(t, db, user.ID)
	if remaining != 0 || used != 5 {
		t.Fatalf("counters = (%d, %d), want (0, 5)", remaining, used)
	}
}
