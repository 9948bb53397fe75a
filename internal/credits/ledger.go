package credits

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"cvforge/internal/database"
)

// Fixed price list for credit-metered operations. Operation kinds not in
// the table cost DefaultCost.
const (
	OpEnhance  = "enhance"
	OpAnalyze  = "analyze"
	OpGenerate = "generate"
	OpOptimize = "optimize"

	DefaultCost = 1
)

var costs = map[string]int{
	OpEnhance:  1,
	OpAnalyze:  2,
	OpGenerate: 3,
	OpOptimize: 1,
}

// Cost returns the fixed price of an operation kind.
func Cost(kind string) int {
	if c, ok := costs[kind]; ok {
		return c
	}
	return DefaultCost
}

// ErrAccountNotFound is returned when the account id does not resolve.
var ErrAccountNotFound = errors.New("account not found")

// InsufficientCreditsError carries enough context for a 402 response.
type InsufficientCreditsError struct {
	Remaining int
	Required  int
	Tier      string
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: have %d, need %d (tier %s)", e.Remaining, e.Required, e.Tier)
}

// Ledger gates and accounts for per-account credit consumption. All counter
// mutations go through single conditional UPDATEs so that concurrent
// reservations against one account are serialized by the database row.
type Ledger struct {
	db *gorm.DB
}

// NewLedger constructs a ledger over the given database.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Reserve debits the cost of the operation kind before the external work is
// attempted. Unlimited-tier accounts only accrue usage and never block.
func (l *Ledger) Reserve(ctx context.Context, userID uint, kind string) error {
	cost := Cost(kind)

	user, err := l.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	if user.Unlimited() {
		res := l.db.WithContext(ctx).Model(&database.User{}).
			Where("id = ?", userID).
			Update("credits_used", gorm.Expr("credits_used + ?", cost))
		if res.Error != nil {
			return fmt.Errorf("record usage: %w", res.Error)
		}
		return nil
	}

	// Compare-and-set: the WHERE clause re-checks the balance inside the
	// UPDATE, so two concurrent reserves can never both spend the last cost.
	res := l.db.WithContext(ctx).Model(&database.User{}).
		Where("id = ? AND credits_remaining >= ?", userID, cost).
		Updates(map[string]any{
			"credits_remaining": gorm.Expr("credits_remaining - ?", cost),
			"credits_used":      gorm.Expr("credits_used + ?", cost),
		})
	if res.Error != nil {
		return fmt.Errorf("reserve credits: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Reload for an accurate balance in the error.
		if fresh, err := l.loadUser(ctx, userID); err == nil {
			user = fresh
		}
		return &InsufficientCreditsError{
			Remaining: user.CreditsRemaining,
			Required:  cost,
			Tier:      user.SubscriptionTier,
		}
	}
	return nil
}

// Refund reverses a reservation for the operation kind. It is unconditional:
// a refund without a matching reserve simply adds balance. CreditsUsed is
// floored at zero so repeated refunds cannot drive it negative.
func (l *Ledger) Refund(ctx context.Context, userID uint, kind string) error {
	cost := Cost(kind)

	user, err := l.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"credits_used": gorm.Expr(
			"CASE WHEN credits_used >= ? THEN credits_used - ? ELSE 0 END", cost, cost),
	}
	if !user.Unlimited() {
		updates["credits_remaining"] = gorm.Expr("credits_remaining + ?", cost)
	}

	res := l.db.WithContext(ctx).Model(&database.User{}).
		Where("id = ?", userID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("refund credits: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SubscriptionInfo is the credit summary exposed on profile reads.
type SubscriptionInfo struct {
	Tier             string `json:"type"`
	CreditsRemaining int    `json:"credits_remaining"`
	CreditsUsed      int    `json:"credits_used"`
	IsUnlimited      bool   `json:"is_unlimited"`
	StartDate        any    `json:"start_date"`
	EndDate          any    `json:"end_date"`
}

// Summarize builds the subscription block for an account.
func Summarize(user *database.User) SubscriptionInfo {
	return SubscriptionInfo{
		Tier:             user.SubscriptionTier,
		CreditsRemaining: user.CreditsRemaining,
		CreditsUsed:      user.CreditsUsed,
		IsUnlimited:      user.Unlimited(),
		StartDate:        user.SubscriptionStart,
		EndDate:          user.SubscriptionEnd,
	}
}

func (l *Ledger) loadUser(ctx context.Context, userID uint) (*database.User, error) {
	var user database.User
	if err := l.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return &user, nil
}
