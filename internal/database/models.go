package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Subscription tiers. Tier pro never blocks on balance; its consumption is
// still tracked in CreditsUsed.
const (
	TierTrial   = "trial"
	TierBasic   = "basic"
	TierPremium = "premium"
	TierPro     = "pro"
)

// TrialCredits is the starting balance of every new account.
const TrialCredits = 10

// User is an account: credentials, optional Google identity, and credit state.
type User struct {
	gorm.Model
	Username     string  `gorm:"uniqueIndex;size:64"`
	Email        *string `gorm:"uniqueIndex;size:255"`
	PasswordHash string  `gorm:"size:255"` // empty for OAuth-only accounts

	GoogleID   *string `gorm:"index;size:64"`
	Name       string  `gorm:"size:255"`
	Picture    string  `gorm:"size:512"`
	GivenName  string  `gorm:"size:128"`
	FamilyName string  `gorm:"size:128"`
	LastLogin  *time.Time

	SubscriptionTier  string `gorm:"size:16;default:trial"`
	CreditsRemaining  int    `gorm:"default:10"`
	CreditsUsed       int    `gorm:"default:0"`
	SubscriptionStart *time.Time
	SubscriptionEnd   *time.Time

	// Cached count of owned resumes; repaired lazily when a stats read
	// finds it out of sync with the resumes table.
	ResumeCount int `gorm:"default:0"`

	Resumes []Resume `gorm:"constraint:OnDelete:CASCADE"`
}

// Unlimited reports whether the account's tier never blocks on balance.
func (u *User) Unlimited() bool {
	return u.SubscriptionTier == TierPro
}

// Resume holds the parsed document plus derived render artifacts.
type Resume struct {
	gorm.Model
	Title        string         `gorm:"size:255"`
	Content      datatypes.JSON `gorm:"type:jsonb"`
	UserID       uint           `gorm:"index"`
	User         User           `gorm:"constraint:OnDelete:CASCADE"`
	YAMLContent  string         `gorm:"type:text"` // RenderCV description, set by the worker
	PDFObjectKey string         `gorm:"size:512"`
	Status       string         `gorm:"size:32"`
}

// Resume render states.
const (
	ResumeStatusDraft     = "draft"
	ResumeStatusRendering = "rendering"
	ResumeStatusCompleted = "completed"
	ResumeStatusFailed    = "failed"
)

// Feedback stores a free-form message submitted by an authenticated user.
type Feedback struct {
	gorm.Model
	UserID     uint   `gorm:"index"`
	UserEmail  string `gorm:"size:255"`
	Message    string `gorm:"type:text"`
	ResolvedAt *time.Time
}
