package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"cvforge/internal/config"
	"cvforge/internal/database"
)

// Operations tool for account administration: grant credits or change the
// subscription tier of an existing account.
func main() {
	var (
		username = flag.String("username", "", "account username")
		email    = flag.String("email", "", "account email (alternative to --username)")
		grant    = flag.Int("grant", 0, "credits to add to the balance")
		tier     = flag.String("tier", "", "set subscription tier (trial|basic|premium|pro)")
		months   = flag.Int("months", 1, "subscription validity in months when setting a tier")
	)
	flag.Parse()

	u := strings.TrimSpace(*username)
	e := strings.ToLower(strings.TrimSpace(*email))
	if u == "" && e == "" {
		log.Fatal("missing required flag: --username or --email")
	}
	if *grant <= 0 && strings.TrimSpace(*tier) == "" {
		log.Fatal("nothing to do: pass --grant and/or --tier")
	}

	cfg := config.MustLoad()
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}

	var user database.User
	query := db.Model(&database.User{})
	if u != "" {
		query = query.Where("username = ?", u)
	} else {
		query = query.Where("email = ?", e)
	}
	switch err := query.First(&user).Error; {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		log.Fatalf("account not found")
	default:
		log.Fatalf("query account: %v", err)
	}

	updates := map[string]any{}

	if *grant > 0 {
		updates["credits_remaining"] = gorm.Expr("credits_remaining + ?", *grant)
	}

	if t := strings.TrimSpace(*tier); t != "" {
		switch t {
		case database.TierTrial, database.TierBasic, database.TierPremium, database.TierPro:
		default:
			log.Fatalf("invalid tier %q", t)
		}
		now := time.Now()
		end := now.AddDate(0, *months, 0)
		updates["subscription_tier"] = t
		updates["subscription_start"] = &now
		updates["subscription_end"] = &end
	}

	if err := db.Model(&user).Updates(updates).Error; err != nil {
		log.Fatalf("update account: %v", err)
	}

	if err := db.First(&user, user.ID).Error; err != nil {
		log.Fatalf("reload account: %v", err)
	}

	fmt.Printf("account %s (id=%d)\n", user.Username, user.ID)
	fmt.Printf("tier: %s\n", user.SubscriptionTier)
	fmt.Printf("credits remaining: %d, used: %d\n", user.CreditsRemaining, user.CreditsUsed)
}
