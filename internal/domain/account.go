// Package domain defines shared domain types and reward constants.
package domain

import "time"

const (
	// DailyCoinCap is the maximum total amount an account may earn per
	// calendar day through the cap-checked credit path.
	DailyCoinCap = 100
	// ReferredBonus is granted to a newly referred account.
	ReferredBonus = 50
	// ReferrerBonus is granted to the referring account.
	ReferrerBonus = 100

	// LeaderboardMinReferrals is the minimum referral count required to
	// appear on the leaderboard.
	LeaderboardMinReferrals = 5
	// LeaderboardLimit is the default leaderboard size.
	LeaderboardLimit = 100

	// DefaultDisplayName labels accounts registered without a username.
	DefaultDisplayName = "Anonymous"
)

// Account is the per-user ledger record.
type Account struct {
	UserID             string    `bson:"user_id" json:"user_id"`
	DisplayName        string    `bson:"display_name" json:"display_name"`
	CoinBalance        int64     `bson:"coin_balance" json:"coin_balance"`
	ReferralCount      int64     `bson:"referral_count" json:"referral_count"`
	JoinedAt           time.Time `bson:"joined_at" json:"joined_at"`
	LastCoinCreditAt   time.Time `bson:"last_coin_credit_at" json:"last_coin_credit_at"`
	CoinsCreditedToday int64     `bson:"coins_credited_today" json:"coins_credited_today"`
	ReferredBy         string    `bson:"referred_by,omitempty" json:"referred_by,omitempty"`
}
