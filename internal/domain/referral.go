package domain

import "time"

// ReferralOutcome reports how a referral attribution attempt was resolved.
// Skipped outcomes are normal results, not errors.
type ReferralOutcome string

const (
	ReferralAttributed             ReferralOutcome = "attributed"
	ReferralSkippedSelf            ReferralOutcome = "skipped_self"
	ReferralSkippedUnknownReferrer ReferralOutcome = "skipped_unknown_referrer"
	ReferralSkippedAlreadyReferred ReferralOutcome = "skipped_already_referred"
)

// ReferralNotice is the notification intent emitted on a successful
// attribution. The engine only produces the value; delivering it to the
// referrer is the messaging channel's job, and delivery failures never roll
// back the attribution.
type ReferralNotice struct {
	ReferrerID  string
	NewUserID   string
	NewUserName string
	Bonus       int64
}

// LeaderboardEntry is one ranked row of the leaderboard view. JSON field
// names match the public leaderboard endpoint.
type LeaderboardEntry struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Coins     int64     `json:"coins"`
	Referrals int64     `json:"referrals"`
	JoinDate  time.Time `json:"joinDate"`
}
