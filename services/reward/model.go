package reward

import (
	"errors"
	"fmt"
	"math"
	"time"

	"cloudbot/pkg/errutil"
)

// Cycle is the window in which an account can receive at most one reward.
const Cycle = 7 * 24 * time.Hour

type Tier struct {
	Diamonds int64  `json:"diamonds"`
	Title    string `json:"title"`
	Badge    string `json:"badge"`
}

// Table pays the weekly top 10, indexed by rank - 1.
var Table = [...]Tier{
	{Diamonds: 1000, Title: "🥇 1st place", Badge: "🏆"},
	{Diamonds: 500, Title: "🥈 2nd place", Badge: "⭐️"},
	{Diamonds: 250, Title: "🥉 3rd place", Badge: "🌟"},
	{Diamonds: 100, Title: "Top 5", Badge: "💫"},
	{Diamonds: 100, Title: "Top 5", Badge: "💫"},
	{Diamonds: 50, Title: "Top 10", Badge: "✨"},
	{Diamonds: 50, Title: "Top 10", Badge: "✨"},
	{Diamonds: 50, Title: "Top 10", Badge: "✨"},
	{Diamonds: 50, Title: "Top 10", Badge: "✨"},
	{Diamonds: 50, Title: "Top 10", Badge: "✨"},
}

// TierFor returns the reward for a 1-based rank.
func TierFor(rank int) (Tier, bool) {
	if rank < 1 || rank > len(Table) {
		return Tier{}, false
	}
	return Table[rank-1], true
}

type Assignment struct {
	AccountID string    `json:"account_id"`
	Rank      int       `json:"rank"`
	Diamonds  int64     `json:"diamonds"`
	Title     string    `json:"title"`
	Badge     string    `json:"badge"`
	AwardedAt time.Time `json:"awarded_at"`
}

type Distribution struct {
	Cycle    string       `json:"cycle"`
	Assigned []Assignment `json:"assigned"`
	// Skipped lists leaderboard accounts already rewarded this cycle.
	Skipped []string `json:"skipped"`
}

const (
	SourceDistribution = "distribution"
	SourceClaim        = "claim"
)

// Grant records an applied reward. It is an audit trail only; eligibility
// is decided by the account's claim timestamp.
type Grant struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	AccountID string    `gorm:"column:account_id;index" json:"account_id"`
	Cycle     string    `gorm:"column:cycle;index" json:"cycle"`
	Rank      int       `gorm:"column:rank" json:"rank"`
	Diamonds  int64     `gorm:"column:diamonds" json:"diamonds"`
	Source    string    `gorm:"column:source" json:"source"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Grant) TableName() string { return "reward_grants" }

// CycleLabel names the ISO week containing t, e.g. "2024-W07".
func CycleLabel(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

var (
	ErrAlreadyClaimed = errors.New("reward already claimed this cycle")
	ErrNotEligible    = errors.New("not in the weekly top 10")
)

// RejectedError explains why a claim was refused and when to retry.
type RejectedError struct {
	Reason     error
	DaysLeft   int
	RetryAfter time.Duration
}

func (e *RejectedError) Error() string {
	if e.DaysLeft > 0 {
		return fmt.Sprintf("%v: next claim in %d day(s)", e.Reason, e.DaysLeft)
	}
	return e.Reason.Error()
}

func (e *RejectedError) Unwrap() error { return e.Reason }

func (e *RejectedError) Status() errutil.CoreStatus {
	if errors.Is(e.Reason, ErrAlreadyClaimed) {
		return errutil.StatusConflict
	}
	return errutil.StatusUnprocessableEntity
}

func (e *RejectedError) JSON() any {
	body := map[string]any{
		"code":    e.Status(),
		"message": e.Error(),
	}
	if e.DaysLeft > 0 {
		body["retry_after_days"] = e.DaysLeft
	}
	return map[string]any{"error": body}
}

func alreadyClaimed(claimedAt, now time.Time) *RejectedError {
	retry := claimedAt.Add(Cycle).Sub(now)
	if retry < 0 {
		retry = 0
	}
	return &RejectedError{
		Reason:     ErrAlreadyClaimed,
		DaysLeft:   int(math.Ceil(retry.Hours() / 24)),
		RetryAfter: retry,
	}
}
