package score

import "time"

type Period string

const (
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

const (
	UploadPoints   = 10
	ReferralPoints = 50
)

func (p Period) Valid() bool {
	return p == Weekly || p == Monthly
}

func (p Period) Length() time.Duration {
	if p == Monthly {
		return 30 * 24 * time.Hour
	}
	return 7 * 24 * time.Hour
}

// Since is the start of the period window ending at now.
func (p Period) Since(now time.Time) time.Time {
	return now.Add(-p.Length())
}

func (p Period) column() string {
	if p == Monthly {
		return "month_score"
	}
	return "week_score"
}

// Score weighs uploads and referrals into leaderboard points.
func Score(files, referrals int64) int64 {
	return files*UploadPoints + referrals*ReferralPoints
}

type PeriodStats struct {
	FileCount     int64 `json:"file_count"`
	ReferralCount int64 `json:"referral_count"`
	Score         int64 `json:"score"`
}

func newPeriodStats(files, referrals int64) PeriodStats {
	return PeriodStats{FileCount: files, ReferralCount: referrals, Score: Score(files, referrals)}
}

type UserStats struct {
	AccountID      string      `json:"account_id"`
	Weekly         PeriodStats `json:"weekly"`
	Monthly        PeriodStats `json:"monthly"`
	TotalFiles     int64       `json:"total_files"`
	TotalReferrals int64       `json:"total_referrals"`
	Diamonds       int64       `json:"diamonds"`
}

type Entry struct {
	Rank          int    `json:"rank"`
	AccountID     string `json:"account_id"`
	FirstName     string `json:"first_name"`
	Username      string `json:"username"`
	Score         int64  `json:"score"`
	FileCount     int64  `json:"file_count"`
	ReferralCount int64  `json:"referral_count"`
}

type Rank struct {
	Weekly  int64 `json:"weekly"`
	Monthly int64 `json:"monthly"`
	Total   int64 `json:"total"`
}

// ScoreUpdate is a snapshot to persist onto the account row. Nil fields are left alone.
type ScoreUpdate struct {
	AccountID string
	Weekly    *int64
	Monthly   *int64
}
