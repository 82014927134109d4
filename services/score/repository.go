package score

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloudbot/services/account"

	"gorm.io/gorm"
)

// Store runs the counting queries scores are derived from.
type Store interface {
	FindAccount(ctx context.Context, id string) (*account.Account, error)
	CountUploads(ctx context.Context, ownerID string, since time.Time) (int64, error)
	CountReferrals(ctx context.Context, referrerID string, since time.Time) (int64, error)
	Leaderboard(ctx context.Context, since time.Time, limit int) ([]Entry, error)
	CountScoreAbove(ctx context.Context, period Period, score int64) (int64, error)
	CountAccounts(ctx context.Context) (int64, error)
	SaveScores(ctx context.Context, update ScoreUpdate) error
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) FindAccount(ctx context.Context, id string) (*account.Account, error) {
	if s == nil || s.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var acc account.Account
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// CountUploads counts files owned by ownerID; a zero since counts all of them.
func (s *gormStore) CountUploads(ctx context.Context, ownerID string, since time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, gorm.ErrInvalidDB
	}
	query := s.db.WithContext(ctx).Model(&account.File{}).Where("owner_id = ?", ownerID)
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}
	var n int64
	err := query.Count(&n).Error
	return n, err
}

// CountReferrals counts accounts referred by referrerID that joined on or after since.
func (s *gormStore) CountReferrals(ctx context.Context, referrerID string, since time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, gorm.ErrInvalidDB
	}
	query := s.db.WithContext(ctx).Model(&account.Account{}).Where("referred_by = ?", referrerID)
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}
	var n int64
	err := query.Count(&n).Error
	return n, err
}

var leaderboardSQL = fmt.Sprintf(`
SELECT id AS account_id, first_name, username, file_count, referral_count FROM (
	SELECT a.id, a.first_name, a.username,
		(SELECT COUNT(*) FROM files f WHERE f.owner_id = a.id AND f.created_at >= ?) AS file_count,
		(SELECT COUNT(*) FROM accounts r WHERE r.referred_by = a.id AND r.created_at >= ?) AS referral_count
	FROM accounts a
) t
WHERE file_count > 0 OR referral_count > 0
ORDER BY file_count * %d + referral_count * %d DESC, file_count DESC, id ASC
LIMIT ?`, UploadPoints, ReferralPoints)

// Leaderboard ranks accounts by in-window activity in one round trip.
// Accounts without activity are left out.
func (s *gormStore) Leaderboard(ctx context.Context, since time.Time, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var rows []Entry
	if err := s.db.WithContext(ctx).Raw(leaderboardSQL, since, since, limit).Scan(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Rank = i + 1
		rows[i].Score = Score(rows[i].FileCount, rows[i].ReferralCount)
	}
	return rows, nil
}

func (s *gormStore) CountScoreAbove(ctx context.Context, period Period, score int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, gorm.ErrInvalidDB
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&account.Account{}).
		Where(period.column()+" > ?", score).
		Count(&n).Error
	return n, err
}

func (s *gormStore) CountAccounts(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, gorm.ErrInvalidDB
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&account.Account{}).Count(&n).Error
	return n, err
}

func (s *gormStore) SaveScores(ctx context.Context, update ScoreUpdate) error {
	if s == nil || s.db == nil {
		return gorm.ErrInvalidDB
	}
	cols := map[string]any{}
	if update.Weekly != nil {
		cols[Weekly.column()] = *update.Weekly
	}
	if update.Monthly != nil {
		cols[Monthly.column()] = *update.Monthly
	}
	if len(cols) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&account.Account{}).
		Where("id = ?", update.AccountID).
		UpdateColumns(cols).Error
}
