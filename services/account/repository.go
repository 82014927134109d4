package account

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrAlreadyReferred is returned by LinkReferrer when the account already has a referrer.
var ErrAlreadyReferred = errors.New("account already has a referrer")

// Repository describes database operations available for accounts and their uploads.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository

	Create(ctx context.Context, account *Account) error
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByRefCode(ctx context.Context, code string) (*Account, error)
	ExistingRefCodes(ctx context.Context, codes []string) ([]string, error)
	UpdateProfile(ctx context.Context, id string, profile Profile, activeAt time.Time) error
	SetRefCode(ctx context.Context, id, code string) error
	LinkReferrer(ctx context.Context, id, referrerID string) error

	CreateFile(ctx context.Context, file *File) error

	ListRecipients(ctx context.Context, afterID string, limit int) ([]Account, error)
	MarkBlocked(ctx context.Context, id string) error

	ClaimDiamonds(ctx context.Context, id string, amount int64, claimedAt, notAfter time.Time) (bool, error)

	Summary(ctx context.Context, activeSince time.Time) (*Summary, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTrx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx}
}

func (r *gormRepository) Create(ctx context.Context, account *Account) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(account).Error
}

// FindByID returns nil without error when the account does not exist.
func (r *gormRepository) FindByID(ctx context.Context, id string) (*Account, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	return r.first(ctx, "id = ?", id)
}

func (r *gormRepository) FindByRefCode(ctx context.Context, code string) (*Account, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	return r.first(ctx, "ref_code = ?", code)
}

func (r *gormRepository) first(ctx context.Context, query string, args ...any) (*Account, error) {
	var account Account
	err := r.db.WithContext(ctx).Where(query, args...).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) ExistingRefCodes(ctx context.Context, codes []string) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	if len(codes) == 0 {
		return nil, nil
	}

	var taken []string
	err := r.db.WithContext(ctx).Model(&Account{}).
		Where("ref_code IN ?", codes).
		Pluck("ref_code", &taken).Error
	return taken, err
}

func (r *gormRepository) UpdateProfile(ctx context.Context, id string, profile Profile, activeAt time.Time) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"first_name":     profile.FirstName,
			"last_name":      profile.LastName,
			"username":       profile.Username,
			"language_code":  profile.LanguageCode,
			"last_active_at": activeAt,
		}).Error
}

// SetRefCode assigns a code only to an account that has none yet.
func (r *gormRepository) SetRefCode(ctx context.Context, id, code string) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Model(&Account{}).
		Where("id = ? AND ref_code IS NULL", id).
		Update("ref_code", code).Error
}

// LinkReferrer records referrerID as id's referrer and bumps the referrer's counter.
// A referrer is written once; later calls return ErrAlreadyReferred.
func (r *gormRepository) LinkReferrer(ctx context.Context, id, referrerID string) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Account{}).
			Where("id = ? AND referred_by IS NULL AND id <> ?", id, referrerID).
			Update("referred_by", referrerID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyReferred
		}
		return tx.Model(&Account{}).
			Where("id = ?", referrerID).
			Update("ref_count", gorm.Expr("ref_count + 1")).Error
	})
}

func (r *gormRepository) CreateFile(ctx context.Context, file *File) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(file).Error
}

// ListRecipients pages through non-blocked accounts ordered by id, starting after afterID.
func (r *gormRepository) ListRecipients(ctx context.Context, afterID string, limit int) ([]Account, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).Model(&Account{}).
		Select("id", "first_name", "username", "language_code").
		Where("is_blocked = ?", false)
	if afterID != "" {
		query = query.Where("id > ?", afterID)
	}

	var accounts []Account
	err := query.Order("id ASC").Limit(limit).Find(&accounts).Error
	return accounts, err
}

func (r *gormRepository) MarkBlocked(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", id).
		Update("is_blocked", true).Error
}

// ClaimDiamonds credits amount only when the previous claim is older than notAfter.
// It reports false when another claim won.
func (r *gormRepository) ClaimDiamonds(ctx context.Context, id string, amount int64, claimedAt, notAfter time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}
	res := r.db.WithContext(ctx).Model(&Account{}).
		Where("id = ? AND (reward_claimed_at IS NULL OR reward_claimed_at <= ?)", id, notAfter).
		Updates(map[string]any{
			"diamonds":          gorm.Expr("diamonds + ?", amount),
			"reward_claimed_at": claimedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) Summary(ctx context.Context, activeSince time.Time) (*Summary, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var s Summary
	db := r.db.WithContext(ctx)
	if err := db.Model(&Account{}).Count(&s.TotalAccounts).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&Account{}).Where("last_active_at >= ?", activeSince).Count(&s.ActiveToday).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&Account{}).Select("COALESCE(SUM(ref_count), 0)").Scan(&s.TotalReferrals).Error; err != nil {
		return nil, err
	}

	var files struct {
		Count int64
		Bytes int64
	}
	if err := db.Model(&File{}).Select("COUNT(*) AS count, COALESCE(SUM(file_size), 0) AS bytes").Scan(&files).Error; err != nil {
		return nil, err
	}
	s.TotalFiles = files.Count
	s.TotalFileBytes = files.Bytes
	return &s, nil
}
