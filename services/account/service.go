package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloudbot/pkg/cache"
	"cloudbot/pkg/cachekey"
	"cloudbot/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CodeGenerator hands out referral codes that are not yet taken.
type CodeGenerator interface {
	Generate(ctx context.Context, displayName string) string
}

// Invalidator drops derived score data after an account's activity changes.
type Invalidator interface {
	Invalidate(accountID string)
	InvalidateLeaderboards()
}

type Service struct {
	repo   Repository
	codes  CodeGenerator
	scores Invalidator
	cache  cache.Cache
	ttl    cache.TTL
	node   *snowflake.Node
	now    func() time.Time
}

type ServiceParams struct {
	fx.In
	Repo   Repository
	Codes  CodeGenerator
	Scores Invalidator
	Cache  cache.Cache
	TTL    cache.TTL
	Node   *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		repo:   p.Repo,
		codes:  p.Codes,
		scores: p.Scores,
		cache:  p.Cache,
		ttl:    p.TTL,
		node:   p.Node,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type RegisterRequest struct {
	ID           string `json:"id" binding:"required"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
	RefCode      string `json:"ref_code"`
}

func (r RegisterRequest) profile() Profile {
	lang := r.LanguageCode
	if lang == "" {
		lang = "en"
	}
	return Profile{
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Username:     r.Username,
		LanguageCode: lang,
	}
}

func logFields(ctx context.Context, fields ...zap.Field) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	return fields
}

// Register creates the account on first contact or refreshes its profile.
// New accounts get a referral code; a referral code passed on first contact
// links the new account to its referrer. Accounts created before codes existed
// get one on their next visit.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		return nil, errutil.BadRequest("account id is required", nil)
	}

	log := zap.L().With(logFields(ctx, zap.String("account_id", req.ID))...)
	now := s.now()
	profile := req.profile()

	if cached, ok := cache.GetAs[Account](s.cache, cachekey.User(req.ID)); ok && cached.RefCode != nil {
		if err := s.repo.UpdateProfile(ctx, req.ID, profile, now); err != nil {
			log.Warn("failed to refresh profile", zap.Error(err))
		}
		return &cached, nil
	}

	existing, err := s.repo.FindByID(ctx, req.ID)
	if err != nil {
		log.Error("failed to load account", zap.Error(err))
		return nil, errutil.Internal("failed to load account", err)
	}

	created := false
	if existing == nil {
		created, err = s.create(ctx, req, profile, now)
		if err != nil {
			log.Error("failed to create account", zap.Error(err))
			return nil, errutil.Internal("failed to create account", err)
		}
	}

	if !created {
		if err := s.repo.UpdateProfile(ctx, req.ID, profile, now); err != nil {
			log.Error("failed to update account", zap.Error(err))
			return nil, errutil.Internal("failed to update account", err)
		}
		if existing != nil && existing.RefCode == nil {
			s.backfillRefCode(ctx, req.ID, req.FirstName)
		}
	}

	if created && req.RefCode != "" {
		if _, err := s.LinkReferral(ctx, req.ID, req.RefCode); err != nil {
			log.Info("referral not applied", zap.String("ref_code", req.RefCode), zap.Error(err))
		}
	}

	fresh, err := s.repo.FindByID(ctx, req.ID)
	if err != nil || fresh == nil {
		return nil, errutil.Internal("failed to reload account", err)
	}
	s.cache.Set(cachekey.User(req.ID), *fresh, s.ttl.User)
	return fresh, nil
}

// create inserts the account. It reports false when a concurrent request
// created the same account first.
func (s *Service) create(ctx context.Context, req RegisterRequest, profile Profile, now time.Time) (bool, error) {
	const attempts = 2

	var err error
	for i := 0; i < attempts; i++ {
		code := s.codes.Generate(ctx, req.FirstName)
		err = s.repo.Create(ctx, &Account{
			ID:           req.ID,
			FirstName:    profile.FirstName,
			LastName:     profile.LastName,
			Username:     profile.Username,
			LanguageCode: profile.LanguageCode,
			RefCode:      &code,
			LastActiveAt: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, err
		}

		existing, findErr := s.repo.FindByID(ctx, req.ID)
		if findErr != nil {
			return false, findErr
		}
		if existing != nil {
			return false, nil
		}
		// The code collided; try again with a fresh one.
	}
	return false, err
}

func (s *Service) backfillRefCode(ctx context.Context, id, firstName string) {
	code := s.codes.Generate(ctx, firstName)
	if err := s.repo.SetRefCode(ctx, id, code); err != nil {
		zap.L().Warn("failed to backfill referral code", logFields(ctx, zap.String("account_id", id), zap.Error(err))...)
		return
	}
	s.cache.Del(cachekey.User(id))
}

var (
	ErrUnknownReferralCode = errors.New("referral code not found")
	ErrSelfReferral        = errors.New("an account cannot refer itself")
)

// LinkReferral makes the owner of code the referrer of accountID.
func (s *Service) LinkReferral(ctx context.Context, accountID, code string) (*Account, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, errutil.NotFound(ErrUnknownReferralCode.Error(), ErrUnknownReferralCode)
	}

	referrer, err := s.repo.FindByRefCode(ctx, code)
	if err != nil {
		return nil, errutil.Internal("failed to look up referral code", err)
	}
	if referrer == nil {
		return nil, errutil.NotFound(ErrUnknownReferralCode.Error(), ErrUnknownReferralCode)
	}
	if referrer.ID == accountID {
		return nil, errutil.UnprocessableEntity(ErrSelfReferral.Error(), ErrSelfReferral)
	}

	if err := s.repo.LinkReferrer(ctx, accountID, referrer.ID); err != nil {
		if errors.Is(err, ErrAlreadyReferred) {
			return nil, errutil.Conflict(ErrAlreadyReferred.Error(), err)
		}
		return nil, errutil.Internal("failed to link referral", err)
	}

	s.scores.Invalidate(accountID)
	s.scores.Invalidate(referrer.ID)
	s.scores.InvalidateLeaderboards()

	zap.L().Info("referral linked", logFields(ctx,
		zap.String("account_id", accountID),
		zap.String("referrer_id", referrer.ID),
	)...)
	return referrer, nil
}

func (s *Service) GetAccount(ctx context.Context, id string) (*Account, error) {
	if cached, ok := cache.GetAs[Account](s.cache, cachekey.User(id)); ok {
		return &cached, nil
	}

	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, errutil.Internal("failed to load account", err)
	}
	if account == nil {
		return nil, errutil.NotFound("account not found", nil)
	}

	s.cache.Set(cachekey.User(id), *account, s.ttl.User)
	return account, nil
}

type UploadRequest struct {
	Kind           FileKind `json:"kind" binding:"required"`
	RemoteFileID   string   `json:"remote_file_id" binding:"required"`
	RemoteUniqueID string   `json:"remote_unique_id"`
	FileName       string   `json:"file_name"`
	MimeType       string   `json:"mime_type"`
	FileSize       int64    `json:"file_size"`
}

// RecordUpload stores an upload and drops the caches its points affect.
func (s *Service) RecordUpload(ctx context.Context, accountID string, req UploadRequest) (*File, error) {
	if !req.Kind.Valid() {
		return nil, errutil.BadRequest("unsupported file kind", nil,
			errutil.WithDetails(errutil.Detail{Field: "kind", Message: string(req.Kind)}))
	}
	if req.FileSize < 0 {
		return nil, errutil.BadRequest("file size cannot be negative", nil)
	}
	if limit := req.Kind.MaxSize(); req.FileSize > limit {
		return nil, errutil.UnprocessableEntity("file too large", nil,
			errutil.WithDetails(errutil.Detail{Field: "file_size", Message: "maximum allowed is " + formatSize(limit)}))
	}

	owner, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return nil, errutil.Internal("failed to load account", err)
	}
	if owner == nil {
		return nil, errutil.NotFound("account not found", nil)
	}

	now := s.now()
	name := strings.TrimSpace(req.FileName)
	if name == "" {
		name = req.Kind.DefaultName(now)
	}

	file := &File{
		ID:             s.node.Generate().String(),
		OwnerID:        accountID,
		Kind:           req.Kind,
		RemoteFileID:   req.RemoteFileID,
		RemoteUniqueID: req.RemoteUniqueID,
		FileName:       name,
		MimeType:       req.MimeType,
		FileSize:       req.FileSize,
		CreatedAt:      now,
	}
	if err := s.repo.CreateFile(ctx, file); err != nil {
		zap.L().Error("failed to save file", logFields(ctx, zap.String("account_id", accountID), zap.Error(err))...)
		return nil, errutil.Internal("failed to save file", err)
	}

	s.scores.Invalidate(accountID)
	s.scores.InvalidateLeaderboards()
	return file, nil
}

// AdminStats summarises the account directory, cached briefly.
func (s *Service) AdminStats(ctx context.Context) (*Summary, error) {
	if cached, ok := cache.GetAs[Summary](s.cache, cachekey.AdminStats); ok {
		return &cached, nil
	}

	summary, err := s.repo.Summary(ctx, s.now().Add(-24*time.Hour))
	if err != nil {
		zap.L().Error("failed to build admin stats", logFields(ctx, zap.Error(err))...)
		return nil, errutil.Internal("failed to build admin stats", err)
	}

	s.cache.Set(cachekey.AdminStats, *summary, s.ttl.Admin)
	return summary, nil
}
