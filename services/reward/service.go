package reward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloudbot/pkg/errutil"
	"cloudbot/services/account"
	"cloudbot/services/score"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Leaderboard is the ranking rewards are paid from.
type Leaderboard interface {
	Leaderboard(ctx context.Context, period score.Period, limit int) ([]score.Entry, error)
}

type Service struct {
	db       *gorm.DB
	accounts account.Repository
	board    Leaderboard
	scores   account.Invalidator
	node     *snowflake.Node
	now      func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Accounts account.Repository
	Board    Leaderboard
	Scores   account.Invalidator
	Node     *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		accounts: p.Accounts,
		board:    p.Board,
		scores:   p.Scores,
		node:     p.Node,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func spanFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// DistributeWeekly pays the current weekly top 10. Each account is credited
// on its own; one failure does not undo the others and is returned joined
// with the rest. Accounts rewarded earlier in the cycle are skipped.
func (s *Service) DistributeWeekly(ctx context.Context) (*Distribution, error) {
	log := zap.L().With(spanFields(ctx)...)

	entries, err := s.board.Leaderboard(ctx, score.Weekly, len(Table))
	if err != nil {
		log.Error("failed to load weekly leaderboard", zap.Error(err))
		return nil, errutil.Internal("failed to load weekly leaderboard", err)
	}

	now := s.now()
	result := &Distribution{Cycle: CycleLabel(now), Assigned: []Assignment{}, Skipped: []string{}}

	var errs []error
	for i, entry := range entries {
		tier, ok := TierFor(i + 1)
		if !ok {
			break
		}

		applied, err := s.apply(ctx, entry.AccountID, i+1, tier, now, SourceDistribution)
		if err != nil {
			log.Error("failed to credit reward", zap.String("account_id", entry.AccountID), zap.Error(err))
			errs = append(errs, fmt.Errorf("account %s: %w", entry.AccountID, err))
			continue
		}
		if !applied {
			result.Skipped = append(result.Skipped, entry.AccountID)
			continue
		}

		result.Assigned = append(result.Assigned, assignment(entry.AccountID, i+1, tier, now))
		s.scores.Invalidate(entry.AccountID)
	}

	if len(result.Assigned) > 0 {
		s.scores.InvalidateLeaderboards()
	}

	log.Info("weekly rewards distributed",
		zap.String("cycle", result.Cycle),
		zap.Int("assigned", len(result.Assigned)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(errs)),
	)

	if len(errs) > 0 {
		return result, errutil.Internal("some rewards could not be credited", errors.Join(errs...))
	}
	return result, nil
}

// Claim lets an account collect its weekly reward once per cycle.
func (s *Service) Claim(ctx context.Context, accountID string) (*Assignment, error) {
	log := zap.L().With(append(spanFields(ctx), zap.String("account_id", accountID))...)

	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		log.Error("failed to load account", zap.Error(err))
		return nil, errutil.Internal("failed to load account", err)
	}
	if acc == nil {
		return nil, errutil.NotFound("account not found", nil)
	}

	now := s.now()
	if acc.RewardClaimedAt != nil && acc.RewardClaimedAt.After(now.Add(-Cycle)) {
		return nil, alreadyClaimed(*acc.RewardClaimedAt, now)
	}

	entries, err := s.board.Leaderboard(ctx, score.Weekly, len(Table))
	if err != nil {
		log.Error("failed to load weekly leaderboard", zap.Error(err))
		return nil, errutil.Internal("failed to load weekly leaderboard", err)
	}

	rank := 0
	for i, e := range entries {
		if e.AccountID == accountID {
			rank = i + 1
			break
		}
	}
	tier, ok := TierFor(rank)
	if !ok {
		return nil, &RejectedError{Reason: ErrNotEligible}
	}

	applied, err := s.apply(ctx, accountID, rank, tier, now, SourceClaim)
	if err != nil {
		log.Error("failed to credit reward", zap.Error(err))
		return nil, errutil.Internal("failed to credit reward", err)
	}
	if !applied {
		// A concurrent claim or distribution got there first.
		return nil, alreadyClaimed(now, now)
	}

	s.scores.Invalidate(accountID)
	s.scores.InvalidateLeaderboards()

	log.Info("reward claimed", zap.Int("rank", rank), zap.Int64("diamonds", tier.Diamonds))
	a := assignment(accountID, rank, tier, now)
	return &a, nil
}

// apply credits one account and records the grant. It reports false when the
// account was already rewarded within the cycle.
func (s *Service) apply(ctx context.Context, accountID string, rank int, tier Tier, now time.Time, source string) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.accounts.WithTrx(tx).ClaimDiamonds(ctx, accountID, tier.Diamonds, now, now.Add(-Cycle))
		if err != nil || !ok {
			return err
		}

		if err := tx.Create(&Grant{
			ID:        s.node.Generate().String(),
			AccountID: accountID,
			Cycle:     CycleLabel(now),
			Rank:      rank,
			Diamonds:  tier.Diamonds,
			Source:    source,
			CreatedAt: now,
		}).Error; err != nil {
			return err
		}

		applied = true
		return nil
	})
	return applied, err
}

func assignment(accountID string, rank int, tier Tier, now time.Time) Assignment {
	return Assignment{
		AccountID: accountID,
		Rank:      rank,
		Diamonds:  tier.Diamonds,
		Title:     tier.Title,
		Badge:     tier.Badge,
		AwardedAt: now,
	}
}
