package score

import (
	"context"
	"time"

	"cloudbot/pkg/cache"
	"cloudbot/pkg/cachekey"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Aggregator derives stats, leaderboards and ranks from raw activity and
// keeps them in the cache for a short while. Reads never fail: problems are
// logged and reported as absent or empty results.
type Aggregator struct {
	store     Store
	cache     cache.Cache
	ttl       cache.TTL
	writeBack *WriteBack
	group     singleflight.Group
	now       func() time.Time
}

type AggregatorParams struct {
	fx.In
	Store     Store
	Cache     cache.Cache
	TTL       cache.TTL
	WriteBack *WriteBack
}

func NewAggregator(p AggregatorParams) *Aggregator {
	return &Aggregator{
		store:     p.Store,
		cache:     p.Cache,
		ttl:       p.TTL,
		writeBack: p.WriteBack,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func logger(ctx context.Context, fields ...zap.Field) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	return zap.L().With(fields...)
}

// GetUserStats returns nil when the account does not exist or the stats
// could not be computed.
func (a *Aggregator) GetUserStats(ctx context.Context, accountID string) *UserStats {
	key := cachekey.Stats(accountID)
	if cached, ok := cache.GetAs[UserStats](a.cache, key); ok {
		return &cached
	}

	v, err, _ := a.group.Do(key, func() (any, error) {
		return a.computeUserStats(ctx, accountID)
	})
	if err != nil {
		logger(ctx, zap.String("account_id", accountID)).Error("failed to compute user stats", zap.Error(err))
		return nil
	}

	stats, _ := v.(*UserStats)
	return stats
}

func (a *Aggregator) computeUserStats(ctx context.Context, accountID string) (*UserStats, error) {
	acc, err := a.store.FindAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, nil
	}

	now := a.now()
	weekSince, monthSince := Weekly.Since(now), Monthly.Since(now)

	var totalFiles, weekFiles, monthFiles, weekRefs, monthRefs int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		totalFiles, err = a.store.CountUploads(gctx, accountID, time.Time{})
		return err
	})
	g.Go(func() (err error) {
		weekFiles, err = a.store.CountUploads(gctx, accountID, weekSince)
		return err
	})
	g.Go(func() (err error) {
		monthFiles, err = a.store.CountUploads(gctx, accountID, monthSince)
		return err
	})
	g.Go(func() (err error) {
		weekRefs, err = a.store.CountReferrals(gctx, accountID, weekSince)
		return err
	})
	g.Go(func() (err error) {
		monthRefs, err = a.store.CountReferrals(gctx, accountID, monthSince)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &UserStats{
		AccountID:      accountID,
		Weekly:         newPeriodStats(weekFiles, weekRefs),
		Monthly:        newPeriodStats(monthFiles, monthRefs),
		TotalFiles:     totalFiles,
		TotalReferrals: acc.RefCount,
		Diamonds:       acc.Diamonds,
	}

	a.writeBack.Enqueue(ScoreUpdate{
		AccountID: accountID,
		Weekly:    &stats.Weekly.Score,
		Monthly:   &stats.Monthly.Score,
	})
	a.cache.Set(cachekey.Stats(accountID), *stats, a.ttl.Stats)
	return stats, nil
}

// GetLeaderboard returns the top accounts for period, or an empty slice when
// the leaderboard could not be computed.
func (a *Aggregator) GetLeaderboard(ctx context.Context, period Period, limit int) []Entry {
	entries, err := a.Leaderboard(ctx, period, limit)
	if err != nil {
		logger(ctx, zap.String("period", string(period))).Error("failed to compute leaderboard", zap.Error(err))
		return []Entry{}
	}
	return entries
}

// Leaderboard is GetLeaderboard for callers that must tell an empty
// leaderboard from a failed one.
func (a *Aggregator) Leaderboard(ctx context.Context, period Period, limit int) ([]Entry, error) {
	if !period.Valid() {
		period = Weekly
	}
	limit = clampLimit(limit)

	key := cachekey.Leaderboard(string(period), limit)
	if cached, ok := cache.GetAs[[]Entry](a.cache, key); ok {
		return cached, nil
	}

	v, err, _ := a.group.Do(key, func() (any, error) {
		entries, err := a.store.Leaderboard(ctx, period.Since(a.now()), limit)
		if err != nil {
			return nil, err
		}

		for i := range entries {
			update := ScoreUpdate{AccountID: entries[i].AccountID}
			score := entries[i].Score
			if period == Monthly {
				update.Monthly = &score
			} else {
				update.Weekly = &score
			}
			a.writeBack.Enqueue(update)
		}

		a.cache.Set(key, entries, a.ttl.Leaderboard)
		return entries, nil
	})
	if err != nil {
		return nil, err
	}

	entries, _ := v.([]Entry)
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// GetRank positions the account by its stored scores. Nil means the account
// does not exist or the rank could not be computed.
func (a *Aggregator) GetRank(ctx context.Context, accountID string) *Rank {
	key := cachekey.Rank(accountID)
	if cached, ok := cache.GetAs[Rank](a.cache, key); ok {
		return &cached
	}

	v, err, _ := a.group.Do(key, func() (any, error) {
		acc, err := a.store.FindAccount(ctx, accountID)
		if err != nil || acc == nil {
			return nil, err
		}

		var weekAbove, monthAbove, total int64
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			weekAbove, err = a.store.CountScoreAbove(gctx, Weekly, acc.WeekScore)
			return err
		})
		g.Go(func() (err error) {
			monthAbove, err = a.store.CountScoreAbove(gctx, Monthly, acc.MonthScore)
			return err
		})
		g.Go(func() (err error) {
			total, err = a.store.CountAccounts(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}

		rank := &Rank{Weekly: weekAbove + 1, Monthly: monthAbove + 1, Total: total}
		a.cache.Set(key, *rank, a.ttl.Rank)
		return rank, nil
	})
	if err != nil {
		logger(ctx, zap.String("account_id", accountID)).Error("failed to compute rank", zap.Error(err))
		return nil
	}

	rank, _ := v.(*Rank)
	return rank
}

// Invalidate drops every cached view of one account.
func (a *Aggregator) Invalidate(accountID string) {
	for _, key := range cachekey.AccountKeys(accountID) {
		a.cache.Del(key)
	}
}

func (a *Aggregator) InvalidateLeaderboards() {
	a.cache.DelPattern(cachekey.AllLeaderboards)
}
