package score

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloudbot/pkg/cache"
	"cloudbot/pkg/cachekey"
	"cloudbot/services/account"
	"cloudbot/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	db         *gorm.DB
	store      Store
	cache      *cache.Memory
	writeBack  *WriteBack
	aggregator *Aggregator
	now        time.Time
	fileSeq    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, &account.Account{}, &account.File{})
	store := NewStore(db)
	c := cache.NewMemory()
	wb := NewWriteBack(store, 64)
	now := time.Now().UTC().Truncate(time.Second)

	agg := NewAggregator(AggregatorParams{Store: store, Cache: c, TTL: cache.DefaultTTL(), WriteBack: wb})
	agg.now = func() time.Time { return now }

	return &fixture{db: db, store: store, cache: c, writeBack: wb, aggregator: agg, now: now}
}

func (f *fixture) account(t *testing.T, id string, createdAgo time.Duration, referredBy string) {
	t.Helper()
	acc := &account.Account{ID: id, FirstName: "name-" + id, CreatedAt: f.now.Add(-createdAgo)}
	if referredBy != "" {
		acc.ReferredBy = &referredBy
	}
	require.NoError(t, f.db.Create(acc).Error)
}

func (f *fixture) uploads(t *testing.T, owner string, n int, ago time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		f.fileSeq++
		require.NoError(t, f.db.Create(&account.File{
			ID:        fmt.Sprintf("f%d", f.fileSeq),
			OwnerID:   owner,
			Kind:      account.KindDocument,
			CreatedAt: f.now.Add(-ago),
		}).Error)
	}
}

func TestScore(t *testing.T) {
	require.Equal(t, int64(90), Score(4, 1))
	require.Equal(t, int64(0), Score(0, 0))
}

func TestGetUserStats(t *testing.T) {
	f := newFixture(t)
	f.account(t, "7", 60*24*time.Hour, "")
	f.account(t, "8", 2*24*time.Hour, "7")
	f.account(t, "9", 20*24*time.Hour, "7")
	f.uploads(t, "7", 4, 24*time.Hour)
	f.uploads(t, "7", 2, 10*24*time.Hour)
	f.uploads(t, "7", 1, 40*24*time.Hour)
	require.NoError(t, f.db.Model(&account.Account{}).Where("id = ?", "7").
		Updates(map[string]any{"ref_count": 2, "diamonds": 500}).Error)

	stats := f.aggregator.GetUserStats(context.Background(), "7")
	require.NotNil(t, stats)
	require.Equal(t, PeriodStats{FileCount: 4, ReferralCount: 1, Score: 90}, stats.Weekly)
	require.Equal(t, PeriodStats{FileCount: 6, ReferralCount: 2, Score: 160}, stats.Monthly)
	require.Equal(t, int64(7), stats.TotalFiles)
	require.Equal(t, int64(2), stats.TotalReferrals)
	require.Equal(t, int64(500), stats.Diamonds)

	f.writeBack.Flush(context.Background())
	var stored account.Account
	require.NoError(t, f.db.Where("id = ?", "7").Take(&stored).Error)
	require.Equal(t, int64(90), stored.WeekScore)
	require.Equal(t, int64(160), stored.MonthScore)
}

func TestGetUserStatsMissingAccount(t *testing.T) {
	f := newFixture(t)
	require.Nil(t, f.aggregator.GetUserStats(context.Background(), "404"))
}

func TestGetUserStatsServedFromCacheUntilInvalidated(t *testing.T) {
	f := newFixture(t)
	f.account(t, "7", 24*time.Hour, "")
	f.uploads(t, "7", 1, time.Hour)

	first := f.aggregator.GetUserStats(context.Background(), "7")
	require.Equal(t, int64(1), first.Weekly.FileCount)

	f.uploads(t, "7", 1, time.Hour)
	cached := f.aggregator.GetUserStats(context.Background(), "7")
	require.Equal(t, int64(1), cached.Weekly.FileCount)

	f.aggregator.Invalidate("7")
	fresh := f.aggregator.GetUserStats(context.Background(), "7")
	require.Equal(t, int64(2), fresh.Weekly.FileCount)
}

func TestGetLeaderboardOrdering(t *testing.T) {
	f := newFixture(t)
	f.account(t, "a", 60*24*time.Hour, "")
	f.account(t, "b", 60*24*time.Hour, "")
	f.account(t, "c", 60*24*time.Hour, "")
	f.account(t, "idle", 60*24*time.Hour, "")
	f.account(t, "r1", time.Hour, "b")

	// a: 6 uploads = 60; b: 1 upload + 1 referral = 60; c: 3 uploads = 30.
	f.uploads(t, "a", 6, time.Hour)
	f.uploads(t, "b", 1, time.Hour)
	f.uploads(t, "c", 3, time.Hour)
	f.uploads(t, "idle", 5, 10*24*time.Hour)

	entries := f.aggregator.GetLeaderboard(context.Background(), Weekly, 10)
	require.Len(t, entries, 3)
	require.Equal(t, "a", entries[0].AccountID)
	require.Equal(t, int64(60), entries[0].Score)
	require.Equal(t, "b", entries[1].AccountID, "ties go to the account with more uploads")
	require.Equal(t, int64(60), entries[1].Score)
	require.Equal(t, "c", entries[2].AccountID)
	for i, e := range entries {
		require.Equal(t, i+1, e.Rank)
		require.Positive(t, e.Score)
	}

	monthly := f.aggregator.GetLeaderboard(context.Background(), Monthly, 2)
	require.Len(t, monthly, 2)
	require.Equal(t, "a", monthly[0].AccountID)
	require.Equal(t, "b", monthly[1].AccountID)

	f.writeBack.Flush(context.Background())
	var stored account.Account
	require.NoError(t, f.db.Where("id = ?", "idle").Take(&stored).Error)
	require.Equal(t, int64(0), stored.WeekScore)
	require.NoError(t, f.db.Where("id = ?", "a").Take(&stored).Error)
	require.Equal(t, int64(60), stored.WeekScore)
	require.Equal(t, int64(60), stored.MonthScore)
}

func TestGetLeaderboardCachedAndInvalidated(t *testing.T) {
	f := newFixture(t)
	f.account(t, "a", 24*time.Hour, "")
	f.uploads(t, "a", 1, time.Hour)

	require.Len(t, f.aggregator.GetLeaderboard(context.Background(), Weekly, 10), 1)
	_, ok := f.cache.Get(cachekey.Leaderboard("weekly", 10))
	require.True(t, ok)

	f.account(t, "b", 24*time.Hour, "")
	f.uploads(t, "b", 1, time.Hour)
	require.Len(t, f.aggregator.GetLeaderboard(context.Background(), Weekly, 10), 1)

	f.aggregator.InvalidateLeaderboards()
	require.Len(t, f.aggregator.GetLeaderboard(context.Background(), Weekly, 10), 2)
}

type failingStore struct {
	Store
}

func (failingStore) Leaderboard(context.Context, time.Time, int) ([]Entry, error) {
	return nil, errors.New("connection reset")
}

func (failingStore) FindAccount(context.Context, string) (*account.Account, error) {
	return nil, errors.New("connection reset")
}

func TestReadsDegradeOnStoreFailure(t *testing.T) {
	agg := NewAggregator(AggregatorParams{
		Store:     failingStore{},
		Cache:     cache.NewMemory(),
		TTL:       cache.DefaultTTL(),
		WriteBack: NewWriteBack(nil, 1),
	})

	entries := agg.GetLeaderboard(context.Background(), Weekly, 10)
	require.NotNil(t, entries)
	require.Empty(t, entries)

	_, err := agg.Leaderboard(context.Background(), Weekly, 10)
	require.Error(t, err)

	require.Nil(t, agg.GetUserStats(context.Background(), "7"))
	require.Nil(t, agg.GetRank(context.Background(), "7"))
}

func TestGetRank(t *testing.T) {
	f := newFixture(t)
	for i, s := range []int64{300, 200, 200, 50} {
		id := fmt.Sprintf("u%d", i)
		f.account(t, id, 24*time.Hour, "")
		require.NoError(t, f.db.Model(&account.Account{}).Where("id = ?", id).
			UpdateColumns(map[string]any{"week_score": s, "month_score": 400 - s}).Error)
	}

	rank := f.aggregator.GetRank(context.Background(), "u2")
	require.NotNil(t, rank)
	require.Equal(t, Rank{Weekly: 2, Monthly: 2, Total: 4}, *rank)

	require.Nil(t, f.aggregator.GetRank(context.Background(), "missing"))
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, clampLimit(0))
	require.Equal(t, MaxLimit, clampLimit(1000))
	require.Equal(t, 5, clampLimit(5))
}

type countingSaver struct {
	saved []ScoreUpdate
}

func (s *countingSaver) SaveScores(_ context.Context, u ScoreUpdate) error {
	s.saved = append(s.saved, u)
	return nil
}

func TestWriteBackDropsWhenFull(t *testing.T) {
	saver := &countingSaver{}
	wb := NewWriteBack(saver, 2)

	for i := 0; i < 5; i++ {
		wb.Enqueue(ScoreUpdate{AccountID: fmt.Sprint(i)})
	}
	wb.Flush(context.Background())

	require.Len(t, saver.saved, 2)
}

func TestWriteBackStopDrains(t *testing.T) {
	saver := &countingSaver{}
	wb := NewWriteBack(saver, 8)
	wb.Enqueue(ScoreUpdate{AccountID: "1"})
	wb.Enqueue(ScoreUpdate{AccountID: "2"})

	wb.Stop(context.Background())

	require.Len(t, saver.saved, 2)
}
