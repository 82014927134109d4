package account

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cloudbot/pkg/cache"
	"cloudbot/pkg/cachekey"
	"cloudbot/pkg/errutil"
	"cloudbot/pkg/middleware"
	"cloudbot/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type fakeCodes struct {
	mu    sync.Mutex
	codes []string
	n     int
}

func (f *fakeCodes) Generate(_ context.Context, displayName string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n < len(f.codes) {
		code := f.codes[f.n]
		f.n++
		return code
	}
	f.n++
	return strings.ToUpper(displayName) + "-" + time.Now().Format("150405.000000000")
}

type fakeInvalidator struct {
	mu           sync.Mutex
	accounts     []string
	leaderboards int
}

func (f *fakeInvalidator) Invalidate(id string) {
	f.mu.Lock()
	f.accounts = append(f.accounts, id)
	f.mu.Unlock()
}

func (f *fakeInvalidator) InvalidateLeaderboards() {
	f.mu.Lock()
	f.leaderboards++
	f.mu.Unlock()
}

type env struct {
	db      *gorm.DB
	repo    Repository
	codes   *fakeCodes
	scores  *fakeInvalidator
	cache   *cache.Memory
	service *Service
	now     time.Time
}

func newEnv(t *testing.T, codes ...string) *env {
	t.Helper()
	db := testutil.NewTestDB(t, &Account{}, &File{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	e := &env{
		db:     db,
		repo:   NewRepository(db),
		codes:  &fakeCodes{codes: codes},
		scores: &fakeInvalidator{},
		cache:  cache.NewMemory(),
		now:    time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC),
	}
	e.service = NewService(ServiceParams{
		Repo:   e.repo,
		Codes:  e.codes,
		Scores: e.scores,
		Cache:  e.cache,
		TTL:    cache.DefaultTTL(),
		Node:   node,
	})
	e.service.now = func() time.Time { return e.now }
	return e
}

func TestRegister_NewAccount(t *testing.T) {
	e := newEnv(t, "ANN1A2B3C")

	acc, err := e.service.Register(context.Background(), RegisterRequest{ID: "100", FirstName: "Ann"})
	require.NoError(t, err)
	require.Equal(t, "Ann", acc.FirstName)
	require.Equal(t, "en", acc.LanguageCode)
	require.NotNil(t, acc.RefCode)
	require.Equal(t, "ANN1A2B3C", *acc.RefCode)

	_, ok := e.cache.Get(cachekey.User("100"))
	require.True(t, ok)
}

func TestRegister_WithReferralCode(t *testing.T) {
	e := newEnv(t, "BOBCODE", "ANNCODE")
	ctx := context.Background()

	_, err := e.service.Register(ctx, RegisterRequest{ID: "1", FirstName: "Bob"})
	require.NoError(t, err)

	acc, err := e.service.Register(ctx, RegisterRequest{ID: "2", FirstName: "Ann", RefCode: "bobcode"})
	require.NoError(t, err)
	require.NotNil(t, acc.ReferredBy)
	require.Equal(t, "1", *acc.ReferredBy)

	bob, err := e.repo.FindByID(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, int64(1), bob.RefCount)

	require.ElementsMatch(t, []string{"2", "1"}, e.scores.accounts)
	require.Equal(t, 1, e.scores.leaderboards)
}

func TestRegister_ReferralOnlyOnFirstContact(t *testing.T) {
	e := newEnv(t, "ANNCODE", "BOBCODE")
	ctx := context.Background()

	_, err := e.service.Register(ctx, RegisterRequest{ID: "2", FirstName: "Ann"})
	require.NoError(t, err)
	_, err = e.service.Register(ctx, RegisterRequest{ID: "1", FirstName: "Bob"})
	require.NoError(t, err)

	e.cache.Clear()
	acc, err := e.service.Register(ctx, RegisterRequest{ID: "2", FirstName: "Ann", RefCode: "BOBCODE"})
	require.NoError(t, err)
	require.Nil(t, acc.ReferredBy)
}

func TestRegister_UnknownReferralCodeStillCreates(t *testing.T) {
	e := newEnv(t)
	acc, err := e.service.Register(context.Background(), RegisterRequest{ID: "5", FirstName: "Eve", RefCode: "NOPE"})
	require.NoError(t, err)
	require.Nil(t, acc.ReferredBy)
}

func TestRegister_RefreshesProfile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.service.Register(ctx, RegisterRequest{ID: "7", FirstName: "Old"})
	require.NoError(t, err)

	e.now = e.now.Add(time.Hour)
	_, err = e.service.Register(ctx, RegisterRequest{ID: "7", FirstName: "New", LanguageCode: "id"})
	require.NoError(t, err)

	stored, err := e.repo.FindByID(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, "New", stored.FirstName)
	require.Equal(t, "id", stored.LanguageCode)
	require.True(t, stored.LastActiveAt.Equal(e.now))
}

func TestRegister_RetriesOnCodeCollision(t *testing.T) {
	e := newEnv(t, "TAKEN", "TAKEN", "FRESH")
	ctx := context.Background()

	_, err := e.service.Register(ctx, RegisterRequest{ID: "1", FirstName: "A"})
	require.NoError(t, err)

	acc, err := e.service.Register(ctx, RegisterRequest{ID: "2", FirstName: "B"})
	require.NoError(t, err)
	require.Equal(t, "FRESH", *acc.RefCode)
}

func TestRegister_BackfillsMissingCode(t *testing.T) {
	e := newEnv(t, "LEGACY1")
	ctx := context.Background()
	require.NoError(t, e.db.Create(&Account{ID: "9", FirstName: "Leg", CreatedAt: e.now}).Error)

	acc, err := e.service.Register(ctx, RegisterRequest{ID: "9", FirstName: "Leg"})
	require.NoError(t, err)
	require.NotNil(t, acc.RefCode)
	require.Equal(t, "LEGACY1", *acc.RefCode)
}

func TestRegister_RequiresID(t *testing.T) {
	e := newEnv(t)
	_, err := e.service.Register(context.Background(), RegisterRequest{ID: "  "})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}

func TestLinkReferral_Errors(t *testing.T) {
	e := newEnv(t, "AAA111", "BBB222", "CCC333")
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := e.service.Register(ctx, RegisterRequest{ID: id, FirstName: id})
		require.NoError(t, err)
	}

	_, err := e.service.LinkReferral(ctx, "a", "AAA111")
	require.ErrorIs(t, err, ErrSelfReferral)
	require.Equal(t, errutil.StatusUnprocessableEntity, errutil.StatusOf(err))

	_, err = e.service.LinkReferral(ctx, "a", "ZZZ999")
	require.ErrorIs(t, err, ErrUnknownReferralCode)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	ref, err := e.service.LinkReferral(ctx, "a", "bbb222")
	require.NoError(t, err)
	require.Equal(t, "b", ref.ID)

	_, err = e.service.LinkReferral(ctx, "a", "CCC333")
	require.ErrorIs(t, err, ErrAlreadyReferred)
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))

	c, err := e.repo.FindByID(ctx, "c")
	require.NoError(t, err)
	require.Zero(t, c.RefCount)
}

func TestGetAccount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.service.GetAccount(ctx, "missing")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	require.NoError(t, e.db.Create(&Account{ID: "3", FirstName: "Cat"}).Error)
	acc, err := e.service.GetAccount(ctx, "3")
	require.NoError(t, err)
	require.Equal(t, "Cat", acc.FirstName)

	require.NoError(t, e.db.Model(&Account{}).Where("id = ?", "3").Update("first_name", "Dog").Error)
	acc, err = e.service.GetAccount(ctx, "3")
	require.NoError(t, err)
	require.Equal(t, "Cat", acc.FirstName, "served from cache")
}

func TestRecordUpload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.db.Create(&Account{ID: "u1", FirstName: "U"}).Error)

	file, err := e.service.RecordUpload(ctx, "u1", UploadRequest{Kind: KindPhoto, RemoteFileID: "r1", FileSize: 1024})
	require.NoError(t, err)
	require.NotEmpty(t, file.ID)
	require.Equal(t, "photo_1715774400000.jpg", file.FileName)
	require.Equal(t, []string{"u1"}, e.scores.accounts)
	require.Equal(t, 1, e.scores.leaderboards)

	var count int64
	require.NoError(t, e.db.Model(&File{}).Where("owner_id = ?", "u1").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRecordUpload_Rejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.db.Create(&Account{ID: "u1"}).Error)

	_, err := e.service.RecordUpload(ctx, "u1", UploadRequest{Kind: KindPhoto, RemoteFileID: "r", FileSize: 10*mb + 1})
	require.Equal(t, errutil.StatusUnprocessableEntity, errutil.StatusOf(err))

	_, err = e.service.RecordUpload(ctx, "u1", UploadRequest{Kind: KindDocument, RemoteFileID: "r", FileSize: 10*mb + 1})
	require.NoError(t, err)

	_, err = e.service.RecordUpload(ctx, "u1", UploadRequest{Kind: "sticker", RemoteFileID: "r"})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

	_, err = e.service.RecordUpload(ctx, "u1", UploadRequest{Kind: KindVideo, RemoteFileID: "r", FileSize: -1})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

	_, err = e.service.RecordUpload(ctx, "ghost", UploadRequest{Kind: KindVideo, RemoteFileID: "r"})
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestAdminStats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ref := "a"
	require.NoError(t, e.db.Create(&Account{ID: "a", RefCount: 1, LastActiveAt: e.now}).Error)
	require.NoError(t, e.db.Create(&Account{ID: "b", ReferredBy: &ref, LastActiveAt: e.now.Add(-48 * time.Hour)}).Error)
	require.NoError(t, e.db.Create(&File{ID: "f1", OwnerID: "a", FileSize: 300}).Error)
	require.NoError(t, e.db.Create(&File{ID: "f2", OwnerID: "b", FileSize: 700}).Error)

	s, err := e.service.AdminStats(ctx)
	require.NoError(t, err)
	require.Equal(t, Summary{TotalAccounts: 2, ActiveToday: 1, TotalFiles: 2, TotalFileBytes: 1000, TotalReferrals: 1}, *s)

	require.NoError(t, e.db.Create(&Account{ID: "c"}).Error)
	s, err = e.service.AdminStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), s.TotalAccounts)
}

func TestFormatSize(t *testing.T) {
	require.Equal(t, "512 B", formatSize(512))
	require.Equal(t, "10.0 MB", formatSize(10*mb))
	require.Equal(t, "1.5 KB", formatSize(1536))
}

func TestHandler_Routes(t *testing.T) {
	e := newEnv(t, "ANNCODE")
	r := gin.New()
	r.Use(middleware.Error())
	h := NewHandler(e.service)
	r.POST("/v1/accounts", h.Register)
	r.POST("/v1/accounts/:id/files", h.RecordUpload)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/accounts", strings.NewReader(`{"id":"42","first_name":"Ann"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"ref_code":"ANNCODE"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/accounts/42/files",
		strings.NewReader(`{"kind":"photo","remote_file_id":"x","file_size":20971520}`)))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Contains(t, w.Body.String(), "file too large")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/accounts", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRepository_ClaimDiamonds(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.db.Create(&Account{ID: "5", FirstName: "Eve", CreatedAt: e.now}).Error)
	week := 7 * 24 * time.Hour

	ok, err := e.repo.ClaimDiamonds(context.Background(), "5", 1000, e.now, e.now.Add(-week))
	require.NoError(t, err)
	require.True(t, ok)

	later := e.now.Add(3 * 24 * time.Hour)
	ok, err = e.repo.ClaimDiamonds(context.Background(), "5", 1000, later, later.Add(-week))
	require.NoError(t, err)
	require.False(t, ok)

	next := e.now.Add(week)
	ok, err = e.repo.ClaimDiamonds(context.Background(), "5", 500, next, next.Add(-week))
	require.NoError(t, err)
	require.True(t, ok)

	acc, err := e.repo.FindByID(context.Background(), "5")
	require.NoError(t, err)
	require.Equal(t, int64(1500), acc.Diamonds)
	require.True(t, acc.RewardClaimedAt.Equal(next))

	ok, err = e.repo.ClaimDiamonds(context.Background(), "missing", 1, next, next)
	require.NoError(t, err)
	require.False(t, ok)
}
