package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloudbot/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type customErr struct{}

func (customErr) Error() string { return "custom" }
func (customErr) Status() errutil.CoreStatus { return errutil.StatusTooManyRequests }
func (customErr) JSON() any { return gin.H{"error": gin.H{"code": "slow_down"}} }

func newRouter() *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(), Error())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/base", func(c *gin.Context) {
		_ = c.Error(errutil.NotFound("account not found", errors.New("sql: no rows")))
	})
	r.GET("/custom", func(c *gin.Context) { _ = c.Error(customErr{}) })
	r.GET("/plain", func(c *gin.Context) { _ = c.Error(errors.New("boom")) })

	admin := r.Group("/admin", AdminOnly([]string{"1", "2"}))
	admin.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, AdminID(c)) })
	return r
}

func do(r *gin.Engine, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestError(t *testing.T) {
	r := newRouter()

	w := do(r, "/ok", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, "/base", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.JSONEq(t, `{"error":{"code":"not_found","message":"account not found","details":null}}`, w.Body.String())

	w = do(r, "/custom", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "slow_down")

	w = do(r, "/plain", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "boom")
}

func TestAdminOnly(t *testing.T) {
	r := newRouter()

	w := do(r, "/admin/me", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, "/admin/me", map[string]string{AdminHeader: "9"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, "/admin/me", map[string]string{AdminHeader: "2"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "2", w.Body.String())
}
