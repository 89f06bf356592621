package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeka/zip"

	"github.com/iliyamo/unpacker/internal/archive"
	"github.com/iliyamo/unpacker/internal/logging"
	"github.com/iliyamo/unpacker/internal/middleware"
	"github.com/iliyamo/unpacker/internal/service"
	"github.com/iliyamo/unpacker/internal/utils"
)

const secret = "handler-secret"

type testAPI struct {
	e     *echo.Echo
	fs    afero.Fs
	users *service.UserStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	fs := afero.NewMemMapFs()
	users := service.NewUserStore(service.UserStoreOptions{AutoDeleteDefaultMin: 30})
	registry := service.NewRegistry(service.RegistryOptions{})
	quota := service.NewQuotaService(users, service.Limits{
		FreeDailyTasks:      2,
		FreeDailySizeMB:     100,
		FreeMinWait:         time.Minute,
		MaxArchiveFreeMB:    50,
		MaxArchivePremiumMB: 500,
	}, nil)
	engine := archive.NewEngine(fs, nil)
	runner := service.NewTaskRunner(service.TaskRunnerDeps{
		Engine: engine, Users: users, Quota: quota, Registry: registry,
		TempDir: "/dl", MaxWorkers: 2,
	})
	sweeper := service.NewSweeper(registry, fs, time.Minute, nil, nil)

	// wired the same way the router does it
	e := echo.New()
	e.GET("/healthz", NewHealthHandler(users, registry).Health)
	g := e.Group("/v1", middleware.JWTAuth(secret), middleware.RequireRole(utils.RoleUser, utils.RoleAdmin))
	g.POST("/tasks", NewTaskHandler(runner, nil).Create)
	g.POST("/archives/inspect", NewArchiveHandler(engine, "/dl", nil).Inspect)
	g.POST("/quota/check", NewQuotaHandler(quota, nil).Check)
	uh := NewUserHandler(users, nil)
	g.GET("/users/:id", uh.Get)
	g.PATCH("/users/:id/settings", uh.UpdateSettings)
	ah := NewAdminHandler(users, registry, sweeper)
	a := e.Group("/v1/admin", middleware.JWTAuth(secret), middleware.RequireRole(utils.RoleAdmin))
	a.PUT("/users/:id/premium", ah.SetPremium)
	a.PUT("/users/:id/ban", ah.SetBanned)
	a.GET("/stats", ah.Stats)
	a.POST("/cleanup", ah.Cleanup)

	return &testAPI{e: e, fs: fs, users: users}
}

func (api *testAPI) call(t *testing.T, method, path string, userID int64, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != 0 {
		tok, err := utils.NewAccessToken(secret, userID, role, time.Hour)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
	}
	rec := httptest.NewRecorder()
	api.e.ServeHTTP(rec, req)
	return rec
}

func (api *testAPI) writeZip(t *testing.T, path, password string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		var (
			w   io.Writer
			err error
		)
		if password != "" {
			w, err = zw.Encrypt(name, password, zip.AES256Encryption)
		} else {
			w, err = zw.Create(name)
		}
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(api.fs, path, buf.Bytes(), 0o644))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.call(t, http.MethodGet, "/healthz", 0, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "memory", decode(t, rec)["storage"])
}

func TestCreateTask(t *testing.T) {
	api := newTestAPI(t)
	api.writeZip(t, "/dl/in.zip", "", map[string]string{"a.pdf": "p", "b.txt": "t"})

	rec := api.call(t, http.MethodPost, "/v1/tasks", 1, utils.RoleUser, echo.Map{"archive_path": "in.zip"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "zip", body["kind"])
	assert.NotEmpty(t, body["task_id"])
	stats := body["manifest"].(map[string]any)["stats"].(map[string]any)
	assert.EqualValues(t, 2, stats["total_files"])

	// the inter-task wait applies right away
	rec = api.call(t, http.MethodPost, "/v1/tasks", 1, utils.RoleUser, echo.Map{"archive_path": "in.zip"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "must_wait", decode(t, rec)["error"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestCreateTaskErrors(t *testing.T) {
	api := newTestAPI(t)
	api.writeZip(t, "/dl/secret.zip", "pw", map[string]string{"a.txt": "a"})
	require.NoError(t, afero.WriteFile(api.fs, "/dl/notes.bin", []byte("plain bytes"), 0o644))
	require.NoError(t, afero.WriteFile(api.fs, "/dl/big.zip", bytes.Repeat([]byte{0}, 51<<20), 0o644))

	tests := []struct {
		name   string
		user   int64
		body   echo.Map
		status int
		code   string
	}{
		{"no source", 1, echo.Map{}, http.StatusBadRequest, "invalid_request"},
		{"outside temp dir", 1, echo.Map{"archive_path": "/etc/passwd"}, http.StatusBadRequest, "invalid_request"},
		{"password required", 2, echo.Map{"archive_path": "secret.zip"}, http.StatusUnprocessableEntity, "password_required"},
		{"wrong password", 3, echo.Map{"archive_path": "secret.zip", "password": "nope"}, http.StatusUnprocessableEntity, "wrong_password"},
		{"unsupported", 4, echo.Map{"archive_path": "notes.bin"}, http.StatusUnsupportedMediaType, "unsupported_format"},
		{"too large", 5, echo.Map{"archive_path": "big.zip"}, http.StatusRequestEntityTooLarge, "archive_too_large"},
		{"someone else", 6, echo.Map{"user_id": 7, "archive_path": "secret.zip"}, http.StatusForbidden, "forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.call(t, http.MethodPost, "/v1/tasks", tt.user, utils.RoleUser, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode(t, rec)["error"])
		})
	}

	rec := api.call(t, http.MethodPost, "/v1/tasks", 0, "", echo.Map{"archive_path": "in.zip"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBannedUserIsForbidden(t *testing.T) {
	api := newTestAPI(t)
	api.writeZip(t, "/dl/in.zip", "", map[string]string{"a.txt": "a"})

	rec := api.call(t, http.MethodPut, "/v1/admin/users/9/ban", 100, utils.RoleAdmin, echo.Map{"value": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["is_banned"])

	rec = api.call(t, http.MethodPost, "/v1/tasks", 9, utils.RoleUser, echo.Map{"archive_path": "in.zip"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "banned", decode(t, rec)["error"])
}

func TestInspect(t *testing.T) {
	api := newTestAPI(t)
	api.writeZip(t, "/dl/in.zip", "", map[string]string{"x/y.mp4": "v"})

	rec := api.call(t, http.MethodPost, "/v1/archives/inspect", 1, utils.RoleUser, echo.Map{"archive_path": "in.zip"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "zip", body["kind"])
	assert.Equal(t, false, body["encrypted"])
	assert.Equal(t, []any{"x/y.mp4"}, body["members"])

	rec = api.call(t, http.MethodPost, "/v1/archives/inspect", 1, utils.RoleUser, echo.Map{"archive_path": "missing.zip"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuotaCheck(t *testing.T) {
	api := newTestAPI(t)
	rec := api.call(t, http.MethodPost, "/v1/quota/check", 1, utils.RoleUser, echo.Map{"size_mb": 10})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["allowed"])

	rec = api.call(t, http.MethodPost, "/v1/quota/check", 1, utils.RoleUser, echo.Map{"size_mb": 60})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, "archive_too_large", body["reason"])

	rec = api.call(t, http.MethodPost, "/v1/quota/check", 1, utils.RoleUser, echo.Map{"size_mb": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec := api.call(t, http.MethodGet, "/v1/users/5", 5, utils.RoleUser, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	settings := decode(t, rec)["settings"].(map[string]any)
	assert.EqualValues(t, 30, settings["auto_delete_min"])

	rec = api.call(t, http.MethodPatch, "/v1/users/5/settings", 5, utils.RoleUser, echo.Map{"auto_delete_min": 120, "lang": "fa"})
	require.Equal(t, http.StatusOK, rec.Code)
	settings = decode(t, rec)["settings"].(map[string]any)
	assert.EqualValues(t, 120, settings["auto_delete_min"])
	assert.Equal(t, "fa", settings["lang"])
	assert.Equal(t, "full", settings["default_extract_mode"])

	rec = api.call(t, http.MethodPatch, "/v1/users/5/settings", 5, utils.RoleUser, echo.Map{"auto_delete_min": -3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusForbidden, api.call(t, http.MethodGet, "/v1/users/6", 5, utils.RoleUser, nil).Code)
	assert.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/v1/users/6", 1, utils.RoleAdmin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.call(t, http.MethodGet, "/v1/users/abc", 5, utils.RoleUser, nil).Code)
}

func TestAdminEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec := api.call(t, http.MethodPut, "/v1/admin/users/3/premium", 1, utils.RoleUser, echo.Map{"value": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.call(t, http.MethodPut, "/v1/admin/users/3/premium", 1, utils.RoleAdmin, echo.Map{"value": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, api.users.Get(context.Background(), 3).Premium)

	rec = api.call(t, http.MethodPut, "/v1/admin/users/3/premium", 1, utils.RoleAdmin, echo.Map{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.call(t, http.MethodGet, "/v1/admin/stats", 1, utils.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode(t, rec)["users"].(map[string]any)
	assert.EqualValues(t, 1, users["premium"])

	rec = api.call(t, http.MethodPost, "/v1/admin/cleanup", 1, utils.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["reaped"])
}

func TestRespondDeniedStatus(t *testing.T) {
	e := echo.New()
	for reason, status := range map[service.DenyReason]int{
		service.DenyBanned:          http.StatusForbidden,
		service.DenyArchiveTooLarge: http.StatusRequestEntityTooLarge,
		service.DenyDailyTaskLimit:  http.StatusTooManyRequests,
		service.DenyDailySizeLimit:  http.StatusTooManyRequests,
		service.DenyMustWait:        http.StatusTooManyRequests,
	} {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		require.NoError(t, respondDenied(c, service.Decision{Reason: reason, RetryAfter: 1500 * time.Millisecond}))
		assert.Equal(t, status, rec.Code, reason)
		assert.Equal(t, "2", rec.Header().Get("Retry-After"))
		assert.True(t, strings.Contains(rec.Body.String(), string(reason)))
	}
}

func TestRespondErrorLogsUnmapped(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithWriter(&buf, "info", "logfmt")
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodPost, "/v1/tasks", nil), rec)

	require.NoError(t, respondError(c, log, errors.New("disk on fire")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk on fire")
	assert.Contains(t, buf.String(), "request failed")
	assert.Contains(t, buf.String(), "disk on fire")
	assert.Contains(t, buf.String(), "/v1/tasks")

	buf.Reset()
	rec = httptest.NewRecorder()
	c = echo.New().NewContext(httptest.NewRequest(http.MethodPost, "/v1/tasks", nil), rec)
	require.NoError(t, respondError(c, log, service.ErrInvalidTask))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, buf.String())
}
