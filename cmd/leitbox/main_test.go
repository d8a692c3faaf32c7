package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/archive"
	"github.com/phrazzld/leitbox/internal/config"
	"github.com/phrazzld/leitbox/internal/platform/logger"
	"github.com/phrazzld/leitbox/internal/service/auth"
	"github.com/phrazzld/leitbox/internal/service/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

// setupEnv points the configuration at a fresh SQLite file and media dir.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LEITBOX_DATABASE_DRIVER", "sqlite")
	t.Setenv("LEITBOX_DATABASE_URL", filepath.Join(dir, "leitbox.db"))
	t.Setenv("LEITBOX_AUTH_JWT_SECRET", testSecret)
	t.Setenv("LEITBOX_STORAGE_LOCAL_DIR", filepath.Join(dir, "media"))
	t.Setenv("LEITBOX_STORAGE_PUBLIC_BASE_URL", "http://leitbox.test/media")
	t.Setenv("LEITBOX_SERVER_LOG_LEVEL", "error")
	return dir
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestRunUnknownCommand(t *testing.T) {
	_, err := runCmd(t, "frobnicate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown command "frobnicate"`)
}

func TestRunHelp(t *testing.T) {
	out, err := runCmd(t, "help")
	require.NoError(t, err)
	assert.Contains(t, out, "migrate")

	out, err = runCmd(t, "token", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--user")
}

func TestMigrateCommand(t *testing.T) {
	setupEnv(t)

	out, err := runCmd(t, "migrate")
	require.NoError(t, err)
	version, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	require.NoError(t, err)
	assert.Positive(t, version)

	out, err = runCmd(t, "migrate", "version")
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(version, 10), strings.TrimSpace(out))

	_, err = runCmd(t, "migrate", "sideways")
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	setupEnv(t)
	userID := uuid.New()

	out, err := runCmd(t, "token", "--user", userID.String())
	require.NoError(t, err)

	var got tokenOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, userID, got.UserID)

	jwtService, err := auth.NewJWTService(config.AuthConfig{JWTSecret: testSecret, TokenLifetime: time.Hour})
	require.NoError(t, err)
	claims, err := jwtService.ValidateToken(context.Background(), got.Token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)

	_, err = runCmd(t, "token", "--user", "not-a-uuid")
	assert.Error(t, err)
}

func TestImportExportCommands(t *testing.T) {
	dir := setupEnv(t)
	userID := uuid.New()

	m := archive.NewManifest()
	m.Add([]byte(`{"type":"standard","front":"der Hund","back":"the dog"}`))
	m.Add([]byte(`{"type":"standard","front":"die Katze","back":"the cat"}`))
	zipPath := filepath.Join(dir, "german.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	require.NoError(t, archive.Build(context.Background(), f, m, ""))
	require.NoError(t, f.Close())

	out, err := runCmd(t, "import", "--user", userID.String(), "--name", "German", zipPath)
	require.NoError(t, err)
	var imported struct {
		BoxID uuid.UUID `json:"box_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	require.NotEqual(t, uuid.Nil, imported.BoxID)

	out, err = runCmd(t, "export", "--user", userID.String(), "--box", imported.BoxID.String())
	require.NoError(t, err)
	var result transfer.ExportResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Cards)
	assert.True(t, strings.HasPrefix(result.URL, "http://leitbox.test/media/"), result.URL)

	_, err = runCmd(t, "export", "--user", uuid.NewString(), "--box", imported.BoxID.String())
	assert.Error(t, err, "another user's box cannot be exported")

	_, err = runCmd(t, "import", "--user", userID.String(), "--name", "German")
	assert.Error(t, err, "archive file is required")

	_, err = runCmd(t, "export", "--box", imported.BoxID.String())
	assert.Error(t, err, "user is required")
}

func TestApplicationRouter(t *testing.T) {
	setupEnv(t)
	cfg, err := config.Load()
	require.NoError(t, err)
	log, _ := logger.NewCapture()

	ctx := context.Background()
	db, dialect, err := openDatabase(ctx, cfg, log)
	require.NoError(t, err)
	app, err := newApplication(ctx, cfg, log, db, dialect)
	require.NoError(t, err)
	require.NotNil(t, app.mediaHandler, "local backend serves its own media")

	bgCtx, cancel := context.WithCancel(ctx)
	app.startBackground(bgCtx)
	t.Cleanup(func() {
		cancel()
		app.cleanup()
	})

	srv := httptest.NewServer(app.router())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/boxes")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := app.jwtService.GenerateToken(ctx, uuid.New())
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/boxes", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/media/exports/missing.zip")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode, "unsigned media requests are rejected")
}

func TestNewApplicationRejectsBadTimezone(t *testing.T) {
	setupEnv(t)
	t.Setenv("LEITBOX_SCHEDULER_TIMEZONE", "Mars/Olympus_Mons")
	cfg, err := config.Load()
	require.NoError(t, err)
	log, _ := logger.NewCapture()

	ctx := context.Background()
	db, dialect, err := openDatabase(ctx, cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = newApplication(ctx, cfg, log, db, dialect)
	assert.ErrorContains(t, err, "invalid scheduler timezone")
}
