package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_StartsSession(t *testing.T) {
	db := newTestDB(t)

	_, err := uuid.Parse(db.SessionID)
	require.NoError(t, err)

	sessions, err := db.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, db.SessionID, sessions[0].ID)
}

func TestNewDB_ReopenAddsSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	first, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewDB(path)
	require.NoError(t, err)
	defer second.Close()

	assert.NotEqual(t, first.SessionID, second.SessionID)
	sessions, err := second.Sessions(context.Background())
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestRecordCommand(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)

	rec := &CommandRecord{
		ReceivedAt: at,
		Source:     "serial",
		Line:       "PARAMETER,p1StartUs,u32,65600",
		Kind:       "parameter",
		Name:       "p1StartUs",
		TypeTag:    "u32",
		Value:      "65600",
		Stored:     "64",
		Status:     StatusApplied,
	}
	require.NoError(t, db.RecordCommand(ctx, rec))
	assert.NotZero(t, rec.ID)
	assert.Equal(t, db.SessionID, rec.SessionID)

	got, err := db.Commands(ctx, CommandQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, *rec, got[0])
}

func TestCommands_Filters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	lines := []CommandRecord{
		{Source: "serial", Line: "PARAMETER,p1Line,1", Kind: "parameter", Name: "p1Line", Value: "1", Stored: "1", Status: StatusApplied},
		{Source: "serial", Line: "PARAMETER,bogus,1", Kind: "parameter", Name: "bogus", Value: "1", Status: StatusUnknownName},
		{Source: "http", Line: "PARAMETER,p1Line,2", Kind: "parameter", Name: "p1Line", Value: "2", Stored: "2", Status: StatusApplied},
		{Source: "serial", Line: "*", Kind: "identify", Status: StatusHandled},
	}
	for i := range lines {
		require.NoError(t, db.RecordCommand(ctx, &lines[i]))
	}

	all, err := db.Commands(ctx, CommandQuery{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "*", all[0].Line, "newest first")

	byName, err := db.Commands(ctx, CommandQuery{Name: "p1Line"})
	require.NoError(t, err)
	require.Len(t, byName, 2)
	assert.Equal(t, "2", byName[0].Stored)

	unknown, err := db.Commands(ctx, CommandQuery{Status: StatusUnknownName})
	require.NoError(t, err)
	require.Len(t, unknown, 1)
	assert.Equal(t, "bogus", unknown[0].Name)

	limited, err := db.Commands(ctx, CommandQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := db.Commands(ctx, CommandQuery{SessionID: "other"})
	require.NoError(t, err)
	assert.Empty(t, none)

	latest, err := db.LatestParameters(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"p1Line": "2"}, latest)
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)
	migrations := MigrationsFS()

	latest, err := LatestMigrationVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	version, dirty, err := db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateDown(migrations))
	version, _, err = db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	_, err = db.LatestParameters(context.Background())
	assert.Error(t, err, "view is dropped by the down migration")

	require.NoError(t, db.MigrateUp(migrations))
	require.NoError(t, db.MigrateUp(migrations), "no change is not an error")
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	var out bytes.Buffer

	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2 (latest 2, dirty: false)")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"help"}, path, &out))
	assert.Contains(t, out.String(), "Usage: triggerscope migrate")

	assert.Error(t, RunMigrateCommand(nil, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"sideways"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"force"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"force", "x"}, path, &out))
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.RecordCommand(context.Background(), &CommandRecord{
		Source: "serial", Line: "*", Kind: "identify", Status: StatusHandled,
	}))

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "attachment; filename=backup-"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("SQLite format 3")))
}
