package main

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shift-compliance/internal/config"
	"github.com/example/shift-compliance/internal/notify"
	"github.com/example/shift-compliance/internal/persistence/memory"
	"github.com/example/shift-compliance/internal/testfixtures"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// isolate keeps a developer's .env out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv(config.KeyDotenv, filepath.Join(t.TempDir(), "missing.env"))
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"explode"}, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage: monitord")
}

func TestRunReportsConfigurationErrors(t *testing.T) {
	isolate(t)
	t.Setenv(config.KeyDatabaseDriver, "oracle")

	err := run(context.Background(), []string{"migrate"}, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.KeyDatabaseDriver)
}

func TestRunMigrateCreatesSQLiteSchema(t *testing.T) {
	isolate(t)
	dsn := "file:" + filepath.Join(t.TempDir(), "monitor.db")
	t.Setenv(config.KeyDatabaseDriver, config.DriverSQLite)
	t.Setenv(config.KeyDatabaseDSN, dsn)

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	require.NoError(t, run(context.Background(), []string{"migrate"}, logger))
	assert.Contains(t, logs.String(), "migrations applied")

	// A second run finds nothing pending.
	require.NoError(t, run(context.Background(), []string{"migrate"}, logger))
}

func TestRunSweepOnMemoryStore(t *testing.T) {
	isolate(t)
	t.Setenv(config.KeyDatabaseDriver, config.DriverMemory)

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	require.NoError(t, run(context.Background(), []string{"sweep"}, logger))
	assert.Contains(t, logs.String(), "compliance sweep finished")
}

func TestServeStopsWhenContextEnds(t *testing.T) {
	isolate(t)
	t.Setenv(config.KeyDatabaseDriver, config.DriverMemory)
	t.Setenv(config.KeyHTTPPort, strconv.Itoa(freePort(t)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, nil, quietLogger()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}

func TestBuildSinkFansOutToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Config{RedisAddr: mr.Addr(), RedisStream: "alerts"}

	sink, closeSink, err := buildSink(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(closeSink)
	require.Len(t, sink, 2)

	err = sink.Deliver(context.Background(), []notify.Message{{
		ID:          "n-1",
		RecipientID: "admin-1",
		Kind:        "non_compliance",
		Title:       "Shift not started",
		CreatedAt:   time.Date(2025, 9, 1, 13, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)

	entries, err := mr.Stream("alerts")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestBuildSinkWithoutRedisOnlyLogs(t *testing.T) {
	sink, closeSink, err := buildSink(context.Background(), config.Config{WebhookURL: "http://127.0.0.1:1/hook"}, quietLogger())
	require.NoError(t, err)
	closeSink()
	assert.Len(t, sink, 2)

	sink, _, err = buildSink(context.Background(), config.Config{}, quietLogger())
	require.NoError(t, err)
	assert.Len(t, sink, 1)
}

func TestBuildSinkFailsOnUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, _, err := buildSink(context.Background(), config.Config{RedisAddr: addr}, quietLogger())
	require.Error(t, err)
}

func TestNewAppServesAuthenticatedRoutes(t *testing.T) {
	store := memory.New()
	testfixtures.Seed(t, store, testfixtures.Campus())
	clk := testfixtures.NewClock(time.Time{})

	cfg := config.Config{
		Location:          clk.Location(),
		MaxShiftDuration:  12 * time.Hour,
		MaxCourseDuration: 8 * time.Hour,
		EntryGrace:        10 * time.Minute,
		ComplianceGrace:   20 * time.Minute,
		ExcessDedupWindow: time.Hour,
		SweepLookback:     24 * time.Hour,
		DailySummaryHour:  22,
		RequestTimeout:    time.Second,
	}
	a := newApp(store, cfg, notify.Discard, testfixtures.NewUUIDGenerator("monitord").NextFunc(), clk, quietLogger())
	require.NotNil(t, a.monitor)

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	req.Header.Set("X-User-ID", "admin-1")
	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
