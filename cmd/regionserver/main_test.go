package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/gridsim/internal/db"
	"github.com/udisondev/gridsim/internal/metrics"
	"github.com/udisondev/gridsim/internal/model"
	"github.com/udisondev/gridsim/internal/primcount"
	"github.com/udisondev/gridsim/internal/testutil"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func newCounts(t *testing.T) (*testutil.Region, *primcount.Module, *metrics.Collector, *model.Parcel) {
	t.Helper()
	r := testutil.NewRegion(t)
	col, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	counts := primcount.New(r.Land, r.Scene, col)
	counts.Wire(r.Bus)

	owner := uuid.New()
	parcel := r.AddParcel(t, model.Parcel{Name: "plaza", OwnerID: owner, MaxX: 256, MaxY: 256})
	r.AddObject(t, owner, uuid.Nil, 3, mgl64.Vec3{10, 10, 20})
	r.AddObject(t, uuid.New(), uuid.Nil, 2, mgl64.Vec3{50, 50, 20})
	return r, counts, col, parcel
}

func TestDebugServer_Parcels(t *testing.T) {
	_, counts, col, parcel := newCounts(t)
	srv := httptest.NewServer(newDebugServer("", col, counts, nil).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/parcels")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var rep primcount.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	require.Len(t, rep.Parcels, 1)
	assert.Equal(t, parcel.GlobalID, rep.Parcels[0].ParcelID)
	assert.Equal(t, 3, rep.Parcels[0].Owner)
	assert.Equal(t, 2, rep.Parcels[0].Others)
	assert.Equal(t, 5, rep.Parcels[0].Total)
}

func TestDebugServer_Parcel(t *testing.T) {
	_, counts, col, parcel := newCounts(t)
	srv := httptest.NewServer(newDebugServer("", col, counts, nil).Handler)
	defer srv.Close()

	tests := []struct {
		path string
		want int
	}{
		{"/debug/parcels/" + parcel.GlobalID.String(), http.StatusOK},
		{"/debug/parcels/" + uuid.NewString(), http.StatusNotFound},
		{"/debug/parcels/not-a-uuid", http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

type fakeHistory struct {
	mu    sync.Mutex
	rows  []db.PrimCountRow
	err   error
	limit int
}

func (h *fakeHistory) History(_ context.Context, parcelID uuid.UUID, limit int) ([]db.PrimCountRow, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limit = limit
	var out []db.PrimCountRow
	for _, r := range h.rows {
		if r.ParcelID == parcelID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, h.err
}

func (h *fakeHistory) lastLimit() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.limit
}

func TestDebugServer_History(t *testing.T) {
	_, counts, col, parcel := newCounts(t)
	history := &fakeHistory{rows: []db.PrimCountRow{
		{ParcelID: parcel.GlobalID, RecordedAt: time.Date(2026, 1, 1, 0, 2, 0, 0, time.UTC), Owner: 3, Total: 5},
		{ParcelID: parcel.GlobalID, RecordedAt: time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC), Owner: 2, Total: 4},
	}}
	srv := httptest.NewServer(newDebugServer("", col, counts, history).Handler)
	defer srv.Close()

	base := srv.URL + "/debug/parcels/" + parcel.GlobalID.String() + "/history"

	resp, err := http.Get(base + "?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rows []db.PrimCountRow
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 1)
	assert.Equal(t, int32(3), rows[0].Owner)
	assert.Equal(t, 1, history.lastLimit())

	tests := []struct {
		path string
		want int
	}{
		{base, http.StatusOK},
		{base + "?limit=0", http.StatusBadRequest},
		{base + "?limit=abc", http.StatusBadRequest},
		{srv.URL + "/debug/parcels/not-a-uuid/history", http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, err := http.Get(tt.path)
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
	assert.Equal(t, defaultHistoryLimit, history.lastLimit())

	history.mu.Lock()
	history.err = errors.New("connection refused")
	history.mu.Unlock()
	resp, err = http.Get(base)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestDebugServer_HistoryDisabled(t *testing.T) {
	_, counts, col, parcel := newCounts(t)
	srv := httptest.NewServer(newDebugServer("", col, counts, nil).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/parcels/" + parcel.GlobalID.String() + "/history")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDebugServer_Metrics(t *testing.T) {
	_, counts, col, _ := newCounts(t)
	srv := httptest.NewServer(newDebugServer("", col, counts, nil).Handler)
	defer srv.Close()

	// a read triggers the first rebuild
	counts.TotalCount(uuid.New())

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type memStore struct {
	mu      sync.Mutex
	reports []primcount.Report
	err     error
}

func (s *memStore) SaveReport(_ context.Context, rep primcount.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, rep)
	return s.err
}

func (s *memStore) WriteReport(rep primcount.Report) error {
	return s.SaveReport(context.Background(), rep)
}

func (s *memStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func TestReporter_Run(t *testing.T) {
	_, counts, _, _ := newCounts(t)
	store := &memStore{}
	trail := &memStore{}
	rep := &reporter{counts: counts, repo: store, log: trail, interval: 5 * time.Millisecond}

	ctx, cancel := testutil.ContextWithCancel(t)
	done := make(chan error, 1)
	go func() { done <- rep.Run(ctx) }()

	assert.Eventually(t, func() bool { return store.Len() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, store.Len(), trail.Len())
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 5, store.reports[0].Parcels[0].Total)
}

func TestReporter_KeepsRunningOnStoreError(t *testing.T) {
	_, counts, _, _ := newCounts(t)
	store := &memStore{err: errors.New("connection refused")}
	rep := &reporter{counts: counts, repo: store, interval: 5 * time.Millisecond}

	ctx, cancel := testutil.ContextWithCancel(t)
	defer cancel()
	go rep.Run(ctx)

	assert.Eventually(t, func() bool { return store.Len() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	_, counts, col, _ := newCounts(t)
	srv := newDebugServer("127.0.0.1:0", col, counts, nil)

	ctx, cancel := testutil.ContextWithCancel(t)
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
