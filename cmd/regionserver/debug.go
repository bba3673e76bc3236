package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/udisondev/gridsim/internal/db"
	"github.com/udisondev/gridsim/internal/metrics"
	"github.com/udisondev/gridsim/internal/primcount"
)

const (
	shutdownTimeout     = 5 * time.Second
	defaultHistoryLimit = 20
	maxHistoryLimit     = 1000
)

// historySource reads persisted prim-count snapshots.
type historySource interface {
	History(ctx context.Context, parcelID uuid.UUID, limit int) ([]db.PrimCountRow, error)
}

// newDebugServer builds the metrics and debug listener. The history route is
// registered only when history is non-nil.
func newDebugServer(addr string, collector *metrics.Collector, counts *primcount.Module, history historySource) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", collector.Handler())
	mux.HandleFunc("GET /debug/parcels", parcelsHandler(counts))
	mux.HandleFunc("GET /debug/parcels/{id}", parcelHandler(counts))
	if history != nil {
		mux.HandleFunc("GET /debug/parcels/{id}/history", historyHandler(history))
	}

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serve runs srv until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down %s: %w", srv.Addr, err)
	}
	return nil
}

func parcelsHandler(counts *primcount.Module) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, counts.Snapshot())
	}
}

func parcelHandler(counts *primcount.Module) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, "invalid parcel id", http.StatusBadRequest)
			return
		}
		if p, ok := counts.ParcelReport(id); ok {
			writeJSON(w, http.StatusOK, p)
			return
		}
		http.Error(w, "parcel not found", http.StatusNotFound)
	}
}

func historyHandler(history historySource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, "invalid parcel id", http.StatusBadRequest)
			return
		}
		limit := defaultHistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, err = strconv.Atoi(v)
			if err != nil || limit <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(limit, maxHistoryLimit)
		}

		rows, err := history.History(r.Context(), id, limit)
		if err != nil {
			slog.Error("reading prim count history", "parcel", id, "err", err)
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}
		if rows == nil {
			rows = []db.PrimCountRow{}
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing debug response", "err", err)
	}
}
