package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/downloads/repository"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
)

func TestClient_FollowConvergesAndRecoversFromErrors(t *testing.T) {
	repo := repository.NewMemoryRepo()
	first := create(t, repo, "alice")
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var since *int64
		if raw := r.URL.Query().Get("since"); raw != "" {
			s, _ := strconv.ParseInt(raw, 10, 64)
			since = &s
		}
		batch, err := repo.ReadFeed(r.Context(), "alice", since)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if batch.Empty() {
			time.Sleep(5 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(batch)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	view := NewView()
	seen := make(chan int, 16)
	client := NewClient(srv.URL, "token", time.Second, logger.NewNop())
	go func() {
		_ = client.Follow(ctx, view, func(v *View) { seen <- len(v.Jobs()) })
	}()

	waitFor := func(n int) {
		t.Helper()
		for {
			select {
			case got := <-seen:
				if got == n {
					return
				}
			case <-ctx.Done():
				t.Fatalf("view never reached %d jobs", n)
			}
		}
	}
	waitFor(1)

	create(t, repo, "alice")
	waitFor(2)

	if _, err := repo.Delete(context.Background(), "alice", first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitFor(1)

	if _, ok := view.Get(first.ID); ok {
		t.Fatal("deleted job still visible")
	}
	if atomic.LoadInt32(&calls) < 2 {
		t.Fatal("client did not retry after the failed request")
	}
}
