package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/config"
	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/downloads/repository"
	"github.com/amankumarsingh77/media-downloader/internal/downloads/usecase"
	"github.com/amankumarsingh77/media-downloader/internal/feed"
	"github.com/amankumarsingh77/media-downloader/internal/middleware"
	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
	"github.com/amankumarsingh77/media-downloader/pkg/utils"
	"github.com/labstack/echo/v4"
)

const secret = "test-secret"

func newTestServer(t *testing.T) (*echo.Echo, downloads.UseCase) {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{JwtSecretKey: secret},
		Queue:  config.QueueConfig{PerOwnerLimit: 2, LeaseDuration: time.Minute},
		Feed:   config.FeedConfig{LongPollTimeout: 2 * time.Second},
	}
	log := logger.NewNop()
	repo := repository.NewMemoryRepo()
	notifier := repository.NewLocalNotifier()
	broker := feed.NewBroker(log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := broker.Run(ctx, notifier); err != nil {
		t.Fatalf("broker: %v", err)
	}
	uc := usecase.NewDownloadsUseCase(cfg, repo, notifier, nil, nil, broker, nil, log)

	e := echo.New()
	mw := middleware.NewMiddlewareManager(cfg, log)
	MapDownloadsRoutes(e.Group("/api/v1/downloads"), NewDownloadsHandler(cfg, uc, log), mw)
	return e, uc
}

func do(t *testing.T, e *echo.Echo, owner, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if owner != "" {
		token, err := utils.GenerateJWTToken(owner, secret)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndListDownloads(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(t, e, "alice", http.MethodPost, "/api/v1/downloads", `{"url":"https://example.com/v","format":"audio"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := &models.Download{}
	if err := json.Unmarshal(rec.Body.Bytes(), created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != models.StatusPending || created.Quality != models.QualityBest || created.Owner != "alice" {
		t.Fatalf("unexpected download %+v", created)
	}

	rec = do(t, e, "alice", http.MethodGet, "/api/v1/downloads", "")
	var list []*models.Download
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("expected one download, got %s (%v)", rec.Body.String(), err)
	}

	rec = do(t, e, "bob", http.MethodGet, "/api/v1/downloads", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("bob sees alice's downloads: %s", rec.Body.String())
	}
}

func TestCreateDownloadErrors(t *testing.T) {
	e, _ := newTestServer(t)

	cases := []struct {
		name   string
		owner  string
		body   string
		status int
	}{
		{"no token", "", `{"url":"https://example.com","format":"video"}`, http.StatusUnauthorized},
		{"missing url", "alice", `{"format":"video"}`, http.StatusBadRequest},
		{"bad format", "alice", `{"url":"https://example.com","format":"gif"}`, http.StatusBadRequest},
		{"bad json", "alice", `{"url":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, e, tc.owner, http.MethodPost, "/api/v1/downloads", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestDeleteDownload(t *testing.T) {
	e, uc := newTestServer(t)
	d, err := uc.Create(context.Background(), "alice", &models.DownloadInput{URL: "https://example.com/v", Format: models.FormatVideo})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	target := "/api/v1/downloads/" + d.ID.String()

	if rec := do(t, e, "bob", http.MethodDelete, target, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("other owner delete: expected 404, got %d", rec.Code)
	}
	if rec := do(t, e, "alice", http.MethodDelete, target, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	if rec := do(t, e, "alice", http.MethodDelete, target, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("repeat delete: expected 204, got %d", rec.Code)
	}
	if rec := do(t, e, "alice", http.MethodDelete, "/api/v1/downloads/nope", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", rec.Code)
	}
}

func TestFeedLongPoll(t *testing.T) {
	e, uc := newTestServer(t)

	rec := do(t, e, "alice", http.MethodGet, "/api/v1/downloads/feed", "")
	snapshot := &models.FeedBatch{}
	if err := json.Unmarshal(rec.Body.Bytes(), snapshot); err != nil || snapshot.Kind != models.FeedSnapshot {
		t.Fatalf("expected snapshot, got %s", rec.Body.String())
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = uc.Create(context.Background(), "alice", &models.DownloadInput{URL: "https://example.com/v", Format: models.FormatVideo})
	}()

	start := time.Now()
	rec = do(t, e, "alice", http.MethodGet, "/api/v1/downloads/feed?since=0&wait=2", "")
	batch := &models.FeedBatch{}
	if err := json.Unmarshal(rec.Body.Bytes(), batch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if batch.Kind != models.FeedEvents || len(batch.Events) != 1 {
		t.Fatalf("expected one event, got %s", rec.Body.String())
	}
	if time.Since(start) > time.Second {
		t.Fatal("long poll did not wake on the change")
	}

	if rec = do(t, e, "alice", http.MethodGet, "/api/v1/downloads/feed?since=abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since: expected 400, got %d", rec.Code)
	}
}

func TestStreamPushesBatches(t *testing.T) {
	e, uc := newTestServer(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	token, _ := utils.GenerateJWTToken("alice", secret)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/downloads/stream?token="+token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = uc.Create(context.Background(), "alice", &models.DownloadInput{URL: "https://example.com/v", Format: models.FormatVideo})
	}()

	var kinds []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(kinds) < 2 {
		if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
			kinds = append(kinds, strings.TrimPrefix(line, "event: "))
		}
	}
	if len(kinds) != 2 || kinds[0] != string(models.FeedSnapshot) || kinds[1] != string(models.FeedEvents) {
		t.Fatalf("unexpected stream events %v", kinds)
	}
}
