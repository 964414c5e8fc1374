package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immich-sync/engine/internal/model"
)

// fakeServer is a minimal in-memory Immich-like media server: it holds one
// album's asset list and accepts uploads/links against it.
type fakeServer struct {
	mu     sync.Mutex
	assets []map[string]any
	nextID int
}

func newFakeServer(initial ...map[string]any) *httptest.Server {
	fs := &fakeServer{assets: initial}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && len(r.URL.Path) > len("/api/albums/") && r.URL.Path[:len("/api/albums/")] == "/api/albums/":
			_ = json.NewEncoder(w).Encode(map[string]any{"assets": fs.assets})
		case r.Method == http.MethodPost && r.URL.Path == "/api/assets/check":
			_ = json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
		case r.Method == http.MethodGet && r.URL.Path == "/api/assets/src-1/original":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte("bytes"))
		case r.Method == http.MethodPost && r.URL.Path == "/api/assets":
			_ = r.ParseMultipartForm(10 << 20)
			fs.nextID++
			id := "uploaded-1"
			fs.assets = append(fs.assets, map[string]any{"id": id, "checksum": "chk1"})
			_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
		case r.Method == http.MethodPut && len(r.URL.Path) > len("/api/albums/"):
			_ = json.NewEncoder(w).Encode([]any{})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestSync_EndToEnd_CopiesMissingChecksumAndUpdatesSummary(t *testing.T) {
	primary := newFakeServer(map[string]any{"id": "src-1", "checksum": "chk1", "originalFileName": "a.jpg"})
	defer primary.Close()
	secondary := newFakeServer()
	defer secondary.Close()

	cfg := []model.ServerConfig{
		{Name: "primary", BaseURL: primary.URL, APIKey: "k", AlbumID: "alb"},
		{Name: "secondary", BaseURL: secondary.URL, APIKey: "k", AlbumID: "alb"},
	}

	e := New()
	summary, err := e.Sync(context.Background(), cfg, Options{Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.TotalChecksums)
	assert.Equal(t, 1, summary.Copied)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, 1, summary.PerServer["secondary"].Copied)
	assert.Equal(t, 0, summary.PerServer["secondary"].Remaining)
}

func TestSync_ListingFailureIsFatalAndNotRecordedAsTaskError(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()
	secondary := newFakeServer()
	defer secondary.Close()

	cfg := []model.ServerConfig{
		{Name: "primary", BaseURL: broken.URL, APIKey: "k", AlbumID: "alb"},
		{Name: "secondary", BaseURL: secondary.URL, APIKey: "k", AlbumID: "alb"},
	}

	e := New()
	summary, err := e.Sync(context.Background(), cfg, Options{})
	require.Error(t, err)
	assert.Nil(t, summary)
}

// fakeLister lets a test supply a canned asset list and/or an action (such
// as cancelling the run's context) to run when listing is called, without
// going over real HTTP.
type fakeLister struct {
	assets []model.Asset
	onCall func()
}

func (f fakeLister) ListAlbumAssets(ctx context.Context, albumID string) ([]model.Asset, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.assets, nil
}

func TestSync_CancelledContextStopsSchedulingNewTasks(t *testing.T) {
	cfg := []model.ServerConfig{
		{Name: "primary", BaseURL: "http://unused", APIKey: "k", AlbumID: "alb"},
		{Name: "secondary", BaseURL: "http://unused", APIKey: "k", AlbumID: "alb"},
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := New()
	summary, err := e.Sync(ctx, cfg, Options{
		ProgressEnabled: true,
		GroupID:         "cancelled-run",
		NewClient: func(sc model.ServerConfig) Lister {
			if sc.Name == "primary" {
				return fakeLister{assets: []model.Asset{{ID: "src-1", Checksum: "chk1"}}}
			}
			// Cancel once the second (and last) server's listing is fetched,
			// i.e. strictly before the dispatch loop can start.
			return fakeLister{assets: nil, onCall: cancel}
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Copied)
	assert.Equal(t, 1, summary.TotalChecksums)

	snap := e.Progress.Get("cancelled-run")
	assert.Equal(t, model.StatusIdle, snap.Status)
}

func TestSync_DryRunNeverMutatesTargetButStillConverges(t *testing.T) {
	primary := newFakeServer(map[string]any{"id": "src-1", "checksum": "chk1"})
	defer primary.Close()

	var uploadCalled bool
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/api/assets" {
			uploadCalled = true
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{"assets": []any{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer secondary.Close()

	cfg := []model.ServerConfig{
		{Name: "primary", BaseURL: primary.URL, APIKey: "k", AlbumID: "alb"},
		{Name: "secondary", BaseURL: secondary.URL, APIKey: "k", AlbumID: "alb"},
	}

	e := New()
	summary, err := e.Sync(context.Background(), cfg, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Copied)
	assert.False(t, uploadCalled)
}
