package immichclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StripsTrailingSlashAndAPISegment(t *testing.T) {
	c := New("srv", "http://host:2283/api/", "key", Options{})
	assert.Equal(t, "http://host:2283/api/albums", c.url("/albums"))
}

func TestDownloadAsset_AdvancesOnlyOn404(t *testing.T) {
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		switch r.URL.Path {
		case "/api/assets/a1/original":
			w.WriteHeader(http.StatusNotFound)
		case "/api/assets/download/a1":
			_, _ = w.Write([]byte("bytes"))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New("srv", srv.URL, "k", Options{})
	body, err := c.DownloadAsset(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), body)
	assert.Equal(t, []string{"/api/assets/a1/original", "/api/assets/download/a1"}, hits)
}

func TestDownloadAsset_StopsOnFirstNon404(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("srv", srv.URL, "k", Options{})
	_, err := c.DownloadAsset(context.Background(), "a1")
	require.Error(t, err)
	assert.Equal(t, 1, hits)
}

func TestAddAssetsToAlbum_FallsBackPUTToPOSTOn404Or405(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New("srv", srv.URL, "k", Options{})
	_, err := c.AddAssetsToAlbum(context.Background(), "alb", []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, []string{http.MethodPut, http.MethodPost}, methods)
}

func TestCheckBulkUpload_FallsBackOnNotFound(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/assets/check" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := New("srv", srv.URL, "k", Options{})
	out, err := c.CheckBulkUpload(context.Background(), []BulkCheckAsset{{ID: "x", Checksum: "c"}})
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Equal(t, []string{"/api/assets/check", "/api/asset/check"}, paths)
}

func TestNormalizeAsset_ChecksumFallsBackToExifHash(t *testing.T) {
	a, ok := normalizeAsset(map[string]any{
		"id": "1",
		"exifInfo": map[string]any{
			"hash": "exif-hash",
		},
	})
	require.True(t, ok)
	assert.Equal(t, "exif-hash", a.Checksum)
}

func TestNormalizeAsset_SizeFallsBackFromFileSizeInByteToSize(t *testing.T) {
	a, ok := normalizeAsset(map[string]any{"id": "1", "size": float64(42)})
	require.True(t, ok)
	require.NotNil(t, a.Size)
	assert.Equal(t, int64(42), *a.Size)

	b, ok := normalizeAsset(map[string]any{"id": "2", "fileSizeInByte": float64(99), "size": float64(1)})
	require.True(t, ok)
	require.NotNil(t, b.Size)
	assert.Equal(t, int64(99), *b.Size)
}

func TestNormalizeAsset_NoIDIsRejected(t *testing.T) {
	_, ok := normalizeAsset(map[string]any{"checksum": "chk"})
	assert.False(t, ok)
}

func TestListAlbumAssets_SkipsMalformedEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"assets":[{"id":"1","checksum":"c1"},"not-an-object",{"checksum":"no-id"}]}`))
	}))
	defer srv.Close()

	c := New("srv", srv.URL, "k", Options{})
	assets, err := c.ListAlbumAssets(context.Background(), "alb")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "1", assets[0].ID)
}

func TestValidate_ModifyProbeTreats400AsAuthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := New("srv", srv.URL, "k", Options{})
	report := c.Validate(context.Background(), "alb")
	assert.True(t, report.CanModifyAlbum)
	assert.Equal(t, http.StatusBadRequest, report.CanModifyStatus)
}
