// Package immichclient is the remote media-server client: one instance per
// ServerConfig, typed operations, and the endpoint-variant fallback chains
// that absorb deployment-version skew. Modeled as a table of
// (method, path) attempts per operation, walked by a single helper
// (UploadAsset, whose multipart body and content type are rebuilt per
// attempt, does its own two-step fallback instead),
// grounded on a reference Immich client's zerolog/rate-limiter idiom
// and on the local-folder uploader's client for the multipart upload shape.
package immichclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/immich-sync/engine/internal/model"
)

// Client talks to one Immich-compatible media-server instance.
type Client struct {
	Name    string
	baseURL string
	apiKey  string
	hc      *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	Logger  zerolog.Logger
	// RateLimit and RateBurst default to a generous 50 req/s, burst 100
	// when zero, matching the corpus client's own throttling posture.
	RateLimit float64
	RateBurst int
}

// New constructs a client for a named server. baseURL's trailing slash and
// trailing "/api" segment are stripped; every operation below re-adds
// "/api" itself.
func New(name, baseURL, apiKey string, opt Options) *Client {
	b := strings.TrimRight(baseURL, "/")
	b = strings.TrimSuffix(b, "/api")

	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rl := opt.RateLimit
	if rl <= 0 {
		rl = 50
	}
	rb := opt.RateBurst
	if rb <= 0 {
		rb = 100
	}

	return &Client{
		Name:    name,
		baseURL: b,
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: timeout, Transport: &http.Transport{MaxIdleConnsPerHost: 8}},
		limiter: rate.NewLimiter(rate.Limit(rl), rb),
		log:     opt.Logger,
	}
}

func (c *Client) url(path string) string {
	return c.baseURL + "/api" + path
}

// doRaw performs one HTTP request and returns the status code and body. It
// does not interpret status codes — callers decide what's success, what
// advances a fallback chain, and what's a hard failure.
func (c *Client) doRaw(ctx context.Context, method, path string, body io.Reader, headers map[string]string) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.log.Debug().Str("server", c.Name).Str("method", method).Str("path", path).Msg("immich request")

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)

	c.log.Debug().Str("server", c.Name).Int("status", resp.StatusCode).Str("path", path).Msg("immich response")

	return resp.StatusCode, b, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody any, out any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	headers := map[string]string{"Accept": "application/json"}
	if reqBody != nil {
		headers["Content-Type"] = "application/json"
	}

	status, b, err := c.doRaw(ctx, method, path, body, headers)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%s %s failed: status=%d body=%s", method, path, status, strings.TrimSpace(string(b)))
	}
	if out != nil && len(bytes.TrimSpace(b)) > 0 {
		if err := json.Unmarshal(b, out); err != nil {
			return fmt.Errorf("decode %s %s response: %w (body=%s)", method, path, err, strings.TrimSpace(string(b)))
		}
	}
	return nil
}

// endpointAttempt is one (method, path) entry in a fallback chain.
type endpointAttempt struct {
	Method string
	Path   string
}

// tryVariants walks attempts in order, advancing to the next attempt when
// the response status is in advanceOn or when the request fails at the
// transport level. The first attempt whose status is not in advanceOn
// settles the call (success or hard failure). If every attempt advances,
// the last attempt's transport error is returned, or else an error naming
// the last response's status.
func (c *Client) tryVariants(ctx context.Context, attempts []endpointAttempt, body func() io.Reader, headers map[string]string, advanceOn map[int]bool) (int, []byte, error) {
	var lastStatus int
	var lastBody []byte
	var lastErr error

	for _, a := range attempts {
		var r io.Reader
		if body != nil {
			r = body()
		}
		status, b, err := c.doRaw(ctx, a.Method, a.Path, r, headers)
		if err != nil {
			lastErr = err
			lastStatus, lastBody = status, b
			continue
		}
		lastStatus, lastBody, lastErr = status, b, nil
		if advanceOn[status] {
			continue
		}
		return status, b, nil
	}
	if lastErr != nil {
		return lastStatus, lastBody, lastErr
	}
	return lastStatus, lastBody, fmt.Errorf("all endpoint variants exhausted: last status=%d body=%s", lastStatus, strings.TrimSpace(string(lastBody)))
}

// GetAlbumInfo fetches the raw album object: GET /api/albums/{albumID}.
func (c *Client) GetAlbumInfo(ctx context.Context, albumID string) (map[string]any, error) {
	var out map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/albums/"+albumID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAlbums reports whether GET /api/albums succeeds; it never raises.
func (c *Client) ListAlbums(ctx context.Context) (bool, *int) {
	status, _, err := c.doRaw(ctx, http.MethodGet, "/albums", nil, nil)
	if err != nil || status != http.StatusOK {
		if status == 0 {
			return false, nil
		}
		s := status
		return status == http.StatusOK, &s
	}
	s := status
	return true, &s
}

// ListAlbumAssets returns the normalized asset list for an album, derived
// from GetAlbumInfo's "assets" field.
func (c *Client) ListAlbumAssets(ctx context.Context, albumID string) ([]model.Asset, error) {
	info, err := c.GetAlbumInfo(ctx, albumID)
	if err != nil {
		return nil, err
	}
	raw, _ := info["assets"].([]any)
	assets := make([]model.Asset, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		a, ok := normalizeAsset(m)
		if !ok {
			continue
		}
		assets = append(assets, a)
	}
	return assets, nil
}

func normalizeAsset(m map[string]any) (model.Asset, bool) {
	id, _ := m["id"].(string)
	if id == "" {
		return model.Asset{}, false
	}

	checksum, _ := m["checksum"].(string)
	if checksum == "" {
		if exif, ok := m["exifInfo"].(map[string]any); ok {
			if hash, ok := exif["hash"].(string); ok {
				checksum = hash
			}
		}
	}

	a := model.Asset{
		ID:       id,
		Checksum: checksum,
	}
	if v, ok := m["originalFileName"].(string); ok {
		a.OriginalFilename = v
	}
	if v, ok := m["fileCreatedAt"].(string); ok {
		a.FileCreatedAt = v
	}
	if v, ok := m["fileModifiedAt"].(string); ok {
		a.FileModifiedAt = v
	}
	if v, ok := m["deviceAssetId"].(string); ok {
		a.DeviceAssetID = v
	}
	if v, ok := m["deviceId"].(string); ok {
		a.DeviceID = v
	}
	if v, ok := m["type"].(string); ok {
		a.Type = v
	}
	if v, ok := numberField(m, "fileSizeInByte"); ok {
		a.Size = &v
	} else if v, ok := numberField(m, "size"); ok {
		a.Size = &v
	}

	return a, true
}

func numberField(m map[string]any, key string) (int64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

var advance404 = map[int]bool{http.StatusNotFound: true}
var advance404405 = map[int]bool{http.StatusNotFound: true, http.StatusMethodNotAllowed: true}

// DownloadAsset fetches asset bytes, trying endpoint variants in order and
// advancing on 404 or a transport error; any other status settles the call.
func (c *Client) DownloadAsset(ctx context.Context, assetID string) ([]byte, error) {
	attempts := []endpointAttempt{
		{http.MethodGet, "/assets/" + assetID + "/original"},
		{http.MethodGet, "/assets/download/" + assetID},
		{http.MethodGet, "/assets/" + assetID + "/download"},
	}
	status, body, err := c.tryVariants(ctx, attempts, nil, nil, advance404)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("download asset %s failed: status=%d", assetID, status)
	}
	return body, nil
}

// UploadMetadata carries the fields required by multipart asset upload.
type UploadMetadata struct {
	DeviceAssetID  string
	DeviceID       string
	FileCreatedAt  string
	FileModifiedAt string
}

// UploadAsset uploads content as filename via multipart POST, falling back
// from /assets to /assets/upload on 404.
func (c *Client) UploadAsset(ctx context.Context, filename string, content []byte, meta UploadMetadata, checksum string) (map[string]any, error) {
	buildBody := func() (io.Reader, string) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		_ = mw.WriteField("deviceAssetId", meta.DeviceAssetID)
		_ = mw.WriteField("deviceId", meta.DeviceID)
		_ = mw.WriteField("fileCreatedAt", meta.FileCreatedAt)
		_ = mw.WriteField("fileModifiedAt", meta.FileModifiedAt)
		part, _ := mw.CreateFormFile("assetData", filename)
		_, _ = part.Write(content)
		_ = mw.Close()
		return &buf, mw.FormDataContentType()
	}

	tryOnce := func(path string) (int, []byte, error) {
		r, ct := buildBody()
		headers := map[string]string{"Accept": "application/json", "Content-Type": ct}
		if checksum != "" {
			headers["x-immich-checksum"] = checksum
		}
		return c.doRaw(ctx, http.MethodPost, path, r, headers)
	}

	status, body, err := tryOnce("/assets")
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		status, body, err = tryOnce("/assets/upload")
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("upload asset %s failed: status=%d body=%s", filename, status, strings.TrimSpace(string(body)))
	}

	var out map[string]any
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("decode upload response: %w", err)
		}
	}
	return out, nil
}

// UploadedID extracts the effective new asset id from an upload response:
// "id" else "assetId".
func UploadedID(resp map[string]any) string {
	if v, ok := resp["id"].(string); ok && v != "" {
		return v
	}
	if v, ok := resp["assetId"].(string); ok && v != "" {
		return v
	}
	return ""
}

// AddAssetsToAlbum links ids into albumID, falling back PUT -> POST on
// 404/405.
func (c *Client) AddAssetsToAlbum(ctx context.Context, albumID string, ids []string) (any, error) {
	payload := map[string]any{"ids": ids}
	bodyFn := func() io.Reader {
		b, _ := json.Marshal(payload)
		return bytes.NewReader(b)
	}
	attempts := []endpointAttempt{
		{http.MethodPut, "/albums/" + albumID + "/assets"},
		{http.MethodPost, "/albums/" + albumID + "/assets"},
	}
	headers := map[string]string{"Accept": "application/json", "Content-Type": "application/json"}
	status, body, err := c.tryVariants(ctx, attempts, bodyFn, headers, advance404405)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("add assets to album %s failed: status=%d body=%s", albumID, status, strings.TrimSpace(string(body)))
	}
	return decodeOrEmptyArray(body)
}

// RemoveAssetsFromAlbum unlinks ids from albumID: DELETE /api/albums/{id}/assets.
func (c *Client) RemoveAssetsFromAlbum(ctx context.Context, albumID string, ids []string) (any, error) {
	var out any
	if err := c.doJSON(ctx, http.MethodDelete, "/albums/"+albumID+"/assets", map[string]any{"ids": ids}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BulkCheckAsset is one entry in a check_bulk_upload request.
type BulkCheckAsset struct {
	ID       string `json:"id"`
	Checksum string `json:"checksum"`
}

// CheckBulkUpload tries POST /api/assets/check then /api/asset/check,
// advancing on 404/405 or a transport error; any other status settles the
// call.
func (c *Client) CheckBulkUpload(ctx context.Context, assets []BulkCheckAsset) (map[string]any, error) {
	payload := map[string]any{"assets": assets}
	bodyFn := func() io.Reader {
		b, _ := json.Marshal(payload)
		return bytes.NewReader(b)
	}
	attempts := []endpointAttempt{
		{http.MethodPost, "/assets/check"},
		{http.MethodPost, "/asset/check"},
	}
	headers := map[string]string{"Accept": "application/json", "Content-Type": "application/json"}
	status, body, err := c.tryVariants(ctx, attempts, bodyFn, headers, advance404405)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("check bulk upload failed: status=%d body=%s", status, strings.TrimSpace(string(body)))
	}
	var out map[string]any
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("decode bulk-check response: %w", err)
		}
	}
	return out, nil
}

func decodeOrEmptyArray(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []any{}, nil
	}
	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return []any{}, nil
	}
	return out, nil
}

// ValidateReport is the result of Validate.
type ValidateReport struct {
	CanListAlbums   bool `json:"can_list_albums"`
	CanListStatus   int  `json:"can_list_status"`
	CanReadAlbum    bool `json:"can_read_album"`
	CanReadStatus   int  `json:"can_read_status"`
	CanModifyAlbum  bool `json:"can_modify_album"`
	CanModifyStatus int  `json:"can_modify_status"`
}

// Validate probes list/read/modify permissions for albumID. A 400 on the
// modify probe (PUT with an empty ids list) is treated as
// authorized-but-bad-request, i.e. CanModifyAlbum=true.
func (c *Client) Validate(ctx context.Context, albumID string) ValidateReport {
	var report ValidateReport

	ok, status := c.ListAlbums(ctx)
	report.CanListAlbums = ok
	if status != nil {
		report.CanListStatus = *status
	}

	if albumID != "" {
		status, _, err := c.doRaw(ctx, http.MethodGet, "/albums/"+albumID, nil, nil)
		report.CanReadStatus = status
		report.CanReadAlbum = err == nil && status >= 200 && status < 300

		payload := map[string]any{"ids": []string{}}
		b, _ := json.Marshal(payload)
		mStatus, _, mErr := c.doRaw(ctx, http.MethodPut, "/albums/"+albumID+"/assets", bytes.NewReader(b), map[string]string{"Content-Type": "application/json"})
		report.CanModifyStatus = mStatus
		report.CanModifyAlbum = mErr == nil && ((mStatus >= 200 && mStatus < 300) || mStatus == http.StatusBadRequest)
	}

	return report
}
