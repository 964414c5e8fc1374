// Package transfer implements the per-task link-or-copy algorithm: the
// size gates, the check-bulk-upload-then-link short-circuit, and the
// download/upload/add-to-album copy path, each task reduced to a single
// model.TaskOutcome. Grounded on the local-folder uploader's
// upload-then-add-to-album sequence (internal/uploader.Run) and on the
// onedrive-go executor's tagged-outcome dispatch style
// (internal/sync.Executor.dispatchPhase).
package transfer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/immich-sync/engine/internal/immichclient"
	"github.com/immich-sync/engine/internal/model"
)

// Clients resolves a server name to its remote client.
type Clients interface {
	For(name string) *immichclient.Client
}

// Execute runs the link-or-copy algorithm for one task and returns its
// outcome. It never returns a Go error for task-level failures — those are
// folded into the returned TaskOutcome.
func Execute(ctx context.Context, clients Clients, t model.Task, dryRun bool, log zerolog.Logger) model.TaskOutcome {
	base := model.TaskOutcome{Target: t.Target.Name, Checksum: t.Checksum, Source: t.Source.Name}

	filename := t.SourceAsset.OriginalFilename
	if filename == "" {
		filename = "asset_" + t.Checksum
	}
	base.Filename = filename

	// Dry-run skips steps 1-6 entirely (including the size gates): the task
	// still counts as copied and still drives index propagation.
	if dryRun {
		base.Kind = model.OutcomeCopied
		return base
	}

	limit, hasLimit := t.Target.SizeLimit()

	// Size gate A: known size over the target's limit is an oversize before
	// any network I/O happens.
	if hasLimit && t.SourceAsset.Size != nil && *t.SourceAsset.Size > limit {
		base.Kind = model.OutcomeOversize
		base.Size = *t.SourceAsset.Size
		return base
	}

	target := clients.For(t.Target.Name)
	source := clients.For(t.Source.Name)

	if linkedID, ok := tryLink(ctx, target, t.Checksum, log); ok {
		if _, err := target.AddAssetsToAlbum(ctx, t.Target.AlbumID, []string{linkedID}); err != nil {
			base.Kind = model.OutcomeFailed
			base.Message = fmt.Sprintf("Failed to copy %s from %s to %s: %v", t.Checksum, t.Source.Name, t.Target.Name, err)
			return base
		}
		base.Kind = model.OutcomeLinked
		return base
	}

	content, err := source.DownloadAsset(ctx, t.SourceAsset.ID)
	if err != nil {
		base.Kind = model.OutcomeFailed
		base.Message = fmt.Sprintf("Failed to copy %s from %s to %s: %v", t.Checksum, t.Source.Name, t.Target.Name, err)
		return base
	}

	// Size gate B: size was unknown up front, so check the bytes we actually
	// downloaded before uploading them anywhere.
	if hasLimit && t.SourceAsset.Size == nil && int64(len(content)) > limit {
		base.Kind = model.OutcomeOversize
		base.Size = int64(len(content))
		return base
	}

	meta := buildMetadata(t.Source.Name, t.Checksum, t.SourceAsset)

	uploadResp, err := target.UploadAsset(ctx, filename, content, meta, t.Checksum)
	if err != nil {
		base.Kind = model.OutcomeFailed
		base.Message = fmt.Sprintf("Failed to copy %s from %s to %s: %v", t.Checksum, t.Source.Name, t.Target.Name, err)
		return base
	}

	newID := immichclient.UploadedID(uploadResp)
	if newID == "" {
		base.Kind = model.OutcomeFailed
		base.Message = fmt.Sprintf("Failed to copy %s from %s to %s: upload returned no asset id", t.Checksum, t.Source.Name, t.Target.Name)
		return base
	}

	if _, err := target.AddAssetsToAlbum(ctx, t.Target.AlbumID, []string{newID}); err != nil {
		base.Kind = model.OutcomeFailed
		base.Message = fmt.Sprintf("Failed to copy %s from %s to %s: %v", t.Checksum, t.Source.Name, t.Target.Name, err)
		return base
	}

	base.Kind = model.OutcomeCopied
	return base
}

// tryLink asks target whether it already has checksum under another asset
// id; if so it returns that id. Any failure of check_bulk_upload — missing
// endpoint, transport error, malformed body — is swallowed here: the caller
// falls through to copy instead.
func tryLink(ctx context.Context, target *immichclient.Client, checksum string, log zerolog.Logger) (string, bool) {
	resp, err := target.CheckBulkUpload(ctx, []immichclient.BulkCheckAsset{{ID: "sync", Checksum: checksum}})
	if err != nil {
		log.Debug().Err(err).Str("checksum", checksum).Msg("bulk-check failed, falling back to copy")
		return "", false
	}

	entries := bulkCheckEntries(resp)
	for _, e := range entries {
		action, _ := e["action"].(string)
		status, _ := e["status"].(string)
		if action != "reject" && action != "duplicate" && status != "reject" && status != "duplicate" {
			continue
		}
		if id := firstNonEmptyString(e, "assetId", "existingId", "id"); id != "" {
			return id, true
		}
	}
	return "", false
}

func bulkCheckEntries(resp map[string]any) []map[string]any {
	if resp == nil {
		return nil
	}
	raw, ok := resp["results"].([]any)
	if !ok {
		raw, ok = resp["assets"].([]any)
		if !ok {
			return nil
		}
	}
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func firstNonEmptyString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func buildMetadata(sourceName, checksum string, a model.Asset) immichclient.UploadMetadata {
	deviceAssetID := a.DeviceAssetID
	if deviceAssetID == "" {
		deviceAssetID = a.OriginalFilename
	}
	if deviceAssetID == "" {
		deviceAssetID = fmt.Sprintf("%s-%s", sourceName, checksum)
	}

	deviceID := a.DeviceID
	if deviceID == "" {
		deviceID = "ImmichSync-" + sourceName
	}

	fileCreatedAt := a.FileCreatedAt
	fileModifiedAt := a.FileModifiedAt
	if fileModifiedAt == "" {
		fileModifiedAt = fileCreatedAt
	}

	return immichclient.UploadMetadata{
		DeviceAssetID:  deviceAssetID,
		DeviceID:       deviceID,
		FileCreatedAt:  fileCreatedAt,
		FileModifiedAt: fileModifiedAt,
	}
}
