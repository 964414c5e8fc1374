// Package engine wires the indexer, reconciler and transfer executor
// together into a bounded-concurrency harness, and owns the process-wide
// progress store. It is the only package that mutates a SyncSummary or an
// Index in place. The worker pool is built on golang.org/x/sync/errgroup
// with SetLimit, the corpus's own idiom for bounded fan-out
// (adhtanjung-maukmn-api-alpha/internal/imaging/service.go); each worker
// always returns nil to the group so one task's failure never cancels its
// siblings — outcomes are folded in by hand instead, the way the
// local-folder uploader's worker pool streams results over a channel
// (internal/uploader.Run) and the onedrive-go executor reduces every
// action to a recorded, non-fatal outcome (internal/sync.Executor).
package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/immich-sync/engine/internal/immichclient"
	"github.com/immich-sync/engine/internal/indexer"
	"github.com/immich-sync/engine/internal/model"
	"github.com/immich-sync/engine/internal/progress"
	"github.com/immich-sync/engine/internal/reconcile"
	"github.com/immich-sync/engine/internal/transfer"
)

// Lister fetches an album's normalized asset list for one server. Satisfied
// by *immichclient.Client; abstracted so engine tests can fake it.
type Lister interface {
	ListAlbumAssets(ctx context.Context, albumID string) ([]model.Asset, error)
}

// Persister is a collaborator-owned hook for recording presence in an
// external index. Options.Persister is accepted, but Sync never calls it:
// no presence is recorded, whether or not a Persister is set.
type Persister interface {
	RecordPresence(ctx context.Context, groupID, checksum, serverName, remoteAssetID string) error
}

// Options configures one call to Sync.
type Options struct {
	DryRun          bool
	ProgressEnabled bool
	Workers         int
	GroupID         string
	Logger          zerolog.Logger
	Persister       Persister
	// InstanceLabels decorates progress snapshots for UI collaborators.
	InstanceLabels map[string]string
	// NewClient replaces the Lister used to fetch each server's album, for
	// tests; transfers still go through the immichclient.Client built from
	// the server's config. Production callers leave it nil.
	NewClient func(sc model.ServerConfig) Lister
}

// Engine owns the process-wide progress store and exposes Sync.
type Engine struct {
	Progress *progress.Store
}

// New builds an Engine with a fresh progress store.
func New() *Engine {
	return &Engine{Progress: progress.NewStore()}
}

type clientSet struct {
	byName map[string]*immichclient.Client
}

func (c *clientSet) For(name string) *immichclient.Client {
	return c.byName[name]
}

// Sync runs one end-to-end sync: list assets from every server, build the
// index, compute the union/missing sets and task list, then execute tasks
// with bounded concurrency, folding every outcome into the summary and
// progress snapshot under a single lock per group.
//
// The returned error is non-nil only for configuration or instance-listing
// failures; task-level failures live in the returned summary's Errors
// slice.
func (e *Engine) Sync(ctx context.Context, cfg []model.ServerConfig, opt Options) (*model.SyncSummary, error) {
	groupID := opt.GroupID
	if groupID == "" {
		groupID = uuid.NewString()
	}
	workers := opt.Workers
	if workers < 1 {
		workers = 4
	}
	logger := opt.Logger

	clients := &clientSet{byName: make(map[string]*immichclient.Client, len(cfg))}
	listers := make(map[string]Lister, len(cfg))
	for _, sc := range cfg {
		c := immichclient.New(sc.Name, sc.BaseURL, sc.APIKey, immichclient.Options{Logger: logger})
		clients.byName[sc.Name] = c
		if opt.NewClient != nil {
			listers[sc.Name] = opt.NewClient(sc)
		} else {
			listers[sc.Name] = c
		}
	}

	// Barrier: every server's asset list is fetched before any task is
	// scheduled, so the union/missing computation sees a consistent view.
	assetsByServer := make(map[string][]model.Asset, len(cfg))
	for _, sc := range cfg {
		assets, err := listers[sc.Name].ListAlbumAssets(ctx, sc.AlbumID)
		if err != nil {
			// A listing failure is fatal to the run rather than degrading to
			// a partial sync: proceeding would compute the union against a
			// silently skewed view of that server's assets.
			return nil, &listingError{server: sc.Name, cause: err}
		}
		assetsByServer[sc.Name] = assets
	}

	idx, checksumless := indexer.Build(assetsByServer)
	union := reconcile.Union(idx)
	missing := reconcile.Missing(idx, union, cfg)
	tasks, sourceErrs := reconcile.BuildTasks(idx, union, cfg)

	summary := model.NewSyncSummary(cfg, idx, missing, checksumless)
	summary.TotalChecksums = len(union)
	for _, err := range sourceErrs {
		summary.Errors = append(summary.Errors, err.Error())
	}

	if opt.ProgressEnabled {
		missingCounts := make(map[string]int, len(cfg))
		alreadyCounts := make(map[string]int, len(cfg))
		for _, sc := range cfg {
			missingCounts[sc.Name] = len(missing[sc.Name])
			alreadyCounts[sc.Name] = len(idx[sc.Name])
		}
		e.Progress.Reset(groupID, len(tasks), missingCounts, alreadyCounts, opt.InstanceLabels)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, task := range tasks {
		task := task
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome := transfer.Execute(gctx, clients, task, opt.DryRun, logger)
			e.applyOutcome(groupID, summary, idx, &mu, task, outcome, opt)
			return nil
		})
	}
	_ = g.Wait()

	if opt.ProgressEnabled {
		e.Progress.Finish(groupID)
	}

	return summary, nil
}

// applyOutcome folds one settled task's outcome into the summary, the
// in-place index propagation, and (if enabled) the progress snapshot, all
// under the same mutex.
func (e *Engine) applyOutcome(groupID string, summary *model.SyncSummary, idx model.Index, mu *sync.Mutex, task model.Task, outcome model.TaskOutcome, opt Options) {
	mu.Lock()
	defer mu.Unlock()

	st := summary.PerServer[task.Target.Name]

	switch outcome.Kind {
	case model.OutcomeLinked:
		summary.Linked++
		if st != nil {
			st.Linked++
		}
	case model.OutcomeCopied:
		summary.Copied++
		if st != nil {
			st.Copied++
		}
	case model.OutcomeOversize:
		if st != nil {
			st.Oversized++
		}
		summary.Oversized[task.Target.Name] = append(summary.Oversized[task.Target.Name], model.OversizedEntry{
			Checksum: outcome.Checksum,
			Filename: outcome.Filename,
			Size:     outcome.Size,
		})
	case model.OutcomeFailed:
		if st != nil {
			st.Failed++
		}
		summary.Errors = append(summary.Errors, outcome.Message)
	}

	if st != nil {
		st.Remaining = st.MissingBefore - (st.Copied + st.Linked + st.Oversized + st.Failed)
	}

	// Post-task index update: only linked/copied outcomes mean the target
	// now holds the checksum, so only those are recorded. Dry-run tasks are
	// folded in as "copied" and are recorded too. Every task's source was
	// fixed when the task list was built, so this update does not change
	// the source of any task.
	if outcome.Kind == model.OutcomeLinked || outcome.Kind == model.OutcomeCopied {
		idx.Set(task.Target.Name, task.Checksum, task.SourceAsset)
	}

	if opt.ProgressEnabled {
		e.Progress.RecordOutcome(groupID, outcome)
	}
}

// listingError is the fatal error returned when fetching one server's album
// assets fails; it is not recorded in summary.Errors.
type listingError struct {
	server string
	cause  error
}

func (e *listingError) Error() string {
	return "list album assets for " + e.server + ": " + e.cause.Error()
}

func (e *listingError) Unwrap() error { return e.cause }
