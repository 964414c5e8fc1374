// Package model holds the plain data types shared by every stage of a sync
// run: the configuration read from disk, the remote asset shape, the
// content-addressed index built from it, and the mutable bookkeeping
// (per-server stats, the run summary, progress snapshots) the engine updates
// as tasks complete.
package model

import "time"

// ServerConfig describes one participating media-server instance. It is
// immutable once a sync starts.
type ServerConfig struct {
	Name           string `json:"name" validate:"required"`
	BaseURL        string `json:"base_url" validate:"required"`
	APIKey         string `json:"api_key" validate:"required"`
	AlbumID        string `json:"album_id" validate:"required"`
	// SizeLimitBytes is nil when the field is absent from the config file
	// (no limit); a non-nil value must be a positive integer.
	SizeLimitBytes *int64 `json:"size_limit_bytes,omitempty"`
}

// SizeLimit returns (limit, true) if a positive per-server size cap is set.
func (sc ServerConfig) SizeLimit() (int64, bool) {
	if sc.SizeLimitBytes == nil || *sc.SizeLimitBytes <= 0 {
		return 0, false
	}
	return *sc.SizeLimitBytes, true
}

// Asset is a remote, read-only asset as reported by a media server.
type Asset struct {
	ID               string
	Checksum         string
	OriginalFilename string
	FileCreatedAt    string
	FileModifiedAt   string
	DeviceAssetID    string
	DeviceID         string
	Size             *int64
	Type             string
}

// Index maps server name -> checksum -> Asset. Inner-map keys are always
// non-empty checksums; assets without a checksum never appear here.
type Index map[string]map[string]Asset

// Has reports whether server s has an asset for checksum c.
func (idx Index) Has(s, c string) bool {
	inner, ok := idx[s]
	if !ok {
		return false
	}
	_, ok = inner[c]
	return ok
}

// Set records asset a under checksum c for server s, creating the inner map
// if needed, overwriting any existing entry. Used by the harness's post-task
// index update; the indexer uses SetIfAbsent instead.
func (idx Index) Set(s, c string, a Asset) {
	inner, ok := idx[s]
	if !ok {
		inner = make(map[string]Asset)
		idx[s] = inner
	}
	inner[c] = a
}

// SetIfAbsent records asset a under checksum c for server s only if that
// server does not already have an entry for c. Returns true if it inserted.
func (idx Index) SetIfAbsent(s, c string, a Asset) bool {
	inner, ok := idx[s]
	if !ok {
		inner = make(map[string]Asset)
		idx[s] = inner
	}
	if _, exists := inner[c]; exists {
		return false
	}
	inner[c] = a
	return true
}

// UnionSet is the set of all checksums present on any server.
type UnionSet map[string]struct{}

// MissingMap maps server name -> ordered (sorted) checksums absent there.
type MissingMap map[string][]string

// Task is one unit of sync work: bring checksum c onto target by either
// linking or copying from source.
type Task struct {
	Checksum     string
	Source       ServerConfig
	SourceAsset  Asset
	Target       ServerConfig
}

// ServerStats is the mutable per-server counter block inside a SyncSummary.
type ServerStats struct {
	InitialAssets int `json:"initial_assets"`
	MissingBefore int `json:"missing_before"`
	Remaining     int `json:"remaining"`
	Copied        int `json:"copied"`
	Linked        int `json:"linked"`
	Oversized     int `json:"oversized"`
	Failed        int `json:"failed"`
}

// OversizedEntry is the literal shape recorded in SyncSummary.Oversized.
type OversizedEntry struct {
	Checksum string `json:"checksum"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// SyncSummary is the mutable, single-run result record. It is built at the
// start of a sync and frozen into a report at the end.
type SyncSummary struct {
	TotalChecksums     int                         `json:"total_checksums"`
	Copied             int                         `json:"copied"`
	Linked             int                         `json:"linked"`
	Errors             []string                    `json:"errors"`
	ChecksumlessAssets map[string]int              `json:"checksumless_assets"`
	Oversized          map[string][]OversizedEntry `json:"oversized"`
	PerServer          map[string]*ServerStats     `json:"per_server"`
}

// NewSyncSummary builds a zeroed summary with one ServerStats per server and
// MissingBefore/InitialAssets pre-populated from the index/missing map.
func NewSyncSummary(servers []ServerConfig, idx Index, missing MissingMap, checksumless map[string]int) *SyncSummary {
	s := &SyncSummary{
		ChecksumlessAssets: checksumless,
		Oversized:          make(map[string][]OversizedEntry),
		PerServer:          make(map[string]*ServerStats),
	}
	for _, sc := range servers {
		st := &ServerStats{
			InitialAssets: len(idx[sc.Name]),
			MissingBefore: len(missing[sc.Name]),
		}
		st.Remaining = st.MissingBefore
		s.PerServer[sc.Name] = st
	}
	return s
}

// TaskOutcomeKind tags how a task settled.
type TaskOutcomeKind int

const (
	OutcomeLinked TaskOutcomeKind = iota
	OutcomeCopied
	OutcomeOversize
	OutcomeFailed
)

// TaskOutcome is the tagged result a transfer worker reduces a Task to. The
// harness never receives a raw error from a worker — only one of these.
type TaskOutcome struct {
	Kind     TaskOutcomeKind
	Target   string
	Checksum string
	Source   string
	Filename string
	Size     int64
	Message  string
}

// InstanceProgress is the per-target slice of a ProgressSnapshot.
type InstanceProgress struct {
	Missing int `json:"missing"`
	Done    int `json:"done"`
	Already int `json:"already"`
}

// ProgressSnapshot is a point-in-time, read-only view of an in-flight (or
// finished, or never-run) sync for one group id.
type ProgressSnapshot struct {
	Status         string                      `json:"status"`
	Total          int                         `json:"total"`
	Done           int                         `json:"done"`
	Remaining      int                         `json:"remaining"`
	Already        int                         `json:"already"`
	PerInstance    map[string]*InstanceProgress `json:"per_instance"`
	Oversized      map[string][]OversizedEntry `json:"oversized"`
	StartedAt      time.Time                   `json:"started_at"`
	ETASeconds     float64                     `json:"eta_seconds"`
	InstanceLabels map[string]string           `json:"instance_labels,omitempty"`
}

// StatusIdle and StatusRunning are the only two values ProgressSnapshot.Status takes.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
)

// ZeroProgress is the value returned for a group id that never ran a sync.
func ZeroProgress() ProgressSnapshot {
	return ProgressSnapshot{
		Status:      StatusIdle,
		PerInstance: make(map[string]*InstanceProgress),
		Oversized:   make(map[string][]OversizedEntry),
	}
}
