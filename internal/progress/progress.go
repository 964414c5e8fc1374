// Package progress holds the process-wide, group-keyed ProgressSnapshot
// store. Reads are defensive copies; writes happen only from
// internal/engine, always under the snapshot's own mutex, so a summary
// update and its matching progress update never race each other. The map
// itself is sharded with sync.Map rather than guarded by one global mutex,
// to reduce contention across concurrently running sync groups.
package progress

import (
	"sync"
	"time"

	"github.com/immich-sync/engine/internal/model"
)

// entry is the mutable, lockable state for one sync group.
type entry struct {
	mu   sync.Mutex
	snap model.ProgressSnapshot
}

// Store is a process-wide registry of in-flight/finished sync progress,
// keyed by sync-group id.
type Store struct {
	groups sync.Map // string -> *entry
}

// NewStore builds an empty progress store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) entryFor(groupID string) *entry {
	v, _ := s.groups.LoadOrStore(groupID, &entry{snap: model.ZeroProgress()})
	return v.(*entry)
}

// Get returns a defensive copy of groupID's current snapshot, or the zero
// record if no sync ever ran for it.
func (s *Store) Get(groupID string) model.ProgressSnapshot {
	v, ok := s.groups.Load(groupID)
	if !ok {
		return model.ZeroProgress()
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return copySnapshot(e.snap)
}

// Reset starts (or restarts) groupID's snapshot for a new run with total
// tasks, per-instance missing counts and already-present counts.
func (s *Store) Reset(groupID string, total int, missing map[string]int, already map[string]int, labels map[string]string) {
	e := s.entryFor(groupID)
	e.mu.Lock()
	defer e.mu.Unlock()

	perInstance := make(map[string]*model.InstanceProgress, len(missing))
	totalAlready := 0
	for server, m := range missing {
		perInstance[server] = &model.InstanceProgress{Missing: m, Already: already[server]}
		totalAlready += already[server]
	}

	e.snap = model.ProgressSnapshot{
		Status:         model.StatusRunning,
		Total:          total,
		Done:           0,
		Remaining:      total,
		Already:        totalAlready,
		PerInstance:    perInstance,
		Oversized:      make(map[string][]model.OversizedEntry),
		StartedAt:      time.Now(),
		InstanceLabels: labels,
	}
}

// RecordOutcome folds one task's settlement into groupID's snapshot under
// its single mutex: advances Done/PerInstance[target].Done, recomputes
// Remaining and, once at least one task has settled and time has elapsed,
// a cumulative-rate ETA: Remaining divided by the rate, where the rate is
// total done so far divided by elapsed time.
func (s *Store) RecordOutcome(groupID string, outcome model.TaskOutcome) {
	e := s.entryFor(groupID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.snap.Done++
	if ip, ok := e.snap.PerInstance[outcome.Target]; ok {
		ip.Done++
	}
	if e.snap.Remaining > 0 {
		e.snap.Remaining--
	}

	if outcome.Kind == model.OutcomeOversize {
		e.snap.Oversized[outcome.Target] = append(e.snap.Oversized[outcome.Target], model.OversizedEntry{
			Checksum: outcome.Checksum,
			Filename: outcome.Filename,
			Size:     outcome.Size,
		})
	}

	elapsed := time.Since(e.snap.StartedAt).Seconds()
	if e.snap.Done >= 1 && elapsed > 0 {
		rate := float64(e.snap.Done) / elapsed
		if rate > 0 {
			e.snap.ETASeconds = float64(e.snap.Remaining) / rate
		}
	}
}

// Finish marks groupID idle at the end of a run, including a canceled one.
func (s *Store) Finish(groupID string) {
	e := s.entryFor(groupID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap.Status = model.StatusIdle
}

func copySnapshot(src model.ProgressSnapshot) model.ProgressSnapshot {
	dst := src
	dst.PerInstance = make(map[string]*model.InstanceProgress, len(src.PerInstance))
	for k, v := range src.PerInstance {
		cp := *v
		dst.PerInstance[k] = &cp
	}
	dst.Oversized = make(map[string][]model.OversizedEntry, len(src.Oversized))
	for k, v := range src.Oversized {
		cp := make([]model.OversizedEntry, len(v))
		copy(cp, v)
		dst.Oversized[k] = cp
	}
	if src.InstanceLabels != nil {
		dst.InstanceLabels = make(map[string]string, len(src.InstanceLabels))
		for k, v := range src.InstanceLabels {
			dst.InstanceLabels[k] = v
		}
	}
	return dst
}
