// Package reconcile computes the checksum union across an Index, each
// server's missing set, and the deterministic task list that brings every
// server up to the union — the set-reconciliation core of a sync run.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/immich-sync/engine/internal/model"
)

// Union returns every checksum present on at least one server.
func Union(idx model.Index) model.UnionSet {
	u := make(model.UnionSet)
	for _, inner := range idx {
		for checksum := range inner {
			u[checksum] = struct{}{}
		}
	}
	return u
}

// Missing returns, for every server named in servers, the sorted list of
// union checksums that server's inner map lacks.
func Missing(idx model.Index, union model.UnionSet, servers []model.ServerConfig) model.MissingMap {
	sorted := make([]string, 0, len(union))
	for c := range union {
		sorted = append(sorted, c)
	}
	sort.Strings(sorted)

	m := make(model.MissingMap, len(servers))
	for _, sc := range servers {
		var missing []string
		for _, c := range sorted {
			if !idx.Has(sc.Name, c) {
				missing = append(missing, c)
			}
		}
		m[sc.Name] = missing
	}
	return m
}

// BuildTasks produces the deterministic task list: for each union checksum
// in sorted order, for each server missing it (in declaration order), a Task
// sourced from the first declared server that has the checksum. A checksum
// with no source anywhere yields an error instead of a task and is dropped.
func BuildTasks(idx model.Index, union model.UnionSet, servers []model.ServerConfig) ([]model.Task, []error) {
	sorted := make([]string, 0, len(union))
	for c := range union {
		sorted = append(sorted, c)
	}
	sort.Strings(sorted)

	byName := make(map[string]model.ServerConfig, len(servers))
	for _, sc := range servers {
		byName[sc.Name] = sc
	}

	var tasks []model.Task
	var errs []error

	for _, checksum := range sorted {
		source, sourceAsset, ok := selectSource(idx, checksum, servers)
		needsSource := false
		for _, sc := range servers {
			if !idx.Has(sc.Name, checksum) {
				needsSource = true
				break
			}
		}
		if !needsSource {
			continue
		}
		if !ok {
			errs = append(errs, fmt.Errorf("No source available for checksum %s", checksum))
			continue
		}
		for _, sc := range servers {
			if idx.Has(sc.Name, checksum) {
				continue
			}
			tasks = append(tasks, model.Task{
				Checksum:    checksum,
				Source:      byName[source],
				SourceAsset: sourceAsset,
				Target:      sc,
			})
		}
	}

	return tasks, errs
}

// selectSource returns the first server (in declaration order) whose inner
// map contains checksum, and the asset stored there.
func selectSource(idx model.Index, checksum string, servers []model.ServerConfig) (string, model.Asset, bool) {
	for _, sc := range servers {
		if inner, ok := idx[sc.Name]; ok {
			if a, ok := inner[checksum]; ok {
				return sc.Name, a, true
			}
		}
	}
	return "", model.Asset{}, false
}
