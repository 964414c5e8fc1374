// Package indexer builds the checksum-addressed Index from the raw asset
// lists a remote client returns per server, the way the corpus's own
// Immich sync tools pre-fetch album/global asset maps for O(1) lookups
// (see the album-asset and global-asset prefetch in warreth-immich-sync's
// processAlbum) — generalized here to N servers instead of one.
package indexer

import "github.com/immich-sync/engine/internal/model"

// Build indexes assets per server. Within a server's list, the first asset
// seen for a given checksum wins; assets with an empty checksum are not
// indexed but are counted in the returned checksumless map.
func Build(assetsByServer map[string][]model.Asset) (model.Index, map[string]int) {
	idx := make(model.Index, len(assetsByServer))
	checksumless := make(map[string]int, len(assetsByServer))

	for server, assets := range assetsByServer {
		if _, ok := idx[server]; !ok {
			idx[server] = make(map[string]model.Asset)
		}
		count := 0
		for _, a := range assets {
			if a.Checksum == "" {
				count++
				continue
			}
			idx.SetIfAbsent(server, a.Checksum, a)
		}
		checksumless[server] = count
	}

	return idx, checksumless
}
