package internal

import (
	"context"
	"fmt"
	"sort"
)

// TileSet maps content hashes to payloads. It is built once per reconstruction
// and only read afterwards.
type TileSet struct {
	payloads map[string]TilePayload
}

// Get returns the payload for a hash
func (s TileSet) Get(hash string) (TilePayload, bool) {
	p, ok := s.payloads[hash]
	return p, ok
}

// Len returns the number of payloads
func (s TileSet) Len() int {
	return len(s.payloads)
}

// Missing returns the hashes referenced by ref that have no payload, in first-seen order
func (s TileSet) Missing(ref *TileReference) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, tile := range ref.Tiles {
		if seen[tile.Hash] {
			continue
		}
		seen[tile.Hash] = true
		if _, ok := s.payloads[tile.Hash]; !ok {
			missing = append(missing, tile.Hash)
		}
	}
	return missing
}

// CollectHashes unions the hashes of every reference. The result is sorted so the
// batch request is stable regardless of fetch completion order.
func CollectHashes(refs []*TileReference) []string {
	seen := make(map[string]bool)
	var hashes []string

	for _, ref := range refs {
		if ref == nil {
			continue
		}
		for _, tile := range ref.Tiles {
			if tile.Hash == "" || seen[tile.Hash] {
				continue
			}
			seen[tile.Hash] = true
			hashes = append(hashes, tile.Hash)
		}
	}

	sort.Strings(hashes)
	return hashes
}

// TileStore resolves unique tile hashes with a single batched request
type TileStore struct {
	source TileContentSource
}

// NewTileStore creates a TileStore
func NewTileStore(source TileContentSource) *TileStore {
	return &TileStore{source: source}
}

// ResolveTiles fetches every hash in one batch. Payloads for hashes that were not
// requested are dropped; duplicates in the response keep the first entry.
func (s *TileStore) ResolveTiles(ctx context.Context, hashes []string) (TileSet, error) {
	set := TileSet{payloads: make(map[string]TilePayload, len(hashes))}
	if len(hashes) == 0 {
		return set, nil
	}

	requested := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		requested[h] = true
	}

	payloads, err := s.source.TileContents(ctx, hashes)
	if err != nil {
		return TileSet{}, fmt.Errorf("failed to fetch %d tile(s): %w", len(hashes), err)
	}

	for _, p := range payloads {
		if !requested[p.Hash] {
			LogDebug("Ignoring unrequested tile %s", p.Hash)
			continue
		}
		if _, dup := set.payloads[p.Hash]; dup {
			continue
		}
		set.payloads[p.Hash] = p
	}

	LogDebug("Resolved %d/%d tile payload(s)", len(set.payloads), len(hashes))
	return set, nil
}
