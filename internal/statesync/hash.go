package statesync

import (
	"fmt"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/tbalsam/ripple/internal/wire"
)

// HashItem computes the deterministic content hash of a single item.
func HashItem(item any) (wire.Hash, error) {
	h, err := hashstructure.Hash(item, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("hash item: %w", err)
	}
	return h, nil
}

type keyedHash struct {
	ID       string
	ItemHash uint64
}

// HashCollection combines the member hashes of a collection into one hash.
// The fold is an XOR over per-member hashes entangled with their ids, so it
// is independent of iteration order but sensitive to membership changes and
// to any single member's content.
func HashCollection(collection Collection) (wire.Hash, error) {
	var fold uint64
	for id, item := range collection {
		itemHash, err := HashItem(item)
		if err != nil {
			return 0, err
		}
		pair, err := hashstructure.Hash(keyedHash{ID: id, ItemHash: itemHash}, hashstructure.FormatV2, nil)
		if err != nil {
			return 0, fmt.Errorf("hash collection member %s: %w", id, err)
		}
		fold ^= pair
	}
	return fold, nil
}
