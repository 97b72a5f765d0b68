package storage

import (
	"fmt"
	"path/filepath"
)

// DirLayout derives the directory a swarm's persistence files live under,
// rooted at the caller's chosen storage root: one directory per (gnome
// founder id, swarm name) pair. original_source/src/manager.rs and
// src/search.rs show the original managing multiple ApplicationData
// instances keyed by SwarmName, with original_source/src/config.rs's
// Configuration.storage naming a single shared storage root below the
// distillation's scope -- DirLayout supplies the one missing piece
// (per-swarm subdirectory derivation) without importing any of the
// join/leave/swap swarm-lifecycle machinery those files also carry, which
// stays out of scope here.
func DirLayout(root string, founderID uint64, swarmName string) string {
	return filepath.Join(root, fmt.Sprintf("%016x", founderID), swarmName)
}
