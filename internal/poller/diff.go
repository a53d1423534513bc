package poller

import (
	"encoding/json"
	"fmt"

	"github.com/mattbaird/jsonpatch"
)

const maxDiffPaths = 8

// diffPaths lists the JSON pointer paths that differ between two snapshots,
// truncated to a handful for logging.
func diffPaths(prev, next any) (paths []string, total int, err error) {
	a, err := json.Marshal(prev)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal previous snapshot: %w", err)
	}
	b, err := json.Marshal(next)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal next snapshot: %w", err)
	}
	ops, err := jsonpatch.CreatePatch(a, b)
	if err != nil {
		return nil, 0, fmt.Errorf("create patch: %w", err)
	}
	for i, op := range ops {
		if i == maxDiffPaths {
			break
		}
		paths = append(paths, op.Operation+" "+op.Path)
	}
	return paths, len(ops), nil
}
