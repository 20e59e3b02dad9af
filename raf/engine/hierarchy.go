package engine

import (
	"github.com/CMSgov/raf-app/raf/models"
	"github.com/CMSgov/raf-app/raf/tables"
)

// ApplyHierarchies drops every CC that some CC in the input set dominates.
// Suppression considers parents in the original set, so a parent that is
// itself suppressed still suppresses its children; the published tables
// carry the closure CMS intends, and recomputing one here would change
// results for some variants.
func ApplyHierarchies(store *tables.Store, variant models.ModelVariant, ccs map[int]bool) map[int]bool {
	suppressed := make(map[int]bool)
	for parent := range ccs {
		for _, child := range store.SuppressedBy(variant, parent) {
			suppressed[child] = true
		}
	}

	survivors := make(map[int]bool, len(ccs))
	for cc := range ccs {
		if !suppressed[cc] {
			survivors[cc] = true
		}
	}
	return survivors
}
