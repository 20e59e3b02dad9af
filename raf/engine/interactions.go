package engine

import (
	"github.com/CMSgov/raf-app/raf/models"
	"github.com/CMSgov/raf-app/raf/tables"
)

// EvaluateInteractions runs every interaction definition of the variant
// against the surviving CC set and the demographic flags, returning the ones
// that fired. Disease interactions never fire under a new-enrollee layout;
// demographic-only interactions may.
func EvaluateInteractions(store *tables.Store, variant models.ModelVariant, c Classification, survivors map[int]bool) []tables.InteractionDef {
	in := tables.EvalInput{CCs: survivors, Flags: c.Flags}

	var fired []tables.InteractionDef
	for _, def := range store.Interactions(variant) {
		if c.NewEnrolleeLayout() && !def.DemographicOnly() {
			continue
		}
		if def.Fires(in) {
			fired = append(fired, def)
		}
	}
	return fired
}
