package engine

import (
	"sort"

	"github.com/CMSgov/raf-app/raf/models"
	"github.com/CMSgov/raf-app/raf/tables"
)

// MappingResult is the diagnosis-to-CC stage output. Echo preserves the
// de-duplicated input order; CCToDx carries the reverse trace the result
// builder serializes.
type MappingResult struct {
	// Echo holds the normalized diagnosis codes, first-seen order.
	Echo []string
	// CCs is the mapped condition category set before hierarchies.
	CCs map[int]bool
	// CCToDx traces each CC to the diagnoses that produced it, sorted.
	CCToDx map[int][]string
	// Unmapped lists diagnoses with no row for the variant, first-seen order.
	Unmapped []string
}

// MapDiagnoses joins the input diagnoses against the variant's dx->CC index.
// Lookup misses are normal; they land in Unmapped, never in an error.
func MapDiagnoses(store *tables.Store, variant models.ModelVariant, dxs []string) MappingResult {
	out := MappingResult{
		CCs:    make(map[int]bool),
		CCToDx: make(map[int][]string),
	}

	seen := make(map[string]bool, len(dxs))
	for _, raw := range dxs {
		dx := models.NormalizeDiagnosisCode(raw)
		if dx == "" || seen[dx] {
			continue
		}
		seen[dx] = true
		out.Echo = append(out.Echo, dx)

		ccs := store.CCsForDiagnosis(variant, dx)
		if len(ccs) == 0 {
			out.Unmapped = append(out.Unmapped, dx)
			continue
		}
		for _, cc := range ccs {
			out.CCs[cc] = true
			out.CCToDx[cc] = append(out.CCToDx[cc], dx)
		}
	}

	for cc := range out.CCToDx {
		sort.Strings(out.CCToDx[cc])
	}
	return out
}
