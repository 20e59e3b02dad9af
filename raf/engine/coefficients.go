package engine

import (
	"sort"

	"github.com/CMSgov/raf-app/raf/models"
	"github.com/CMSgov/raf-app/raf/tables"
)

type variableKind int

const (
	kindCell variableKind = iota
	kindModifier
	kindHCC
	kindDemographicInteraction
	kindDiseaseInteraction
)

// contribution is one variable competing for a coefficient row: its name as
// it appears in the coefficient table and the decomposition bucket it
// belongs to.
type contribution struct {
	name string
	kind variableKind
	cc   int
}

// ScoreBreakdown is the coefficient summer output: the total and its
// decomposition, the per-variable values found, and the variables that had
// no row in the table.
type ScoreBreakdown struct {
	Total        float64
	Demographics float64
	ChronicOnly  float64
	HCC          float64

	Coefficients map[string]float64
	Interactions map[string]float64
	Missing      []string
}

// sumCoefficients looks up each contribution in the variant's table for the
// given segment and sums what it finds. Variables are sorted by name first
// and summed left to right so the result is bit-identical regardless of how
// the contribution set was assembled.
func sumCoefficients(store *tables.Store, variant models.ModelVariant, segment string, contribs []contribution) ScoreBreakdown {
	sort.Slice(contribs, func(i, j int) bool { return contribs[i].name < contribs[j].name })

	out := ScoreBreakdown{
		Coefficients: make(map[string]float64),
		Interactions: make(map[string]float64),
	}

	for _, c := range contribs {
		value, ok := store.Coefficient(variant, segment, c.name)
		if !ok {
			out.Missing = append(out.Missing, c.name)
			if c.kind == kindDiseaseInteraction || c.kind == kindDemographicInteraction {
				out.Interactions[c.name] = 0
			}
			continue
		}

		out.Total += value
		out.Coefficients[c.name] = value

		switch c.kind {
		case kindCell, kindModifier, kindDemographicInteraction:
			out.Demographics += value
		case kindHCC:
			out.HCC += value
			if store.IsChronic(c.cc) {
				out.ChronicOnly += value
			}
		}
		if c.kind == kindDiseaseInteraction || c.kind == kindDemographicInteraction {
			out.Interactions[c.name] = value
		}
	}

	sort.Strings(out.Missing)
	return out
}
