package engine

import (
	"fmt"
	"sort"

	customErrors "github.com/CMSgov/raf-app/raf/errors"
	"github.com/CMSgov/raf-app/raf/models"
	"github.com/CMSgov/raf-app/raf/tables"
)

// Calculate scores one beneficiary: maps the diagnoses, applies hierarchies,
// classifies demographics, evaluates interactions and sums coefficients. It
// is a pure function of its arguments; the store is only read.
func Calculate(store *tables.Store, variant models.ModelVariant, dxs []string, demo models.Demographics) (*models.RAFResult, error) {
	demo.Normalize()
	if err := demo.Validate(variant); err != nil {
		return nil, err
	}
	if !store.HasVariant(variant) {
		return nil, &customErrors.ConfigurationError{
			Msg: fmt.Sprintf("loaded table set has no coefficients for %s", variant),
		}
	}

	classification, err := Classify(demo, variant, store)
	if err != nil {
		return nil, err
	}

	mapping := MapDiagnoses(store, variant, dxs)
	survivors := ApplyHierarchies(store, variant, mapping.CCs)

	// New-enrollee layouts score on demographics alone. The mapping trace is
	// still reported, but no HCC survives into the contribution set.
	if classification.NewEnrolleeLayout() {
		survivors = map[int]bool{}
	}

	fired := EvaluateInteractions(store, variant, classification, survivors)

	contribs := make([]contribution, 0, 2+len(survivors)+len(classification.Modifiers)+len(fired))
	contribs = append(contribs, contribution{name: classification.AgeSexCell, kind: kindCell})
	for _, mod := range classification.Modifiers {
		contribs = append(contribs, contribution{name: mod, kind: kindModifier})
	}
	for cc := range survivors {
		contribs = append(contribs, contribution{name: fmt.Sprintf("HCC%d", cc), kind: kindHCC, cc: cc})
	}
	for _, def := range fired {
		kind := kindDiseaseInteraction
		if def.DemographicOnly() {
			kind = kindDemographicInteraction
		}
		contribs = append(contribs, contribution{name: def.Variable, kind: kind})
	}

	breakdown := sumCoefficients(store, variant, classification.Segment, contribs)

	hccList := make([]int, 0, len(survivors))
	for cc := range survivors {
		hccList = append(hccList, cc)
	}
	sort.Ints(hccList)

	result := &models.RAFResult{
		RiskScore:             breakdown.Total,
		RiskScoreDemographics: breakdown.Demographics,
		RiskScoreChronicOnly:  breakdown.ChronicOnly,
		RiskScoreHCC:          breakdown.HCC,
		HCCList:               hccList,
		CCToDx:                mapping.CCToDx,
		Coefficients:          breakdown.Coefficients,
		Interactions:          breakdown.Interactions,
		Demographics:          demo,
		Segment:               classification.Segment,
		ModelName:             variant.String(),
		Version:               variant.SoftwareVersion(),
		DiagnosisCodes:        mapping.Echo,
		UnmappedDiagnoses:     mapping.Unmapped,
		CoefficientsMissing:   breakdown.Missing,
	}
	if result.DiagnosisCodes == nil {
		result.DiagnosisCodes = []string{}
	}
	if result.UnmappedDiagnoses == nil {
		result.UnmappedDiagnoses = []string{}
	}
	if result.CoefficientsMissing == nil {
		result.CoefficientsMissing = []string{}
	}
	return result, nil
}
