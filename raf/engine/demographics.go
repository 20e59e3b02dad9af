package engine

import (
	"fmt"

	"github.com/CMSgov/raf-app/raf/constants"
	customErrors "github.com/CMSgov/raf-app/raf/errors"
	"github.com/CMSgov/raf-app/raf/models"
	"github.com/CMSgov/raf-app/raf/tables"
)

// Classification is the demographic stage output: the coefficient segment,
// the age-sex cell variable, any modifier variables that fired, and the flag
// map handed to interaction predicates.
type Classification struct {
	Segment    string
	AgeSexCell string
	Modifiers  []string
	Flags      map[string]bool
}

// NewEnrolleeLayout reports whether the segment scores on demographics only.
// No HCC variables are ever emitted for these segments.
func (c Classification) NewEnrolleeLayout() bool {
	switch c.Segment {
	case constants.SegmentNewEnrollee, constants.SegmentSNPNewEnrollee, constants.SegmentDialysisNewEnrollee:
		return true
	}
	return false
}

type ageBucket struct {
	min  int
	name string
}

// Cell bucket bounds follow the CMS age-sex factor tables. The slice is
// ordered; the last bucket whose lower bound fits wins.
var ageBuckets = []ageBucket{
	{0, "0_34"},
	{35, "35_44"},
	{45, "45_54"},
	{55, "55_59"},
	{60, "60_64"},
	{65, "65_69"},
	{70, "70_74"},
	{75, "75_79"},
	{80, "80_84"},
	{85, "85_89"},
	{90, "90_94"},
	{95, "95_GT"},
}

// AgeSexCell returns the coefficient variable for the beneficiary's age-sex
// bucket, e.g. F75_79 or M95_GT. Assumes validated demographics.
func AgeSexCell(age int, sex string) string {
	name := ageBuckets[0].name
	for _, b := range ageBuckets {
		if age >= b.min {
			name = b.name
		}
	}
	return sex + name
}

// Classify derives the beneficiary's segment and demographic variables for
// the chosen variant. Demographics must already be normalized and validated.
//
// The graft buckets are checked against the variant's coefficient table
// before use: a derived segment the table does not carry is a configuration
// problem with the loaded table set, not a property of the beneficiary.
func Classify(d models.Demographics, variant models.ModelVariant, store *tables.Store) (Classification, error) {
	aged := d.Age >= 65

	segment := d.Category
	if segment == "" {
		segment = deriveSegment(d, variant, aged)
	}

	if variant.IsESRD() && (segment == constants.SegmentGraft0to3 || segment == constants.SegmentGraft4to9) {
		if !store.HasSegment(variant, segment) {
			return Classification{}, &customErrors.ConfigurationError{
				Msg: fmt.Sprintf("coefficient table for %s has no %s segment", variant, segment),
			}
		}
	}

	c := Classification{
		Segment:    segment,
		AgeSexCell: AgeSexCell(d.Age, d.Sex),
		Flags: map[string]bool{
			tables.FlagFemale:       d.Sex == "F",
			tables.FlagMale:         d.Sex == "M",
			tables.FlagAged:         aged,
			tables.FlagDisabled:     !aged,
			tables.FlagOrigDisabled: d.OrigDisabled,
			tables.FlagDualPartial:  d.DualEligibility == constants.DualPartial,
			tables.FlagDualFull:     d.DualEligibility == constants.DualFull,
			tables.FlagNonDual:      d.DualEligibility == constants.DualNone,
			tables.FlagNewEnrollee:  d.NewEnrollee,
			tables.FlagSNP:          d.SNP,
			tables.FlagLTI:          segment == constants.SegmentInstitutional,
			tables.FlagLowIncome:    d.LowIncome,
		},
	}

	if c.NewEnrolleeLayout() {
		return c, nil
	}

	if d.OrigDisabled && aged {
		if d.Sex == "F" {
			c.Modifiers = append(c.Modifiers, "OriginallyDisabled_Female")
		} else {
			c.Modifiers = append(c.Modifiers, "OriginallyDisabled_Male")
		}
	}
	if segment == constants.SegmentInstitutional {
		c.Modifiers = append(c.Modifiers, "LTI")
	}
	if d.LowIncome {
		c.Modifiers = append(c.Modifiers, "LowIncome")
	}

	return c, nil
}

func deriveSegment(d models.Demographics, variant models.ModelVariant, aged bool) string {
	if variant.IsESRD() {
		if d.GraftMonths != nil {
			switch months := *d.GraftMonths; {
			case months <= 3:
				return constants.SegmentGraft0to3
			case months <= 9:
				return constants.SegmentGraft4to9
			}
			// 10+ months post-graft scores as dialysis.
		}
		if d.NewEnrollee {
			return constants.SegmentDialysisNewEnrollee
		}
		return constants.SegmentDialysis
	}

	if d.NewEnrollee {
		if d.SNP {
			return constants.SegmentSNPNewEnrollee
		}
		return constants.SegmentNewEnrollee
	}

	switch d.DualEligibility {
	case constants.DualPartial:
		if aged {
			return constants.SegmentCommunityPartialAged
		}
		return constants.SegmentCommunityPartialDisabled
	case constants.DualFull:
		if aged {
			return constants.SegmentCommunityFullAged
		}
		return constants.SegmentCommunityFullDisabled
	default:
		if aged {
			return constants.SegmentCommunityNonDualAged
		}
		return constants.SegmentCommunityNonDualDisabled
	}
}
