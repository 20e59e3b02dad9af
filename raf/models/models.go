package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/CMSgov/raf-app/raf/constants"
	customErrors "github.com/CMSgov/raf-app/raf/errors"
)

// ModelVariant identifies one of the CMS risk adjustment models this service
// scores against. The set is closed: every variant selects its own dx->CC
// rows, hierarchy edges, interaction table and coefficient columns.
type ModelVariant int16

const (
	ModelUnknown ModelVariant = iota
	ModelV22
	ModelV24
	ModelV28
	ModelESRDV21
	ModelESRDV24
	ModelRxV08
)

// longNames are the model_name values carried in the reference CSVs.
var longNames = map[ModelVariant]string{
	ModelV22:     "CMS-HCC Model V22",
	ModelV24:     "CMS-HCC Model V24",
	ModelV28:     "CMS-HCC Model V28",
	ModelESRDV21: "CMS-HCC ESRD Model V21",
	ModelESRDV24: "CMS-HCC ESRD Model V24",
	ModelRxV08:   "RxHCC Model V08",
}

var shortNames = map[ModelVariant]string{
	ModelV22:     "V22",
	ModelV24:     "V24",
	ModelV28:     "V28",
	ModelESRDV21: "ESRD_V21",
	ModelESRDV24: "ESRD_V24",
	ModelRxV08:   "RxHCC_V08",
}

// String returns the long model name used in the reference CSVs.
func (m ModelVariant) String() string {
	if name, ok := longNames[m]; ok {
		return name
	}
	return "Unknown Model"
}

// ShortName returns the compact tag accepted on CLI flags and API payloads.
func (m ModelVariant) ShortName() string {
	if name, ok := shortNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}

func (m ModelVariant) IsESRD() bool {
	return m == ModelESRDV21 || m == ModelESRDV24
}

func (m ModelVariant) IsRx() bool {
	return m == ModelRxV08
}

// SoftwareVersion reports the CMS model software family the variant belongs
// to (V2 for CMS-HCC, V4 for RxHCC), echoed in results.
func (m ModelVariant) SoftwareVersion() string {
	if m.IsRx() {
		return "V4"
	}
	return "V2"
}

// ParseModelVariant accepts either the short tag (V28, ESRD_V21) or the long
// CSV model name (CMS-HCC Model V28).
func ParseModelVariant(s string) (ModelVariant, error) {
	needle := strings.TrimSpace(s)
	for v, name := range shortNames {
		if strings.EqualFold(needle, name) {
			return v, nil
		}
	}
	for v, name := range longNames {
		if strings.EqualFold(needle, name) {
			return v, nil
		}
	}
	return ModelUnknown, &customErrors.ConfigurationError{
		Msg: fmt.Sprintf("unknown model variant %q", s),
	}
}

// AllModelVariants lists the supported variants in a stable order.
func AllModelVariants() []ModelVariant {
	return []ModelVariant{ModelV22, ModelV24, ModelV28, ModelESRDV21, ModelESRDV24, ModelRxV08}
}

// Demographics carries the beneficiary attributes a scoring call needs.
// Instances are validated once at the call boundary and treated as immutable
// afterwards.
type Demographics struct {
	Age             int    `json:"age"`
	Sex             string `json:"sex"`
	DualEligibility string `json:"dual_eligibility"`
	OrigDisabled    bool   `json:"orig_disabled"`
	NewEnrollee     bool   `json:"new_enrollee"`
	ESRD            bool   `json:"esrd"`
	SNP             bool   `json:"snp"`
	LowIncome       bool   `json:"low_income"`
	// Months since kidney transplant; only meaningful for ESRD variants.
	GraftMonths *int `json:"graft_months,omitempty"`
	// Optional segment override, e.g. INS for institutionalized
	// beneficiaries. When empty the segment is derived.
	Category string `json:"category,omitempty"`
}

var validDualCodes = map[string]bool{
	constants.DualNone:    true,
	constants.DualPartial: true,
	constants.DualFull:    true,
}

var validCategoryOverrides = map[string]bool{
	constants.SegmentCommunityNonDualAged:     true,
	constants.SegmentCommunityNonDualDisabled: true,
	constants.SegmentCommunityPartialAged:     true,
	constants.SegmentCommunityPartialDisabled: true,
	constants.SegmentCommunityFullAged:        true,
	constants.SegmentCommunityFullDisabled:    true,
	constants.SegmentInstitutional:            true,
	constants.SegmentNewEnrollee:              true,
	constants.SegmentSNPNewEnrollee:           true,
	constants.SegmentDialysis:                 true,
	constants.SegmentDialysisNewEnrollee:      true,
	constants.SegmentGraft0to3:                true,
	constants.SegmentGraft4to9:                true,
}

// Normalize folds the interchange conventions seen on claim feeds into the
// canonical field values: sex 1/2 to M/F, blank or NA dual codes to 00.
func (d *Demographics) Normalize() {
	switch d.Sex {
	case "1":
		d.Sex = "M"
	case "2":
		d.Sex = "F"
	default:
		d.Sex = strings.ToUpper(strings.TrimSpace(d.Sex))
	}

	dual := strings.ToUpper(strings.TrimSpace(d.DualEligibility))
	if dual == "" || dual == "NA" {
		dual = constants.DualNone
	}
	d.DualEligibility = dual

	d.Category = strings.ToUpper(strings.TrimSpace(d.Category))
}

// Validate checks the demographics against the chosen variant. It assumes
// Normalize has run.
func (d *Demographics) Validate(variant ModelVariant) error {
	if d.Age < 0 {
		return &customErrors.InvalidDemographicsError{Field: "age", Msg: "must be non-negative"}
	}
	if d.Sex != "M" && d.Sex != "F" {
		return &customErrors.InvalidDemographicsError{Field: "sex", Msg: fmt.Sprintf("must be M or F, got %q", d.Sex)}
	}
	if !validDualCodes[d.DualEligibility] {
		return &customErrors.InvalidDemographicsError{Field: "dual_eligibility", Msg: fmt.Sprintf("unknown code %q", d.DualEligibility)}
	}
	if d.Category != "" && !validCategoryOverrides[d.Category] {
		return &customErrors.InvalidDemographicsError{Field: "category", Msg: fmt.Sprintf("unknown override %q", d.Category)}
	}
	if d.GraftMonths != nil {
		if *d.GraftMonths < 0 {
			return &customErrors.InvalidDemographicsError{Field: "graft_months", Msg: "must be non-negative"}
		}
		if !variant.IsESRD() {
			return &customErrors.InvalidDemographicsError{Field: "graft_months", Msg: "only valid for ESRD model variants"}
		}
	}
	if variant.IsESRD() && !d.ESRD {
		return &customErrors.InvalidDemographicsError{Field: "esrd", Msg: "ESRD model variants require esrd=true"}
	}
	return nil
}

// ServiceRecord is the wire-neutral view of one billed service. Both the 837
// parser and the FHIR EOB adapter produce this shape; the eligibility filter
// and the scorer consume it without caring which source it came from.
type ServiceRecord struct {
	ClaimType               string     `json:"claim_type"`
	BillType                string     `json:"bill_type,omitempty"`
	ServiceDate             *time.Time `json:"service_date,omitempty"`
	ThroughDate             *time.Time `json:"through_date,omitempty"`
	PlaceOfService          string     `json:"place_of_service,omitempty"`
	ProcedureCode           string     `json:"procedure_code,omitempty"`
	ProcedureModifiers      []string   `json:"procedure_modifiers,omitempty"`
	DiagnosisCodes          []string   `json:"diagnosis_codes"`
	LinkedDiagnosisPointers []int      `json:"linked_diagnosis_pointers,omitempty"`
	ProviderSpecialty       string     `json:"provider_specialty,omitempty"`
	PerformingProviderNPI   string     `json:"performing_provider_npi,omitempty"`
}

// Validate enforces the record invariants: pointers stay within the
// diagnosis list and no more than four modifiers ride along.
func (r *ServiceRecord) Validate() error {
	for _, p := range r.LinkedDiagnosisPointers {
		if p < 1 || p > len(r.DiagnosisCodes) {
			return fmt.Errorf("diagnosis pointer %d out of range (1..%d)", p, len(r.DiagnosisCodes))
		}
	}
	if len(r.ProcedureModifiers) > 4 {
		return fmt.Errorf("too many procedure modifiers (%d)", len(r.ProcedureModifiers))
	}
	return nil
}

// LinkedDiagnoses resolves the record's pointer list against its diagnosis
// codes. Records without pointers contribute every claim-level diagnosis.
// Out-of-range pointers are skipped rather than failing the record.
func (r *ServiceRecord) LinkedDiagnoses() []string {
	if len(r.LinkedDiagnosisPointers) == 0 {
		return r.DiagnosisCodes
	}
	linked := make([]string, 0, len(r.LinkedDiagnosisPointers))
	for _, p := range r.LinkedDiagnosisPointers {
		if p >= 1 && p <= len(r.DiagnosisCodes) {
			linked = append(linked, r.DiagnosisCodes[p-1])
		}
	}
	return linked
}

// NormalizeDiagnosisCode puts an ICD-10 code in canonical form: uppercase,
// no dot, no surrounding whitespace.
func NormalizeDiagnosisCode(dx string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(dx), ".", ""))
}

// RAFResult is the full output of a scoring call: the score, its
// decomposition, and the trace a reviewer needs to reproduce it by hand.
type RAFResult struct {
	RiskScore             float64 `json:"risk_score"`
	RiskScoreDemographics float64 `json:"risk_score_demographics"`
	RiskScoreChronicOnly  float64 `json:"risk_score_chronic_only"`
	RiskScoreHCC          float64 `json:"risk_score_hcc"`

	// HCCList holds the surviving condition categories, ascending.
	HCCList []int `json:"hcc_list"`
	// CCToDx traces each mapped CC back to the diagnoses that produced it.
	CCToDx map[int][]string `json:"cc_to_dx"`
	// Coefficients holds every contributing variable that had a row in the
	// coefficient table, with its value.
	Coefficients map[string]float64 `json:"coefficients"`
	// Interactions holds the interaction variables that fired, with the
	// coefficient each contributed (0 when the table had no row).
	Interactions map[string]float64 `json:"interactions"`

	Demographics Demographics `json:"demographics"`
	Segment      string       `json:"segment"`
	ModelName    string       `json:"model_name"`
	Version      string       `json:"version"`

	// DiagnosisCodes echoes the de-duplicated input, first-seen order.
	DiagnosisCodes []string `json:"diagnosis_codes"`
	// ServiceLevelData is present when the call went through the service
	// record pipeline; it holds the records that survived filtering.
	ServiceLevelData []ServiceRecord `json:"service_level_data,omitempty"`

	UnmappedDiagnoses   []string `json:"unmapped_diagnoses"`
	CoefficientsMissing []string `json:"coefficients_missing"`

	ResultID string `json:"result_id,omitempty"`
}
