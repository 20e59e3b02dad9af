package extractor

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/CMSgov/raf-app/raf/constants"
	customErrors "github.com/CMSgov/raf-app/raf/errors"
	"github.com/CMSgov/raf-app/raf/models"
)

// Lightweight FHIR R4 shapes: only the ExplanationOfBenefit fields the
// service record needs, decoded with encoding/json. Everything else in the
// resource is ignored.

type fhirCoding struct {
	System string `json:"system"`
	Code   string `json:"code"`
}

type fhirConcept struct {
	Coding []fhirCoding `json:"coding"`
}

type fhirPeriod struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type fhirIdentifier struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

type fhirReference struct {
	Identifier *fhirIdentifier `json:"identifier"`
}

type eobDiagnosis struct {
	Sequence                 int          `json:"sequence"`
	DiagnosisCodeableConcept *fhirConcept `json:"diagnosisCodeableConcept"`
}

type eobItem struct {
	ProductOrService        *fhirConcept   `json:"productOrService"`
	Service                 *fhirConcept   `json:"service"`
	Modifier                []fhirConcept  `json:"modifier"`
	ServicedDate            string         `json:"servicedDate"`
	ServicedPeriod          *fhirPeriod    `json:"servicedPeriod"`
	DiagnosisSequence       []int          `json:"diagnosisSequence"`
	LocationCodeableConcept *fhirConcept   `json:"locationCodeableConcept"`
	CareTeamSequence        []int          `json:"careTeamSequence"`
}

type eobCareTeam struct {
	Sequence      int            `json:"sequence"`
	Provider      *fhirReference `json:"provider"`
	Qualification *fhirConcept   `json:"qualification"`
}

type explanationOfBenefit struct {
	ResourceType   string         `json:"resourceType"`
	Type           *fhirConcept   `json:"type"`
	SubType        *fhirConcept   `json:"subType"`
	BillablePeriod *fhirPeriod    `json:"billablePeriod"`
	Diagnosis      []eobDiagnosis `json:"diagnosis"`
	Item           []eobItem      `json:"item"`
	CareTeam       []eobCareTeam  `json:"careTeam"`
}

type fhirBundle struct {
	ResourceType string `json:"resourceType"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// ExtractEOB reads one FHIR document, a single ExplanationOfBenefit or a
// Bundle of them, into service records: one per item, or one claim-level
// record when an EOB has diagnoses but no usable items.
func ExtractEOB(data []byte) ([]models.ServiceRecord, error) {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &customErrors.MalformedEnvelopeError{Msg: "document is not valid FHIR JSON", Err: err}
	}

	switch probe.ResourceType {
	case "Bundle":
		var bundle fhirBundle
		if err := json.Unmarshal(data, &bundle); err != nil {
			return nil, &customErrors.MalformedEnvelopeError{Msg: "could not decode FHIR bundle", Err: err}
		}
		var records []models.ServiceRecord
		for _, entry := range bundle.Entry {
			recs, err := ExtractEOB(entry.Resource)
			if err != nil {
				return nil, err
			}
			records = append(records, recs...)
		}
		return records, nil
	case "ExplanationOfBenefit":
		var eob explanationOfBenefit
		if err := json.Unmarshal(data, &eob); err != nil {
			return nil, &customErrors.MalformedEnvelopeError{Msg: "could not decode ExplanationOfBenefit", Err: err}
		}
		return eobRecords(eob), nil
	default:
		return nil, &customErrors.MalformedEnvelopeError{
			Msg: "unsupported FHIR resource type " + probe.ResourceType,
		}
	}
}

func eobRecords(eob explanationOfBenefit) []models.ServiceRecord {
	diagnoses, bySequence := eobDiagnosisList(eob.Diagnosis)
	claimType, billType := eobClaimType(eob)
	from, through := eobPeriod(eob.BillablePeriod)
	npi, specialty := eobProvider(eob.CareTeam)

	base := models.ServiceRecord{
		ClaimType:             claimType,
		BillType:              billType,
		ServiceDate:           from,
		ThroughDate:           through,
		DiagnosisCodes:        diagnoses,
		ProviderSpecialty:     specialty,
		PerformingProviderNPI: npi,
	}

	var records []models.ServiceRecord
	for _, item := range eob.Item {
		rec := base
		rec.DiagnosisCodes = append([]string(nil), diagnoses...)

		procedure := item.ProductOrService
		if procedure == nil {
			procedure = item.Service
		}
		if procedure != nil {
			rec.ProcedureCode = firstCode(procedure)
		}
		for _, mod := range item.Modifier {
			if len(rec.ProcedureModifiers) == 4 {
				break
			}
			if code := firstCode(&mod); code != "" {
				rec.ProcedureModifiers = append(rec.ProcedureModifiers, code)
			}
		}
		if item.ServicedDate != "" {
			if d := parseFHIRDate(item.ServicedDate); d != nil {
				rec.ServiceDate, rec.ThroughDate = d, d
			}
		} else if item.ServicedPeriod != nil {
			rec.ServiceDate = parseFHIRDate(item.ServicedPeriod.Start)
			rec.ThroughDate = parseFHIRDate(item.ServicedPeriod.End)
		}
		if item.LocationCodeableConcept != nil {
			rec.PlaceOfService = firstCode(item.LocationCodeableConcept)
		}
		for _, seq := range item.DiagnosisSequence {
			if pos, ok := bySequence[seq]; ok {
				rec.LinkedDiagnosisPointers = append(rec.LinkedDiagnosisPointers, pos)
			}
		}
		records = append(records, rec)
	}

	if len(records) == 0 && len(diagnoses) > 0 {
		records = append(records, base)
	}
	return records
}

// eobDiagnosisList orders diagnoses by their sequence numbers and returns a
// sequence -> 1-based position index for pointer resolution.
func eobDiagnosisList(in []eobDiagnosis) ([]string, map[int]int) {
	sorted := append([]eobDiagnosis(nil), in...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	var codes []string
	bySequence := make(map[int]int)
	for _, d := range sorted {
		if d.DiagnosisCodeableConcept == nil {
			continue
		}
		code := icd10Code(d.DiagnosisCodeableConcept)
		if code == "" {
			continue
		}
		codes = append(codes, code)
		bySequence[d.Sequence] = len(codes)
	}
	return codes, bySequence
}

// eobClaimType maps the EOB type coding onto the NCH claim type codes. CMS
// Blue Button EOBs carry nch_clm_type_cd directly; generic R4 EOBs fall back
// to the claim-type value set refined by the subType bill type.
func eobClaimType(eob explanationOfBenefit) (claimType, billType string) {
	if eob.SubType != nil {
		for _, c := range eob.SubType.Coding {
			if len(c.Code) == 3 && isDigits(c.Code) {
				billType = c.Code
			}
		}
	}
	if eob.Type == nil {
		return "", billType
	}
	for _, c := range eob.Type.Coding {
		if strings.Contains(c.System, "nch_clm_type_cd") {
			return c.Code, billType
		}
	}
	for _, c := range eob.Type.Coding {
		switch strings.ToLower(c.Code) {
		case "professional", "vision", "pharmacy":
			return constants.ClaimTypeProfessional, billType
		case "institutional":
			if len(billType) >= 2 && (billType[:2] == "11" || billType[:2] == "41") {
				return constants.ClaimTypeInpatient, billType
			}
			return constants.ClaimTypeOutpatient, billType
		}
	}
	return "", billType
}

func eobPeriod(p *fhirPeriod) (from, through *time.Time) {
	if p == nil {
		return nil, nil
	}
	return parseFHIRDate(p.Start), parseFHIRDate(p.End)
}

// eobProvider pulls the performing provider NPI and taxonomy from the first
// care team member that carries them.
func eobProvider(team []eobCareTeam) (npi, specialty string) {
	for _, member := range team {
		if specialty == "" && member.Qualification != nil {
			specialty = firstCode(member.Qualification)
		}
		if npi != "" || member.Provider == nil || member.Provider.Identifier == nil {
			continue
		}
		if id := member.Provider.Identifier; strings.Contains(id.System, "us-npi") {
			npi = id.Value
		}
	}
	return npi, specialty
}

// icd10Code picks the ICD-10 coding from a concept, preferring codings whose
// system says so and falling back to the first coding present.
func icd10Code(concept *fhirConcept) string {
	for _, c := range concept.Coding {
		if strings.Contains(strings.ToLower(c.System), "icd-10") {
			return models.NormalizeDiagnosisCode(c.Code)
		}
	}
	if len(concept.Coding) > 0 {
		return models.NormalizeDiagnosisCode(concept.Coding[0].Code)
	}
	return ""
}

func firstCode(concept *fhirConcept) string {
	if concept == nil || len(concept.Coding) == 0 {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(concept.Coding[0].Code))
}

func parseFHIRDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
