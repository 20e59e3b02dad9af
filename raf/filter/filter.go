// Package filter applies the CMS risk adjustment eligibility policy to
// normalized service records before their diagnoses feed the scorer.
package filter

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/CMSgov/raf-app/raf/constants"
	"github.com/CMSgov/raf-app/raf/models"
	"github.com/CMSgov/raf-app/raf/tables"
)

// Policy decides which service records qualify for risk adjustment under
// the loaded procedure table.
type Policy struct {
	Store *tables.Store
	// OutpatientBillTypePass keeps institutional outpatient records whose
	// bill type carries a retained facility prefix even when the procedure
	// code is not on the eligible list.
	OutpatientBillTypePass bool
	// UseLinkedPointers restricts a record's scored diagnoses to the ones
	// its diagnosis pointers name, when pointers are present.
	UseLinkedPointers bool
	Logger            logrus.FieldLogger
}

// Apply returns the records that survive the eligibility policy, in input
// order. Records with no claim type never qualify.
func (p Policy) Apply(records []models.ServiceRecord) []models.ServiceRecord {
	kept := make([]models.ServiceRecord, 0, len(records))
	dropped := 0
	for _, r := range records {
		if p.eligible(r) {
			kept = append(kept, r)
		} else {
			dropped++
		}
	}
	if p.Logger != nil && dropped > 0 {
		p.Logger.WithFields(logrus.Fields{"kept": len(kept), "dropped": dropped}).
			Info("Filtered service records for risk adjustment eligibility")
	}
	return kept
}

func (p Policy) eligible(r models.ServiceRecord) bool {
	switch r.ClaimType {
	case constants.ClaimTypeProfessional:
		return p.Store.IsEligibleProcedure(strings.ToUpper(r.ProcedureCode))
	case constants.ClaimTypeOutpatient:
		if p.Store.IsEligibleProcedure(strings.ToUpper(r.ProcedureCode)) {
			return true
		}
		return p.OutpatientBillTypePass && p.hasRetainedTOB(r.BillType)
	case constants.ClaimTypeInpatient:
		// Inpatient diagnoses qualify regardless of procedure; the claim
		// type already reflects an inpatient bill type.
		return true
	default:
		return false
	}
}

func (p Policy) hasRetainedTOB(billType string) bool {
	if billType == "" {
		return false
	}
	for _, prefix := range p.Store.RetainedTOBPrefixes() {
		if strings.HasPrefix(billType, prefix) {
			return true
		}
	}
	return false
}

// Diagnoses collects the effective diagnosis set of the records: the union
// of each record's scored diagnoses, normalized, de-duplicated, first-seen
// order. With UseLinkedPointers set, records carrying pointers contribute
// only the pointed-at diagnoses; records without pointers always contribute
// their full claim-level list.
func (p Policy) Diagnoses(records []models.ServiceRecord) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range records {
		codes := r.DiagnosisCodes
		if p.UseLinkedPointers {
			codes = r.LinkedDiagnoses()
		}
		for _, raw := range codes {
			dx := models.NormalizeDiagnosisCode(raw)
			if dx == "" || seen[dx] {
				continue
			}
			seen[dx] = true
			out = append(out, dx)
		}
	}
	return out
}
