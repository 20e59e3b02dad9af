// Package extractor turns raw claim inputs, X12 837 envelopes or FHIR
// ExplanationOfBenefit documents, into normalized service records.
package extractor

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CMSgov/raf-app/raf/constants"
	customErrors "github.com/CMSgov/raf-app/raf/errors"
	"github.com/CMSgov/raf-app/raf/models"
)

// separators holds the delimiter set discovered from the ISA header.
type separators struct {
	element    byte
	repetition byte
	subElement byte
	terminator byte
}

// isaScanWindow bounds how far into the input the separator discovery walks.
// A conformant ISA is 106 bytes; non-padded headers are shorter.
const isaScanWindow = 256

// discoverSeparators tokenizes the leading ISA segment. The element
// separator is the byte after "ISA"; ISA11 is the repetition separator,
// ISA16 the sub-element separator, and the byte after ISA16 the segment
// terminator. Fixed-width and non-padded headers resolve identically.
func discoverSeparators(input string) (separators, error) {
	if !strings.HasPrefix(input, "ISA") || len(input) < 20 {
		return separators{}, &customErrors.MalformedEnvelopeError{Msg: "input does not begin with an ISA header"}
	}

	seps := separators{element: input[3]}
	limit := len(input)
	if limit > isaScanWindow {
		limit = isaScanWindow
	}

	count := 0
	for i := 4; i < limit; i++ {
		if input[i] != seps.element {
			continue
		}
		count++
		if i+1 >= limit {
			break
		}
		switch count {
		case 11:
			seps.repetition = input[i+1]
		case 16:
			if i+2 >= len(input) {
				return separators{}, &customErrors.MalformedEnvelopeError{Msg: "ISA header truncated before segment terminator"}
			}
			seps.subElement = input[i+1]
			seps.terminator = input[i+2]
			return seps, nil
		}
	}
	return separators{}, &customErrors.MalformedEnvelopeError{Msg: "could not locate all 16 ISA elements"}
}

// claimScope accumulates claim-level (2300 loop) state between CLM and the
// next claim boundary.
type claimScope struct {
	claimType      string
	billType       string
	placeOfService string
	diagnoses      []string
	fromDate       *time.Time
	throughDate    *time.Time
	serviceLines   int
}

type x12Parser struct {
	seps separators

	gsQualifier string
	stQualifier string
	isaOpen     bool
	stOpen      bool
	sawISA      bool

	specialty    string
	billingNPI   string
	renderingNPI string

	claim   *claimScope
	pending *models.ServiceRecord

	records []models.ServiceRecord
	logger  logrus.FieldLogger
}

// ExtractServiceRecords parses one or more ISA envelopes into a flat list of
// service records, one per service line, or one per claim when a claim has
// no service lines. Unknown transaction qualifiers still produce records,
// with an empty claim type; only envelope-level damage is an error.
func ExtractServiceRecords(input string, logger logrus.FieldLogger) ([]models.ServiceRecord, error) {
	input = strings.TrimLeft(input, " \t\r\n")
	seps, err := discoverSeparators(input)
	if err != nil {
		return nil, err
	}

	p := &x12Parser{seps: seps, logger: logger}

	sc := bufio.NewScanner(strings.NewReader(input))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		if i := bytes.IndexByte(data, seps.terminator); i >= 0 {
			return i + 1, data[:i], nil
		}
		if atEOF && len(data) > 0 {
			return len(data), data, nil
		}
		return 0, nil, nil
	})

	for sc.Scan() {
		p.segment(strings.Trim(sc.Text(), " \t\r\n"))
	}
	if err := sc.Err(); err != nil {
		return nil, &customErrors.MalformedEnvelopeError{Msg: "could not scan envelope segments", Err: err}
	}

	p.flushClaim()
	if !p.sawISA {
		return nil, &customErrors.MalformedEnvelopeError{Msg: "no ISA segment found"}
	}
	if p.isaOpen {
		return nil, &customErrors.MalformedEnvelopeError{Msg: "envelope not terminated: missing IEA"}
	}
	if p.stOpen {
		return nil, &customErrors.MalformedEnvelopeError{Msg: "transaction not terminated: missing SE"}
	}
	return p.records, nil
}

// handledTags lists the segment IDs the loop stack consumes. Everything else
// is skipped without element allocation.
var handledTags = map[string]bool{
	"ISA": true, "IEA": true, "GS": true, "ST": true, "SE": true,
	"PRV": true, "NM1": true, "CLM": true, "HI": true, "DTP": true,
	"LX": true, "SV1": true, "SV2": true, "SV3": true,
}

func (p *x12Parser) segment(seg string) {
	if seg == "" {
		return
	}
	tag := seg
	if i := strings.IndexByte(seg, p.seps.element); i >= 0 {
		tag = seg[:i]
	}
	if !handledTags[tag] {
		return
	}

	el := strings.Split(seg, string(p.seps.element))
	field := func(i int) string {
		if i < len(el) {
			return strings.TrimSpace(el[i])
		}
		return ""
	}

	switch tag {
	case "ISA":
		p.flushClaim()
		p.sawISA = true
		p.isaOpen = true
		p.gsQualifier = ""
	case "IEA":
		p.flushClaim()
		p.isaOpen = false
	case "GS":
		p.gsQualifier = field(8)
	case "ST":
		p.flushClaim()
		p.stOpen = true
		p.stQualifier = field(3)
		p.specialty, p.billingNPI, p.renderingNPI = "", "", ""
	case "SE":
		p.flushClaim()
		p.stOpen = false
	case "PRV":
		if q := field(1); q == "BI" || q == "PE" {
			p.specialty = field(3)
		}
	case "NM1":
		switch field(1) {
		case "85":
			p.billingNPI = field(9)
		case "82":
			p.renderingNPI = field(9)
		}
	case "CLM":
		p.startClaim(field(5))
	case "HI":
		p.claimDiagnoses(el[1:])
	case "DTP":
		p.dates(field(1), field(2), field(3))
	case "LX":
		p.flushLine()
	case "SV1":
		p.serviceLine(field(1), field(5), field(7))
	case "SV2":
		p.serviceLine(field(2), "", "")
	case "SV3":
		p.serviceLine(field(1), "", "")
	}
}

// startClaim opens a new 2300 loop. Claim type comes from the transaction's
// implementation qualifier refined by the CLM05 facility composite: the
// professional guide maps to 71; institutional claims split into inpatient
// 73 for bill types 11x/41x and outpatient 72 otherwise.
func (p *x12Parser) startClaim(clm05 string) {
	p.flushClaim()

	comp := strings.Split(clm05, string(p.seps.subElement))
	facility := comp[0]
	frequency := ""
	if len(comp) > 2 {
		frequency = comp[2]
	}

	claim := &claimScope{}
	qualifier := p.stQualifier
	if qualifier == "" {
		qualifier = p.gsQualifier
	}
	switch qualifier {
	case constants.Qualifier837P:
		claim.claimType = constants.ClaimTypeProfessional
		claim.placeOfService = facility
	case constants.Qualifier837I:
		claim.billType = facility + frequency
		if len(facility) >= 2 && (facility[:2] == "11" || facility[:2] == "41") {
			claim.claimType = constants.ClaimTypeInpatient
		} else {
			claim.claimType = constants.ClaimTypeOutpatient
		}
	default:
		// Unknown implementation guide: records are still emitted so the
		// caller can see them, but they carry no claim type and will never
		// pass the eligibility filter.
	}
	p.renderingNPI = ""
	p.claim = claim
}

// principal and secondary diagnosis qualifiers, 4010 and 5010 forms.
var principalDxQualifiers = map[string]bool{"ABK": true, "BK": true}
var secondaryDxQualifiers = map[string]bool{"ABF": true, "BF": true}

// claimDiagnoses collects HI composites at claim scope. The principal
// diagnosis leads the list; secondaries keep their declared order. HI
// segments carrying other code sets (occurrence, value codes) are ignored.
func (p *x12Parser) claimDiagnoses(composites []string) {
	if p.claim == nil {
		return
	}
	for _, comp := range composites {
		parts := strings.Split(comp, string(p.seps.subElement))
		if len(parts) < 2 {
			continue
		}
		qualifier, code := parts[0], models.NormalizeDiagnosisCode(parts[1])
		if code == "" {
			continue
		}
		switch {
		case principalDxQualifiers[qualifier]:
			p.claim.diagnoses = append([]string{code}, p.claim.diagnoses...)
		case secondaryDxQualifiers[qualifier]:
			p.claim.diagnoses = append(p.claim.diagnoses, code)
		}
	}
}

func (p *x12Parser) dates(qualifier, format, value string) {
	if p.claim == nil {
		return
	}
	from, through := parseDTP(format, value)
	if from == nil {
		return
	}
	switch qualifier {
	case "472":
		if p.pending != nil {
			p.pending.ServiceDate = from
			p.pending.ThroughDate = through
		}
	case "434":
		p.claim.fromDate = from
		p.claim.throughDate = through
	}
}

// parseDTP understands the D8 (CCYYMMDD) and RD8 (CCYYMMDD-CCYYMMDD) date
// formats. Anything else yields no dates; claims keep scoring without them.
func parseDTP(format, value string) (from, through *time.Time) {
	parse := func(s string) *time.Time {
		t, err := time.Parse("20060102", s)
		if err != nil {
			return nil
		}
		return &t
	}
	switch format {
	case "D8":
		d := parse(value)
		return d, d
	case "RD8":
		parts := strings.SplitN(value, "-", 2)
		if len(parts) != 2 {
			return nil, nil
		}
		return parse(parts[0]), parse(parts[1])
	}
	return nil, nil
}

// serviceLine opens a 2400-loop record from an SV1/SV2/SV3 segment. The
// record is held pending so the loop's DTP*472 can attach its dates; it is
// flushed at the next LX, claim boundary, or transaction close.
func (p *x12Parser) serviceLine(composite, place, pointers string) {
	if p.claim == nil {
		return
	}
	p.flushLine()

	rec := p.newRecord()
	parts := strings.Split(composite, string(p.seps.subElement))
	if len(parts) > 1 {
		rec.ProcedureCode = strings.ToUpper(strings.TrimSpace(parts[1]))
		for _, mod := range parts[2:] {
			mod = strings.TrimSpace(mod)
			if mod == "" || len(rec.ProcedureModifiers) == 4 {
				break
			}
			rec.ProcedureModifiers = append(rec.ProcedureModifiers, mod)
		}
	}
	if place != "" {
		rec.PlaceOfService = place
	}
	for _, ptr := range strings.Split(pointers, string(p.seps.subElement)) {
		n, err := strconv.Atoi(strings.TrimSpace(ptr))
		if err != nil || n < 1 || n > len(rec.DiagnosisCodes) {
			continue
		}
		rec.LinkedDiagnosisPointers = append(rec.LinkedDiagnosisPointers, n)
	}

	p.pending = &rec
}

// newRecord copies the claim scope into a fresh service record.
func (p *x12Parser) newRecord() models.ServiceRecord {
	diagnoses := make([]string, len(p.claim.diagnoses))
	copy(diagnoses, p.claim.diagnoses)

	npi := p.renderingNPI
	if npi == "" {
		npi = p.billingNPI
	}
	return models.ServiceRecord{
		ClaimType:             p.claim.claimType,
		BillType:              p.claim.billType,
		ServiceDate:           p.claim.fromDate,
		ThroughDate:           p.claim.throughDate,
		PlaceOfService:        p.claim.placeOfService,
		DiagnosisCodes:        diagnoses,
		ProviderSpecialty:     p.specialty,
		PerformingProviderNPI: npi,
	}
}

func (p *x12Parser) flushLine() {
	if p.pending == nil {
		return
	}
	p.records = append(p.records, *p.pending)
	p.claim.serviceLines++
	p.pending = nil
}

// flushClaim closes the open 2300 loop. A claim that produced no service
// lines still yields one claim-level record so its diagnoses are not lost.
func (p *x12Parser) flushClaim() {
	if p.claim == nil {
		return
	}
	p.flushLine()
	if p.claim.serviceLines == 0 {
		p.records = append(p.records, p.newRecord())
	}
	if p.logger != nil {
		p.logger.WithFields(logrus.Fields{
			"claim_type": p.claim.claimType,
			"lines":      p.claim.serviceLines,
		}).Debug("Closed claim scope")
	}
	p.claim = nil
}

// Sniff837 reports whether a raw input looks like an X12 envelope rather
// than a FHIR JSON document.
func Sniff837(input string) bool {
	return strings.HasPrefix(strings.TrimLeft(input, " \t\r\n"), "ISA")
}

// String renders the discovered separator set for diagnostics.
func (s separators) String() string {
	return fmt.Sprintf("elem=%q rep=%q sub=%q term=%q", s.element, s.repetition, s.subElement, s.terminator)
}
