package tables

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dimchansky/utfbom"

	customErrors "github.com/CMSgov/raf-app/raf/errors"
	"github.com/CMSgov/raf-app/raf/models"
)

// Reference CSVs are UTF-8 with a required header row; a leading BOM is
// tolerated and stripped. Columns are located by header name so CMS can
// reorder them between annual releases without breaking the loaders.

type header struct {
	index map[string]int
}

func readHeader(r *csv.Reader, table string, required ...string) (header, error) {
	row, err := r.Read()
	if err == io.EOF {
		return header{}, &customErrors.ConfigurationError{Msg: fmt.Sprintf("reference table %s is empty", table)}
	}
	if err != nil {
		return header{}, &customErrors.ConfigurationError{Msg: fmt.Sprintf("could not read %s header", table), Err: err}
	}

	h := header{index: make(map[string]int, len(row))}
	for i, col := range row {
		h.index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range required {
		if _, ok := h.index[col]; !ok {
			return header{}, &customErrors.ConfigurationError{
				Msg: fmt.Sprintf("reference table %s is missing column %q", table, col),
			}
		}
	}
	return h, nil
}

func (h header) field(row []string, col string) string {
	i := h.index[col]
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func newTableReader(rc io.Reader) *csv.Reader {
	r := csv.NewReader(utfbom.SkipOnly(rc))
	r.TrimLeadingSpace = true
	return r
}

// loadDxToCC reads rows of (diagnosis_code, cc, model_name) into per-variant
// diagnosis indexes. Rows for model names outside the supported set are
// skipped; CMS publishes one combined file per payment year.
func loadDxToCC(rc io.Reader, table string) (map[models.ModelVariant]map[string][]int, error) {
	r := newTableReader(rc)
	h, err := readHeader(r, table, "diagnosis_code", "cc", "model_name")
	if err != nil {
		return nil, err
	}

	out := make(map[models.ModelVariant]map[string][]int)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &customErrors.ConfigurationError{Msg: fmt.Sprintf("could not read %s", table), Err: err}
		}

		variant, err := models.ParseModelVariant(h.field(row, "model_name"))
		if err != nil {
			continue
		}
		dx := models.NormalizeDiagnosisCode(h.field(row, "diagnosis_code"))
		cc, err := strconv.Atoi(h.field(row, "cc"))
		if err != nil || dx == "" {
			return nil, &customErrors.ConfigurationError{
				Msg: fmt.Sprintf("bad dx->cc row in %s: %v", table, row),
			}
		}

		byDx := out[variant]
		if byDx == nil {
			byDx = make(map[string][]int)
			out[variant] = byDx
		}
		byDx[dx] = append(byDx[dx], cc)
	}
	return out, nil
}

// loadHierarchies reads (parent_cc, child_cc) edges for one variant. The file
// already encodes the transitive closure CMS intends; the engine never
// recomputes it.
func loadHierarchies(rc io.Reader, table string) (map[int][]int, error) {
	r := newTableReader(rc)
	h, err := readHeader(r, table, "parent_cc", "child_cc")
	if err != nil {
		return nil, err
	}

	children := make(map[int][]int)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &customErrors.ConfigurationError{Msg: fmt.Sprintf("could not read %s", table), Err: err}
		}

		parent, perr := strconv.Atoi(h.field(row, "parent_cc"))
		child, cerr := strconv.Atoi(h.field(row, "child_cc"))
		if perr != nil || cerr != nil {
			return nil, &customErrors.ConfigurationError{
				Msg: fmt.Sprintf("bad hierarchy row in %s: %v", table, row),
			}
		}
		children[parent] = append(children[parent], child)
	}
	return children, nil
}

// loadCoefficients reads (model_name, segment, variable, coefficient) rows
// into variant -> segment -> variable lookups.
func loadCoefficients(rc io.Reader, table string) (map[models.ModelVariant]map[string]map[string]float64, error) {
	r := newTableReader(rc)
	h, err := readHeader(r, table, "model_name", "segment", "variable", "coefficient")
	if err != nil {
		return nil, err
	}

	out := make(map[models.ModelVariant]map[string]map[string]float64)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &customErrors.ConfigurationError{Msg: fmt.Sprintf("could not read %s", table), Err: err}
		}

		variant, err := models.ParseModelVariant(h.field(row, "model_name"))
		if err != nil {
			continue
		}
		value, err := strconv.ParseFloat(h.field(row, "coefficient"), 64)
		if err != nil {
			return nil, &customErrors.ConfigurationError{
				Msg: fmt.Sprintf("bad coefficient row in %s: %v", table, row),
			}
		}
		segment := strings.ToUpper(h.field(row, "segment"))
		variable := h.field(row, "variable")

		bySegment := out[variant]
		if bySegment == nil {
			bySegment = make(map[string]map[string]float64)
			out[variant] = bySegment
		}
		byVariable := bySegment[segment]
		if byVariable == nil {
			byVariable = make(map[string]float64)
			bySegment[segment] = byVariable
		}
		byVariable[variable] = value
	}
	return out, nil
}

// tobPrefixTag marks eligible-procedure rows that carry retained
// institutional outpatient bill type prefixes instead of CPT/HCPCS codes.
const tobPrefixTag = "TOB-"

// loadEligibleProcedures reads the single-column procedure file. Rows tagged
// TOB-<nn> feed the outpatient bill type alternative of the filter.
func loadEligibleProcedures(rc io.Reader, table string) (procs map[string]struct{}, tobPrefixes []string, err error) {
	r := newTableReader(rc)
	h, err := readHeader(r, table, "code")
	if err != nil {
		return nil, nil, err
	}

	procs = make(map[string]struct{})
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, &customErrors.ConfigurationError{Msg: fmt.Sprintf("could not read %s", table), Err: err}
		}

		code := strings.ToUpper(h.field(row, "code"))
		if code == "" {
			continue
		}
		if strings.HasPrefix(code, tobPrefixTag) {
			tobPrefixes = append(tobPrefixes, strings.TrimPrefix(code, tobPrefixTag))
			continue
		}
		procs[code] = struct{}{}
	}
	return procs, tobPrefixes, nil
}

// loadChronicFlags reads (cc, is_chronic) rows; is_chronic is 0|1.
func loadChronicFlags(rc io.Reader, table string) (map[int]bool, error) {
	r := newTableReader(rc)
	h, err := readHeader(r, table, "cc", "is_chronic")
	if err != nil {
		return nil, err
	}

	chronic := make(map[int]bool)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &customErrors.ConfigurationError{Msg: fmt.Sprintf("could not read %s", table), Err: err}
		}

		cc, cerr := strconv.Atoi(h.field(row, "cc"))
		flag := h.field(row, "is_chronic")
		if cerr != nil || (flag != "0" && flag != "1") {
			return nil, &customErrors.ConfigurationError{
				Msg: fmt.Sprintf("bad chronic flag row in %s: %v", table, row),
			}
		}
		chronic[cc] = flag == "1"
	}
	return chronic, nil
}

// loadInteractions reads (variable, expression) rows for one variant and
// compiles each expression. A syntax error or unknown identifier fails the
// load; bad predicates must never reach evaluation.
func loadInteractions(rc io.Reader, table string) ([]InteractionDef, error) {
	r := newTableReader(rc)
	h, err := readHeader(r, table, "variable", "expression")
	if err != nil {
		return nil, err
	}

	var defs []InteractionDef
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &customErrors.ConfigurationError{Msg: fmt.Sprintf("could not read %s", table), Err: err}
		}

		variable := h.field(row, "variable")
		def, err := ParseInteraction(variable, h.field(row, "expression"))
		if err != nil {
			return nil, &customErrors.ConfigurationError{
				Msg: fmt.Sprintf("bad interaction expression for %s in %s", variable, table),
				Err: err,
			}
		}
		defs = append(defs, def)
	}
	return defs, nil
}
