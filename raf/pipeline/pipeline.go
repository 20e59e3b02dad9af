// Package pipeline wires the extractor, filter and scoring engine behind the
// three scoring entry points: raw claims, pre-normalized service records,
// and bare diagnosis lists.
package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/CMSgov/raf-app/conf"
	"github.com/CMSgov/raf-app/log"
	"github.com/CMSgov/raf-app/middleware"
	"github.com/CMSgov/raf-app/raf/engine"
	customErrors "github.com/CMSgov/raf-app/raf/errors"
	"github.com/CMSgov/raf-app/raf/extractor"
	"github.com/CMSgov/raf-app/raf/filter"
	"github.com/CMSgov/raf-app/raf/models"
	"github.com/CMSgov/raf-app/raf/monitoring"
	"github.com/CMSgov/raf-app/raf/tables"
)

// Options is the enumerated pipeline configuration. Zero values mean "use
// the environment defaults"; DefaultOptions resolves them.
type Options struct {
	// FilterClaims applies the CMS eligibility policy to service records
	// before their diagnoses feed the scorer.
	FilterClaims bool
	// UseLinkedPointers restricts scored diagnoses to the pointed-at ones
	// when a record carries diagnosis pointers.
	UseLinkedPointers bool
	// OutpatientBillTypePass keeps institutional outpatient records with a
	// retained bill type prefix even when the procedure is ineligible.
	OutpatientBillTypePass bool

	// Reference table set. TablesPath empty means the embedded samples.
	TablesPath string
	ModelYear  string
	// Per-table path overrides.
	DxCCTable         string
	ProcedureTable    string
	HierarchyTable    string
	CoefficientTable  string
	InteractionTable  string
	ChronicFlagsTable string
}

// DefaultOptions resolves the env-driven defaults: filtering on, explicit
// pointers preferred, outpatient bill type pass-through on.
func DefaultOptions() Options {
	return Options{
		FilterClaims:           envBool("RAF_FILTER_CLAIMS", true),
		UseLinkedPointers:      envBool("RAF_USE_LINKED_POINTERS", true),
		OutpatientBillTypePass: envBool("RAF_OUTPATIENT_TOB_PASS", true),
		TablesPath:             conf.GetEnv("RAF_TABLES_PATH"),
		ModelYear:              conf.GetEnv("RAF_MODEL_YEAR"),
	}
}

func envBool(name string, fallback bool) bool {
	if v, err := strconv.ParseBool(conf.GetEnv(name)); err == nil {
		return v
	}
	return fallback
}

// optionSetters maps the option keys accepted from the HTTP and CLI
// surfaces. An unknown key is a fatal configuration error, never ignored.
var optionSetters = map[string]func(*Options, interface{}) error{
	"filter_claims":             func(o *Options, v interface{}) error { return setBool(&o.FilterClaims, v) },
	"use_linked_pointers":       func(o *Options, v interface{}) error { return setBool(&o.UseLinkedPointers, v) },
	"outpatient_bill_type_pass": func(o *Options, v interface{}) error { return setBool(&o.OutpatientBillTypePass, v) },
	"tables_path":               func(o *Options, v interface{}) error { return setString(&o.TablesPath, v) },
	"model_year":                func(o *Options, v interface{}) error { return setString(&o.ModelYear, v) },
	"dx_cc_table":               func(o *Options, v interface{}) error { return setString(&o.DxCCTable, v) },
	"procedure_table":           func(o *Options, v interface{}) error { return setString(&o.ProcedureTable, v) },
	"hierarchy_table":           func(o *Options, v interface{}) error { return setString(&o.HierarchyTable, v) },
	"coefficient_table":         func(o *Options, v interface{}) error { return setString(&o.CoefficientTable, v) },
	"interaction_table":         func(o *Options, v interface{}) error { return setString(&o.InteractionTable, v) },
	"chronic_flags_table":       func(o *Options, v interface{}) error { return setString(&o.ChronicFlagsTable, v) },
}

// OptionsFromMap overlays key-value option pairs from an API payload or CLI
// onto base. Unrecognized keys and mistyped values fail loudly.
func OptionsFromMap(base Options, kv map[string]interface{}) (Options, error) {
	for k, v := range kv {
		set, ok := optionSetters[k]
		if !ok {
			return base, &customErrors.ConfigurationError{Msg: fmt.Sprintf("unrecognized option %q", k)}
		}
		if err := set(&base, v); err != nil {
			return base, &customErrors.ConfigurationError{Msg: fmt.Sprintf("bad value for option %q", k), Err: err}
		}
	}
	return base, nil
}

func setBool(dst *bool, v interface{}) error {
	b, ok := v.(bool)
	if !ok {
		return fmt.Errorf("expected bool, got %T", v)
	}
	*dst = b
	return nil
}

func setString(dst *string, v interface{}) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", v)
	}
	*dst = s
	return nil
}

// Pipeline owns a loaded reference table store and scores beneficiaries
// against it. Pipelines are safe for concurrent use; every method is a pure
// function over the shared read-only store.
type Pipeline struct {
	Store   *tables.Store
	Logger  logrus.FieldLogger
	Options Options
}

// New builds a pipeline for the given options, loading the reference tables
// they describe. Empty table options fall back to the embedded sample set.
func New(opts Options, logger logrus.FieldLogger) (*Pipeline, error) {
	if logger == nil {
		logger = log.API
	}

	var (
		store *tables.Store
		err   error
	)
	if usesEmbeddedTables(opts) {
		store, err = tables.Sample()
	} else {
		store, err = tables.LoadStore(tableConfig(opts, logger))
	}
	if err != nil {
		return nil, err
	}

	return &Pipeline{Store: store, Logger: logger, Options: opts}, nil
}

func usesEmbeddedTables(o Options) bool {
	return o.TablesPath == "" && o.DxCCTable == "" && o.ProcedureTable == "" &&
		o.HierarchyTable == "" && o.CoefficientTable == "" &&
		o.InteractionTable == "" && o.ChronicFlagsTable == ""
}

func tableConfig(o Options, logger logrus.FieldLogger) tables.Config {
	cfg := tables.Config{
		Year:              o.ModelYear,
		Path:              o.TablesPath,
		DxCCTable:         o.DxCCTable,
		ProcedureTable:    o.ProcedureTable,
		CoefficientTable:  o.CoefficientTable,
		ChronicFlagsTable: o.ChronicFlagsTable,
		Logger:            logger,
	}
	// The single-path hierarchy and interaction overrides serve deployments
	// scoring one variant from hand-picked files; the override applies to
	// every variant in the set.
	if o.HierarchyTable != "" {
		cfg.HierarchyTables = make(map[models.ModelVariant]string)
		for _, v := range models.AllModelVariants() {
			cfg.HierarchyTables[v] = o.HierarchyTable
		}
	}
	if o.InteractionTable != "" {
		cfg.InteractionTables = make(map[models.ModelVariant]string)
		for _, v := range models.AllModelVariants() {
			cfg.InteractionTables[v] = o.InteractionTable
		}
	}
	return cfg
}

// Run scores raw claim inputs: X12 837 envelopes and/or FHIR EOB documents,
// distinguished by sniffing each input. Parse errors surface to the caller;
// no partial result is returned.
func (p *Pipeline) Run(ctx context.Context, rawInputs []string, demo models.Demographics, variant models.ModelVariant) (*models.RAFResult, error) {
	closeParse := monitoring.NewChild(ctx, "parse")
	var records []models.ServiceRecord
	for _, input := range rawInputs {
		var (
			recs []models.ServiceRecord
			err  error
		)
		if extractor.Sniff837(input) {
			recs, err = extractor.ExtractServiceRecords(input, p.Logger)
		} else {
			recs, err = extractor.ExtractEOB([]byte(input))
		}
		if err != nil {
			closeParse()
			return nil, err
		}
		records = append(records, recs...)
	}
	closeParse()

	return p.RunFromServiceRecords(ctx, records, demo, variant)
}

// RunFromServiceRecords scores pre-normalized service records, applying the
// eligibility filter when configured.
func (p *Pipeline) RunFromServiceRecords(ctx context.Context, records []models.ServiceRecord, demo models.Demographics, variant models.ModelVariant) (*models.RAFResult, error) {
	policy := filter.Policy{
		Store:                  p.Store,
		OutpatientBillTypePass: p.Options.OutpatientBillTypePass,
		UseLinkedPointers:      p.Options.UseLinkedPointers,
		Logger:                 p.Logger,
	}

	surviving := records
	if p.Options.FilterClaims {
		closeFilter := monitoring.NewChild(ctx, "filter")
		surviving = policy.Apply(records)
		closeFilter()
	}

	result, err := p.score(ctx, policy.Diagnoses(surviving), demo, variant)
	if err != nil {
		return nil, err
	}
	result.ServiceLevelData = surviving
	return result, nil
}

// CalculateFromDiagnoses scores a bare diagnosis list, skipping parsing and
// filtering entirely.
func (p *Pipeline) CalculateFromDiagnoses(ctx context.Context, dxs []string, demo models.Demographics, variant models.ModelVariant) (*models.RAFResult, error) {
	return p.score(ctx, dxs, demo, variant)
}

func (p *Pipeline) score(ctx context.Context, dxs []string, demo models.Demographics, variant models.ModelVariant) (*models.RAFResult, error) {
	closeScore := monitoring.NewChild(ctx, "score")
	defer closeScore()

	result, err := engine.Calculate(p.Store, variant, dxs, demo)
	if err != nil {
		return nil, err
	}
	result.ResultID = middleware.GetTransactionID(ctx)

	p.Logger.WithFields(logrus.Fields{
		"model":      variant.ShortName(),
		"segment":    result.Segment,
		"hcc_count":  len(result.HCCList),
		"risk_score": result.RiskScore,
		"result_id":  result.ResultID,
	}).Info("Scored beneficiary")

	return result, nil
}
