package tables

import (
	"embed"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/CMSgov/raf-app/conf"
	"github.com/CMSgov/raf-app/raf/constants"
	customErrors "github.com/CMSgov/raf-app/raf/errors"
	"github.com/CMSgov/raf-app/raf/models"
)

//go:embed data/*.csv
var sampleData embed.FS

// Config names the reference table set a Store loads. The zero value loads
// the embedded sample tables for the default model year. Path may be a local
// directory or an s3://bucket/prefix; individual table overrides win over the
// derived Path/Year file names.
type Config struct {
	Year string
	Path string

	DxCCTable         string
	ProcedureTable    string
	CoefficientTable  string
	ChronicFlagsTable string
	// Per-variant overrides for the hierarchy and interaction files.
	HierarchyTables   map[models.ModelVariant]string
	InteractionTables map[models.ModelVariant]string

	Opener FileOpener
	Logger logrus.FieldLogger
}

// Store holds every reference table for one payment year, fully indexed.
// Stores are built once and shared read-only across concurrent scoring
// calls; nothing here is mutated after LoadStore returns.
type Store struct {
	year string

	dxToCC       map[models.ModelVariant]map[string][]int
	children     map[models.ModelVariant]map[int][]int
	coefficients map[models.ModelVariant]map[string]map[string]float64
	interactions map[models.ModelVariant][]InteractionDef

	eligibleProcs map[string]struct{}
	tobPrefixes   []string
	chronic       map[int]bool
}

// LoadStore reads and indexes the full table set described by cfg.
func LoadStore(cfg Config) (*Store, error) {
	if cfg.Year == "" {
		cfg.Year = conf.GetEnv("RAF_MODEL_YEAR")
	}
	if cfg.Year == "" {
		cfg.Year = constants.DefaultModelYear
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	opener := cfg.Opener
	if opener == nil {
		switch {
		case cfg.Path == "":
			opener = &embeddedOpener{}
			cfg.Path = "data"
		case IsS3Path(cfg.Path):
			opener = &S3FileOpener{
				Logger:        cfg.Logger,
				Endpoint:      conf.GetEnv("RAF_S3_ENDPOINT"),
				AssumeRoleArn: conf.GetEnv("RAF_S3_ASSUME_ROLE_ARN"),
				MaxRetries:    3,
			}
		default:
			opener = &LocalFileOpener{Logger: cfg.Logger}
		}
	}

	s := &Store{
		year:         cfg.Year,
		children:     make(map[models.ModelVariant]map[int][]int),
		interactions: make(map[models.ModelVariant][]InteractionDef),
	}

	err := withTable(opener, pathOrDefault(cfg.DxCCTable, cfg.Path, fmt.Sprintf("ra_dx_to_cc_%s.csv", cfg.Year)), func(name string, rc io.Reader) error {
		var err error
		s.dxToCC, err = loadDxToCC(rc, name)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = withTable(opener, pathOrDefault(cfg.CoefficientTable, cfg.Path, fmt.Sprintf("ra_coefficients_%s.csv", cfg.Year)), func(name string, rc io.Reader) error {
		var err error
		s.coefficients, err = loadCoefficients(rc, name)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = withTable(opener, pathOrDefault(cfg.ProcedureTable, cfg.Path, fmt.Sprintf("ra_eligible_cpt_hcpcs_%s.csv", cfg.Year)), func(name string, rc io.Reader) error {
		var err error
		s.eligibleProcs, s.tobPrefixes, err = loadEligibleProcedures(rc, name)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = withTable(opener, pathOrDefault(cfg.ChronicFlagsTable, cfg.Path, "hcc_is_chronic.csv"), func(name string, rc io.Reader) error {
		var err error
		s.chronic, err = loadChronicFlags(rc, name)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, variant := range models.AllModelVariants() {
		variant := variant
		hierPath := pathOrDefault(cfg.HierarchyTables[variant], cfg.Path, fmt.Sprintf("ra_hierarchies_%s.csv", variant.ShortName()))
		err = withTable(opener, hierPath, func(name string, rc io.Reader) error {
			children, err := loadHierarchies(rc, name)
			if err != nil {
				return err
			}
			s.children[variant] = children
			return nil
		})
		if err != nil {
			return nil, err
		}

		intPath := pathOrDefault(cfg.InteractionTables[variant], cfg.Path, fmt.Sprintf("ra_interactions_%s.csv", variant.ShortName()))
		err = withTable(opener, intPath, func(name string, rc io.Reader) error {
			defs, err := loadInteractions(rc, name)
			if err != nil {
				return err
			}
			s.interactions[variant] = defs
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	cfg.Logger.WithFields(logrus.Fields{
		"year":     cfg.Year,
		"path":     cfg.Path,
		"variants": len(s.coefficients),
	}).Info("Reference tables loaded")

	return s, nil
}

func pathOrDefault(override, dir, name string) string {
	if override != "" {
		return override
	}
	return path.Join(dir, name)
}

func withTable(opener FileOpener, tablePath string, load func(name string, rc io.Reader) error) error {
	rc, err := opener.OpenTable(tablePath)
	if err != nil {
		return &customErrors.ConfigurationError{
			Msg: fmt.Sprintf("missing reference table %s", tablePath),
			Err: err,
		}
	}
	defer rc.Close() //nolint:errcheck
	return load(tablePath, rc)
}

// Year reports the payment year the store was loaded for.
func (s *Store) Year() string {
	return s.year
}

// CCsForDiagnosis returns the condition categories a normalized diagnosis
// code maps to under the given variant. A nil result means no mapping.
func (s *Store) CCsForDiagnosis(variant models.ModelVariant, dx string) []int {
	return s.dxToCC[variant][dx]
}

// HasVariant reports whether the loaded table set carries coefficient rows
// for the variant at all.
func (s *Store) HasVariant(variant models.ModelVariant) bool {
	return len(s.coefficients[variant]) > 0
}

// SuppressedBy returns the child CCs the given parent suppresses under the
// variant's hierarchy.
func (s *Store) SuppressedBy(variant models.ModelVariant, parent int) []int {
	return s.children[variant][parent]
}

// Coefficient looks up the value for (segment, variable) in the variant's
// coefficient table. Absence is not an error; the caller records a miss.
func (s *Store) Coefficient(variant models.ModelVariant, segment, variable string) (float64, bool) {
	v, ok := s.coefficients[variant][segment][variable]
	return v, ok
}

// HasSegment reports whether the variant's coefficient table carries any row
// for the segment. Used to validate derived segments such as the ESRD graft
// buckets before scoring against them.
func (s *Store) HasSegment(variant models.ModelVariant, segment string) bool {
	return len(s.coefficients[variant][segment]) > 0
}

// IsEligibleProcedure reports whether a CPT/HCPCS code qualifies a service
// for risk adjustment in this payment year.
func (s *Store) IsEligibleProcedure(code string) bool {
	_, ok := s.eligibleProcs[code]
	return ok
}

// RetainedTOBPrefixes returns the institutional outpatient bill type
// prefixes the filter keeps regardless of procedure code.
func (s *Store) RetainedTOBPrefixes() []string {
	return s.tobPrefixes
}

// IsChronic reports the chronic flag for a condition category.
func (s *Store) IsChronic(cc int) bool {
	return s.chronic[cc]
}

// Interactions returns the compiled interaction definitions for the variant.
func (s *Store) Interactions(variant models.ModelVariant) []InteractionDef {
	return s.interactions[variant]
}

// embeddedOpener serves the go:embed sample tables so the module scores out
// of the box with no table files configured.
type embeddedOpener struct{}

func (*embeddedOpener) OpenTable(p string) (io.ReadCloser, error) {
	return sampleData.Open(p)
}

var (
	sampleOnce  sync.Once
	sampleStore *Store
	sampleErr   error
)

// Sample returns the process-wide store backed by the embedded sample
// tables, loading it on first use. Safe for concurrent callers.
func Sample() (*Store, error) {
	sampleOnce.Do(func() {
		sampleStore, sampleErr = LoadStore(Config{Logger: logrus.New()})
	})
	return sampleStore, sampleErr
}
