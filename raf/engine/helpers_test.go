package engine

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/CMSgov/raf-app/raf/models"
	"github.com/CMSgov/raf-app/raf/tables"
)

// mapOpener serves table files from memory so tests can load stores with
// deliberately incomplete coefficient tables.
type mapOpener map[string]string

func (m mapOpener) OpenTable(path string) (io.ReadCloser, error) {
	body, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("no table %s", path)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

// testStore loads a store whose coefficient table is exactly coeffCSV and
// whose remaining tables are header-only.
func testStore(t *testing.T, coeffCSV string) *tables.Store {
	t.Helper()

	opener := mapOpener{
		"ra_dx_to_cc_2026.csv":           "diagnosis_code,cc,model_name\nE119,38,CMS-HCC Model V28\n",
		"ra_coefficients_2026.csv":       coeffCSV,
		"ra_eligible_cpt_hcpcs_2026.csv": "code\n",
		"hcc_is_chronic.csv":             "cc,is_chronic\n",
	}
	for _, variant := range models.AllModelVariants() {
		opener[fmt.Sprintf("ra_hierarchies_%s.csv", variant.ShortName())] = "parent_cc,child_cc\n"
		opener[fmt.Sprintf("ra_interactions_%s.csv", variant.ShortName())] = "variable,expression\n"
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store, err := tables.LoadStore(tables.Config{Opener: opener, Logger: logger})
	require.NoError(t, err)
	return store
}
