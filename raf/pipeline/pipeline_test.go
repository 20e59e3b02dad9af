package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CMSgov/raf-app/middleware"
	customErrors "github.com/CMSgov/raf-app/raf/errors"
	"github.com/CMSgov/raf-app/raf/models"
)

func testPipeline(t *testing.T) *Pipeline {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	p, err := New(Options{
		FilterClaims:           true,
		UseLinkedPointers:      true,
		OutpatientBillTypePass: true,
	}, logger)
	require.NoError(t, err)
	return p
}

func claimFixture(t *testing.T, name string) string {
	b, err := os.ReadFile(filepath.Join("..", "extractor", "testdata", name))
	require.NoError(t, err)
	return string(b)
}

func communityAged() models.Demographics {
	return models.Demographics{Age: 67, Sex: "F", DualEligibility: "00"}
}

func TestRunFrom837(t *testing.T) {
	p := testPipeline(t)

	result, err := p.Run(context.Background(), []string{claimFixture(t, "professional_single.837")}, communityAged(), models.ModelV28)
	require.NoError(t, err)

	assert.Equal(t, "CNA", result.Segment)
	assert.Equal(t, []int{38, 227, 329}, result.HCCList)
	require.Len(t, result.ServiceLevelData, 1)
	assert.Equal(t, "99213", result.ServiceLevelData[0].ProcedureCode)
	assert.NotEmpty(t, result.ResultID)
}

func TestRunFromEOB(t *testing.T) {
	p := testPipeline(t)

	result, err := p.Run(context.Background(), []string{claimFixture(t, "eob_bundle.json")}, communityAged(), models.ModelV28)
	require.NoError(t, err)

	assert.Equal(t, []string{"E119", "N183", "N186", "I509"}, result.DiagnosisCodes)
	assert.Len(t, result.ServiceLevelData, 3)
}

func TestRunMixedInputs(t *testing.T) {
	p := testPipeline(t)

	inputs := []string{
		claimFixture(t, "professional_single.837"),
		claimFixture(t, "eob_bundle.json"),
	}
	result, err := p.Run(context.Background(), inputs, communityAged(), models.ModelV28)
	require.NoError(t, err)
	assert.Len(t, result.ServiceLevelData, 4)
}

func TestRunMalformedInput(t *testing.T) {
	p := testPipeline(t)

	_, err := p.Run(context.Background(), []string{claimFixture(t, "unterminated.837")}, communityAged(), models.ModelV28)
	var envErr *customErrors.MalformedEnvelopeError
	assert.ErrorAs(t, err, &envErr)
}

// A claim feed and the equivalent bare diagnosis list must score the same.
func TestRunMatchesDirectCalculation(t *testing.T) {
	p := testPipeline(t)
	ctx := context.Background()

	fromClaims, err := p.Run(ctx, []string{claimFixture(t, "professional_single.837")}, communityAged(), models.ModelV28)
	require.NoError(t, err)

	direct, err := p.CalculateFromDiagnoses(ctx, []string{"E11.9", "I10", "N18.3"}, communityAged(), models.ModelV28)
	require.NoError(t, err)

	assert.Equal(t, direct.RiskScore, fromClaims.RiskScore)
	assert.Equal(t, direct.HCCList, fromClaims.HCCList)
	assert.Equal(t, direct.Coefficients, fromClaims.Coefficients)
}

func TestRunFromServiceRecordsFiltering(t *testing.T) {
	p := testPipeline(t)
	ctx := context.Background()

	records := []models.ServiceRecord{
		{ClaimType: "71", ProcedureCode: "99213", DiagnosisCodes: []string{"E11.9"}},
		{ClaimType: "71", ProcedureCode: "00000", DiagnosisCodes: []string{"N18.3"}},
	}

	result, err := p.RunFromServiceRecords(ctx, records, communityAged(), models.ModelV28)
	require.NoError(t, err)
	assert.Equal(t, []int{38}, result.HCCList)
	assert.Len(t, result.ServiceLevelData, 1)

	// With filtering off, the ineligible record's diagnosis scores too.
	p.Options.FilterClaims = false
	result, err = p.RunFromServiceRecords(ctx, records, communityAged(), models.ModelV28)
	require.NoError(t, err)
	assert.Equal(t, []int{38, 329}, result.HCCList)
	assert.Len(t, result.ServiceLevelData, 2)
}

func TestRunCarriesTransactionID(t *testing.T) {
	p := testPipeline(t)
	ctx := context.WithValue(context.Background(), middleware.CtxTransactionKey, "tx-12345")

	result, err := p.CalculateFromDiagnoses(ctx, []string{"E11.9"}, communityAged(), models.ModelV28)
	require.NoError(t, err)
	assert.Equal(t, "tx-12345", result.ResultID)
}

func TestOptionsFromMap(t *testing.T) {
	base := DefaultOptions()

	opts, err := OptionsFromMap(base, map[string]interface{}{
		"filter_claims": false,
		"model_year":    "2025",
	})
	require.NoError(t, err)
	assert.False(t, opts.FilterClaims)
	assert.Equal(t, "2025", opts.ModelYear)
	// Untouched keys keep their defaults.
	assert.Equal(t, base.UseLinkedPointers, opts.UseLinkedPointers)
}

func TestOptionsFromMapRejectsUnknownKey(t *testing.T) {
	_, err := OptionsFromMap(DefaultOptions(), map[string]interface{}{"filtre_claims": true})
	var cfgErr *customErrors.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestOptionsFromMapRejectsMistypedValue(t *testing.T) {
	_, err := OptionsFromMap(DefaultOptions(), map[string]interface{}{"filter_claims": "yes"})
	var cfgErr *customErrors.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.True(t, opts.FilterClaims)
	assert.True(t, opts.UseLinkedPointers)
	assert.True(t, opts.OutpatientBillTypePass)
}

func TestNewRejectsMissingTables(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	_, err := New(Options{TablesPath: "testdata/nonexistent"}, logger)
	var cfgErr *customErrors.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
