package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customErrors "github.com/CMSgov/raf-app/raf/errors"
	"github.com/CMSgov/raf-app/raf/models"
	"github.com/CMSgov/raf-app/raf/tables"
)

func sampleStore(t *testing.T) *tables.Store {
	s, err := tables.Sample()
	require.NoError(t, err)
	return s
}

func intPtr(n int) *int { return &n }

func TestAgeSexCell(t *testing.T) {
	tests := []struct {
		age  int
		sex  string
		cell string
	}{
		{0, "F", "F0_34"},
		{34, "M", "M0_34"},
		{35, "F", "F35_44"},
		{67, "F", "F65_69"},
		{75, "M", "M75_79"},
		{79, "M", "M75_79"},
		{80, "F", "F80_84"},
		{94, "F", "F90_94"},
		{95, "M", "M95_GT"},
		{104, "F", "F95_GT"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.cell, AgeSexCell(tt.age, tt.sex), "age %d sex %s", tt.age, tt.sex)
	}
}

func TestClassifySegments(t *testing.T) {
	store := sampleStore(t)

	tests := []struct {
		name    string
		demo    models.Demographics
		variant models.ModelVariant
		segment string
	}{
		{"community non-dual aged", models.Demographics{Age: 67, Sex: "F", DualEligibility: "00"}, models.ModelV28, "CNA"},
		{"community non-dual disabled", models.Demographics{Age: 50, Sex: "M", DualEligibility: "00"}, models.ModelV28, "CND"},
		{"community partial aged", models.Demographics{Age: 67, Sex: "F", DualEligibility: "01"}, models.ModelV28, "CPA"},
		{"community partial disabled", models.Demographics{Age: 40, Sex: "F", DualEligibility: "01"}, models.ModelV28, "CPD"},
		{"community full aged", models.Demographics{Age: 70, Sex: "M", DualEligibility: "02"}, models.ModelV28, "CFA"},
		{"community full disabled", models.Demographics{Age: 30, Sex: "M", DualEligibility: "02"}, models.ModelV28, "CFD"},
		{"new enrollee", models.Demographics{Age: 67, Sex: "F", DualEligibility: "00", NewEnrollee: true}, models.ModelV28, "NE"},
		{"SNP new enrollee", models.Demographics{Age: 67, Sex: "F", DualEligibility: "00", NewEnrollee: true, SNP: true}, models.ModelV28, "SNPNE"},
		{"category override wins", models.Demographics{Age: 87, Sex: "F", DualEligibility: "00", Category: "INS"}, models.ModelV28, "INS"},
		{"ESRD dialysis", models.Demographics{Age: 67, Sex: "F", DualEligibility: "00", ESRD: true}, models.ModelESRDV21, "DI"},
		{"ESRD dialysis new enrollee", models.Demographics{Age: 67, Sex: "F", DualEligibility: "00", ESRD: true, NewEnrollee: true}, models.ModelESRDV21, "DNE"},
		{"ESRD graft 0-3 months", models.Demographics{Age: 67, Sex: "F", DualEligibility: "00", ESRD: true, GraftMonths: intPtr(2)}, models.ModelESRDV21, "GRAFT_0_3"},
		{"ESRD graft 4-9 months", models.Demographics{Age: 67, Sex: "F", DualEligibility: "00", ESRD: true, GraftMonths: intPtr(7)}, models.ModelESRDV21, "GRAFT_4_9"},
		{"ESRD graft 10+ months scores as dialysis", models.Demographics{Age: 67, Sex: "F", DualEligibility: "00", ESRD: true, GraftMonths: intPtr(12)}, models.ModelESRDV21, "DI"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Classify(tt.demo, tt.variant, store)
			require.NoError(t, err)
			assert.Equal(t, tt.segment, c.Segment)
		})
	}
}

func TestClassifyModifiers(t *testing.T) {
	store := sampleStore(t)

	c, err := Classify(models.Demographics{Age: 67, Sex: "F", DualEligibility: "00", OrigDisabled: true}, models.ModelV28, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"OriginallyDisabled_Female"}, c.Modifiers)

	c, err = Classify(models.Demographics{Age: 70, Sex: "M", DualEligibility: "00", OrigDisabled: true, LowIncome: true}, models.ModelV28, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"OriginallyDisabled_Male", "LowIncome"}, c.Modifiers)

	// OriginallyDisabled only applies once the beneficiary has aged in.
	c, err = Classify(models.Demographics{Age: 50, Sex: "M", DualEligibility: "00", OrigDisabled: true}, models.ModelV28, store)
	require.NoError(t, err)
	assert.Empty(t, c.Modifiers)

	c, err = Classify(models.Demographics{Age: 87, Sex: "F", DualEligibility: "00", Category: "INS"}, models.ModelV28, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"LTI"}, c.Modifiers)
	assert.True(t, c.Flags[tables.FlagLTI])

	// New-enrollee layouts carry no modifier variables at all.
	c, err = Classify(models.Demographics{Age: 67, Sex: "F", DualEligibility: "00", NewEnrollee: true, OrigDisabled: true}, models.ModelV28, store)
	require.NoError(t, err)
	assert.Empty(t, c.Modifiers)
	assert.True(t, c.NewEnrolleeLayout())
}

func TestClassifyFlags(t *testing.T) {
	store := sampleStore(t)

	c, err := Classify(models.Demographics{Age: 67, Sex: "F", DualEligibility: "01", LowIncome: true}, models.ModelV28, store)
	require.NoError(t, err)

	assert.True(t, c.Flags[tables.FlagFemale])
	assert.False(t, c.Flags[tables.FlagMale])
	assert.True(t, c.Flags[tables.FlagAged])
	assert.False(t, c.Flags[tables.FlagDisabled])
	assert.True(t, c.Flags[tables.FlagDualPartial])
	assert.False(t, c.Flags[tables.FlagNonDual])
	assert.True(t, c.Flags[tables.FlagLowIncome])
	assert.False(t, c.Flags[tables.FlagNewEnrollee])
}

func TestClassifyGraftSegmentNotInTables(t *testing.T) {
	store := testStore(t, "model_name,segment,variable,coefficient\nCMS-HCC ESRD Model V21,DI,F65_69,1.04\n")

	demo := models.Demographics{Age: 67, Sex: "F", DualEligibility: "00", ESRD: true, GraftMonths: intPtr(2)}
	_, err := Classify(demo, models.ModelESRDV21, store)
	var cfgErr *customErrors.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
