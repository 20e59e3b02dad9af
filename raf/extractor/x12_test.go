package extractor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customErrors "github.com/CMSgov/raf-app/raf/errors"
)

func loadFixture(t *testing.T, name string) string {
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(b)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func TestExtractServiceRecords(t *testing.T) {
	tests := []struct {
		fixture    string
		count      int
		claimTypes map[string]int
		firstDx    []string
	}{
		{"professional_single.837", 1, map[string]int{"71": 1}, []string{"E119", "I10", "N183"}},
		{"professional_multi_line.837", 3, map[string]int{"71": 3}, []string{"E119", "I10", "N183"}},
		{"professional_multi_claim.837", 2, map[string]int{"71": 2}, []string{"E119", "I10", "N183"}},
		{"institutional_outpatient.837", 1, map[string]int{"72": 1}, []string{"E119", "N183"}},
		{"institutional_inpatient.837", 1, map[string]int{"73": 1}, []string{"N186", "E1122", "I509"}},
		{"claim_no_service_lines.837", 1, map[string]int{"73": 1}, []string{"I509", "E119"}},
		{"missing_secondary_dx.837", 1, map[string]int{"71": 1}, []string{"E119"}},
		{"unknown_qualifier.837", 1, map[string]int{"": 1}, []string{"E119", "I10"}},
		{"nondefault_separators.837", 1, map[string]int{"71": 1}, []string{"E119", "N1832"}},
		{"multiple_envelopes.837", 2, map[string]int{"71": 1, "72": 1}, []string{"E119"}},
		{"mixed_claims.837", 2, map[string]int{"72": 1, "73": 1}, []string{"N186", "E1122", "I509"}},
		{"blank_segments.837", 1, map[string]int{"71": 1}, []string{"E119", "I10", "N183"}},
	}
	for _, tt := range tests {
		t.Run(tt.fixture, func(sub *testing.T) {
			records, err := ExtractServiceRecords(loadFixture(sub, tt.fixture), testLogger())
			require.NoError(sub, err)
			require.Len(sub, records, tt.count)

			distribution := make(map[string]int)
			for _, r := range records {
				distribution[r.ClaimType]++
			}
			assert.Equal(sub, tt.claimTypes, distribution)

			first := records[0].DiagnosisCodes
			require.GreaterOrEqual(sub, len(first), len(tt.firstDx))
			assert.Equal(sub, tt.firstDx, first[:len(tt.firstDx)])
		})
	}
}

func TestExtractProfessionalLineDetails(t *testing.T) {
	records, err := ExtractServiceRecords(loadFixture(t, "professional_single.837"), testLogger())
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "99213", rec.ProcedureCode)
	assert.Equal(t, []string{"25"}, rec.ProcedureModifiers)
	assert.Equal(t, []int{1, 2}, rec.LinkedDiagnosisPointers)
	assert.Equal(t, "11", rec.PlaceOfService)
	assert.Equal(t, "", rec.BillType)
	assert.Equal(t, "207Q00000X", rec.ProviderSpecialty)
	assert.Equal(t, "9876543210", rec.PerformingProviderNPI)

	require.NotNil(t, rec.ServiceDate)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), *rec.ServiceDate)
	assert.NoError(t, rec.Validate())
}

func TestExtractInstitutionalBillType(t *testing.T) {
	records, err := ExtractServiceRecords(loadFixture(t, "institutional_outpatient.837"), testLogger())
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "131", rec.BillType)
	assert.Equal(t, "99285", rec.ProcedureCode)
	assert.Empty(t, rec.LinkedDiagnosisPointers)
}

func TestExtractClaimLevelRecordHasNoProcedure(t *testing.T) {
	records, err := ExtractServiceRecords(loadFixture(t, "claim_no_service_lines.837"), testLogger())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].ProcedureCode)
	require.NotNil(t, records[0].ServiceDate)
	require.NotNil(t, records[0].ThroughDate)
	assert.True(t, records[0].ThroughDate.After(*records[0].ServiceDate))
}

func TestExtractMalformedEnvelopes(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unterminated", loadFixture(t, "unterminated.837")},
		{"noISA", "GS*HC*X*Y*20240101*1000*1*X*005010X222A1~"},
		{"truncatedISA", "ISA*00*          *00"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(sub *testing.T) {
			_, err := ExtractServiceRecords(tt.input, testLogger())
			require.Error(sub, err)
			var envErr *customErrors.MalformedEnvelopeError
			assert.ErrorAs(sub, err, &envErr)
		})
	}
}

func TestDiscoverSeparators(t *testing.T) {
	input := loadFixture(t, "professional_single.837")
	seps, err := discoverSeparators(input)
	require.NoError(t, err)
	assert.Equal(t, byte('*'), seps.element)
	assert.Equal(t, byte('^'), seps.repetition)
	assert.Equal(t, byte(':'), seps.subElement)
	assert.Equal(t, byte('~'), seps.terminator)

	nd := loadFixture(t, "nondefault_separators.837")
	seps, err = discoverSeparators(nd)
	require.NoError(t, err)
	assert.Equal(t, byte('|'), seps.element)
	assert.Equal(t, byte('!'), seps.subElement)
	assert.Equal(t, byte('$'), seps.terminator)
}

func TestSniff837(t *testing.T) {
	assert.True(t, Sniff837("  \nISA*00*"))
	assert.False(t, Sniff837(`{"resourceType":"Bundle"}`))
}
