package models

import (
	"testing"

	customErrors "github.com/CMSgov/raf-app/raf/errors"
	"github.com/stretchr/testify/assert"
)

func TestParseModelVariant(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		hasError bool
		variant  ModelVariant
	}{
		{"shortTag", "V28", false, ModelV28},
		{"shortTagLower", "v24", false, ModelV24},
		{"longName", "CMS-HCC Model V22", false, ModelV22},
		{"esrdShort", "ESRD_V21", false, ModelESRDV21},
		{"esrdLong", "CMS-HCC ESRD Model V24", false, ModelESRDV24},
		{"rx", "RxHCC Model V08", false, ModelRxV08},
		{"whitespace", "  V28  ", false, ModelV28},
		{"unknown", "CMS-HCC Model V99", true, ModelUnknown},
		{"empty", "", true, ModelUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(sub *testing.T) {
			variant, err := ParseModelVariant(tt.input)
			if tt.hasError {
				assert.Error(sub, err)
				var cfgErr *customErrors.ConfigurationError
				assert.ErrorAs(sub, err, &cfgErr)
			} else {
				assert.NoError(sub, err)
			}
			assert.Equal(sub, tt.variant, variant)
		})
	}
}

func TestModelVariantNames(t *testing.T) {
	assert.Equal(t, "CMS-HCC Model V28", ModelV28.String())
	assert.Equal(t, "V28", ModelV28.ShortName())
	assert.Equal(t, "CMS-HCC ESRD Model V21", ModelESRDV21.String())
	assert.True(t, ModelESRDV21.IsESRD())
	assert.False(t, ModelV28.IsESRD())
	assert.True(t, ModelRxV08.IsRx())
	assert.Equal(t, "V4", ModelRxV08.SoftwareVersion())
	assert.Equal(t, "V2", ModelV24.SoftwareVersion())
	assert.Equal(t, "Unknown Model", ModelUnknown.String())
}

func TestDemographicsNormalize(t *testing.T) {
	tests := []struct {
		name     string
		in       Demographics
		wantSex  string
		wantDual string
	}{
		{"numericMale", Demographics{Sex: "1"}, "M", "00"},
		{"numericFemale", Demographics{Sex: "2"}, "F", "00"},
		{"lowercase", Demographics{Sex: "f", DualEligibility: "02"}, "F", "02"},
		{"naDual", Demographics{Sex: "M", DualEligibility: "NA"}, "M", "00"},
		{"blankDual", Demographics{Sex: "M", DualEligibility: ""}, "M", "00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(sub *testing.T) {
			d := tt.in
			d.Normalize()
			assert.Equal(sub, tt.wantSex, d.Sex)
			assert.Equal(sub, tt.wantDual, d.DualEligibility)
		})
	}
}

func TestDemographicsValidate(t *testing.T) {
	graft := 2
	negGraft := -1
	tests := []struct {
		name    string
		demo    Demographics
		variant ModelVariant
		errMsg  string
	}{
		{"valid", Demographics{Age: 67, Sex: "F", DualEligibility: "00"}, ModelV28, ""},
		{"negativeAge", Demographics{Age: -1, Sex: "F", DualEligibility: "00"}, ModelV28, "age"},
		{"badSex", Demographics{Age: 67, Sex: "X", DualEligibility: "00"}, ModelV28, "sex"},
		{"badDual", Demographics{Age: 67, Sex: "F", DualEligibility: "03"}, ModelV28, "dual_eligibility"},
		{"badCategory", Demographics{Age: 67, Sex: "F", DualEligibility: "00", Category: "ZZZ"}, ModelV28, "category"},
		{"graftOnCommunityModel", Demographics{Age: 67, Sex: "F", DualEligibility: "00", GraftMonths: &graft}, ModelV28, "graft_months"},
		{"negativeGraft", Demographics{Age: 67, Sex: "F", DualEligibility: "00", ESRD: true, GraftMonths: &negGraft}, ModelESRDV24, "graft_months"},
		{"esrdModelWithoutESRD", Demographics{Age: 67, Sex: "F", DualEligibility: "00"}, ModelESRDV24, "esrd"},
		{"esrdValid", Demographics{Age: 72, Sex: "M", DualEligibility: "00", ESRD: true, GraftMonths: &graft}, ModelESRDV24, ""},
		{"insOverride", Demographics{Age: 80, Sex: "F", DualEligibility: "00", Category: "INS"}, ModelV24, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(sub *testing.T) {
			d := tt.demo
			d.Normalize()
			err := d.Validate(tt.variant)
			if tt.errMsg == "" {
				assert.NoError(sub, err)
				return
			}
			var demoErr *customErrors.InvalidDemographicsError
			assert.ErrorAs(sub, err, &demoErr)
			assert.Equal(sub, tt.errMsg, demoErr.Field)
		})
	}
}

func TestServiceRecordLinkedDiagnoses(t *testing.T) {
	rec := ServiceRecord{
		DiagnosisCodes:          []string{"E119", "I10", "N183"},
		LinkedDiagnosisPointers: []int{1, 3},
	}
	assert.Equal(t, []string{"E119", "N183"}, rec.LinkedDiagnoses())

	rec.LinkedDiagnosisPointers = nil
	assert.Equal(t, []string{"E119", "I10", "N183"}, rec.LinkedDiagnoses())

	rec.LinkedDiagnosisPointers = []int{2, 9}
	assert.Equal(t, []string{"I10"}, rec.LinkedDiagnoses())
}

func TestServiceRecordValidate(t *testing.T) {
	rec := ServiceRecord{
		DiagnosisCodes:          []string{"E119"},
		LinkedDiagnosisPointers: []int{2},
	}
	assert.Error(t, rec.Validate())

	rec.LinkedDiagnosisPointers = []int{1}
	assert.NoError(t, rec.Validate())

	rec.ProcedureModifiers = []string{"25", "59", "LT", "RT", "GA"}
	assert.Error(t, rec.Validate())
}

func TestNormalizeDiagnosisCode(t *testing.T) {
	assert.Equal(t, "E119", NormalizeDiagnosisCode("E11.9"))
	assert.Equal(t, "N186", NormalizeDiagnosisCode(" n18.6 "))
	assert.Equal(t, "I10", NormalizeDiagnosisCode("I10"))
	assert.Equal(t, "", NormalizeDiagnosisCode("  "))
}
