package tables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalInput(ccs []int, flags ...string) EvalInput {
	in := EvalInput{CCs: make(map[int]bool), Flags: make(map[string]bool)}
	for _, cc := range ccs {
		in.CCs[cc] = true
	}
	for _, f := range flags {
		in.Flags[f] = true
	}
	return in
}

func TestParseInteractionFires(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		input      EvalInput
		fires      bool
	}{
		{"single HCC present", "HCC38", evalInput([]int{38}), true},
		{"single HCC absent", "HCC38", evalInput([]int{226}), false},
		{"any matches second", "ANY(36, 37, 38)", evalInput([]int{37}), true},
		{"any matches none", "ANY(36, 37, 38)", evalInput([]int{226}), false},
		{"and both sides", "ANY(36, 37, 38) AND ANY(226)", evalInput([]int{37, 226}), true},
		{"and one side", "ANY(36, 37, 38) AND ANY(226)", evalInput([]int{37}), false},
		{"or either side", "HCC19 OR HCC23", evalInput([]int{23}), true},
		{"not inverts", "NOT HCC19", evalInput([]int{23}), true},
		{"parens group or under and", "(HCC19 OR HCC23) AND FEMALE", evalInput([]int{23}, FlagFemale), true},
		{"and binds tighter than or", "HCC19 AND HCC23 OR FEMALE", evalInput(nil, FlagFemale), true},
		{"count all exact", "COUNT(ALL) = 3", evalInput([]int{19, 23, 38}), true},
		{"count all below threshold", "COUNT(ALL) >= 10", evalInput([]int{19, 23, 38}), false},
		{"count list", "COUNT(19, 23, 38) >= 2", evalInput([]int{19, 38, 226}), true},
		{"flag conjunction", "NEW_ENROLLEE AND NON_DUAL AND NOT ORIGDS", evalInput(nil, FlagNewEnrollee, FlagNonDual), true},
		{"flag conjunction blocked", "NEW_ENROLLEE AND NON_DUAL AND NOT ORIGDS", evalInput(nil, FlagNewEnrollee, FlagNonDual, FlagOrigDisabled), false},
		{"lowercase tokens accepted", "hcc38 and female", evalInput([]int{38}, FlagFemale), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := ParseInteraction("X", tt.expression)
			require.NoError(t, err)
			assert.Equal(t, tt.fires, def.Fires(tt.input))
		})
	}
}

func TestParseInteractionDemographicOnly(t *testing.T) {
	tests := []struct {
		expression string
		demOnly    bool
	}{
		{"NEW_ENROLLEE AND NON_DUAL AND NOT ORIGDS", true},
		{"FEMALE OR MALE", true},
		{"HCC38 AND FEMALE", false},
		{"COUNT(ALL) >= 4", false},
		{"NOT ANY(19, 23)", false},
	}

	for _, tt := range tests {
		def, err := ParseInteraction("X", tt.expression)
		require.NoError(t, err)
		assert.Equal(t, tt.demOnly, def.DemographicOnly(), tt.expression)
	}
}

func TestParseInteractionErrors(t *testing.T) {
	tests := []struct {
		name       string
		expression string
	}{
		{"unknown identifier", "HCC38 AND SOMEDAY"},
		{"bare HCC keyword", "HCC"},
		{"unbalanced paren", "(HCC19 OR HCC23"},
		{"trailing garbage", "HCC19 HCC23"},
		{"empty any list", "ANY()"},
		{"count without comparison", "COUNT(ALL)"},
		{"misplaced keyword", "AND HCC19"},
		{"bad character", "HCC19 & HCC23"},
		{"empty expression", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInteraction("X", tt.expression)
			assert.Error(t, err)
		})
	}
}
