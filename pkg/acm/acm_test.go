package acm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odrive/pkg/types"
)

const rawUnclassified = `{"version":"2.1.0","classif":"U","banner":"UNCLASSIFIED","portion":"U"}`

func TestParseAndValidate_Unclassified(t *testing.T) {
	marking, err := ParseAndValidate([]byte(rawUnclassified))
	require.NoError(t, err)
	assert.Equal(t, "U", marking.Classif)
	assert.Equal(t, "UNCLASSIFIED", marking.OverallBanner)
	assert.Equal(t, 0, marking.Level())
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := ParseAndValidate([]byte(`{"version":`))
	assert.ErrorIs(t, err, ErrMalformedACM)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := ParseAndValidate([]byte(`{"version":"2.1.0","classif":"U","banner":"UNCLASSIFIED","portion":"U","bogus":1}`))
	assert.ErrorIs(t, err, ErrMalformedACM)
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	cases := map[string]ACM{
		"version": {Classif: "U", OverallBanner: "UNCLASSIFIED", PortionMark: "U"},
		"classif": {Version: "2.1.0", OverallBanner: "UNCLASSIFIED", PortionMark: "U"},
		"banner":  {Version: "2.1.0", Classif: "U", PortionMark: "U"},
		"portion": {Version: "2.1.0", Classif: "U", OverallBanner: "UNCLASSIFIED"},
	}
	for name, in := range cases {
		_, err := Validate(in)
		assert.ErrorIs(t, err, ErrMalformedACM, "missing %s should be malformed", name)
	}
}

func TestValidate_UnknownClassification(t *testing.T) {
	_, err := Validate(ACM{Version: "2.1.0", Classif: "X", OverallBanner: "X", PortionMark: "X"})
	assert.ErrorIs(t, err, ErrMalformedACM)
}

func TestValidate_BannerMismatch(t *testing.T) {
	_, err := Validate(ACM{Version: "2.1.0", Classif: "S", OverallBanner: "UNCLASSIFIED", PortionMark: "S"})
	assert.ErrorIs(t, err, ErrPolicyViolation)
}

func TestValidate_SARWithoutPrograms(t *testing.T) {
	_, err := Validate(ACM{
		Version:               "2.1.0",
		Classif:               "TS",
		OverallBanner:         "TOP SECRET//SAR",
		PortionMark:           "TS",
		DisseminationControls: []string{"SAR"},
	})
	assert.ErrorIs(t, err, ErrPolicyViolation)
}

func TestValidate_SCIWithoutControls(t *testing.T) {
	_, err := Validate(ACM{
		Version:               "2.1.0",
		Classif:               "TS",
		OverallBanner:         "TOP SECRET//SCI",
		PortionMark:           "TS",
		DisseminationControls: []string{"SCI"},
	})
	assert.ErrorIs(t, err, ErrPolicyViolation)
}

func TestValidate_ControlSetsSatisfied(t *testing.T) {
	marking, err := Validate(ACM{
		Version:                 "2.1.0",
		Classif:                 "ts",
		OverallBanner:           "top secret//sar",
		PortionMark:             "TS",
		DisseminationControls:   []string{"SAR"},
		SpecialAccessRequiredID: []string{"bp", "ap"},
	})
	require.NoError(t, err)
	assert.Equal(t, "TS", marking.Classif)
	// Control sets come back sorted and uppercased.
	assert.Equal(t, []string{"AP", "BP"}, marking.SpecialAccessRequiredID)
}

func TestValidate_CanonicalizationIdempotent(t *testing.T) {
	first, err := Validate(ACM{
		Version:       "2.1.0",
		Classif:       " s ",
		OverallBanner: "secret//rel to usa, gbr",
		PortionMark:   "s",
		ReleasableTo:  []string{"gbr", "USA", "usa"},
	})
	require.NoError(t, err)

	second, err := Validate(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDominates_ClearanceGate(t *testing.T) {
	secret, err := Validate(ACM{Version: "2.1.0", Classif: "S", OverallBanner: "SECRET", PortionMark: "S"})
	require.NoError(t, err)

	cleared := types.UserAttributes{Clearance: []string{"u", "c", "s"}, Country: "USA"}
	uncleared := types.UserAttributes{Clearance: []string{"u"}, Country: "USA"}

	assert.True(t, Dominates(cleared, secret))
	assert.False(t, Dominates(uncleared, secret))
}

func TestDominates_Compartments(t *testing.T) {
	marking, err := Validate(ACM{
		Version:               "2.1.0",
		Classif:               "TS",
		OverallBanner:         "TOP SECRET//SCI",
		PortionMark:           "TS",
		DisseminationControls: []string{"SCI"},
		SCIControls:           []string{"TK", "SI"},
	})
	require.NoError(t, err)

	fullAccess := types.UserAttributes{Clearance: []string{"u", "c", "s", "ts"}, SCIControls: []string{"SI", "TK", "G"}, Country: "USA"}
	partial := types.UserAttributes{Clearance: []string{"u", "c", "s", "ts"}, SCIControls: []string{"SI"}, Country: "USA"}

	assert.True(t, Dominates(fullAccess, marking))
	assert.False(t, Dominates(partial, marking))
}

func TestDominates_ReleasableTo(t *testing.T) {
	marking, err := Validate(ACM{
		Version:       "2.1.0",
		Classif:       "S",
		OverallBanner: "SECRET//REL TO USA, GBR",
		PortionMark:   "S",
		ReleasableTo:  []string{"USA", "GBR"},
	})
	require.NoError(t, err)

	domestic := types.UserAttributes{Clearance: []string{"u", "c", "s"}, Country: "USA"}
	foreign := types.UserAttributes{Clearance: []string{"u", "c", "s"}, Country: "FRA"}

	assert.True(t, Dominates(domestic, marking))
	assert.False(t, Dominates(foreign, marking))
}
