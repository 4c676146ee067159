// Package acm parses and validates the access control marking attached to
// every object. Validation is a pure function: it either yields the canonical
// form of the marking or an error, and the rest of the system only ever
// consults the canonical form.
package acm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"odrive/pkg/types"
)

var (
	ErrMalformedACM    = errors.New("acm: malformed marking document")
	ErrPolicyViolation = errors.New("acm: marking violates classification policy")
)

// ACM is the structured classification marking carried by an object.
// Field names follow the wire form used by the marking authority.
type ACM struct {
	Version                 string   `json:"version"`
	Classif                 string   `json:"classif"`
	OverallBanner           string   `json:"banner"`
	PortionMark             string   `json:"portion"`
	OwnerProducer           []string `json:"owner_prod,omitempty"`
	SCIControls             []string `json:"sci_ctrls,omitempty"`
	SpecialAccessRequiredID []string `json:"sar_id,omitempty"`
	DisseminationControls   []string `json:"dissem_ctrls,omitempty"`
	ReleasableTo            []string `json:"rel_to,omitempty"`
	DisseminationCountries  []string `json:"dissem_countries,omitempty"`
}

// Classification levels, lowest to highest.
var classifLevels = map[string]int{
	"U":  0,
	"C":  1,
	"S":  2,
	"TS": 3,
}

var classifLongForm = map[string]string{
	"U":  "UNCLASSIFIED",
	"C":  "CONFIDENTIAL",
	"S":  "SECRET",
	"TS": "TOP SECRET",
}

// Dissemination controls that demand a non-empty control-set field.
const (
	ctrlSpecialAccess = "SAR"
	ctrlSCI           = "SCI"
)

// Parse decodes a raw marking document. Unknown fields and type mismatches
// are malformed, not ignored; the marking is a security boundary.
func Parse(raw []byte) (ACM, error) {
	var parsed ACM
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&parsed); err != nil {
		return ACM{}, fmt.Errorf("%w: %v", ErrMalformedACM, err)
	}
	return parsed, nil
}

// Validate checks a marking for completeness and internal consistency and
// returns its canonical form. Validating an already-canonical marking
// returns it unchanged.
func Validate(a ACM) (ACM, error) {
	if a.Version == "" {
		return ACM{}, fmt.Errorf("%w: missing version", ErrMalformedACM)
	}
	if a.Classif == "" {
		return ACM{}, fmt.Errorf("%w: missing classif", ErrMalformedACM)
	}
	if a.OverallBanner == "" {
		return ACM{}, fmt.Errorf("%w: missing banner", ErrMalformedACM)
	}
	if a.PortionMark == "" {
		return ACM{}, fmt.Errorf("%w: missing portion", ErrMalformedACM)
	}

	canonical := a
	canonical.Classif = strings.ToUpper(strings.TrimSpace(a.Classif))
	if _, ok := classifLevels[canonical.Classif]; !ok {
		return ACM{}, fmt.Errorf("%w: unknown classification level %q", ErrMalformedACM, a.Classif)
	}

	canonical.OverallBanner = strings.ToUpper(strings.TrimSpace(a.OverallBanner))
	canonical.PortionMark = strings.ToUpper(strings.TrimSpace(a.PortionMark))
	canonical.OwnerProducer = canonicalSet(a.OwnerProducer)
	canonical.SCIControls = canonicalSet(a.SCIControls)
	canonical.SpecialAccessRequiredID = canonicalSet(a.SpecialAccessRequiredID)
	canonical.DisseminationControls = canonicalSet(a.DisseminationControls)
	canonical.ReleasableTo = canonicalSet(a.ReleasableTo)
	canonical.DisseminationCountries = canonicalSet(a.DisseminationCountries)

	// The banner must lead with the long form of the classification level.
	longForm := classifLongForm[canonical.Classif]
	if !strings.HasPrefix(canonical.OverallBanner, longForm) {
		return ACM{}, fmt.Errorf("%w: banner %q does not match classification %s",
			ErrPolicyViolation, canonical.OverallBanner, canonical.Classif)
	}

	// A marking that claims special-access or compartmented handling must
	// name the programs; an empty control set cannot be enforced.
	if containsString(canonical.DisseminationControls, ctrlSpecialAccess) && len(canonical.SpecialAccessRequiredID) == 0 {
		return ACM{}, fmt.Errorf("%w: SAR dissemination control without sar_id", ErrPolicyViolation)
	}
	if containsString(canonical.DisseminationControls, ctrlSCI) && len(canonical.SCIControls) == 0 {
		return ACM{}, fmt.Errorf("%w: SCI dissemination control without sci_ctrls", ErrPolicyViolation)
	}

	return canonical, nil
}

// ParseAndValidate is the boundary entry point: raw bytes in, canonical
// marking out.
func ParseAndValidate(raw []byte) (ACM, error) {
	parsed, err := Parse(raw)
	if err != nil {
		return ACM{}, err
	}
	return Validate(parsed)
}

// Marshal renders the canonical wire form.
func (a ACM) Marshal() (string, error) {
	out, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("acm: marshal: %w", err)
	}
	return string(out), nil
}

// Dominates reports whether a principal's attributes satisfy every
// constraint the marking imposes. This is the mandatory gate: no
// discretionary grant can override a false result.
func Dominates(attrs types.UserAttributes, a ACM) bool {
	if !containsFold(attrs.Clearance, a.Classif) {
		return false
	}
	for _, ctrl := range a.SCIControls {
		if !containsFold(attrs.SCIControls, ctrl) {
			return false
		}
	}
	for _, sar := range a.SpecialAccessRequiredID {
		if !containsFold(attrs.SARAccess, sar) {
			return false
		}
	}
	if len(a.ReleasableTo) > 0 && !containsFold(a.ReleasableTo, attrs.Country) {
		return false
	}
	return true
}

// Level returns the numeric rank of the marking's classification; higher
// means more restrictive. Callers must only pass validated markings.
func (a ACM) Level() int {
	return classifLevels[a.Classif]
}

func canonicalSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
