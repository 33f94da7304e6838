package motion

import "strings"

// Canonical test names. Templates are resolved by these keys only.
const (
	TestStandAndSit   = "stand-and-sit"
	TestFingerTapping = "finger-tapping"
	TestFistOpenClose = "fist-open-close"
)

// testNameAliases maps already-normalized inputs to canonical test names.
// The keys are what survives the mechanical rewrite in NormalizeTestName,
// so entries like "stand-&-sit" are listed in their rewritten form.
var testNameAliases = map[string]string{
	"stand-and-sit":            TestStandAndSit,
	"stand-sit":                TestStandAndSit,
	"stand-to-sit":             TestStandAndSit,
	"stand-and-sit-assessment": TestStandAndSit,
	"stand-and-sit-test":       TestStandAndSit,
	"stand-and-sit-evaluation": TestStandAndSit,
	"finger-tapping":            TestFingerTapping,
	"finger-tapping-test":       TestFingerTapping,
	"finger-tapping-assessment": TestFingerTapping,
	"finger-taping":             TestFingerTapping,
	"finger-tap":                TestFingerTapping,
	"fist-open-close":            TestFistOpenClose,
	"fist-open-close-test":       TestFistOpenClose,
	"fist-open-close-assessment": TestFistOpenClose,
	"palm-open":                  TestFistOpenClose,
}

// NormalizeTestName canonicalizes a clinician-supplied test label:
// lowercase, whitespace and underscores become dashes, "&" becomes "and",
// repeated dashes collapse, then the alias table is consulted. Unknown
// inputs pass through unchanged so callers can report them verbatim.
func NormalizeTestName(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	if t == "" {
		return ""
	}
	t = strings.NewReplacer(" ", "-", "_", "-", "\t", "-").Replace(t)
	t = strings.ReplaceAll(t, "&", "and")
	for strings.Contains(t, "--") {
		t = strings.ReplaceAll(t, "--", "-")
	}
	if canonical, ok := testNameAliases[t]; ok {
		return canonical
	}
	return t
}

// KnownTest reports whether name is one of the canonical test names.
func KnownTest(name string) bool {
	switch name {
	case TestStandAndSit, TestFingerTapping, TestFistOpenClose:
		return true
	}
	return false
}
