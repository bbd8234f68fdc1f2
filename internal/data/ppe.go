package data

import "fmt"

// PPEClasses is the closed set of equipment classes the detector can report.
// Company configuration and detector payloads are both validated against it.
var PPEClasses = []string{
	"helmet",
	"safety_vest",
	"safety_shoes",
	"gloves",
	"glasses",
	"face_mask",
	"hairnet",
	"apron",
	"safety_suit",
}

var ppeClassSet = func() map[string]struct{} {
	s := make(map[string]struct{}, len(PPEClasses))
	for _, c := range PPEClasses {
		s[c] = struct{}{}
	}
	return s
}()

// IsPPEClass reports whether name is a known equipment class.
func IsPPEClass(name string) bool {
	_, ok := ppeClassSet[name]
	return ok
}

// ValidatePPEConfig checks both lists against the known classes and rejects
// classes listed as required and optional at the same time. The returned
// error names the first offending value.
func ValidatePPEConfig(required, optional []string) error {
	for _, c := range required {
		if !IsPPEClass(c) {
			return fmt.Errorf("unknown ppe class %q", c)
		}
	}
	seen := make(map[string]struct{}, len(required))
	for _, c := range required {
		seen[c] = struct{}{}
	}
	for _, c := range optional {
		if !IsPPEClass(c) {
			return fmt.Errorf("unknown ppe class %q", c)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("ppe class %q listed as both required and optional", c)
		}
	}
	return nil
}
