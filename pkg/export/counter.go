package export

import (
	"fmt"
	"regexp"
)

// counterPattern matches a 9-digit counter: 2-digit serial-year prefix, a
// gender-coded 3-digit middle segment (373 for gender 0, 357 for gender
// 1), and a 4-digit sequence tail. The prefix is an opaque serial-year
// code assigned upstream; it is not derived from filters.year, so it is
// shape-checked only.
var counterPattern = regexp.MustCompile(`^(\d{2})(357|373)(\d{4})$`)

// genderMiddleDigits maps gender to its counter middle segment.
var genderMiddleDigits = map[int]string{0: "373", 1: "357"}

// ValidateCounter checks counter against the fixed pattern and the
// gender-correct middle segment.
func ValidateCounter(counter string, gender int, _ int) error {
	m := counterPattern.FindStringSubmatch(counter)
	if m == nil {
		return fmt.Errorf("EXPORT_VALIDATION_ERROR:counter")
	}
	expectedMiddle, ok := genderMiddleDigits[gender]
	if !ok || m[2] != expectedMiddle {
		return fmt.Errorf("EXPORT_VALIDATION_ERROR:counter")
	}
	return nil
}
