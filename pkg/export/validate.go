package export

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/sabt-export/core/pkg/normalize"
)

var mobilePattern = regexp.MustCompile(`^09\d{9}$`)

var validRegCenters = map[int]struct{}{0: {}, 1: {}, 2: {}}
var validRegStatuses = map[int]struct{}{0: {}, 1: {}, 3: {}}

// SpecialSchools answers whether a school code is flagged special for a
// roster year, used to derive student_type during export normalization.
type SpecialSchools interface {
	IsSpecial(year int, schoolCode string) bool
}

// Normalize applies text folding to every textual field and validates the
// row's structural invariants. It does not mutate r; it returns a
// normalized copy plus a possibly-updated student_type. All validation
// failures are reported as EXPORT_VALIDATION_ERROR:<field>, which callers
// map to a terminal (never retried) outcome.
func Normalize(r Row, filters Filters, roster SpecialSchools) (Row, error) {
	out := r
	out.NationalID = normalize.Text(r.NationalID)
	out.Counter = normalize.Text(r.Counter)
	out.FirstName = normalize.Text(r.FirstName)
	out.LastName = normalize.Text(r.LastName)
	out.Mobile = normalize.Phone(r.Mobile)
	out.GroupCode = normalize.Text(r.GroupCode)
	out.SchoolCode = normalize.Text(r.SchoolCode)
	out.MentorID = normalize.Text(r.MentorID)
	out.MentorName = normalize.Text(r.MentorName)
	out.MentorMobile = normalize.Phone(r.MentorMobile)
	out.YearCode = normalize.Text(r.YearCode)

	if _, ok := validRegCenters[out.RegCenter]; !ok {
		return Row{}, fmt.Errorf("EXPORT_VALIDATION_ERROR:reg_center")
	}
	if _, ok := validRegStatuses[out.RegStatus]; !ok {
		return Row{}, fmt.Errorf("EXPORT_VALIDATION_ERROR:reg_status")
	}
	if !mobilePattern.MatchString(out.Mobile) {
		return Row{}, fmt.Errorf("EXPORT_VALIDATION_ERROR:mobile")
	}
	if err := ValidateCounter(out.Counter, out.Gender, filters.Year); err != nil {
		return Row{}, err
	}
	// school_code may be absent; a present code is zero-padded to six
	// digits rather than required to arrive that way.
	if out.SchoolCode != "" {
		n, err := strconv.Atoi(out.SchoolCode)
		if err != nil || n < 0 {
			return Row{}, fmt.Errorf("EXPORT_VALIDATION_ERROR:school_code")
		}
		out.SchoolCode = fmt.Sprintf("%06d", n)
	}
	if out.AllocationDate.IsZero() {
		return Row{}, fmt.Errorf("EXPORT_VALIDATION_ERROR:allocation_date")
	}

	if roster != nil {
		if roster.IsSpecial(filters.Year, out.SchoolCode) {
			out.StudentType = 1
		} else {
			out.StudentType = 0
		}
	}

	return out, nil
}
