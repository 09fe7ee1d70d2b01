package export

import "sort"

// schoolCodeSortKey treats an absent/blank school_code as 999999 so
// school-less students sort after every assigned school.
func schoolCodeSortKey(code string) string {
	if code == "" {
		return "999999"
	}
	return code
}

// SortRows stably sorts rows by the fixed lexicographic key
// (year_code, reg_center, group_code, school_code-or-999999, national_id).
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.YearCode != b.YearCode {
			return a.YearCode < b.YearCode
		}
		if a.RegCenter != b.RegCenter {
			return a.RegCenter < b.RegCenter
		}
		if a.GroupCode != b.GroupCode {
			return a.GroupCode < b.GroupCode
		}
		ak, bk := schoolCodeSortKey(a.SchoolCode), schoolCodeSortKey(b.SchoolCode)
		if ak != bk {
			return ak < bk
		}
		return a.NationalID < b.NationalID
	})
}
