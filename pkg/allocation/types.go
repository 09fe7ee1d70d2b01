// Package allocation implements the ordered rule engine that evaluates a
// (student, mentor) pair and the ranking policy that picks a winner among
// passing mentors. Raw inputs arrive loosely typed and are resolved into
// compile-time-checked normalized structs with a closed RuleCode enum
// before any rule runs.
package allocation

// RuleCode enumerates the fixed, ordered rule set.
type RuleCode string

const (
	RuleGenderMatch           RuleCode = "GENDER_MATCH"
	RuleGroupAllowed          RuleCode = "GROUP_ALLOWED"
	RuleCenterAllowed         RuleCode = "CENTER_ALLOWED"
	RuleRegStatusAllowed      RuleCode = "REG_STATUS_ALLOWED"
	RuleCapacityAvailable     RuleCode = "CAPACITY_AVAILABLE"
	RuleSchoolTypeCompatible  RuleCode = "SCHOOL_TYPE_COMPATIBLE"
	RuleGraduateNotToSchool   RuleCode = "GRADUATE_NOT_TO_SCHOOL"
	RuleManagerCenterGate     RuleCode = "MANAGER_CENTER_GATE"
)

// MentorType is the closed enum for mentor classification.
type MentorType string

const (
	MentorNormal MentorType = "NORMAL"
	MentorSchool MentorType = "SCHOOL"
)

// Student is the raw, pre-normalization student record as received from the
// caller. Fields are `any` because the source data may arrive as strings,
// Persian-digit strings, or numbers; Policy.NormalizeStudent resolves them.
type Student struct {
	Gender     any
	GroupCode  any
	RegCenter  any
	RegStatus  any
	EduStatus  any
	SchoolCode any
	StudentType any
	RosterYear any
}

// Mentor is the raw, pre-normalization mentor record.
type Mentor struct {
	MentorID       any
	Gender         any
	AllowedGroups  []any
	AllowedCenters []any
	Capacity       any
	CurrentLoad    any
	IsActive       any
	MentorType     any
	SpecialSchools []any
	ManagerID      any
}

// NormalizedStudent is the validated, immutable student shape used by the
// rule engine. Constructed exclusively via Policy.NormalizeStudent.
type NormalizedStudent struct {
	Gender      int
	GroupCode   string
	RegCenter   int
	RegStatus   int
	EduStatus   int
	SchoolCode  *int
	StudentType int
	RosterYear  *int
	Warnings    map[string]struct{}
}

// NormalizedMentor is the validated, immutable mentor shape.
type NormalizedMentor struct {
	MentorID       int
	Gender         int
	AllowedGroups  map[string]struct{}
	AllowedCenters map[int]struct{}
	Capacity       int
	CurrentLoad    int
	IsActive       bool
	MentorType     MentorType
	SpecialSchools map[int]struct{}
	ManagerID      *int
}

// RuleResult is the outcome of evaluating a single rule against a
// (student, mentor) pair.
type RuleResult struct {
	Code    RuleCode
	Passed  bool
	Details map[string]any
}

// RankingKey is present only for mentors that pass every rule; winners
// minimize it lexicographically.
type RankingKey struct {
	OccupancyRatio float64
	CurrentLoad    int
	MentorID       int
}

// Less implements the lexicographic comparison winners are chosen by.
func (k RankingKey) Less(other RankingKey) bool {
	if k.OccupancyRatio != other.OccupancyRatio {
		return k.OccupancyRatio < other.OccupancyRatio
	}
	if k.CurrentLoad != other.CurrentLoad {
		return k.CurrentLoad < other.CurrentLoad
	}
	return k.MentorID < other.MentorID
}

// AllocationTrace is the ordered sequence of rule results for one mentor
// plus its ranking key, if it passed every rule.
type AllocationTrace struct {
	MentorID int
	Results  []RuleResult
	Passed   bool
	Ranking  *RankingKey
}

// NormalizationError is raised when a raw field can't be coerced into its
// validated shape; RuleCode names the rule the offending field feeds.
type NormalizationError struct {
	RuleCode RuleCode
	Message  string
	Details  map[string]any
}

func (e *NormalizationError) Error() string { return e.Message }
