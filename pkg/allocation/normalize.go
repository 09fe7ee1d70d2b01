package allocation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sabt-export/core/pkg/normalize"
)

// Policy owns the provider dependencies and config the rule engine needs,
// and exposes normalization plus evaluation.
type Policy struct {
	SpecialSchools  SpecialSchoolsProvider
	ManagerCenters  ManagerCentersProvider
	FastFail        bool
	TraceLimitRejected *int
}

func toText(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return normalize.Text(t)
	case fmt.Stringer:
		return normalize.Text(t.String())
	default:
		return normalize.Text(fmt.Sprintf("%v", t))
	}
}

func toInt(v any, ruleCode RuleCode, field string, allowNil bool, def int) (*int, error) {
	if v == nil {
		if allowNil {
			return intPtr(def), nil
		}
		return nil, &NormalizationError{RuleCode: ruleCode, Message: fmt.Sprintf("مقدار %s خالی است.", field), Details: map[string]any{"field": field}}
	}
	if n, ok := v.(int); ok {
		return intPtr(n), nil
	}
	text := toText(v)
	if text == "" {
		if allowNil {
			return intPtr(def), nil
		}
		return nil, &NormalizationError{RuleCode: ruleCode, Message: fmt.Sprintf("مقدار %s خالی است.", field), Details: map[string]any{"field": field}}
	}
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return nil, &NormalizationError{RuleCode: ruleCode, Message: fmt.Sprintf("امکان تبدیل %s به عدد وجود ندارد.", field), Details: map[string]any{"field": field, "value": text}}
	}
	return intPtr(n), nil
}

func toEnum(v any, ruleCode RuleCode, field string, allowed ...int) (int, error) {
	n, err := toInt(v, ruleCode, field, false, 0)
	if err != nil {
		return 0, err
	}
	for _, a := range allowed {
		if *n == a {
			return *n, nil
		}
	}
	return 0, &NormalizationError{RuleCode: ruleCode, Message: fmt.Sprintf("مقدار %s خارج از مقادیر مجاز است.", field), Details: map[string]any{"field": field, "value": *n, "allowed": allowed}}
}

func intPtr(n int) *int { return &n }

// NormalizeStudent validates and normalizes a raw Student, including the
// roster-driven student_type derivation: when the roster knows the
// student's (year, school_code), its verdict overrides the supplied type.
func (p *Policy) NormalizeStudent(s Student) (NormalizedStudent, error) {
	warnings := map[string]struct{}{}

	gender, err := toEnum(s.Gender, RuleGenderMatch, "gender", 0, 1)
	if err != nil {
		return NormalizedStudent{}, err
	}

	groupCode := toText(s.GroupCode)
	if groupCode == "" {
		return NormalizedStudent{}, &NormalizationError{RuleCode: RuleGroupAllowed, Message: "کد گروه دانش‌آموز خالی است.", Details: map[string]any{"field": "group_code"}}
	}

	regCenter, err := toEnum(s.RegCenter, RuleCenterAllowed, "reg_center", 0, 1, 2)
	if err != nil {
		return NormalizedStudent{}, err
	}

	regStatus, err := toEnum(s.RegStatus, RuleRegStatusAllowed, "reg_status", 0, 1, 3)
	if err != nil {
		return NormalizedStudent{}, err
	}

	eduStatusPtr, err := toInt(s.EduStatus, RuleGraduateNotToSchool, "edu_status", true, 0)
	if err != nil {
		return NormalizedStudent{}, err
	}

	schoolCode, err := toInt(s.SchoolCode, RuleSchoolTypeCompatible, "school_code", true, 0)
	if err != nil {
		return NormalizedStudent{}, err
	}
	var schoolCodePtr *int
	if s.SchoolCode != nil {
		schoolCodePtr = schoolCode
	}

	rosterYear, err := toInt(s.RosterYear, RuleSchoolTypeCompatible, "roster_year", true, 0)
	if err != nil {
		return NormalizedStudent{}, err
	}
	var rosterYearPtr *int
	if s.RosterYear != nil {
		rosterYearPtr = rosterYear
	}

	providedType := 0
	if s.StudentType != nil {
		pt, err := toEnum(s.StudentType, RuleSchoolTypeCompatible, "student_type", 0, 1)
		if err != nil {
			return NormalizedStudent{}, err
		}
		providedType = pt
	}

	studentType := providedType
	if rosterYearPtr != nil && schoolCodePtr != nil && p.SpecialSchools != nil {
		if schools, ok := p.SpecialSchools.Get(*rosterYearPtr); ok {
			derived := 0
			if _, special := schools[*schoolCodePtr]; special {
				derived = 1
			}
			studentType = derived
			if providedType != derived {
				warnings["student_type_mismatch_roster"] = struct{}{}
			}
		}
	}

	eduStatus := 0
	if eduStatusPtr != nil {
		eduStatus = *eduStatusPtr
	}

	return NormalizedStudent{
		Gender:      gender,
		GroupCode:   groupCode,
		RegCenter:   regCenter,
		RegStatus:   regStatus,
		EduStatus:   eduStatus,
		SchoolCode:  schoolCodePtr,
		StudentType: studentType,
		RosterYear:  rosterYearPtr,
		Warnings:    warnings,
	}, nil
}

// NormalizeMentor validates and normalizes a raw Mentor.
func (p *Policy) NormalizeMentor(m Mentor) (NormalizedMentor, error) {
	mentorIDPtr, err := toInt(m.MentorID, RuleCapacityAvailable, "mentor_id", false, 0)
	if err != nil {
		return NormalizedMentor{}, err
	}

	gender, err := toEnum(m.Gender, RuleGenderMatch, "mentor_gender", 0, 1)
	if err != nil {
		return NormalizedMentor{}, err
	}

	allowedGroups := map[string]struct{}{}
	for _, g := range m.AllowedGroups {
		allowedGroups[toText(g)] = struct{}{}
	}

	allowedCenters := map[int]struct{}{}
	for _, c := range m.AllowedCenters {
		v, err := toEnum(c, RuleCenterAllowed, "allowed_center", 0, 1, 2)
		if err != nil {
			return NormalizedMentor{}, err
		}
		allowedCenters[v] = struct{}{}
	}

	capacityPtr, err := toInt(m.Capacity, RuleCapacityAvailable, "capacity", false, 0)
	if err != nil {
		return NormalizedMentor{}, err
	}

	currentLoadPtr, err := toInt(m.CurrentLoad, RuleCapacityAvailable, "current_load", false, 0)
	if err != nil {
		return NormalizedMentor{}, err
	}

	isActive, err := toBool(m.IsActive)
	if err != nil {
		return NormalizedMentor{}, err
	}

	mentorTypeText := strings.ToUpper(toText(m.MentorType))
	if mentorTypeText != string(MentorNormal) && mentorTypeText != string(MentorSchool) {
		return NormalizedMentor{}, &NormalizationError{RuleCode: RuleSchoolTypeCompatible, Message: "نوع منتور مجاز نیست.", Details: map[string]any{"mentor_type": m.MentorType}}
	}

	specialSchools := map[int]struct{}{}
	for _, sc := range m.SpecialSchools {
		v, err := toInt(sc, RuleSchoolTypeCompatible, "special_school", false, 0)
		if err != nil {
			return NormalizedMentor{}, err
		}
		specialSchools[*v] = struct{}{}
	}

	managerIDPtr, err := toInt(m.ManagerID, RuleManagerCenterGate, "manager_id", true, 0)
	if err != nil {
		return NormalizedMentor{}, err
	}
	var managerID *int
	if m.ManagerID != nil {
		managerID = managerIDPtr
	}

	return NormalizedMentor{
		MentorID:       *mentorIDPtr,
		Gender:         gender,
		AllowedGroups:  allowedGroups,
		AllowedCenters: allowedCenters,
		Capacity:       *capacityPtr,
		CurrentLoad:    *currentLoadPtr,
		IsActive:       isActive,
		MentorType:     MentorType(mentorTypeText),
		SpecialSchools: specialSchools,
		ManagerID:      managerID,
	}, nil
}

func toBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	text := strings.ToLower(toText(v))
	switch text {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	}
	return false, &NormalizationError{RuleCode: RuleCapacityAvailable, Message: "مقدار بولی is_active قابل تفسیر نیست.", Details: map[string]any{"value": v}}
}
