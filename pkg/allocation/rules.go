package allocation

// Rule evaluates one (student, mentor) compatibility check. Every rule is
// pure and total: it never errors, it only passes or fails with details
// explaining why.
type Rule func(s NormalizedStudent, m NormalizedMentor, p *Policy) RuleResult

func ruleGenderMatch(s NormalizedStudent, m NormalizedMentor, _ *Policy) RuleResult {
	passed := s.Gender == m.Gender
	details := map[string]any{"student_gender": s.Gender, "mentor_gender": m.Gender}
	return RuleResult{Code: RuleGenderMatch, Passed: passed, Details: details}
}

func ruleGroupAllowed(s NormalizedStudent, m NormalizedMentor, _ *Policy) RuleResult {
	_, passed := m.AllowedGroups[s.GroupCode]
	return RuleResult{Code: RuleGroupAllowed, Passed: passed, Details: map[string]any{"group_code": s.GroupCode}}
}

func ruleCenterAllowed(s NormalizedStudent, m NormalizedMentor, _ *Policy) RuleResult {
	_, passed := m.AllowedCenters[s.RegCenter]
	return RuleResult{Code: RuleCenterAllowed, Passed: passed, Details: map[string]any{"reg_center": s.RegCenter}}
}

// regStatusAllowed are the registration statuses eligible for allocation.
var regStatusAllowed = map[int]struct{}{0: {}, 1: {}, 3: {}}

func ruleRegStatusAllowed(s NormalizedStudent, _ NormalizedMentor, _ *Policy) RuleResult {
	_, passed := regStatusAllowed[s.RegStatus]
	return RuleResult{Code: RuleRegStatusAllowed, Passed: passed, Details: map[string]any{"reg_status": s.RegStatus}}
}

func ruleCapacityAvailable(_ NormalizedStudent, m NormalizedMentor, _ *Policy) RuleResult {
	passed := m.IsActive && m.Capacity > 0 && m.CurrentLoad >= 0 && m.CurrentLoad < m.Capacity
	return RuleResult{
		Code:   RuleCapacityAvailable,
		Passed: passed,
		Details: map[string]any{
			"is_active":    m.IsActive,
			"current_load": m.CurrentLoad,
			"capacity":     m.Capacity,
		},
	}
}

// ruleSchoolTypeCompatible enforces that SCHOOL mentors only take
// special-school students whose school_code is in the mentor's own
// special_schools set, and NORMAL mentors only take non-special-school
// students.
func ruleSchoolTypeCompatible(s NormalizedStudent, m NormalizedMentor, _ *Policy) RuleResult {
	var passed bool
	switch m.MentorType {
	case MentorSchool:
		passed = s.StudentType == 1
		if passed {
			_, inMentorSchools := m.SpecialSchools[schoolCodeOrZero(s.SchoolCode)]
			passed = inMentorSchools
		}
	default:
		passed = s.StudentType == 0
	}
	return RuleResult{
		Code:   RuleSchoolTypeCompatible,
		Passed: passed,
		Details: map[string]any{
			"student_type": s.StudentType,
			"mentor_type":  m.MentorType,
		},
	}
}

func schoolCodeOrZero(sc *int) int {
	if sc == nil {
		return 0
	}
	return *sc
}

// ruleGraduateNotToSchool rejects routing a graduated student (edu_status
// == 0) to a SCHOOL mentor, independent of the school-type-compatible check.
func ruleGraduateNotToSchool(s NormalizedStudent, m NormalizedMentor, _ *Policy) RuleResult {
	passed := !(s.EduStatus == 0 && m.MentorType == MentorSchool)
	return RuleResult{
		Code:   RuleGraduateNotToSchool,
		Passed: passed,
		Details: map[string]any{
			"edu_status":  s.EduStatus,
			"mentor_type": m.MentorType,
		},
	}
}

// ruleManagerCenterGate is the one rule with three distinct outcomes:
// pass if the mentor has no manager_id (no gate to check);
// pass if the manager's configured center set contains the student's
// reg_center; fail with the reg_center in details if the set exists but
// excludes it; fail with a manager_centers_not_found reason if the provider
// has no record of the manager at all.
func ruleManagerCenterGate(s NormalizedStudent, m NormalizedMentor, p *Policy) RuleResult {
	if m.ManagerID == nil {
		return RuleResult{Code: RuleManagerCenterGate, Passed: true, Details: map[string]any{"gated": false}}
	}
	if p.ManagerCenters == nil {
		return RuleResult{Code: RuleManagerCenterGate, Passed: false, Details: map[string]any{"reason": "manager_centers_not_found"}}
	}
	centers, ok := p.ManagerCenters.Get(*m.ManagerID)
	if !ok {
		return RuleResult{Code: RuleManagerCenterGate, Passed: false, Details: map[string]any{"reason": "manager_centers_not_found"}}
	}
	if _, allowed := centers[s.RegCenter]; allowed {
		return RuleResult{Code: RuleManagerCenterGate, Passed: true, Details: map[string]any{"reg_center": s.RegCenter}}
	}
	return RuleResult{Code: RuleManagerCenterGate, Passed: false, Details: map[string]any{"reg_center": s.RegCenter}}
}

// orderedRules is the fixed evaluation order. Order matters: FastFail
// stops at the first failure in this sequence, and the trace in
// AllocationTrace.Results always follows it.
var orderedRules = []Rule{
	ruleGenderMatch,
	ruleGroupAllowed,
	ruleCenterAllowed,
	ruleRegStatusAllowed,
	ruleCapacityAvailable,
	ruleSchoolTypeCompatible,
	ruleGraduateNotToSchool,
	ruleManagerCenterGate,
}
