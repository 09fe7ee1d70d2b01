package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseStudent() Student {
	return Student{
		Gender:    0,
		GroupCode: "G1",
		RegCenter: 1,
		RegStatus: 1,
		EduStatus: 0,
	}
}

func baseMentor() Mentor {
	return Mentor{
		MentorID:       7,
		Gender:         0,
		AllowedGroups:  []any{"G1"},
		AllowedCenters: []any{1},
		Capacity:       10,
		CurrentLoad:    2,
		IsActive:       true,
		MentorType:     "NORMAL",
	}
}

func normalizedPair(t *testing.T, p *Policy, s Student, m Mentor) (NormalizedStudent, NormalizedMentor) {
	t.Helper()
	ns, err := p.NormalizeStudent(s)
	require.NoError(t, err)
	nm, err := p.NormalizeMentor(m)
	require.NoError(t, err)
	return ns, nm
}

func TestRuleGenderMatch(t *testing.T) {
	p := &Policy{}
	s, m := normalizedPair(t, p, baseStudent(), baseMentor())
	assert.True(t, ruleGenderMatch(s, m, p).Passed)

	s.Gender = 1
	assert.False(t, ruleGenderMatch(s, m, p).Passed)
}

func TestRuleGroupAllowed(t *testing.T) {
	p := &Policy{}
	s, m := normalizedPair(t, p, baseStudent(), baseMentor())
	assert.True(t, ruleGroupAllowed(s, m, p).Passed)

	s.GroupCode = "G9"
	assert.False(t, ruleGroupAllowed(s, m, p).Passed)
}

func TestRuleCapacityAvailable(t *testing.T) {
	p := &Policy{}
	s, m := normalizedPair(t, p, baseStudent(), baseMentor())
	assert.True(t, ruleCapacityAvailable(s, m, p).Passed)

	m.CurrentLoad = m.Capacity
	assert.False(t, ruleCapacityAvailable(s, m, p).Passed)

	m.CurrentLoad = 0
	m.IsActive = false
	assert.False(t, ruleCapacityAvailable(s, m, p).Passed)
}

func TestRuleSchoolTypeCompatible(t *testing.T) {
	p := &Policy{}
	s, m := normalizedPair(t, p, baseStudent(), baseMentor())
	assert.True(t, ruleSchoolTypeCompatible(s, m, p).Passed)

	m.MentorType = MentorSchool
	assert.False(t, ruleSchoolTypeCompatible(s, m, p).Passed)

	s.StudentType = 1
	schoolCode := 100
	s.SchoolCode = &schoolCode
	assert.False(t, ruleSchoolTypeCompatible(s, m, p).Passed, "mentor has no matching special_schools entry")

	m.SpecialSchools = map[int]struct{}{100: {}}
	assert.True(t, ruleSchoolTypeCompatible(s, m, p).Passed)

	m.SpecialSchools = map[int]struct{}{200: {}}
	assert.False(t, ruleSchoolTypeCompatible(s, m, p).Passed)
}

func TestRuleGraduateNotToSchool(t *testing.T) {
	p := &Policy{}
	s, m := normalizedPair(t, p, baseStudent(), baseMentor())
	m.MentorType = MentorSchool
	s.StudentType = 1
	s.EduStatus = 0
	assert.False(t, ruleGraduateNotToSchool(s, m, p).Passed)

	s.EduStatus = 1
	assert.True(t, ruleGraduateNotToSchool(s, m, p).Passed)
}

func TestRuleManagerCenterGate(t *testing.T) {
	centers := NewMemoryManagerCenters(map[int]map[int]struct{}{
		5: {1: {}},
	})
	p := &Policy{ManagerCenters: centers}
	s, m := normalizedPair(t, p, baseStudent(), baseMentor())

	// No manager_id: gate passes unconditionally.
	assert.True(t, ruleManagerCenterGate(s, m, p).Passed)

	managerID := 5
	m.ManagerID = &managerID
	assert.True(t, ruleManagerCenterGate(s, m, p).Passed)

	s.RegCenter = 2
	result := ruleManagerCenterGate(s, m, p)
	assert.False(t, result.Passed)
	assert.Equal(t, 2, result.Details["reg_center"])

	unknownManager := 999
	m.ManagerID = &unknownManager
	result = ruleManagerCenterGate(s, m, p)
	assert.False(t, result.Passed)
	assert.Equal(t, "manager_centers_not_found", result.Details["reason"])
}

func TestNormalizeStudentRosterDerivedType(t *testing.T) {
	roster := NewMemorySpecialSchools(map[int]map[int]struct{}{
		1402: {100: {}},
	})
	p := &Policy{SpecialSchools: roster}

	s := baseStudent()
	s.SchoolCode = 100
	s.RosterYear = 1402
	s.StudentType = 0

	ns, err := p.NormalizeStudent(s)
	require.NoError(t, err)
	assert.Equal(t, 1, ns.StudentType)
	_, warned := ns.Warnings["student_type_mismatch_roster"]
	assert.True(t, warned)

	s.StudentType = 1
	ns, err = p.NormalizeStudent(s)
	require.NoError(t, err)
	assert.Equal(t, 1, ns.StudentType)
	_, warned = ns.Warnings["student_type_mismatch_roster"]
	assert.False(t, warned)
}

func TestNormalizeMentorRejectsUnknownType(t *testing.T) {
	p := &Policy{}
	m := baseMentor()
	m.MentorType = "ALIEN"
	_, err := p.NormalizeMentor(m)
	assert.Error(t, err)
	var normErr *NormalizationError
	assert.ErrorAs(t, err, &normErr)
}
