package allocation

import (
	"sort"

	"github.com/sabt-export/core/pkg/metrics"
)

// Evaluate runs every rule in orderedRules against one (student, mentor)
// pair and returns the full trace. When p.FastFail is set, evaluation
// stops at the first failing rule and the remaining rules are omitted
// from Results entirely.
func (p *Policy) Evaluate(s NormalizedStudent, m NormalizedMentor) AllocationTrace {
	trace := AllocationTrace{MentorID: m.MentorID}
	passed := true
	for _, rule := range orderedRules {
		result := rule(s, m, p)
		trace.Results = append(trace.Results, result)
		if !result.Passed {
			passed = false
			if p.FastFail {
				break
			}
		}
	}
	trace.Passed = passed
	if passed {
		occupancy := 0.0
		if m.Capacity > 0 {
			occupancy = float64(m.CurrentLoad) / float64(m.Capacity)
		} else {
			occupancy = 1.0
		}
		trace.Ranking = &RankingKey{OccupancyRatio: occupancy, CurrentLoad: m.CurrentLoad, MentorID: m.MentorID}
	}
	return trace
}

// EvaluateAll evaluates a student against every candidate mentor. When
// TraceLimitRejected is set, a rejected mentor's trace is truncated to at
// most that many entries; a passing mentor's trace is never truncated.
func (p *Policy) EvaluateAll(s NormalizedStudent, mentors []NormalizedMentor) []AllocationTrace {
	traces := make([]AllocationTrace, 0, len(mentors))
	for _, m := range mentors {
		t := p.Evaluate(s, m)
		if !t.Passed && p.TraceLimitRejected != nil && len(t.Results) > *p.TraceLimitRejected {
			t.Results = t.Results[:*p.TraceLimitRejected]
		}
		traces = append(traces, t)
	}
	return traces
}

// AllocationResult is the outcome of running the full allocation pipeline
// for one student: the chosen mentor (if any) and the complete trace set
// used to produce it.
type AllocationResult struct {
	Winner *NormalizedMentor
	Ranking *RankingKey
	Traces []AllocationTrace
}

// Allocate evaluates s against every mentor, selects the passing mentor
// with the minimal RankingKey, and records allocation_no_candidate_total
// when no mentor passes.
func (p *Policy) Allocate(s NormalizedStudent, mentors []NormalizedMentor, reg *metrics.Registry) AllocationResult {
	traces := p.EvaluateAll(s, mentors)

	byID := make(map[int]NormalizedMentor, len(mentors))
	for _, m := range mentors {
		byID[m.MentorID] = m
	}

	var winnerTrace *AllocationTrace
	for i := range traces {
		t := &traces[i]
		if !t.Passed {
			continue
		}
		if winnerTrace == nil || t.Ranking.Less(*winnerTrace.Ranking) {
			winnerTrace = t
		}
	}

	result := AllocationResult{Traces: traces}
	if winnerTrace == nil {
		if reg != nil {
			reg.AllocationNoCandidate().Inc()
		}
		return result
	}
	winner := byID[winnerTrace.MentorID]
	result.Winner = &winner
	result.Ranking = winnerTrace.Ranking
	return result
}

// sortByRanking sorts traces with a Ranking key ascending (best first);
// traces without a ranking (failed mentors) sort last in mentor-id order.
func sortByRanking(traces []AllocationTrace) {
	sort.SliceStable(traces, func(i, j int) bool {
		a, b := traces[i], traces[j]
		if a.Ranking != nil && b.Ranking != nil {
			return a.Ranking.Less(*b.Ranking)
		}
		if a.Ranking != nil {
			return true
		}
		if b.Ranking != nil {
			return false
		}
		return a.MentorID < b.MentorID
	})
}
