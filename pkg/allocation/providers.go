package allocation

import (
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/traits"
)

// SpecialSchoolsProvider answers, for a roster year, the set of school
// codes flagged as special schools that year.
type SpecialSchoolsProvider interface {
	Get(rosterYear int) (schools map[int]struct{}, ok bool)
}

// ManagerCentersProvider answers, for a manager (mentor supervisor), the
// set of reg_center values that manager is allowed to gate, or absence if
// the manager is unknown to the provider. "Empty set" and "unknown
// manager" are distinct outcomes for the gate rule.
type ManagerCentersProvider interface {
	Get(managerID int) (centers map[int]struct{}, ok bool)
}

// MemorySpecialSchools is a static in-memory SpecialSchoolsProvider, useful
// for tests and for deployments that load the roster from a flat config file.
type MemorySpecialSchools struct {
	mu   sync.RWMutex
	data map[int]map[int]struct{}
}

// NewMemorySpecialSchools builds a provider from a roster-year -> school-code
// set mapping.
func NewMemorySpecialSchools(data map[int]map[int]struct{}) *MemorySpecialSchools {
	return &MemorySpecialSchools{data: data}
}

func (p *MemorySpecialSchools) Get(rosterYear int) (map[int]struct{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	schools, ok := p.data[rosterYear]
	return schools, ok
}

// MemoryManagerCenters is a static in-memory ManagerCentersProvider.
type MemoryManagerCenters struct {
	mu   sync.RWMutex
	data map[int]map[int]struct{}
}

// NewMemoryManagerCenters builds a provider from a manager-id -> reg-center
// set mapping.
func NewMemoryManagerCenters(data map[int]map[int]struct{}) *MemoryManagerCenters {
	return &MemoryManagerCenters{data: data}
}

func (p *MemoryManagerCenters) Get(managerID int) (map[int]struct{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	centers, ok := p.data[managerID]
	return centers, ok
}

// CELCenterProvider expresses the MANAGER_CENTER_GATE lookup as a CEL
// expression evaluated per manager, for deployments that want the gate
// configured declaratively rather than as a static map. The expression
// receives `manager_id` (int) and must
// evaluate to a list of allowed reg_center ints, or an error/null to signal
// "manager unknown".
type CELCenterProvider struct {
	env     *cel.Env
	program cel.Program
}

// NewCELCenterProvider compiles expr once. A typical expression looks like:
//
//	manager_id == 42 ? [1, 2] : (manager_id == 7 ? [1] : [])
//
// An empty result list yields an empty allowed set with ok=true ("no
// centers allowed"); an evaluation error or a non-list result yields
// ok=false ("manager unknown"). List elements that are not ints are skipped.
func NewCELCenterProvider(expr string) (*CELCenterProvider, error) {
	env, err := cel.NewEnv(cel.Variable("manager_id", cel.IntType))
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &CELCenterProvider{env: env, program: prg}, nil
}

func (p *CELCenterProvider) Get(managerID int) (map[int]struct{}, bool) {
	out, _, err := p.program.Eval(map[string]any{"manager_id": int64(managerID)})
	if err != nil {
		return nil, false
	}
	list, ok := out.(traits.Lister)
	if !ok {
		return nil, false
	}
	result := map[int]struct{}{}
	it := list.Iterator()
	for it.HasNext() == types.True {
		v := it.Next()
		n, ok := v.Value().(int64)
		if !ok {
			continue
		}
		result[int(n)] = struct{}{}
	}
	return result, true
}
