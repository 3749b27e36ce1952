package orchestrator

import (
	"container/heap"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Plan errors.
var (
	ErrCycle             = eris.New("orchestrator: dependency cycle")
	ErrUnknownDependency = eris.New("orchestrator: unknown dependency")
	ErrDuplicateJob      = eris.New("orchestrator: duplicate job")
	ErrUnknownJob        = eris.New("orchestrator: unknown job")
)

// Step is one node of the job graph.
type Step struct {
	Number      int      `yaml:"number"`
	Name        string   `yaml:"name"`
	DependsOn   []string `yaml:"depends_on"`
	Critical    bool     `yaml:"critical"`
	Description string   `yaml:"description"`
}

// Label renders "02 contracts".
func (s Step) Label() string { return fmt.Sprintf("%02d %s", s.Number, s.Name) }

// Plan is a validated job graph. Use ParsePlan or LoadPlan to build one.
type Plan struct {
	Steps []Step `yaml:"jobs"`

	order []Step
}

// ParsePlan decodes and validates a YAML plan.
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "orchestrator: parse plan")
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPlan reads a YAML plan from disk.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: read plan %s", path)
	}
	return ParsePlan(data)
}

// Order returns the steps in execution order: dependencies first, ties
// broken by job number.
func (p *Plan) Order() []Step {
	out := make([]Step, len(p.order))
	copy(out, p.order)
	return out
}

// Find resolves a job reference given as a number ("3", "03") or a name.
func (p *Plan) Find(ref string) (Step, bool) {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.Atoi(ref); err == nil {
		for _, s := range p.Steps {
			if s.Number == n {
				return s, true
			}
		}
		return Step{}, false
	}
	for _, s := range p.Steps {
		if strings.EqualFold(s.Name, ref) {
			return s, true
		}
	}
	return Step{}, false
}

func (p *Plan) validate() error {
	if len(p.Steps) == 0 {
		return eris.New("orchestrator: plan has no jobs")
	}
	names := make(map[string]bool, len(p.Steps))
	numbers := make(map[int]string, len(p.Steps))
	for _, s := range p.Steps {
		if s.Name == "" {
			return eris.Errorf("orchestrator: job %02d has no name", s.Number)
		}
		if names[s.Name] {
			return eris.Wrapf(ErrDuplicateJob, "name %q", s.Name)
		}
		if other, ok := numbers[s.Number]; ok {
			return eris.Wrapf(ErrDuplicateJob, "number %02d used by %s and %s", s.Number, other, s.Name)
		}
		names[s.Name] = true
		numbers[s.Number] = s.Name
	}
	for _, s := range p.Steps {
		for _, d := range s.DependsOn {
			if !names[d] {
				return eris.Wrapf(ErrUnknownDependency, "%s depends on %q", s.Name, d)
			}
		}
	}

	order, err := topoSort(p.Steps)
	if err != nil {
		return err
	}
	p.order = order
	return nil
}

// topoSort is Kahn's algorithm with a min-heap on job number, so the order
// is stable and follows numbering wherever the graph allows.
func topoSort(steps []Step) ([]Step, error) {
	byName := make(map[string]Step, len(steps))
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		byName[s.Name] = s
		indegree[s.Name] += 0
		for _, d := range s.DependsOn {
			indegree[s.Name]++
			dependents[d] = append(dependents[d], s.Name)
		}
	}

	ready := &stepHeap{}
	for _, s := range steps {
		if indegree[s.Name] == 0 {
			heap.Push(ready, s)
		}
	}

	order := make([]Step, 0, len(steps))
	for ready.Len() > 0 {
		s := heap.Pop(ready).(Step)
		order = append(order, s)
		for _, dep := range dependents[s.Name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				heap.Push(ready, byName[dep])
			}
		}
	}

	if len(order) != len(steps) {
		var stuck []string
		for name, n := range indegree {
			if n > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, eris.Wrapf(ErrCycle, "among %s", strings.Join(stuck, ", "))
	}
	return order, nil
}

type stepHeap []Step

func (h stepHeap) Len() int           { return len(h) }
func (h stepHeap) Less(i, j int) bool { return h[i].Number < h[j].Number }
func (h stepHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *stepHeap) Push(x any)        { *h = append(*h, x.(Step)) }
func (h *stepHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
