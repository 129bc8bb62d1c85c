package tasks

import (
	"fmt"
	"sort"
	"strings"

	"github.com/onepush/onepush/pkg/engine"
)

// Graph is a validated set of tasks in dependency order.
type Graph struct {
	// tasks maps task names to their tasks
	tasks map[string]*Task

	// dependents maps task names to the tasks that require them
	dependents map[string][]string

	// inDegree tracks the number of prerequisites of each task
	inDegree map[string]int

	// levels groups tasks whose prerequisites are all in earlier levels
	levels [][]string
}

// BuildGraph validates prerequisites, detects cycles and computes the
// execution levels of tasks. Unknown prerequisites and cycles are
// configuration errors.
func BuildGraph(tasks []*Task) (*Graph, error) {
	g := &Graph{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
		inDegree:   make(map[string]int),
	}

	if err := g.initialize(tasks); err != nil {
		return nil, err
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	if err := g.computeLevels(); err != nil {
		return nil, err
	}

	return g, nil
}

// initialize indexes tasks and builds the edge lists.
func (g *Graph) initialize(tasks []*Task) error {
	for _, t := range tasks {
		if t.Name == "" {
			return engine.NewConfigurationError("task has empty name", nil).
				WithCode(engine.ErrCodeValidation)
		}
		if _, exists := g.tasks[t.Name]; exists {
			return engine.NewConfigurationError(fmt.Sprintf("duplicate task: %s", t.Name), nil).
				WithCode(engine.ErrCodeValidation)
		}
		g.tasks[t.Name] = t
		g.dependents[t.Name] = nil
		g.inDegree[t.Name] = 0
	}

	for _, t := range tasks {
		for _, req := range t.Requires {
			if _, exists := g.tasks[req]; !exists {
				return engine.NewConfigurationError(
					fmt.Sprintf("task %s requires unknown task %s", t.Name, req), nil,
				).WithCode(engine.ErrCodeUnknownTask).WithOperation(t.Name)
			}
			// req must complete before t can start
			g.dependents[req] = append(g.dependents[req], t.Name)
			g.inDegree[t.Name]++
		}
	}

	return nil
}

// detectCycles uses depth-first search to detect circular dependencies.
func (g *Graph) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, name := range g.sortedNames() {
		if visited[name] {
			continue
		}
		if cycle := g.detectCyclesUtil(name, visited, recStack, nil); cycle != nil {
			return engine.NewConfigurationError(
				fmt.Sprintf("circular task dependency: %s", strings.Join(cycle, " -> ")), nil,
			).WithCode(engine.ErrCodeDependencyCycle)
		}
	}

	return nil
}

// detectCyclesUtil returns the cycle reachable from name, if any.
func (g *Graph) detectCyclesUtil(name string, visited, recStack map[string]bool, path []string) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, dependent := range g.dependents[name] {
		if !visited[dependent] {
			if cycle := g.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, n := range path {
				if n == dependent {
					return append(append([]string{}, path[i:]...), dependent)
				}
			}
		}
	}

	recStack[name] = false
	return nil
}

// computeLevels assigns levels with Kahn's algorithm. Names within a level
// are sorted so the order is stable across runs.
func (g *Graph) computeLevels() error {
	inDegree := make(map[string]int, len(g.inDegree))
	for name, degree := range g.inDegree {
		inDegree[name] = degree
	}

	var current []string
	for _, name := range g.sortedNames() {
		if inDegree[name] == 0 {
			current = append(current, name)
		}
	}

	processed := 0
	for len(current) > 0 {
		g.levels = append(g.levels, current)
		processed += len(current)

		var next []string
		for _, name := range current {
			for _, dependent := range g.dependents[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if processed != len(g.tasks) {
		return engine.NewInternalError("failed to order all tasks - possible cycle", nil).
			WithCode(engine.ErrCodeInternal)
	}

	return nil
}

func (g *Graph) sortedNames() []string {
	names := make([]string, 0, len(g.tasks))
	for name := range g.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Levels returns the task names grouped by level.
func (g *Graph) Levels() [][]string {
	return g.levels
}

// Order returns every task, prerequisites first.
func (g *Graph) Order() []*Task {
	var out []*Task
	for _, level := range g.levels {
		for _, name := range level {
			out = append(out, g.tasks[name])
		}
	}
	return out
}

// Task returns a task by name.
func (g *Graph) Task(name string) (*Task, bool) {
	t, ok := g.tasks[name]
	return t, ok
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	return len(g.tasks)
}

// ToDOT generates a DOT format representation of the graph for
// visualization with Graphviz.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Setup {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, names := range g.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, name := range names {
			t := g.tasks[name]
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\\n%s\"];\n",
				name, name, strings.Join(t.Roles, ",")))
		}
		sb.WriteString("  }\n\n")
	}

	for _, name := range g.sortedNames() {
		for _, req := range g.tasks[name].Requires {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", req, name))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
