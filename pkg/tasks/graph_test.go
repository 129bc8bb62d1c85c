package tasks

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/onepush/onepush/pkg/engine"
)

func task(name string, requires ...string) *Task {
	return &Task{
		Name:     name,
		Requires: requires,
		Run:      func(context.Context, *Env) error { return nil },
	}
}

func TestBuildGraph_Empty(t *testing.T) {
	g, err := BuildGraph(nil)
	if err != nil {
		t.Fatalf("Expected no error for empty task list, got: %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("Expected 0 tasks, got %d", g.Len())
	}
	if len(g.Levels()) != 0 {
		t.Errorf("Expected 0 levels, got %d", len(g.Levels()))
	}
}

func TestBuildGraph_Levels(t *testing.T) {
	g, err := BuildGraph([]*Task{
		task("d", "b", "c"),
		task("c", "a"),
		task("b", "a"),
		task("a"),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if !reflect.DeepEqual(g.Levels(), want) {
		t.Errorf("Expected levels %v, got %v", want, g.Levels())
	}

	var order []string
	for _, t := range g.Order() {
		order = append(order, t.Name)
	}
	if strings.Join(order, ",") != "a,b,c,d" {
		t.Errorf("Expected order a,b,c,d, got %v", order)
	}
}

func TestBuildGraph_UnknownPrerequisite(t *testing.T) {
	_, err := BuildGraph([]*Task{task("a", "missing")})
	if err == nil {
		t.Fatal("Expected error for unknown prerequisite")
	}
	if !engine.IsConfiguration(err) {
		t.Errorf("Expected configuration error, got %v", err)
	}
	if engine.CodeOf(err) != engine.ErrCodeUnknownTask {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeUnknownTask, engine.CodeOf(err))
	}
}

func TestBuildGraph_Cycle(t *testing.T) {
	_, err := BuildGraph([]*Task{
		task("a", "c"),
		task("b", "a"),
		task("c", "b"),
	})
	if err == nil {
		t.Fatal("Expected error for cycle")
	}
	if engine.CodeOf(err) != engine.ErrCodeDependencyCycle {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeDependencyCycle, engine.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "circular task dependency: a -> b -> c -> a") {
		t.Errorf("Expected cycle path in message, got %q", err.Error())
	}
}

func TestBuildGraph_Duplicate(t *testing.T) {
	_, err := BuildGraph([]*Task{task("a"), task("a")})
	if !engine.IsConfiguration(err) {
		t.Errorf("Expected configuration error for duplicate task, got %v", err)
	}
}

func TestBuildGraph_SetupTasks(t *testing.T) {
	g, err := BuildGraph(SetupTasks())
	if err != nil {
		t.Fatalf("Expected setup tasks to form a graph, got: %v", err)
	}

	pos := make(map[string]int)
	for i, t := range g.Order() {
		pos[t.Name] = i
	}
	for _, tk := range SetupTasks() {
		for _, req := range tk.Requires {
			if pos[req] >= pos[tk.Name] {
				t.Errorf("Expected %s before %s", req, tk.Name)
			}
		}
	}
	if pos[RestartWebServer] != g.Len()-1 {
		t.Errorf("Expected %s to run last, got position %d", RestartWebServer, pos[RestartWebServer])
	}
}

func TestGraph_ToDOT(t *testing.T) {
	g, err := BuildGraph([]*Task{task("a"), task("b", "a")})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	dot := g.ToDOT()
	if !strings.HasPrefix(dot, "digraph Setup {") {
		t.Errorf("Expected digraph header, got %q", dot)
	}
	if !strings.Contains(dot, `"a" -> "b";`) {
		t.Errorf("Expected edge a -> b, got %q", dot)
	}
}
