package router

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var propertyPaths = []string{"/a", "/b", "/c", "/cats", "/cats/x", "/cats/y", "/search?q=1", "/search?q=2"}

func stateFor(path string) (State, string) {
	switch {
	case path == "/":
		return State{Path: path, Type: TypeRoot}, ""
	case strings.HasPrefix(path, "/search"):
		return State{Path: path, Type: TypeSearch}, ""
	case strings.HasPrefix(path, "/cats/"):
		return State{Path: path, Type: "leaf"}, "/cats"
	}
	return State{Path: path, Type: "leaf"}, ""
}

func replay(paths []string) []State {
	var stack []State
	for _, p := range paths {
		st, parent := stateFor(p)
		stack = push(stack, st, false, parent)
	}
	return stack
}

// TestStackProperties checks the navigation stack invariants over random
// navigation sequences.
func TestStackProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	visits := gen.SliceOf(gen.IntRange(0, len(propertyPaths)-1).Map(func(i int) string { return propertyPaths[i] }))

	properties.Property("root resets the stack to one entry", prop.ForAll(
		func(paths []string) bool {
			stack := replay(append(paths, "/"))
			return len(stack) == 1 && stack[0].Path == "/"
		},
		visits,
	))

	properties.Property("current entry is the last visited page", prop.ForAll(
		func(paths []string) bool {
			stack := replay(paths)
			if len(paths) == 0 {
				return len(stack) == 0
			}
			return len(stack) > 0 && stack[0].Path == paths[len(paths)-1]
		},
		visits,
	))

	properties.Property("paths in the stack are unique", prop.ForAll(
		func(paths []string) bool {
			seen := map[string]bool{}
			for _, s := range replay(paths) {
				if seen[s.Path] {
					return false
				}
				seen[s.Path] = true
			}
			return true
		},
		visits,
	))

	properties.Property("at most one search entry", prop.ForAll(
		func(paths []string) bool {
			n := 0
			for _, s := range replay(paths) {
				if s.Type == TypeSearch {
					n++
				}
			}
			return n <= 1
		},
		visits,
	))

	properties.Property("a child page has its parent directly behind it", prop.ForAll(
		func(paths []string) bool {
			stack := replay(append(paths, "/cats/x"))
			return len(stack) >= 2 && stack[1].Path == "/cats"
		},
		visits,
	))

	properties.TestingRun(t)
}
