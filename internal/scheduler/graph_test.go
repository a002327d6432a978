package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_TopologicalOrder(t *testing.T) {
	tests := []struct {
		name     string
		stories  map[string][]string
		expected []string
	}{
		{
			name: "linear chain",
			stories: map[string][]string{
				"auth/a": nil,
				"auth/b": {"auth/a"},
				"auth/c": {"auth/b"},
			},
			expected: []string{"auth/a", "auth/b", "auth/c"},
		},
		{
			name: "ties break lexicographically",
			stories: map[string][]string{
				"core/z": nil,
				"core/a": nil,
				"core/m": nil,
			},
			expected: []string{"core/a", "core/m", "core/z"},
		},
		{
			name: "diamond",
			stories: map[string][]string{
				"api/root":  nil,
				"api/left":  {"api/root"},
				"api/right": {"api/root"},
				"api/join":  {"api/left", "api/right"},
			},
			expected: []string{"api/root", "api/left", "api/right", "api/join"},
		},
		{
			name: "external dependency never blocks",
			stories: map[string][]string{
				"ui/a": {"other-repo/setup"},
				"ui/b": {"ui/a"},
			},
			expected: []string{"ui/a", "ui/b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph()
			for id, deps := range tt.stories {
				g.AddStory(id, deps)
			}

			order, err := g.TopologicalOrder()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, order)

			// Determinism: repeated calls give the identical order
			again, err := g.TopologicalOrder()
			require.NoError(t, err)
			assert.Equal(t, order, again)
		})
	}
}

func TestGraph_TopologicalOrder_RespectsEveryEdge(t *testing.T) {
	g := NewGraph()
	g.AddStory("e/a", nil)
	g.AddStory("e/b", []string{"e/a"})
	g.AddStory("e/c", []string{"e/a"})
	g.AddStory("e/d", []string{"e/b", "e/c"})
	g.AddStory("e/e", []string{"e/d", "e/a"})

	order, err := g.TopologicalOrder()
	require.NoError(t, err)

	position := make(map[string]int)
	for i, id := range order {
		position[id] = i
	}
	for _, id := range order {
		for _, dep := range g.Dependencies(id) {
			assert.Less(t, position[dep], position[id], "%s must come after %s", id, dep)
		}
	}
}

func TestGraph_DetectCycle(t *testing.T) {
	g := NewGraph()
	g.AddStory("a/x", []string{"a/y"})
	g.AddStory("a/y", []string{"a/z"})
	g.AddStory("a/z", []string{"a/x"})
	g.AddStory("a/standalone", nil)

	cycle := g.DetectCycle()
	require.NotEmpty(t, cycle)
	assert.Equal(t, cycle[0], cycle[len(cycle)-1], "path must close on itself")
	assert.Len(t, cycle, 4)

	_, err := g.TopologicalOrder()
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.Path)
}

func TestGraph_DetectCycle_SelfLoop(t *testing.T) {
	g := NewGraph()
	g.AddStory("a/x", []string{"a/x"})

	cycle := g.DetectCycle()
	assert.Equal(t, []string{"a/x", "a/x"}, cycle)
}

func TestGraph_DetectCycle_Acyclic(t *testing.T) {
	g := NewGraph()
	g.AddStory("a/x", nil)
	g.AddStory("a/y", []string{"a/x"})

	assert.Nil(t, g.DetectCycle())
}

func TestGraph_Executable(t *testing.T) {
	g := NewGraph()
	g.AddStory("s/a", nil)
	g.AddStory("s/b", []string{"s/a"})
	g.AddStory("s/c", []string{"s/a", "s/b"})
	g.AddStory("s/d", []string{"external/dep"})

	// Nothing completed: roots plus external-only deps
	assert.Equal(t, []string{"s/a", "s/d"}, g.Executable(map[string]bool{}))

	// Completing a unlocks b, not c
	assert.Equal(t, []string{"s/b", "s/d"}, g.Executable(map[string]bool{"s/a": true}))

	// Completed stories are excluded
	completed := map[string]bool{"s/a": true, "s/b": true, "s/d": true}
	assert.Equal(t, []string{"s/c"}, g.Executable(completed))
}

func TestGraph_AddStory_ReplacesDeps(t *testing.T) {
	g := NewGraph()
	g.AddStory("s/a", nil)
	g.AddStory("s/b", []string{"s/a"})
	g.AddStory("s/b", nil)

	assert.Empty(t, g.Dependents("s/a"))
	assert.Equal(t, []string{"s/a", "s/b"}, g.Executable(map[string]bool{}))
}
