// Package discovery reads epics and their stories from the epics file
// and keeps them fresh when the file changes on disk.
package discovery

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hanibalsk/autodev/internal/domain"
)

// idPattern matches epic and story ids like "auth" or "login-flow-2"
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// epicsFile represents the structure of epics.yaml
type epicsFile struct {
	Epics []epicEntry `yaml:"epics"`
}

type epicEntry struct {
	ID      string       `yaml:"id"`
	Title   string       `yaml:"title,omitempty"`
	Stories []storyEntry `yaml:"stories"`
}

type storyEntry struct {
	ID        string   `yaml:"id"`
	Title     string   `yaml:"title,omitempty"`
	Priority  int      `yaml:"priority,omitempty"`
	DependsOn []string `yaml:"depends_on,omitempty"`
}

// ParseEpicsFile parses the epics file and returns discovered stories
// with pending status, in deterministic order.
func ParseEpicsFile(path string) ([]domain.Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseEpics(data)
}

func parseEpics(data []byte) ([]domain.Story, error) {
	var file epicsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse epics file: %w", err)
	}

	var stories []domain.Story
	seen := make(map[string]bool)

	for _, epic := range file.Epics {
		if !idPattern.MatchString(epic.ID) {
			return nil, fmt.Errorf("invalid epic id %q", epic.ID)
		}
		for _, entry := range epic.Stories {
			if !idPattern.MatchString(entry.ID) {
				return nil, fmt.Errorf("invalid story id %q in epic %s", entry.ID, epic.ID)
			}

			story := domain.Story{
				EpicID:    epic.ID,
				StoryID:   entry.ID,
				Title:     entry.Title,
				Priority:  entry.Priority,
				Status:    domain.StoryPending,
				DependsOn: normalizeDeps(epic.ID, entry.DependsOn),
			}
			if seen[story.FullID()] {
				return nil, fmt.Errorf("duplicate story id %s", story.FullID())
			}
			seen[story.FullID()] = true
			stories = append(stories, story)
		}
	}

	// Sort by epic, then priority (higher first), then id
	sort.SliceStable(stories, func(i, j int) bool {
		if stories[i].EpicID != stories[j].EpicID {
			return stories[i].EpicID < stories[j].EpicID
		}
		if stories[i].Priority != stories[j].Priority {
			return stories[i].Priority > stories[j].Priority
		}
		return stories[i].StoryID < stories[j].StoryID
	})

	return stories, nil
}

// normalizeDeps resolves bare story ids against the story's own epic, so
// "schema" inside epic "auth" means "auth/schema"
func normalizeDeps(epicID string, deps []string) []string {
	if len(deps) == 0 {
		return nil
	}
	out := make([]string, 0, len(deps))
	for _, dep := range deps {
		if !strings.Contains(dep, "/") {
			dep = epicID + "/" + dep
		}
		out = append(out, dep)
	}
	return out
}
