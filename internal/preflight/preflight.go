// Package preflight validates the environment before a run starts:
// the epics file must exist and parse, the dependency graph must be
// acyclic, and the database location must be usable.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hanibalsk/autodev/internal/config"
	"github.com/hanibalsk/autodev/internal/discovery"
	"github.com/hanibalsk/autodev/internal/domain"
	"github.com/hanibalsk/autodev/internal/scheduler"
)

// CheckResult represents the result of a single pre-flight check
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
	Error   string
}

// Results holds all pre-flight check results
type Results struct {
	Checks  []CheckResult
	AllPass bool
}

// RunAll executes all pre-flight checks
func RunAll(cfg *config.Config) *Results {
	results := &Results{
		Checks:  make([]CheckResult, 0),
		AllPass: true,
	}

	epicsCheck, stories := checkEpicsFile(cfg)
	results.addCheck(epicsCheck)
	results.addCheck(checkDependencyGraph(stories))
	results.addCheck(checkDatabaseDir(cfg))
	results.addCheck(checkWorkingDir(cfg))

	// Unknown dependency ids are ignored by the scheduler, so this is
	// a warning, not a blocker.
	results.addCheck(checkUnknownDeps(stories))

	return results
}

// addCheck adds a check result and updates AllPass
func (r *Results) addCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	if !check.Passed && check.Name != "Dependencies" {
		r.AllPass = false
	}
}

// PassedCount returns the number of passed checks
func (r *Results) PassedCount() int {
	count := 0
	for _, check := range r.Checks {
		if check.Passed {
			count++
		}
	}
	return count
}

// FailedChecks returns only the failed checks
func (r *Results) FailedChecks() []CheckResult {
	failed := make([]CheckResult, 0)
	for _, check := range r.Checks {
		if !check.Passed {
			failed = append(failed, check)
		}
	}
	return failed
}

// checkEpicsFile verifies the epics file exists and parses. The parsed
// stories feed the graph and dependency checks.
func checkEpicsFile(cfg *config.Config) (CheckResult, []domain.Story) {
	result := CheckResult{Name: "Epics File"}

	if _, err := os.Stat(cfg.EpicsPath); os.IsNotExist(err) {
		result.Passed = false
		result.Error = fmt.Sprintf("File not found: %s", cfg.EpicsPath)
		return result, nil
	}

	stories, err := discovery.ParseEpicsFile(cfg.EpicsPath)
	if err != nil {
		result.Passed = false
		result.Error = fmt.Sprintf("Parse failed: %v", err)
		return result, nil
	}
	if len(stories) == 0 {
		result.Passed = false
		result.Error = "No stories defined"
		return result, nil
	}

	result.Passed = true
	result.Message = fmt.Sprintf("%d stories", len(stories))
	return result, stories
}

// checkDependencyGraph verifies the story dependency graph is acyclic
func checkDependencyGraph(stories []domain.Story) CheckResult {
	result := CheckResult{Name: "Dependency Graph"}

	if len(stories) == 0 {
		result.Passed = false
		result.Error = "No stories to order"
		return result
	}

	graph := scheduler.NewGraph()
	for _, story := range stories {
		graph.AddStory(story.FullID(), story.DependsOn)
	}

	if _, err := graph.TopologicalOrder(); err != nil {
		result.Passed = false
		result.Error = err.Error()
		return result
	}

	result.Passed = true
	result.Message = "Acyclic"
	return result
}

// checkDatabaseDir verifies the database location's directory exists
func checkDatabaseDir(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Database Directory"}

	dir := filepath.Dir(cfg.DatabasePath)
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		result.Passed = false
		result.Error = fmt.Sprintf("Directory not found: %s", dir)
		return result
	}
	if err == nil && !info.IsDir() {
		result.Passed = false
		result.Error = fmt.Sprintf("Not a directory: %s", dir)
		return result
	}

	result.Passed = true
	result.Message = "Writable"
	return result
}

// checkWorkingDir verifies the working directory exists
func checkWorkingDir(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Working Directory"}

	info, err := os.Stat(cfg.WorkingDir)
	if os.IsNotExist(err) {
		result.Passed = false
		result.Error = fmt.Sprintf("Directory not found: %s", cfg.WorkingDir)
		return result
	}
	if err == nil && !info.IsDir() {
		result.Passed = false
		result.Error = fmt.Sprintf("Not a directory: %s", cfg.WorkingDir)
		return result
	}

	result.Passed = true
	result.Message = "Found"
	return result
}

// checkUnknownDeps reports dependency ids that reference no known story
func checkUnknownDeps(stories []domain.Story) CheckResult {
	result := CheckResult{Name: "Dependencies"}

	known := make(map[string]bool, len(stories))
	for _, story := range stories {
		known[story.FullID()] = true
	}

	unknown := make([]string, 0)
	for _, story := range stories {
		for _, dep := range story.DependsOn {
			if !known[dep] {
				unknown = append(unknown, fmt.Sprintf("%s -> %s", story.FullID(), dep))
			}
		}
	}

	if len(unknown) > 0 {
		result.Passed = false
		result.Error = fmt.Sprintf("Unknown dependency ids: %s", strings.Join(unknown, ", "))
		return result
	}

	result.Passed = true
	result.Message = "All resolved"
	return result
}
