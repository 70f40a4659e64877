package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Issue is one problem found while checking workflow assets.
type Issue struct {
	File    string
	Message string
}

// Case pairs a compiled template with one of its regression testcases.
type Case struct {
	Compiled string
	Testcase string
}

// ID renders a case as "<event>/<version>/<testcase file>".
func (c Case) ID() string {
	versionDir := filepath.Dir(c.Compiled)
	event := filepath.Base(filepath.Dir(versionDir))
	return fmt.Sprintf("%s/%s/%s", event, filepath.Base(versionDir), filepath.Base(c.Testcase))
}

// FindCompiled returns every compiled.json path under root, sorted.
func FindCompiled(root string) ([]string, error) {
	pattern := filepath.Join(root, "**", "compiled.json")
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// FindCases lists every (compiled template, testcase) pair under root.
// Testcases live in a tests/ directory next to their compiled.json.
func FindCases(root string) ([]Case, error) {
	compiled, err := FindCompiled(root)
	if err != nil {
		return nil, err
	}
	var cases []Case
	for _, compiledPath := range compiled {
		testcases, err := filepath.Glob(filepath.Join(filepath.Dir(compiledPath), "tests", "tc_*.yaml"))
		if err != nil {
			return nil, err
		}
		sort.Strings(testcases)
		for _, testcasePath := range testcases {
			cases = append(cases, Case{Compiled: compiledPath, Testcase: testcasePath})
		}
	}
	return cases, nil
}

// ValidateAll checks every compiled template under root and returns one issue
// per invalid file. An empty tree is itself an issue.
func ValidateAll(root string) []Issue {
	paths, err := FindCompiled(root)
	if err != nil {
		return []Issue{{File: root, Message: err.Error()}}
	}
	if len(paths) == 0 {
		return []Issue{{File: root, Message: "No compiled.json files found"}}
	}

	var issues []Issue
	for _, path := range paths {
		if err := validateCompiledFile(path); err != nil {
			issues = append(issues, Issue{File: path, Message: err.Error()})
		}
	}
	return issues
}

func validateCompiledFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	def, err := decodeTemplate(raw)
	if err != nil {
		return err
	}
	return ValidateTemplate(def)
}

// RunCase executes one regression case end to end: runtime expectations
// first, then the full planner output against expected_plan.
func RunCase(c Case) []string {
	template, err := LoadTemplateFile(c.Compiled)
	if err != nil {
		return []string{fmt.Sprintf("load template: %v", err)}
	}
	tc, err := LoadTestcase(c.Testcase)
	if err != nil {
		return []string{fmt.Sprintf("load testcase: %v", err)}
	}

	var failures []string
	if tc.TemplateID != "" || tc.TemplateVersion != 0 {
		if id, _ := template["template_id"].(string); tc.TemplateID != id {
			failures = append(failures, fmt.Sprintf("template_id mismatch: testcase %q, template %q", tc.TemplateID, id))
		}
		if version, ok := intValue(template["version"]); !ok || tc.TemplateVersion != version {
			failures = append(failures, fmt.Sprintf("template_version mismatch: testcase %d, template %v", tc.TemplateVersion, template["version"]))
		}
	}

	result, err := RunTemplate(template, tc.Facts)
	if err != nil {
		return append(failures, fmt.Sprintf("run template: %v", err))
	}
	failures = append(failures, CheckExpectations(result, tc.Expect)...)

	if tc.ExpectedPlan == nil {
		failures = append(failures, "testcase has no expected_plan")
	} else if err := CheckExpectedPlan(template, tc.Facts, tc.ExpectedPlan); err != nil {
		failures = append(failures, err.Error())
	}
	return failures
}
