package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lebenslotse/lifeplan/planner"
)

// RuntimeResult is the evaluated state of one template for one set of facts.
// Unlike the planner it keeps inactive-task information implicit and reports
// blockers per active task, which is what regression testcases assert on.
type RuntimeResult struct {
	ActiveTasks           map[string]struct{}
	BlockedBy             map[string][]string
	Deadlines             map[string]string
	ActiveRecommendations map[string]struct{}
}

// Testcase mirrors the tc_*.yaml schema stored next to compiled templates.
type Testcase struct {
	TemplateID      string         `yaml:"template_id"`
	TemplateVersion int            `yaml:"template_version"`
	Facts           map[string]any `yaml:"facts"`
	Expect          Expectations   `yaml:"expect"`
	ExpectedPlan    map[string]any `yaml:"expected_plan"`
}

// Expectations lists the assertions a testcase makes about runtime state.
type Expectations struct {
	TasksPresent           []string            `yaml:"tasks_present"`
	TasksAbsent            []string            `yaml:"tasks_absent"`
	BlockedInitially       map[string][]string `yaml:"blocked_initially"`
	Deadlines              map[string]string   `yaml:"deadlines"`
	RecommendationsPresent []string            `yaml:"recommendations_present"`
	RecommendationsAbsent  []string            `yaml:"recommendations_absent"`
}

// LoadTemplateFile reads and graph-validates a compiled template from disk.
func LoadTemplateFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	def, err := decodeTemplate(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateGraph(def); err != nil {
		return nil, err
	}
	return def, nil
}

// LoadTestcase reads a YAML regression testcase.
func LoadTestcase(path string) (*Testcase, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tc Testcase
	if err := yaml.Unmarshal(raw, &tc); err != nil {
		return nil, fmt.Errorf("parse testcase %s: %w", path, err)
	}
	if tc.Facts == nil {
		tc.Facts = map[string]any{}
	}
	return &tc, nil
}

// RunTemplate evaluates eligibility, blocking edges and per-task deadlines.
// A missing or null eligibility keeps the task active.
func RunTemplate(template, facts map[string]any) (*RuntimeResult, error) {
	tasks, err := asObject(template["tasks"], "tasks")
	if err != nil {
		return nil, err
	}
	graph, err := asObject(template["graph"], "graph")
	if err != nil {
		return nil, err
	}

	active := make(map[string]struct{})
	for taskID, raw := range tasks {
		spec, err := asObject(raw, "tasks."+taskID)
		if err != nil {
			return nil, err
		}
		ok, err := evalOptionalRule(spec["eligibility"], facts)
		if err != nil {
			return nil, err
		}
		if ok {
			active[taskID] = struct{}{}
		}
	}

	recommendations := make(map[string]struct{})
	if rawRecs, ok := template["recommendations"].(map[string]any); ok {
		for recID, raw := range rawRecs {
			spec, err := asObject(raw, "recommendations."+recID)
			if err != nil {
				return nil, err
			}
			ok, err := evalOptionalRule(spec["eligibility"], facts)
			if err != nil {
				return nil, err
			}
			if ok {
				recommendations[recID] = struct{}{}
			}
		}
	}

	blockedBy := make(map[string][]string, len(active))
	for taskID := range active {
		blockedBy[taskID] = []string{}
	}
	if edges, ok := graph["edges"].([]any); ok {
		for _, rawEdge := range edges {
			edge, ok := rawEdge.(map[string]any)
			if !ok {
				continue
			}
			source, _ := edge["from"].(string)
			target, _ := edge["to"].(string)
			if _, ok := active[source]; !ok {
				continue
			}
			if _, ok := active[target]; !ok {
				continue
			}
			blockedBy[target] = append(blockedBy[target], source)
		}
	}
	for taskID := range blockedBy {
		sort.Strings(blockedBy[taskID])
	}

	deadlines := make(map[string]string)
	for taskID := range active {
		spec, _ := tasks[taskID].(map[string]any)
		deadline, ok := spec["deadline"].(map[string]any)
		if !ok {
			continue
		}
		due, ok, err := resolveDeadline(deadline, facts)
		if err != nil {
			return nil, err
		}
		if ok {
			deadlines[taskID] = due
		}
	}

	return &RuntimeResult{
		ActiveTasks:           active,
		BlockedBy:             blockedBy,
		Deadlines:             deadlines,
		ActiveRecommendations: recommendations,
	}, nil
}

// evalOptionalRule treats a missing or null rule as always-eligible.
func evalOptionalRule(rule any, facts map[string]any) (bool, error) {
	if rule == nil {
		return true, nil
	}
	return planner.EvalRule(rule, facts)
}

// resolveDeadline computes the due date for one task. The reference fact may
// legitimately be absent, in which case the task simply has no deadline yet.
func resolveDeadline(deadline, facts map[string]any) (string, bool, error) {
	if kind, _ := deadline["type"].(string); kind != "relative_days" {
		return "", false, nil
	}
	reference, ok := deadline["reference"].(string)
	if !ok {
		return "", false, fmt.Errorf("deadline.reference must be a string")
	}
	offsetDays, ok := intValue(deadline["offset_days"])
	if !ok {
		return "", false, fmt.Errorf("deadline.offset_days/grace_days must be int")
	}
	graceDays := 0
	if raw, present := deadline["grace_days"]; present {
		graceDays, ok = intValue(raw)
		if !ok {
			return "", false, fmt.Errorf("deadline.offset_days/grace_days must be int")
		}
	}

	raw, present := facts[reference]
	if !present || raw == nil {
		return "", false, nil
	}
	start, err := parseDateValue(raw)
	if err != nil {
		return "", false, err
	}
	due := planner.ComputeDeadline(start, offsetDays, graceDays)
	return due.Format(planner.DateLayout), true, nil
}

// parseDateValue accepts ISO date strings and the time.Time values yaml.v3
// produces for unquoted dates.
func parseDateValue(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC), nil
	case string:
		parsed, err := time.Parse(planner.DateLayout, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("unsupported date value: %v", value)
		}
		return parsed, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported date value: %v", value)
	}
}

// CheckExpectations compares a runtime result against a testcase's expect
// block and returns one message per unmet assertion.
func CheckExpectations(result *RuntimeResult, expect Expectations) []string {
	var problems []string

	for _, taskID := range expect.TasksPresent {
		if _, ok := result.ActiveTasks[taskID]; !ok {
			problems = append(problems, fmt.Sprintf("expected task %q to be active", taskID))
		}
	}
	for _, taskID := range expect.TasksAbsent {
		if _, ok := result.ActiveTasks[taskID]; ok {
			problems = append(problems, fmt.Sprintf("expected task %q to be inactive", taskID))
		}
	}

	blockedIDs := make([]string, 0, len(expect.BlockedInitially))
	for taskID := range expect.BlockedInitially {
		blockedIDs = append(blockedIDs, taskID)
	}
	sort.Strings(blockedIDs)
	for _, taskID := range blockedIDs {
		if _, ok := result.ActiveTasks[taskID]; !ok {
			problems = append(problems, fmt.Sprintf("expected blocked task %q to be active", taskID))
			continue
		}
		want := append([]string(nil), expect.BlockedInitially[taskID]...)
		sort.Strings(want)
		got := result.BlockedBy[taskID]
		if !reflect.DeepEqual(want, got) && !(len(want) == 0 && len(got) == 0) {
			problems = append(problems, fmt.Sprintf("task %q blockers mismatch: want %v, got %v", taskID, want, got))
		}
	}

	deadlineIDs := make([]string, 0, len(expect.Deadlines))
	for taskID := range expect.Deadlines {
		deadlineIDs = append(deadlineIDs, taskID)
	}
	sort.Strings(deadlineIDs)
	for _, taskID := range deadlineIDs {
		want := expect.Deadlines[taskID]
		got, ok := result.Deadlines[taskID]
		if !ok || got != want {
			problems = append(problems, fmt.Sprintf("task %q deadline mismatch: want %q, got %q", taskID, want, got))
		}
	}

	for _, recID := range expect.RecommendationsPresent {
		if _, ok := result.ActiveRecommendations[recID]; !ok {
			problems = append(problems, fmt.Sprintf("expected recommendation %q to be active", recID))
		}
	}
	for _, recID := range expect.RecommendationsAbsent {
		if _, ok := result.ActiveRecommendations[recID]; ok {
			problems = append(problems, fmt.Sprintf("expected recommendation %q to be inactive", recID))
		}
	}

	return problems
}

// CheckExpectedPlan generates a plan for the template and facts and compares
// it structurally against the testcase's expected_plan. Both sides are
// normalized through JSON so YAML integers and JSON numbers compare equal.
func CheckExpectedPlan(template, facts map[string]any, expected map[string]any) error {
	plan, err := planner.GeneratePlan(template, facts)
	if err != nil {
		return fmt.Errorf("generate plan: %w", err)
	}
	got, err := normalizeJSON(plan)
	if err != nil {
		return err
	}
	want, err := normalizeJSON(expected)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(got, want) {
		gotPretty, _ := json.MarshalIndent(got, "", "  ")
		wantPretty, _ := json.MarshalIndent(want, "", "  ")
		return fmt.Errorf("plan mismatch:\nwant:\n%s\ngot:\n%s", wantPretty, gotPretty)
	}
	return nil
}

// normalizeJSON round-trips a value through encoding/json so numeric types
// and container types are uniform before comparison.
func normalizeJSON(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
