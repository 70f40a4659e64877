package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runnerTemplate() map[string]any {
	return map[string]any{
		"template_id":    "birth_de",
		"version":        1,
		"event_date_key": "birth_date",
		"tasks": map[string]any{
			"t_always": map[string]any{
				"title": "Always on",
				"deadline": map[string]any{
					"type":        "relative_days",
					"reference":   "birth_date",
					"offset_days": 7,
				},
			},
			"t_nullable": map[string]any{
				"title":       "Null rule keeps me active",
				"eligibility": nil,
			},
			"t_employed": map[string]any{
				"title": "Employed only",
				"eligibility": map[string]any{
					"fact": "employment_type", "op": "=", "value": "employed",
				},
				"deadline": map[string]any{
					"type":        "relative_days",
					"reference":   "registration_date",
					"offset_days": 3,
					"grace_days":  1,
				},
			},
		},
		"graph": map[string]any{
			"nodes": []any{"t_always", "t_nullable", "t_employed"},
			"edges": []any{
				map[string]any{"from": "t_always", "to": "t_employed"},
				map[string]any{"from": "t_nullable", "to": "t_employed"},
			},
		},
		"recommendations": map[string]any{
			"rec_gkv": map[string]any{
				"eligibility": map[string]any{
					"fact": "child_insurance_kind", "op": "=", "value": "gkv",
				},
			},
			"rec_open": map[string]any{},
		},
	}
}

func TestRunTemplate_EvaluatesEligibilityAndBlockers(t *testing.T) {
	facts := map[string]any{
		"birth_date":           "2026-04-01",
		"employment_type":      "employed",
		"child_insurance_kind": "gkv",
	}

	result, err := RunTemplate(runnerTemplate(), facts)
	require.NoError(t, err)

	assert.Contains(t, result.ActiveTasks, "t_always")
	assert.Contains(t, result.ActiveTasks, "t_nullable")
	assert.Contains(t, result.ActiveTasks, "t_employed")
	assert.Equal(t, []string{"t_always", "t_nullable"}, result.BlockedBy["t_employed"])
	assert.Equal(t, []string{}, result.BlockedBy["t_always"])

	assert.Contains(t, result.ActiveRecommendations, "rec_gkv")
	assert.Contains(t, result.ActiveRecommendations, "rec_open")
}

func TestRunTemplate_NullEligibilityKeepsTaskActive(t *testing.T) {
	result, err := RunTemplate(runnerTemplate(), map[string]any{"birth_date": "2026-04-01"})
	require.NoError(t, err)

	assert.Contains(t, result.ActiveTasks, "t_nullable")
	assert.NotContains(t, result.ActiveTasks, "t_employed")
}

func TestRunTemplate_ResolvesPerTaskDeadlineReferences(t *testing.T) {
	facts := map[string]any{
		"birth_date":        "2026-04-01",
		"registration_date": "2026-04-10",
		"employment_type":   "employed",
	}

	result, err := RunTemplate(runnerTemplate(), facts)
	require.NoError(t, err)

	assert.Equal(t, "2026-04-08", result.Deadlines["t_always"])
	assert.Equal(t, "2026-04-14", result.Deadlines["t_employed"])
}

func TestRunTemplate_SkipsDeadlineWhenReferenceFactMissing(t *testing.T) {
	facts := map[string]any{
		"birth_date":      "2026-04-01",
		"employment_type": "employed",
	}

	result, err := RunTemplate(runnerTemplate(), facts)
	require.NoError(t, err)

	_, ok := result.Deadlines["t_employed"]
	assert.False(t, ok)
}

func TestRunTemplate_RejectsNonIntegerOffsets(t *testing.T) {
	template := runnerTemplate()
	task := template["tasks"].(map[string]any)["t_always"].(map[string]any)
	task["deadline"].(map[string]any)["offset_days"] = "7"

	_, err := RunTemplate(template, map[string]any{"birth_date": "2026-04-01"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadline.offset_days/grace_days must be int")
}

func TestCheckExpectations_ReportsEachUnmetAssertion(t *testing.T) {
	result := &RuntimeResult{
		ActiveTasks: map[string]struct{}{"t_a": {}, "t_b": {}},
		BlockedBy: map[string][]string{
			"t_a": {},
			"t_b": {"t_a"},
		},
		Deadlines:             map[string]string{"t_a": "2026-04-08"},
		ActiveRecommendations: map[string]struct{}{"rec_x": {}},
	}

	problems := CheckExpectations(result, Expectations{
		TasksPresent:           []string{"t_a", "t_missing"},
		TasksAbsent:            []string{"t_b"},
		BlockedInitially:       map[string][]string{"t_b": {"t_z"}},
		Deadlines:              map[string]string{"t_a": "2026-04-09"},
		RecommendationsPresent: []string{"rec_y"},
		RecommendationsAbsent:  []string{"rec_x"},
	})

	require.Len(t, problems, 6)
	assert.Contains(t, problems[0], `expected task "t_missing" to be active`)
	assert.Contains(t, problems[1], `expected task "t_b" to be inactive`)
	assert.Contains(t, problems[2], `task "t_b" blockers mismatch`)
	assert.Contains(t, problems[3], `task "t_a" deadline mismatch`)
	assert.Contains(t, problems[4], `expected recommendation "rec_y" to be active`)
	assert.Contains(t, problems[5], `expected recommendation "rec_x" to be inactive`)
}

func TestCheckExpectations_PassesWhenAllMet(t *testing.T) {
	result := &RuntimeResult{
		ActiveTasks:           map[string]struct{}{"t_a": {}, "t_b": {}},
		BlockedBy:             map[string][]string{"t_a": {}, "t_b": {"t_a"}},
		Deadlines:             map[string]string{"t_a": "2026-04-08"},
		ActiveRecommendations: map[string]struct{}{},
	}

	problems := CheckExpectations(result, Expectations{
		TasksPresent:     []string{"t_a"},
		BlockedInitially: map[string][]string{"t_b": {"t_a"}, "t_a": {}},
		Deadlines:        map[string]string{"t_a": "2026-04-08"},
	})

	assert.Empty(t, problems)
}

func TestCheckExpectedPlan_MatchesGeneratedPlan(t *testing.T) {
	template := map[string]any{
		"template_id":    "birth_de",
		"version":        1,
		"event_date_key": "birth_date",
		"tasks": map[string]any{
			"t_a": map[string]any{
				"title":    "First",
				"deadline": map[string]any{"type": "relative_days", "offset_days": 7},
			},
		},
		"graph": map[string]any{"nodes": []any{"t_a"}, "edges": []any{}},
	}
	facts := map[string]any{"birth_date": "2026-04-01"}
	expected := map[string]any{
		"workflow_id": "birth_de",
		"event_date":  "2026-04-01",
		"tasks": []any{
			map[string]any{
				"id":            "t_a",
				"title":         "First",
				"relative_days": 7,
				"deadline":      "2026-04-08",
				"depends_on":    []any{},
				"meta":          map[string]any{},
			},
		},
	}

	require.NoError(t, CheckExpectedPlan(template, facts, expected))

	expected["event_date"] = "2026-04-02"
	err := CheckExpectedPlan(template, facts, expected)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan mismatch")
}

func TestLoadTestcase_ParsesYAMLSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tc_example.yaml")
	payload := `template_id: birth_de
template_version: 1
facts:
  birth_date: "2026-04-01"
  employment_type: employed
expect:
  tasks_present:
    - t_always
  blocked_initially:
    t_employed:
      - t_always
  deadlines:
    t_always: "2026-04-08"
  recommendations_absent:
    - rec_gkv
expected_plan:
  workflow_id: birth_de
  event_date: "2026-04-01"
  tasks: []
`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	tc, err := LoadTestcase(path)
	require.NoError(t, err)

	assert.Equal(t, "birth_de", tc.TemplateID)
	assert.Equal(t, 1, tc.TemplateVersion)
	assert.Equal(t, "2026-04-01", tc.Facts["birth_date"])
	assert.Equal(t, []string{"t_always"}, tc.Expect.TasksPresent)
	assert.Equal(t, []string{"t_always"}, tc.Expect.BlockedInitially["t_employed"])
	assert.Equal(t, "2026-04-08", tc.Expect.Deadlines["t_always"])
	assert.Equal(t, []string{"rec_gkv"}, tc.Expect.RecommendationsAbsent)
	assert.Equal(t, "birth_de", tc.ExpectedPlan["workflow_id"])
}

func TestLoadTestcase_DefaultsMissingFacts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tc_empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("template_id: birth_de\ntemplate_version: 1\n"), 0o644))

	tc, err := LoadTestcase(path)
	require.NoError(t, err)
	assert.NotNil(t, tc.Facts)
	assert.Empty(t, tc.Facts)
}
