package planner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func demoWorkflow() map[string]any {
	return map[string]any{
		"template_id":    "demo",
		"event_date_key": "birth_date",
		"graph": map[string]any{
			"nodes": []any{"t_a", "t_b", "t_c", "t_d"},
			"edges": []any{
				map[string]any{"from": "t_a", "to": "t_b"},
				map[string]any{"from": "t_c", "to": "t_b"},
			},
		},
		"tasks": map[string]any{
			"t_a": map[string]any{
				"title":       "A",
				"eligibility": map[string]any{"all": []any{}},
				"deadline":    map[string]any{"type": "relative_days", "offset_days": 7},
			},
			"t_b": map[string]any{
				"title":       "B",
				"eligibility": map[string]any{"fact": "employed", "op": "=", "value": true},
				"deadline":    map[string]any{"type": "relative_days", "offset_days": 14},
			},
			"t_c": map[string]any{
				"title":       "C",
				"eligibility": map[string]any{"fact": "include_c", "op": "=", "value": true},
				"deadline":    map[string]any{"type": "relative_days", "offset_days": 3},
			},
			"t_d": map[string]any{
				"title":       "D",
				"eligibility": map[string]any{"all": []any{}},
				"deadline":    map[string]any{"type": "relative_days", "offset_days": 2},
			},
		},
	}
}

func TestGeneratePlan_SoftPrunesInactiveDependenciesAndIsDeterministic(t *testing.T) {
	workflow := demoWorkflow()
	facts := map[string]any{"birth_date": "2026-04-01", "employed": true, "include_c": false}

	plan1, err := GeneratePlan(workflow, facts)
	require.NoError(t, err)
	plan2, err := GeneratePlan(workflow, facts)
	require.NoError(t, err)

	assert.Equal(t, plan1, plan2)

	bytes1, err := json.Marshal(plan1)
	require.NoError(t, err)
	bytes2, err := json.Marshal(plan2)
	require.NoError(t, err)
	assert.Equal(t, bytes1, bytes2)

	assert.Equal(t, "demo", plan1.WorkflowID)
	assert.Equal(t, "2026-04-01", plan1.EventDate)
	assert.Equal(t, []TaskPlanItem{
		{ID: "t_a", Title: "A", RelativeDays: 7, Deadline: "2026-04-08", DependsOn: []string{}, Meta: map[string]any{}},
		{ID: "t_b", Title: "B", RelativeDays: 14, Deadline: "2026-04-15", DependsOn: []string{"t_a"}, Meta: map[string]any{}},
		{ID: "t_d", Title: "D", RelativeDays: 2, Deadline: "2026-04-03", DependsOn: []string{}, Meta: map[string]any{}},
	}, plan1.Tasks)
}

func TestGeneratePlan_DropsEdgesWhoseTargetIsInactive(t *testing.T) {
	workflow := demoWorkflow()
	facts := map[string]any{"birth_date": "2026-04-01", "include_c": true}

	plan, err := GeneratePlan(workflow, facts)
	require.NoError(t, err)

	// t_b is inactive, so both edges into it vanish; t_c stays active.
	ids := make([]string, 0, len(plan.Tasks))
	for _, task := range plan.Tasks {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"t_a", "t_c", "t_d"}, ids)
}

func TestGeneratePlan_MissingEventDateFactErrors(t *testing.T) {
	_, err := GeneratePlan(demoWorkflow(), map[string]any{"employed": true})
	require.ErrorIs(t, err, ErrInput)
	assert.Contains(t, err.Error(), "missing event date fact 'birth_date'")
}

func TestGeneratePlan_UnknownWorkflowDependencyErrors(t *testing.T) {
	workflow := map[string]any{
		"template_id":    "demo",
		"event_date_key": "birth_date",
		"graph": map[string]any{
			"nodes": []any{"t_a", "t_b"},
			"edges": []any{map[string]any{"from": "t_unknown", "to": "t_b"}},
		},
		"tasks": map[string]any{
			"t_a": map[string]any{
				"title":       "A",
				"eligibility": map[string]any{"all": []any{}},
				"deadline":    map[string]any{"type": "relative_days", "offset_days": 1},
			},
			"t_b": map[string]any{
				"title":       "B",
				"eligibility": map[string]any{"all": []any{}},
				"deadline":    map[string]any{"type": "relative_days", "offset_days": 1},
			},
		},
	}

	_, err := GeneratePlan(workflow, map[string]any{"birth_date": "2026-04-01"})
	require.ErrorIs(t, err, ErrDependency)
	assert.Contains(t, err.Error(), "unknown workflow task id")
}

func TestGeneratePlan_InvalidDeadlineTypeErrors(t *testing.T) {
	workflow := map[string]any{
		"template_id":    "demo",
		"event_date_key": "birth_date",
		"graph":          map[string]any{"nodes": []any{"t_a"}, "edges": []any{}},
		"tasks": map[string]any{
			"t_a": map[string]any{
				"title":       "A",
				"eligibility": map[string]any{"all": []any{}},
				"deadline":    map[string]any{"type": "fixed_date", "offset_days": 1},
			},
		},
	}

	_, err := GeneratePlan(workflow, map[string]any{"birth_date": "2026-04-01"})
	require.ErrorIs(t, err, ErrInput)
	assert.Contains(t, err.Error(), "must be 'relative_days'")
}

func TestGeneratePlan_RejectsBooleanAndFractionalOffsets(t *testing.T) {
	build := func(offset any) map[string]any {
		return map[string]any{
			"template_id":    "demo",
			"event_date_key": "birth_date",
			"graph":          map[string]any{"nodes": []any{"t_a"}, "edges": []any{}},
			"tasks": map[string]any{
				"t_a": map[string]any{
					"title":       "A",
					"eligibility": map[string]any{"all": []any{}},
					"deadline":    map[string]any{"type": "relative_days", "offset_days": offset},
				},
			},
		}
	}

	_, err := GeneratePlan(build(true), map[string]any{"birth_date": "2026-04-01"})
	require.ErrorIs(t, err, ErrInput)
	assert.Contains(t, err.Error(), "offset_days must be int")

	_, err = GeneratePlan(build(1.5), map[string]any{"birth_date": "2026-04-01"})
	require.ErrorIs(t, err, ErrInput)

	// Integral JSON numbers decode as float64 and are accepted.
	plan, err := GeneratePlan(build(float64(7)), map[string]any{"birth_date": "2026-04-01"})
	require.NoError(t, err)
	assert.Equal(t, 7, plan.Tasks[0].RelativeDays)
}

func TestGeneratePlan_InvalidWorkflowShapeErrors(t *testing.T) {
	_, err := GeneratePlan(map[string]any{
		"tasks":          map[string]any{},
		"graph":          map[string]any{},
		"event_date_key": "birth_date",
	}, map[string]any{})
	require.ErrorIs(t, err, ErrInput)
	assert.Contains(t, err.Error(), "workflow.template_id")
}
