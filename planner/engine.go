// Package planner turns a declarative workflow template plus user facts into
// an ordered, dated plan artifact.
//
// Generation is deterministic: task eligibility is evaluated over sorted task
// ids, dependency lists are sorted, and topological ordering breaks ties
// lexicographically. The same template and facts always produce a
// byte-identical serialized plan.
package planner

import (
	"fmt"
	"sort"
	"time"
)

// EngineVersion identifies the plan generation semantics. It is recorded in
// every persisted plan snapshot.
const EngineVersion = "0.1.0"

// TaskPlanItem is one ordered task in a generated plan.
type TaskPlanItem struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	RelativeDays int            `json:"relative_days"`
	Deadline     string         `json:"deadline"`
	DependsOn    []string       `json:"depends_on"`
	Meta         map[string]any `json:"meta"`
}

// Plan is the planner output artifact.
type Plan struct {
	WorkflowID string         `json:"workflow_id"`
	EventDate  string         `json:"event_date"`
	Tasks      []TaskPlanItem `json:"tasks"`
}

// GeneratePlan evaluates the workflow template against the facts and returns
// the ordered plan of active tasks.
//
// Edges whose target is inactive are dropped entirely; edges whose source is
// inactive but whose target is active are pruned so the target survives
// without that dependency.
func GeneratePlan(workflow map[string]any, facts map[string]any) (*Plan, error) {
	templateID, err := readString(workflow, "template_id", "workflow")
	if err != nil {
		return nil, err
	}
	eventDateKey, err := readString(workflow, "event_date_key", "workflow")
	if err != nil {
		return nil, err
	}
	tasksByID, err := readTasks(workflow)
	if err != nil {
		return nil, err
	}
	edges, err := readEdges(workflow, tasksByID)
	if err != nil {
		return nil, err
	}

	rawEventDate, ok := facts[eventDateKey]
	if !ok {
		return nil, fmt.Errorf("%w: missing event date fact '%s'", ErrInput, eventDateKey)
	}
	eventDate, err := ParseISODate(rawEventDate)
	if err != nil {
		return nil, err
	}

	taskIDs := make([]string, 0, len(tasksByID))
	for id := range tasksByID {
		taskIDs = append(taskIDs, id)
	}
	sort.Strings(taskIDs)

	activeIDs := make(map[string]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		active, err := IsTaskActive(tasksByID[id], facts)
		if err != nil {
			return nil, err
		}
		if active {
			activeIDs[id] = struct{}{}
		}
	}

	dependsOn := make(map[string][]string, len(activeIDs))
	for id := range activeIDs {
		dependsOn[id] = []string{}
	}
	var activeEdges [][2]string
	for _, edge := range edges {
		source, target := edge[0], edge[1]
		if _, ok := activeIDs[target]; !ok {
			continue
		}
		if _, ok := activeIDs[source]; !ok {
			continue
		}
		dependsOn[target] = append(dependsOn[target], source)
		activeEdges = append(activeEdges, edge)
	}
	for id := range dependsOn {
		sort.Strings(dependsOn[id])
	}

	orderedIDs, err := TopsortTaskIDs(activeIDs, activeEdges)
	if err != nil {
		return nil, err
	}

	itemsByID := make(map[string]TaskPlanItem, len(activeIDs))
	for id := range activeIDs {
		item, err := buildItem(id, tasksByID[id], eventDate, dependsOn[id])
		if err != nil {
			return nil, err
		}
		itemsByID[id] = item
	}

	plan := &Plan{
		WorkflowID: templateID,
		EventDate:  eventDate.Format(DateLayout),
		Tasks:      make([]TaskPlanItem, 0, len(orderedIDs)),
	}
	for _, id := range orderedIDs {
		plan.Tasks = append(plan.Tasks, itemsByID[id])
	}
	return plan, nil
}

func buildItem(taskID string, task map[string]any, eventDate time.Time, dependsOn []string) (TaskPlanItem, error) {
	title, err := readString(task, "title", "tasks."+taskID)
	if err != nil {
		return TaskPlanItem{}, err
	}

	deadlineDef, err := asObject(task["deadline"], "tasks."+taskID+".deadline")
	if err != nil {
		return TaskPlanItem{}, err
	}
	if deadlineDef["type"] != "relative_days" {
		return TaskPlanItem{}, fmt.Errorf("%w: tasks.%s.deadline.type must be 'relative_days'", ErrInput, taskID)
	}

	offsetDays, ok := asInt(deadlineDef["offset_days"])
	if !ok {
		return TaskPlanItem{}, fmt.Errorf("%w: tasks.%s.deadline.offset_days must be int", ErrInput, taskID)
	}
	graceDays := 0
	if raw, present := deadlineDef["grace_days"]; present {
		graceDays, ok = asInt(raw)
		if !ok {
			return TaskPlanItem{}, fmt.Errorf("%w: tasks.%s.deadline.grace_days must be int", ErrInput, taskID)
		}
	}

	dueDate := ComputeDeadline(eventDate, offsetDays, graceDays)
	return TaskPlanItem{
		ID:           taskID,
		Title:        title,
		RelativeDays: offsetDays,
		Deadline:     dueDate.Format(DateLayout),
		DependsOn:    dependsOn,
		Meta:         map[string]any{},
	}, nil
}

func readTasks(workflow map[string]any) (map[string]map[string]any, error) {
	raw, ok := workflow["tasks"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: workflow.tasks must be an object", ErrInput)
	}

	parsed := make(map[string]map[string]any, len(raw))
	for taskID, task := range raw {
		obj, err := asObject(task, "tasks."+taskID)
		if err != nil {
			return nil, err
		}
		parsed[taskID] = obj
	}
	return parsed, nil
}

func readEdges(workflow map[string]any, tasksByID map[string]map[string]any) ([][2]string, error) {
	graph, err := asObject(workflow["graph"], "workflow.graph")
	if err != nil {
		return nil, err
	}
	rawEdges, present := graph["edges"]
	if !present {
		return nil, nil
	}
	list, ok := rawEdges.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: workflow.graph.edges must be a list", ErrInput)
	}

	parsed := make([][2]string, 0, len(list))
	for idx, rawEdge := range list {
		edge, err := asObject(rawEdge, fmt.Sprintf("workflow.graph.edges[%d]", idx))
		if err != nil {
			return nil, err
		}
		source, sourceOK := edge["from"].(string)
		target, targetOK := edge["to"].(string)
		if !sourceOK || !targetOK {
			return nil, fmt.Errorf("%w: workflow.graph.edges[%d] must contain string 'from' and 'to'", ErrInput, idx)
		}
		if _, ok := tasksByID[source]; !ok {
			return nil, fmt.Errorf("%w: dependency references unknown workflow task id", ErrDependency)
		}
		if _, ok := tasksByID[target]; !ok {
			return nil, fmt.Errorf("%w: dependency references unknown workflow task id", ErrDependency)
		}
		parsed = append(parsed, [2]string{source, target})
	}
	return parsed, nil
}

func readString(payload map[string]any, key, context string) (string, error) {
	value, ok := payload[key].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s must be a string", ErrInput, context, key)
	}
	return value, nil
}

func asObject(value any, field string) (map[string]any, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an object", ErrInput, field)
	}
	return obj, nil
}

// asInt accepts integer-valued JSON numbers in whatever Go type a decoder
// produced. Booleans and fractional values are rejected.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
