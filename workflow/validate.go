package workflow

import (
	"fmt"
	"sort"
)

// ValidationError reports a structurally invalid template.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// ValidateGraph enforces the structural invariants of a template: graph.nodes
// must be distinct strings matching the tasks key set exactly, every edge must
// reference known nodes, and the whole graph must be acyclic.
func ValidateGraph(template map[string]any) error {
	graph, err := asObject(template["graph"], "graph")
	if err != nil {
		return err
	}
	tasks, err := asObject(template["tasks"], "tasks")
	if err != nil {
		return err
	}

	nodesRaw, err := asList(graph["nodes"], "graph.nodes")
	if err != nil {
		return err
	}
	nodes := make([]string, 0, len(nodesRaw))
	for _, raw := range nodesRaw {
		node, ok := raw.(string)
		if !ok {
			return validationErrorf("all graph.nodes entries must be strings")
		}
		nodes = append(nodes, node)
	}
	nodeIDs := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		nodeIDs[node] = struct{}{}
	}
	if len(nodeIDs) != len(nodes) {
		return validationErrorf("Duplicate node ids in graph.nodes")
	}

	var missingInTasks, missingInGraph []string
	for node := range nodeIDs {
		if _, ok := tasks[node]; !ok {
			missingInTasks = append(missingInTasks, node)
		}
	}
	for taskID := range tasks {
		if _, ok := nodeIDs[taskID]; !ok {
			missingInGraph = append(missingInGraph, taskID)
		}
	}
	if len(missingInTasks) > 0 || len(missingInGraph) > 0 {
		sort.Strings(missingInTasks)
		sort.Strings(missingInGraph)
		var parts []string
		if len(missingInTasks) > 0 {
			parts = append(parts, fmt.Sprintf("Node missing in tasks: %v", missingInTasks))
		}
		if len(missingInGraph) > 0 {
			parts = append(parts, fmt.Sprintf("Task missing in graph.nodes: %v", missingInGraph))
		}
		msg := parts[0]
		if len(parts) == 2 {
			msg = parts[0] + "; " + parts[1]
		}
		return validationErrorf("%s", msg)
	}

	edges, err := readGraphEdges(graph, nodeIDs)
	if err != nil {
		return err
	}
	return assertAcyclic(nodes, edges)
}

func readGraphEdges(graph map[string]any, nodeIDs map[string]struct{}) ([][2]string, error) {
	rawEdges := graph["edges"]
	if rawEdges == nil {
		return nil, nil
	}
	edgesRaw, err := asList(rawEdges, "graph.edges")
	if err != nil {
		return nil, err
	}
	edges := make([][2]string, 0, len(edgesRaw))
	for idx, raw := range edgesRaw {
		edge, err := asObject(raw, fmt.Sprintf("graph.edges[%d]", idx))
		if err != nil {
			return nil, err
		}
		source, sourceOK := edge["from"].(string)
		target, targetOK := edge["to"].(string)
		if !sourceOK || !targetOK {
			return nil, validationErrorf("graph.edges[%d] must contain string 'from' and 'to'", idx)
		}
		if _, ok := nodeIDs[source]; !ok {
			return nil, validationErrorf("Edge references unknown node: '%s' -> '%s'", source, target)
		}
		if _, ok := nodeIDs[target]; !ok {
			return nil, validationErrorf("Edge references unknown node: '%s' -> '%s'", source, target)
		}
		edges = append(edges, [2]string{source, target})
	}
	return edges, nil
}

// assertAcyclic runs Kahn's algorithm over the full node set; any node left
// with a positive in-degree sits on a cycle.
func assertAcyclic(nodes []string, edges [][2]string) error {
	indegree := make(map[string]int, len(nodes))
	outgoing := make(map[string][]string, len(nodes))
	for _, node := range nodes {
		indegree[node] = 0
	}
	for _, edge := range edges {
		outgoing[edge[0]] = append(outgoing[edge[0]], edge[1])
		indegree[edge[1]]++
	}

	var queue []string
	for _, node := range nodes {
		if indegree[node] == 0 {
			queue = append(queue, node)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range outgoing[node] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(nodes) {
		var cycleNodes []string
		for node, deg := range indegree {
			if deg > 0 {
				cycleNodes = append(cycleNodes, node)
			}
		}
		sort.Strings(cycleNodes)
		return validationErrorf("Cycle detected: affected nodes %v", cycleNodes)
	}
	return nil
}

// ValidateTemplate runs the full structural checks used by the check tool:
// required keys and field shapes first, then the graph invariants.
func ValidateTemplate(def map[string]any) error {
	required := []string{"template_id", "version", "graph", "tasks", "event_date_key"}
	var missing []string
	for _, key := range required {
		if _, ok := def[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return validationErrorf("Missing required keys %v", missing)
	}

	if id, ok := def["template_id"].(string); !ok || id == "" {
		return validationErrorf("template_id must be non-empty string")
	}
	if _, ok := intValue(def["version"]); !ok {
		return validationErrorf("version must be int")
	}
	graph, ok := def["graph"].(map[string]any)
	if !ok {
		return validationErrorf("graph must be object")
	}
	if _, ok := graph["nodes"]; !ok {
		return validationErrorf("graph must contain nodes and edges")
	}
	if _, ok := graph["edges"]; !ok {
		return validationErrorf("graph must contain nodes and edges")
	}
	if _, ok := def["tasks"].(map[string]any); !ok {
		return validationErrorf("tasks must be object")
	}
	return ValidateGraph(def)
}

func asObject(value any, field string) (map[string]any, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, validationErrorf("'%s' must be an object", field)
	}
	return obj, nil
}

func asList(value any, field string) ([]any, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, validationErrorf("'%s' must be a list", field)
	}
	return list, nil
}

// intValue accepts ints from both JSON (float64) and YAML (int) decoding.
// Booleans are never ints.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}
