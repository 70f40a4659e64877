// Package workflow loads, validates and evaluates versioned workflow
// templates. A template lives at <root>/<event>/v<N>/compiled.json and
// declares the tasks, eligibility rules, dependency graph and deadlines for
// one life event. Regression testcases sit next to it under tests/tc_*.yaml.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// keyPattern matches template keys of the form "<event>/v<N>".
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+/v[0-9]+$`)

// Key is a parsed template key.
type Key struct {
	Event   string
	Version int
}

// ParseKey splits a template key like "birth_de/v1" into its parts.
func ParseKey(templateKey string) (Key, error) {
	if !keyPattern.MatchString(templateKey) {
		return Key{}, fmt.Errorf("invalid template key %q", templateKey)
	}
	event, version, _ := strings.Cut(templateKey, "/")
	n, err := strconv.Atoi(strings.TrimPrefix(version, "v"))
	if err != nil {
		return Key{}, fmt.Errorf("invalid template key %q", templateKey)
	}
	return Key{Event: event, Version: n}, nil
}

func (k Key) String() string {
	return fmt.Sprintf("%s/v%d", k.Event, k.Version)
}

// Template is a loaded and graph-validated workflow definition.
type Template struct {
	Key        string
	Definition map[string]any
}

// TemplateID returns the declared template id, or "" when absent.
func (t *Template) TemplateID() string {
	id, _ := t.Definition["template_id"].(string)
	return id
}

// Meta returns the identifying fields recorded in plan snapshots.
func (t *Template) Meta() map[string]any {
	return map[string]any{
		"template_key": t.Key,
		"template_id":  t.Definition["template_id"],
		"version":      t.Definition["version"],
		"locale":       t.Definition["locale"],
		"event_type":   t.Definition["event_type"],
	}
}

// TaskSpec returns the raw template task for id, or an empty object when the
// id is unknown or malformed.
func (t *Template) TaskSpec(taskID string) map[string]any {
	tasks, _ := t.Definition["tasks"].(map[string]any)
	spec, _ := tasks[taskID].(map[string]any)
	if spec == nil {
		return map[string]any{}
	}
	return spec
}

// decodeTemplate parses raw compiled.json bytes into a definition map.
func decodeTemplate(raw []byte) (map[string]any, error) {
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("invalid template JSON: %v", err)
	}
	def, ok := root.(map[string]any)
	if !ok {
		return nil, errors.New("Template root must be an object")
	}
	return def, nil
}
