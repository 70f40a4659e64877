package notify

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/lebenslotse/lifeplan/storage"
)

// DueSoonDedupeKey builds the outbox dedupe key guaranteeing at most one
// due-soon reminder per profile per Berlin-local day.
func DueSoonDedupeKey(profileID uuid.UUID, localDay string) string {
	return fmt.Sprintf("task_due_soon|email|profile:%s|%s", profileID, localDay)
}

// DueSoonTask is one task entry in a reminder payload.
type DueSoonTask struct {
	TaskKey        string `json:"task_key"`
	TaskInstanceID string `json:"task_instance_id"`
	Title          string `json:"title"`
	DueDate        string `json:"due_date"`
	DueInDays      int    `json:"due_in_days"`
	Category       string `json:"category,omitempty"`
	Priority       string `json:"priority,omitempty"`
}

// DueSoonPayload is the outbox payload for a task_due_soon reminder. It is
// self-contained: the dispatcher renders the email from it without touching
// plans or tasks again.
type DueSoonPayload struct {
	ProfileID      string        `json:"profile_id"`
	PlanID         string        `json:"plan_id"`
	ToEmail        string        `json:"to_email"`
	Locale         string        `json:"locale"`
	Timezone       string        `json:"timezone"`
	Tasks          []DueSoonTask `json:"tasks"`
	PlanURL        string        `json:"plan_url"`
	SettingsURL    string        `json:"settings_url"`
	UnsubscribeURL string        `json:"unsubscribe_url"`
}

// toJSONMap converts the payload into the generic map stored in the JSONB
// payload column.
func (p *DueSoonPayload) toJSONMap() (storage.JSONMap, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var m storage.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return m, nil
}

// payloadFromJSONMap decodes a stored outbox payload.
func payloadFromJSONMap(m storage.JSONMap) (*DueSoonPayload, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal stored payload: %w", err)
	}
	var p DueSoonPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode stored payload: %w", err)
	}
	return &p, nil
}
