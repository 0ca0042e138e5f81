package ticketing

import "encoding/json"

// Wire types for the ticketing platform's v2 REST API. Field names follow
// the platform's JSON exactly; IDs are platform-assigned int64s.

// Target is a platform-registered HTTP callback endpoint.
type Target struct {
	ID          int64  `json:"id,omitempty"`
	Type        string `json:"type"`         // Always "url_target_v2"
	Title       string `json:"title"`        // Fixed title used for discovery matching
	ContentType string `json:"content_type"` // "application/json"
	TargetURL   string `json:"target_url"`
	Method      string `json:"method"` // "post"
}

// Condition is a single trigger firing condition.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Action is a single trigger action. Value shapes vary by action type
// (scalar for most actions, [targetID, payloadTemplate] for
// notification_target), so it is kept raw until inspected.
type Action struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// NotificationTargetID returns the target ID referenced by a
// notification_target action, or false if this action is of another type or
// its value is not the expected [targetID, payload] pair.
func (a Action) NotificationTargetID() (string, bool) {
	if a.Field != "notification_target" {
		return "", false
	}
	var vals []string
	if err := json.Unmarshal(a.Value, &vals); err != nil || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// NotificationAction builds a notification_target action that invokes the
// given target with a JSON payload template.
func NotificationAction(targetID string, payload string) (Action, error) {
	value, err := json.Marshal([]string{targetID, payload})
	if err != nil {
		return Action{}, err
	}
	return Action{Field: "notification_target", Value: value}, nil
}

// Trigger is a platform rule that fires its actions when all conditions match.
type Trigger struct {
	ID      int64       `json:"id,omitempty"`
	Title   string      `json:"title"`
	All     []Condition `json:"all,omitempty"` // Conditions that must all hold
	Actions []Action    `json:"actions"`
}

// User is a ticketing-platform user record. Synchronized users carry the
// messaging-platform user ID as their external ID.
type User struct {
	ID         int64  `json:"id,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
}

// Comment is a ticket comment, used both as the initial ticket body and for
// follow-up messages.
type Comment struct {
	Public   bool   `json:"public"`
	Body     string `json:"body"`
	AuthorID int64  `json:"author_id,omitempty"`
}

// Ticket is a support-case record. Synchronized tickets carry the
// conversation ID as their external ID, which is what makes ticket creation
// idempotent-checkable.
type Ticket struct {
	ID          int64    `json:"id,omitempty"`
	ExternalID  string   `json:"external_id,omitempty"`
	RequesterID int64    `json:"requester_id,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Comment     *Comment `json:"comment,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}
