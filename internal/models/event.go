package models

// Change-feed event kinds. The feed carries row-level notifications for the
// messages and profiles tables; it is not filtered server-side.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"

	TableMessages = "messages"
	TableProfiles = "profiles"
)

// ChangeEvent is the wire format pushed over the realtime feed. Exactly one
// of Message/Profile is set depending on Table.
type ChangeEvent struct {
	Table   string   `json:"table"`
	Kind    string   `json:"kind"`
	Message *Message `json:"message,omitempty"`
	Profile *Profile `json:"profile,omitempty"`
}
