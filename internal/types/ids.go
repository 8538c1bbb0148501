package types

import (
	"time"

	"github.com/google/uuid"
)

// NewSegmentID generates a UUIDv7 segment identifier.
// Time-ordered IDs ensure sequential inserts cluster in B-tree pages.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewSegmentID() SegmentID {
	return SegmentID(uuid.Must(uuid.NewV7()).String())
}

// NewRuleID generates a UUIDv7 trigger rule identifier.
func NewRuleID() RuleID {
	return RuleID(uuid.Must(uuid.NewV7()).String())
}

// NewEventID generates a UUIDv7 event identifier.
func NewEventID() EventID {
	return EventID(uuid.Must(uuid.NewV7()).String())
}

// NewActionID generates a UUIDv7 action identifier.
func NewActionID() ActionID {
	return ActionID(uuid.Must(uuid.NewV7()).String())
}

// NewExecutionID generates a UUIDv7 execution record identifier.
func NewExecutionID() ExecutionID {
	return ExecutionID(uuid.Must(uuid.NewV7()).String())
}

// ParseEventID validates and converts a string to EventID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the system.
func ParseEventID(s string) (EventID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return EventID(s), nil
}

// ParseSegmentID validates and converts a string to SegmentID.
func ParseSegmentID(s string) (SegmentID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return SegmentID(s), nil
}

// ParseRuleID validates and converts a string to RuleID.
func ParseRuleID(s string) (RuleID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return RuleID(s), nil
}

// EventIDTime extracts the timestamp embedded in a UUIDv7 event ID.
// Enables time-based queries without database lookup.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func EventIDTime(id EventID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
