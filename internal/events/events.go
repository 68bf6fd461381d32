// Package events defines cross-service event payloads published through the outbox.
package events

import "time"

// ActivityDeleted is emitted when the reconciliation engine removes the losing
// side of a duplicate pair. Gamification readers use it to invalidate derived
// state (streaks, leaderboards) built on the deleted record.
type ActivityDeleted struct {
	ActivityID string    `json:"activity_id"`
	UserID     string    `json:"user_id"`
	Source     string    `json:"source"`
	ExternalID string    `json:"external_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DuplicatesResolved summarises one resolution batch for operational consumers.
type DuplicatesResolved struct {
	UserID     string    `json:"user_id"`
	Resolved   int       `json:"resolved"`
	Errors     int       `json:"errors"`
	OccurredAt time.Time `json:"occurred_at"`
}
