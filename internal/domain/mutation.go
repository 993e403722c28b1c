package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// MutationOp is the verb of a bucket or rule mutation event.
type MutationOp string

const (
	// OpCreate records a create.
	OpCreate MutationOp = "create"
	// OpUpdate records an update.
	OpUpdate MutationOp = "update"
	// OpDelete records a delete.
	OpDelete MutationOp = "delete"
)

// BucketMutation is the payload of an EventBucketMutated record. For deletes
// only Bucket.ID is meaningful.
type BucketMutation struct {
	Op     MutationOp `json:"op"`
	Bucket Bucket     `json:"bucket"`
}

// RuleMutation is the payload of an EventRuleMutated record.
type RuleMutation struct {
	Op   MutationOp  `json:"op"`
	Rule FundingRule `json:"rule"`
}

// NewBucketMutationEvent wraps a bucket mutation in a log record.
func NewBucketMutationEvent(id string, m BucketMutation, ts time.Time, deviceID string) (Event, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return Event{}, fmt.Errorf("NewBucketMutationEvent: marshal payload: %w", err)
	}
	return Event{ID: id, Type: EventBucketMutated, Timestamp: ts, DeviceID: deviceID, Payload: payload}, nil
}

// NewRuleMutationEvent wraps a rule mutation in a log record.
func NewRuleMutationEvent(id string, m RuleMutation, ts time.Time, deviceID string) (Event, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return Event{}, fmt.Errorf("NewRuleMutationEvent: marshal payload: %w", err)
	}
	return Event{ID: id, Type: EventRuleMutated, Timestamp: ts, DeviceID: deviceID, Payload: payload}, nil
}

// BucketMutation decodes the payload of an EventBucketMutated record.
func (e Event) BucketMutation() (BucketMutation, error) {
	if e.Type != EventBucketMutated {
		return BucketMutation{}, fmt.Errorf("event %s is %s, not %s", e.ID, e.Type, EventBucketMutated)
	}
	var m BucketMutation
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return BucketMutation{}, fmt.Errorf("decode bucket mutation of event %s: %w", e.ID, err)
	}
	return m, nil
}

// RuleMutation decodes the payload of an EventRuleMutated record.
func (e Event) RuleMutation() (RuleMutation, error) {
	if e.Type != EventRuleMutated {
		return RuleMutation{}, fmt.Errorf("event %s is %s, not %s", e.ID, e.Type, EventRuleMutated)
	}
	var m RuleMutation
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return RuleMutation{}, fmt.Errorf("decode rule mutation of event %s: %w", e.ID, err)
	}
	return m, nil
}
