package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// DecodeItem parses one kind-tagged JSON item as read by the agent from its
// input stream:
//
//	{"kind": "error", "message": "boom", "tags": {"region": "eu"}}
//
// kind is one of error, check_in, transaction or log. Missing ids and
// timestamps are filled in.
func DecodeItem(data []byte) (Item, error) {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("types: decode item: %w", err)
	}

	now := time.Now().UTC()
	switch head.Kind {
	case "error", "event":
		e := &Error{}
		if err := json.Unmarshal(data, e); err != nil {
			return nil, fmt.Errorf("types: decode error item: %w", err)
		}
		if e.EventID == "" {
			e.EventID = NewEventID()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		if e.Level == "" {
			e.Level = LevelError
		}
		return e, nil

	case "check_in":
		c := &CheckIn{}
		if err := json.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("types: decode check_in item: %w", err)
		}
		if c.MonitorSlug == "" {
			return nil, fmt.Errorf("types: check_in item requires monitor_slug")
		}
		if c.CheckInID == "" {
			c.CheckInID = NewEventID()
		}
		return c, nil

	case "transaction":
		tx := &Transaction{}
		if err := json.Unmarshal(data, tx); err != nil {
			return nil, fmt.Errorf("types: decode transaction item: %w", err)
		}
		if tx.EventID == "" {
			tx.EventID = NewEventID()
		}
		tx.Type = "transaction"
		if tx.Timestamp.IsZero() {
			tx.Timestamp = now
		}
		if tx.StartTimestamp.IsZero() {
			tx.StartTimestamp = tx.Timestamp
		}
		if tx.Contexts.Trace.TraceID == "" {
			tx.Contexts.Trace.TraceID = NewEventID()
			tx.Contexts.Trace.SpanID = NewEventID()[:16]
		}
		return tx, nil

	case "log":
		l := &LogEvent{}
		if err := json.Unmarshal(data, l); err != nil {
			return nil, fmt.Errorf("types: decode log item: %w", err)
		}
		if l.Timestamp.IsZero() {
			l.Timestamp = now
		}
		if l.Level == "" {
			l.Level = LevelInfo
		}
		return l, nil
	}
	return nil, fmt.Errorf("types: unknown item kind %q", head.Kind)
}
