package envelope

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/obsidianstack/beacon/pkg/types"
)

// marshalPayload encodes v as JSON. When v cannot be encoded the payload is
// the JSON string of its %#v rendering and ok is false.
func marshalPayload(v any) (payload []byte, ok bool) {
	b, err := json.Marshal(v)
	if err == nil {
		return b, true
	}
	b, _ = json.Marshal(inspect(v))
	return b, false
}

func inspect(v any) string {
	return fmt.Sprintf("%#v", v)
}

// sanitize returns m with every value that cannot be JSON-encoded replaced by
// its %#v rendering. m itself is never modified; clean reports whether it
// could be used as is.
func sanitize(m map[string]any) (out map[string]any, clean bool) {
	clean = true
	for k, v := range m {
		if _, err := json.Marshal(v); err == nil {
			continue
		}
		if clean {
			out = make(map[string]any, len(m))
			for k2, v2 := range m {
				out[k2] = v2
			}
			clean = false
		}
		out[k] = inspect(v)
	}
	if clean {
		return m, true
	}
	return out, false
}

// logBatchWire is the payload of a log item.
type logBatchWire struct {
	Items []logWire `json:"items"`
}

type logWire struct {
	Timestamp  float64            `json:"timestamp"`
	TraceID    string             `json:"trace_id,omitempty"`
	Level      types.Level        `json:"level"`
	Body       string             `json:"body"`
	Attributes map[string]logAttr `json:"attributes,omitempty"`
}

type logAttr struct {
	Value any    `json:"value"`
	Type  string `json:"type"`
}

func logPayload(events []*types.LogEvent) logBatchWire {
	out := logBatchWire{Items: make([]logWire, 0, len(events))}
	for _, ev := range events {
		w := logWire{
			Timestamp: float64(ev.Timestamp.UnixNano()) / 1e9,
			TraceID:   ev.TraceID,
			Level:     ev.Level,
			Body:      ev.Body,
		}
		if len(ev.Attributes) > 0 {
			w.Attributes = make(map[string]logAttr, len(ev.Attributes))
			for k, v := range ev.Attributes {
				w.Attributes[k] = typedAttr(v)
			}
		}
		out.Items = append(out.Items, w)
	}
	return out
}

// typedAttr tags an attribute value with its log attribute type. Values of any
// other type are sent as their string rendering.
func typedAttr(v any) logAttr {
	switch x := v.(type) {
	case string:
		return logAttr{Value: x, Type: "string"}
	case bool:
		return logAttr{Value: x, Type: "boolean"}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return logAttr{Value: x, Type: "integer"}
	case float32:
		if f := float64(x); !math.IsNaN(f) && !math.IsInf(f, 0) {
			return logAttr{Value: x, Type: "double"}
		}
	case float64:
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			return logAttr{Value: x, Type: "double"}
		}
	case fmt.Stringer:
		return logAttr{Value: x.String(), Type: "string"}
	}
	return logAttr{Value: inspect(v), Type: "string"}
}
