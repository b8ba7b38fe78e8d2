package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type envelopeHeader struct {
	EventID string `json:"event_id,omitempty"`
	SentAt  string `json:"sent_at,omitempty"`
}

// Encode renders the envelope in wire format. It cannot fail: payloads were
// serialized when the items were built and headers are plain structs.
func (e *Envelope) Encode() []byte {
	var buf bytes.Buffer

	// An envelope without an id carries the bare "{}" header.
	h := envelopeHeader{EventID: e.ID}
	if e.ID != "" && !e.SentAt.IsZero() {
		h.SentAt = e.SentAt.UTC().Format(time.RFC3339Nano)
	}
	line, _ := json.Marshal(h)
	buf.Write(line)
	buf.WriteByte('\n')

	for _, it := range e.Items {
		ih := it.Header
		ih.Length = len(it.Payload)
		line, _ := json.Marshal(ih)
		buf.Write(line)
		buf.WriteByte('\n')
		buf.Write(it.Payload)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// itemHeaderWire distinguishes an absent length from a zero one.
type itemHeaderWire struct {
	Type        string `json:"type"`
	Length      *int   `json:"length"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	ItemCount   int    `json:"item_count"`
}

// Decode parses an encoded envelope. Errors wrap ErrMalformed.
func Decode(data []byte) (*Envelope, error) {
	line, rest, _ := bytes.Cut(data, []byte{'\n'})

	var h envelopeHeader
	if err := json.Unmarshal(line, &h); err != nil {
		return nil, fmt.Errorf("%w: envelope header: %v", ErrMalformed, err)
	}
	env := &Envelope{ID: h.EventID}
	if h.SentAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, h.SentAt); err == nil {
			env.SentAt = t
		}
	}

	for len(rest) > 0 {
		if rest[0] == '\n' {
			rest = rest[1:]
			continue
		}
		line, rest, _ = bytes.Cut(rest, []byte{'\n'})

		var ih itemHeaderWire
		if err := json.Unmarshal(line, &ih); err != nil {
			return nil, fmt.Errorf("%w: item %d header: %v", ErrMalformed, len(env.Items), err)
		}
		if ih.Type == "" {
			return nil, fmt.Errorf("%w: item %d has no type", ErrMalformed, len(env.Items))
		}

		var payload []byte
		if ih.Length != nil {
			n := *ih.Length
			if n < 0 || n > len(rest) {
				return nil, fmt.Errorf("%w: item %d length %d exceeds remaining %d bytes",
					ErrMalformed, len(env.Items), n, len(rest))
			}
			payload, rest = rest[:n], rest[n:]
			if len(rest) > 0 && rest[0] == '\n' {
				rest = rest[1:]
			}
		} else {
			payload, rest, _ = bytes.Cut(rest, []byte{'\n'})
		}

		env.Items = append(env.Items, Item{
			Header: Header{
				Type:        ih.Type,
				Length:      len(payload),
				ContentType: ih.ContentType,
				Filename:    ih.Filename,
				ItemCount:   ih.ItemCount,
			},
			Payload: bytes.Clone(payload),
		})
	}

	if len(env.Items) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, ErrNoItems)
	}
	return env, nil
}
