package envelope

import (
	"errors"
	"fmt"
	"time"

	"github.com/obsidianstack/beacon/pkg/types"
)

// Item types as they appear in item headers.
const (
	TypeEvent        = "event"
	TypeCheckIn      = "check_in"
	TypeTransaction  = "transaction"
	TypeLog          = "log"
	TypeClientReport = "client_report"
	TypeAttachment   = "attachment"
)

const logContentType = "application/vnd.sentry.items.log+json"

var (
	// ErrNoItems is returned when an envelope would carry no items.
	ErrNoItems = errors.New("envelope: no items")

	// ErrMalformed wraps every Decode failure.
	ErrMalformed = errors.New("envelope: malformed")
)

// Envelope is one delivery unit: a set of items sent in a single request.
type Envelope struct {
	// ID is the event id of the primary item, empty when it has none.
	ID     string
	SentAt time.Time
	Items  []Item

	// Degraded counts items whose payload fell back to a string rendering
	// because part of the item could not be encoded.
	Degraded int
}

// Item is one (header, payload) pair.
type Item struct {
	Header  Header
	Payload []byte
}

// Header describes an item payload. Length is recomputed by Encode.
type Header struct {
	Type        string `json:"type"`
	Length      int    `json:"length"`
	ContentType string `json:"content_type,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ItemCount   int    `json:"item_count,omitempty"`
}

// Category maps the item type to its telemetry category.
func (it Item) Category() types.Category {
	switch it.Header.Type {
	case TypeEvent:
		return types.CategoryError
	case TypeCheckIn:
		return types.CategoryCheckIn
	case TypeTransaction:
		return types.CategoryTransaction
	case TypeLog:
		return types.CategoryLog
	case TypeClientReport:
		return types.CategoryClientReport
	case TypeAttachment:
		return types.CategoryAttachment
	}
	return types.Category(it.Header.Type)
}

// New assembles an envelope from prepared items.
func New(id string, items ...Item) (*Envelope, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	return &Envelope{ID: id, SentAt: time.Now().UTC(), Items: items}, nil
}

// Category is the category of the envelope's primary (first) item. It selects
// the rate-limit bucket checked before sending.
func (e *Envelope) Category() types.Category {
	if len(e.Items) == 0 {
		return ""
	}
	return e.Items[0].Category()
}

// Quantities returns the number of events per category carried by the
// envelope. Attachments and client reports are not counted.
func (e *Envelope) Quantities() map[types.Category]int {
	out := make(map[types.Category]int)
	for _, it := range e.Items {
		c := it.Category()
		switch c {
		case types.CategoryAttachment, types.CategoryClientReport:
			continue
		case types.CategoryLog:
			if it.Header.ItemCount > 0 {
				out[c] += it.Header.ItemCount
				continue
			}
		}
		out[c]++
	}
	return out
}

// FromItem builds the envelope for one drained delivery unit.
func FromItem(item types.Item) (*Envelope, error) {
	switch it := item.(type) {
	case *types.Error:
		return fromError(it)
	case *types.CheckIn:
		payload, ok := marshalPayload(it)
		return build("", ok, Item{Header: Header{Type: TypeCheckIn}, Payload: payload})
	case *types.Transaction:
		tx := *it
		var clean bool
		tx.Extra, clean = sanitize(it.Extra)
		payload, ok := marshalPayload(&tx)
		return build(it.EventID, ok && clean, Item{Header: Header{Type: TypeTransaction}, Payload: payload})
	case *types.LogEvent:
		return fromLogs([]*types.LogEvent{it})
	case *types.LogBatch:
		return fromLogs(it.Items)
	case nil:
		return nil, ErrNoItems
	}
	return nil, fmt.Errorf("envelope: unsupported item %T", item)
}

func fromError(e *types.Error) (*Envelope, error) {
	ev := *e
	var clean bool
	ev.Extra, clean = sanitize(e.Extra)
	payload, ok := marshalPayload(&ev)

	items := []Item{{Header: Header{Type: TypeEvent}, Payload: payload}}
	for _, a := range e.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		items = append(items, Item{
			Header:  Header{Type: TypeAttachment, Filename: a.Filename, ContentType: ct},
			Payload: a.Data,
		})
	}
	return build(e.EventID, ok && clean, items...)
}

func fromLogs(events []*types.LogEvent) (*Envelope, error) {
	if len(events) == 0 {
		return nil, ErrNoItems
	}
	payload, ok := marshalPayload(logPayload(events))
	return build("", ok, Item{
		Header:  Header{Type: TypeLog, ContentType: logContentType, ItemCount: len(events)},
		Payload: payload,
	})
}

// FromClientReport builds the envelope that ships a client report.
func FromClientReport(r *types.ClientReport) (*Envelope, error) {
	if r == nil || len(r.DiscardedEvents) == 0 {
		return nil, ErrNoItems
	}
	payload, ok := marshalPayload(r)
	return build("", ok, Item{Header: Header{Type: TypeClientReport}, Payload: payload})
}

func build(id string, clean bool, items ...Item) (*Envelope, error) {
	env, err := New(id, items...)
	if err != nil {
		return nil, err
	}
	if !clean {
		env.Degraded++
	}
	return env, nil
}
