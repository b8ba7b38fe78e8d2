package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Item is one telemetry item. The unexported method seals the interface to the
// variants declared in this file.
type Item interface {
	Category() Category
	isItem()
}

// NewEventID returns a random event id: a UUIDv4 rendered as 32 lowercase hex
// characters.
func NewEventID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Level is the severity attached to errors and log events.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelFatal   Level = "fatal"
)

// Error is a captured error or message event.
type Error struct {
	EventID     string            `json:"event_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Level       Level             `json:"level,omitempty"`
	Message     string            `json:"message,omitempty"`
	Exception   []Exception       `json:"exception,omitempty"`
	User        *User             `json:"user,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Extra       map[string]any    `json:"extra,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Release     string            `json:"release,omitempty"`
	ServerName  string            `json:"server_name,omitempty"`
	Platform    string            `json:"platform,omitempty"`

	// Fingerprint overrides server-side grouping when set. It also feeds
	// client-side deduplication.
	Fingerprint []string `json:"fingerprint,omitempty"`

	// Attachments travel in the same envelope as raw-byte items.
	Attachments []Attachment `json:"-"`
}

// NewError returns an Error with a fresh event id and the current time.
func NewError(message string) *Error {
	return &Error{
		EventID:   NewEventID(),
		Timestamp: time.Now().UTC(),
		Level:     LevelError,
		Message:   message,
		Platform:  "go",
	}
}

func (*Error) Category() Category { return CategoryError }
func (*Error) isItem()            {}

// Exception is one entry of an error's exception chain.
type Exception struct {
	Type       string      `json:"type"`
	Value      string      `json:"value,omitempty"`
	Module     string      `json:"module,omitempty"`
	Stacktrace *Stacktrace `json:"stacktrace,omitempty"`
}

// Stacktrace lists frames oldest first.
type Stacktrace struct {
	Frames []Frame `json:"frames"`
}

// Frame is one stack frame.
type Frame struct {
	Function string `json:"function,omitempty"`
	Module   string `json:"module,omitempty"`
	Filename string `json:"filename,omitempty"`
	AbsPath  string `json:"abs_path,omitempty"`
	Lineno   int    `json:"lineno,omitempty"`
	InApp    bool   `json:"in_app,omitempty"`
}

// User identifies the user active when an item was captured.
type User struct {
	ID        string `json:"id,omitempty"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// Attachment is a file shipped alongside an Error.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// CheckInStatus is the state reported by a cron check-in.
type CheckInStatus string

const (
	CheckInOK         CheckInStatus = "ok"
	CheckInError      CheckInStatus = "error"
	CheckInInProgress CheckInStatus = "in_progress"
)

// CheckIn reports the progress of a scheduled job.
type CheckIn struct {
	CheckInID     string         `json:"check_in_id"`
	MonitorSlug   string         `json:"monitor_slug"`
	Status        CheckInStatus  `json:"status"`
	Duration      float64        `json:"duration,omitempty"`
	Environment   string         `json:"environment,omitempty"`
	Release       string         `json:"release,omitempty"`
	MonitorConfig *MonitorConfig `json:"monitor_config,omitempty"`
}

// NewCheckIn returns a CheckIn with a fresh check-in id.
func NewCheckIn(monitorSlug string, status CheckInStatus) *CheckIn {
	return &CheckIn{
		CheckInID:   NewEventID(),
		MonitorSlug: monitorSlug,
		Status:      status,
	}
}

func (*CheckIn) Category() Category { return CategoryCheckIn }
func (*CheckIn) isItem()            {}

// MonitorConfig lets a check-in create or update its monitor.
type MonitorConfig struct {
	Schedule      MonitorSchedule `json:"schedule"`
	CheckInMargin int             `json:"checkin_margin,omitempty"`
	MaxRuntime    int             `json:"max_runtime,omitempty"`
	Timezone      string          `json:"timezone,omitempty"`
}

// MonitorSchedule is either a crontab ("crontab", value) or an interval
// ("interval", value, unit).
type MonitorSchedule struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// Transaction is a finished performance transaction.
type Transaction struct {
	EventID        string            `json:"event_id"`
	Type           string            `json:"type"`
	Name           string            `json:"transaction"`
	StartTimestamp time.Time         `json:"start_timestamp"`
	Timestamp      time.Time         `json:"timestamp"`
	Contexts       Contexts          `json:"contexts"`
	Spans          []Span            `json:"spans,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	Extra          map[string]any    `json:"extra,omitempty"`
	Environment    string            `json:"environment,omitempty"`
	Release        string            `json:"release,omitempty"`
	Platform       string            `json:"platform,omitempty"`
}

// NewTransaction returns a Transaction with a fresh event id and trace.
func NewTransaction(name string, start, end time.Time) *Transaction {
	return &Transaction{
		EventID:        NewEventID(),
		Type:           "transaction",
		Name:           name,
		StartTimestamp: start.UTC(),
		Timestamp:      end.UTC(),
		Contexts: Contexts{Trace: TraceContext{
			TraceID: NewEventID(),
			SpanID:  NewEventID()[:16],
		}},
		Platform: "go",
	}
}

func (*Transaction) Category() Category { return CategoryTransaction }
func (*Transaction) isItem()            {}

// Contexts carries structured context attached to a transaction.
type Contexts struct {
	Trace TraceContext `json:"trace"`
}

// TraceContext identifies the root span of a transaction.
type TraceContext struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
	Op           string `json:"op,omitempty"`
	Status       string `json:"status,omitempty"`
}

// Span is a child span of a transaction.
type Span struct {
	TraceID        string    `json:"trace_id"`
	SpanID         string    `json:"span_id"`
	ParentSpanID   string    `json:"parent_span_id,omitempty"`
	Op             string    `json:"op,omitempty"`
	Description    string    `json:"description,omitempty"`
	Status         string    `json:"status,omitempty"`
	StartTimestamp time.Time `json:"start_timestamp"`
	Timestamp      time.Time `json:"timestamp"`
}

// LogEvent is a single structured log record. Log events have no id; they are
// delivered in batches.
type LogEvent struct {
	Timestamp  time.Time      `json:"timestamp"`
	TraceID    string         `json:"trace_id,omitempty"`
	Level      Level          `json:"level"`
	Body       string         `json:"body"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// NewLogEvent returns a LogEvent stamped with the current time.
func NewLogEvent(level Level, body string) *LogEvent {
	return &LogEvent{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Body:      body,
	}
}

func (*LogEvent) Category() Category { return CategoryLog }
func (*LogEvent) isItem()            {}

// LogBatch groups log events drained together. Batches are built by the log
// buffer and are never submitted directly.
type LogBatch struct {
	Items []*LogEvent `json:"items"`
}

func (*LogBatch) Category() Category { return CategoryLog }
func (*LogBatch) isItem()            {}

// Quantity is the number of events an item stands for in discard accounting.
func Quantity(it Item) int {
	if b, ok := it.(*LogBatch); ok {
		return len(b.Items)
	}
	return 1
}
