package protocol

import (
	"fmt"
	"io"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Emitter serializes messages onto a single writer, one JSON document per
// line. It is safe for concurrent use and doubles as the sink for the
// protocol log encoder so that log lines never interleave with records.
type Emitter struct {
	mu     sync.Mutex
	w      io.Writer
	now    func() time.Time
	counts map[Type]int64
}

// NewEmitter creates an emitter writing to w
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{
		w:      w,
		now:    time.Now,
		counts: make(map[Type]int64),
	}
}

// SetClock overrides the clock used for emitted_at timestamps
func (e *Emitter) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Emit writes a single message
func (e *Emitter) Emit(msg *Message) error {
	data, err := json.MarshalWithOption(msg, json.DisableHTMLEscape())
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s message: %w", msg.Type, err)
	}
	e.counts[msg.Type]++
	return nil
}

// Write passes pre-encoded lines through under the emitter lock
func (e *Emitter) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.w.Write(p)
	if err == nil {
		e.counts[TypeLog]++
	}
	return n, err
}

// Sync flushes the underlying writer when it supports it
func (e *Emitter) Sync() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.w.(interface{ Sync() error }); ok {
		// stdout on a pipe reports EINVAL on fsync; nothing to flush there
		_ = s.Sync()
	}
	return nil
}

// Count returns how many messages of the given type were written
func (e *Emitter) Count(t Type) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[t]
}

func (e *Emitter) nowMillis() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now().UnixMilli()
}

// Record emits a RECORD message for stream
func (e *Emitter) Record(stream string, data interface{}) error {
	return e.Emit(&Message{
		Type: TypeRecord,
		Record: &RecordMessage{
			Stream:    stream,
			Data:      data,
			EmittedAt: e.nowMillis(),
		},
	})
}

// StreamState emits a per-stream STATE message
func (e *Emitter) StreamState(stream string, state interface{}, recordCount int64) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state for stream %s: %w", stream, err)
	}
	return e.Emit(&Message{
		Type: TypeState,
		State: &StateMessage{
			Type: StateTypeStream,
			Stream: &StreamState{
				StreamDescriptor: StreamDescriptor{Name: stream},
				StreamState:      raw,
			},
			SourceStats: &StateStats{RecordCount: float64(recordCount)},
		},
	})
}

// Log emits a LOG message
func (e *Emitter) Log(level, message string) error {
	return e.Emit(&Message{
		Type: TypeLog,
		Log:  &LogMessage{Level: level, Message: message},
	})
}

// Spec emits the connector specification
func (e *Emitter) Spec(spec *ConnectorSpecification) error {
	return e.Emit(&Message{Type: TypeSpec, Spec: spec})
}

// Catalog emits a discovered catalog
func (e *Emitter) Catalog(catalog *Catalog) error {
	return e.Emit(&Message{Type: TypeCatalog, Catalog: catalog})
}

// ConnectionStatus emits the outcome of a check
func (e *Emitter) ConnectionStatus(succeeded bool, message string) error {
	status := StatusFailed
	if succeeded {
		status = StatusSucceeded
	}
	return e.Emit(&Message{
		Type:             TypeConnectionStatus,
		ConnectionStatus: &ConnectionStatus{Status: status, Message: message},
	})
}

// TraceError emits an ERROR trace for a failure that ends the run
func (e *Emitter) TraceError(message string, cause error, failureType FailureType, stream string) error {
	te := &TraceError{
		Message:     message,
		FailureType: failureType,
	}
	if cause != nil {
		te.InternalMessage = cause.Error()
		te.StackTrace = fmt.Sprintf("%+v", cause)
	}
	if stream != "" {
		te.StreamDescriptor = &StreamDescriptor{Name: stream}
	}
	return e.Emit(&Message{
		Type: TypeTrace,
		Trace: &TraceMessage{
			Type:      "ERROR",
			EmittedAt: float64(e.nowMillis()),
			Error:     te,
		},
	})
}

// ControlConfig emits a CONNECTOR_CONFIG control message carrying an updated
// configuration, used to persist rotated credentials.
func (e *Emitter) ControlConfig(config interface{}) error {
	return e.Emit(&Message{
		Type: TypeControl,
		Control: &ControlMessage{
			Type:            "CONNECTOR_CONFIG",
			EmittedAt:       float64(e.nowMillis()),
			ConnectorConfig: &ControlConnectorConfig{Config: config},
		},
	})
}
