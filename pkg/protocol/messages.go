// Package protocol implements the Airbyte message protocol spoken on stdout by
// the connector: newline-delimited JSON messages for specs, catalogs,
// connection status, records, state checkpoints, logs, traces and control
// messages.
package protocol

import (
	json "github.com/goccy/go-json"
)

// Type identifies the kind of an Airbyte message
type Type string

const (
	TypeRecord           Type = "RECORD"
	TypeState            Type = "STATE"
	TypeLog              Type = "LOG"
	TypeSpec             Type = "SPEC"
	TypeConnectionStatus Type = "CONNECTION_STATUS"
	TypeCatalog          Type = "CATALOG"
	TypeTrace            Type = "TRACE"
	TypeControl          Type = "CONTROL"
)

// Log levels understood by the platform
const (
	LogLevelFatal = "FATAL"
	LogLevelError = "ERROR"
	LogLevelWarn  = "WARN"
	LogLevelInfo  = "INFO"
	LogLevelDebug = "DEBUG"
	LogLevelTrace = "TRACE"
)

// SyncMode is the read mode of a stream
type SyncMode string

const (
	SyncModeFullRefresh SyncMode = "full_refresh"
	SyncModeIncremental SyncMode = "incremental"
)

// DestinationSyncMode is how the destination applies records
type DestinationSyncMode string

const (
	DestinationSyncModeAppend      DestinationSyncMode = "append"
	DestinationSyncModeOverwrite   DestinationSyncMode = "overwrite"
	DestinationSyncModeAppendDedup DestinationSyncMode = "append_dedup"
)

// ConnectionStatus values
const (
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// StateType distinguishes per-stream state from the legacy blob format
type StateType string

const (
	StateTypeStream StateType = "STREAM"
	StateTypeGlobal StateType = "GLOBAL"
	StateTypeLegacy StateType = "LEGACY"
)

// FailureType classifies trace errors
type FailureType string

const (
	FailureTypeSystem FailureType = "system_error"
	FailureTypeConfig FailureType = "config_error"
)

// Message is the envelope for every line written to stdout
type Message struct {
	Type             Type                    `json:"type"`
	Log              *LogMessage             `json:"log,omitempty"`
	Spec             *ConnectorSpecification `json:"spec,omitempty"`
	ConnectionStatus *ConnectionStatus       `json:"connectionStatus,omitempty"`
	Catalog          *Catalog                `json:"catalog,omitempty"`
	Record           *RecordMessage          `json:"record,omitempty"`
	State            *StateMessage           `json:"state,omitempty"`
	Trace            *TraceMessage           `json:"trace,omitempty"`
	Control          *ControlMessage         `json:"control,omitempty"`
}

// LogMessage carries a log line
type LogMessage struct {
	Level      string `json:"level"`
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// ConnectorSpecification describes the configuration a connector accepts
type ConnectorSpecification struct {
	DocumentationURL              string                `json:"documentationUrl,omitempty"`
	ConnectionSpecification       json.RawMessage       `json:"connectionSpecification"`
	SupportsIncremental           bool                  `json:"supportsIncremental"`
	SupportedDestinationSyncModes []DestinationSyncMode `json:"supported_destination_sync_modes,omitempty"`
}

// ConnectionStatus is the result of a check
type ConnectionStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Catalog lists the streams a source can produce
type Catalog struct {
	Streams []Stream `json:"streams"`
}

// Stream describes one stream and its JSON schema
type Stream struct {
	Name                    string                 `json:"name"`
	Namespace               string                 `json:"namespace,omitempty"`
	JSONSchema              map[string]interface{} `json:"json_schema"`
	SupportedSyncModes      []SyncMode             `json:"supported_sync_modes"`
	SourceDefinedCursor     bool                   `json:"source_defined_cursor,omitempty"`
	DefaultCursorField      []string               `json:"default_cursor_field,omitempty"`
	SourceDefinedPrimaryKey [][]string             `json:"source_defined_primary_key,omitempty"`
}

// ConfiguredCatalog is the catalog selected by the user for a read
type ConfiguredCatalog struct {
	Streams []ConfiguredStream `json:"streams"`
}

// ConfiguredStream is a stream plus the user's sync choices
type ConfiguredStream struct {
	Stream              Stream              `json:"stream"`
	SyncMode            SyncMode            `json:"sync_mode"`
	CursorField         []string            `json:"cursor_field,omitempty"`
	DestinationSyncMode DestinationSyncMode `json:"destination_sync_mode,omitempty"`
	PrimaryKey          [][]string          `json:"primary_key,omitempty"`
}

// RecordMessage carries one row of data
type RecordMessage struct {
	Stream    string      `json:"stream"`
	Namespace string      `json:"namespace,omitempty"`
	Data      interface{} `json:"data"`
	EmittedAt int64       `json:"emitted_at"`
}

// StreamDescriptor names a stream inside state and trace messages
type StreamDescriptor struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
}

// StreamState is the per-stream portion of a state message
type StreamState struct {
	StreamDescriptor StreamDescriptor `json:"stream_descriptor"`
	StreamState      json.RawMessage  `json:"stream_state,omitempty"`
}

// StateStats carries the record count committed with a state message
type StateStats struct {
	RecordCount float64 `json:"recordCount"`
}

// StateMessage is a checkpoint
type StateMessage struct {
	Type        StateType       `json:"type,omitempty"`
	Stream      *StreamState    `json:"stream,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	SourceStats *StateStats     `json:"sourceStats,omitempty"`
}

// TraceMessage reports structured errors
type TraceMessage struct {
	Type      string      `json:"type"`
	EmittedAt float64     `json:"emitted_at"`
	Error     *TraceError `json:"error,omitempty"`
}

// TraceError is the payload of an ERROR trace
type TraceError struct {
	Message          string            `json:"message"`
	InternalMessage  string            `json:"internal_message,omitempty"`
	StackTrace       string            `json:"stack_trace,omitempty"`
	FailureType      FailureType       `json:"failure_type"`
	StreamDescriptor *StreamDescriptor `json:"stream_descriptor,omitempty"`
}

// ControlMessage asks the platform to act on behalf of the connector
type ControlMessage struct {
	Type            string                  `json:"type"`
	EmittedAt       float64                 `json:"emitted_at"`
	ConnectorConfig *ControlConnectorConfig `json:"connectorConfig,omitempty"`
}

// ControlConnectorConfig carries an updated connector configuration
type ControlConnectorConfig struct {
	Config interface{} `json:"config"`
}

// FindStream returns the configured stream with the given name
func (c *ConfiguredCatalog) FindStream(name string) (ConfiguredStream, bool) {
	for _, s := range c.Streams {
		if s.Stream.Name == name {
			return s, true
		}
	}
	return ConfiguredStream{}, false
}
