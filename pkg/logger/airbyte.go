package logger

import (
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/drivepoint/source-quickbooks/pkg/protocol"
)

var bufferPool = buffer.NewPool()

// airbyteEncoder renders every entry as a protocol LOG message. Structured
// fields are appended to the message text as a JSON object.
type airbyteEncoder struct {
	zapcore.Encoder
}

// NewAirbyteEncoder returns an encoder producing one LOG message per entry
func NewAirbyteEncoder() zapcore.Encoder {
	fieldsOnly := zapcore.EncoderConfig{
		LineEnding:     "",
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
	}
	return &airbyteEncoder{Encoder: zapcore.NewJSONEncoder(fieldsOnly)}
}

func (e *airbyteEncoder) Clone() zapcore.Encoder {
	return &airbyteEncoder{Encoder: e.Encoder.Clone()}
}

func (e *airbyteEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	fieldsBuf, err := e.Encoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return nil, err
	}
	extra := strings.TrimSpace(fieldsBuf.String())
	fieldsBuf.Free()

	var sb strings.Builder
	if ent.LoggerName != "" {
		sb.WriteString(ent.LoggerName)
		sb.WriteString(": ")
	}
	sb.WriteString(ent.Message)
	if extra != "" && extra != "{}" {
		sb.WriteByte(' ')
		sb.WriteString(extra)
	}

	data, err := json.MarshalWithOption(&protocol.Message{
		Type: protocol.TypeLog,
		Log: &protocol.LogMessage{
			Level:      airbyteLevel(ent.Level),
			Message:    sb.String(),
			StackTrace: ent.Stack,
		},
	}, json.DisableHTMLEscape())
	if err != nil {
		return nil, err
	}

	buf := bufferPool.Get()
	_, _ = buf.Write(data)
	buf.AppendByte('\n')
	return buf, nil
}

func airbyteLevel(l zapcore.Level) string {
	switch l {
	case zapcore.DebugLevel:
		return protocol.LogLevelDebug
	case zapcore.InfoLevel:
		return protocol.LogLevelInfo
	case zapcore.WarnLevel:
		return protocol.LogLevelWarn
	case zapcore.ErrorLevel:
		return protocol.LogLevelError
	default:
		return protocol.LogLevelFatal
	}
}
