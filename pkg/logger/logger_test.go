package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/drivepoint/source-quickbooks/pkg/protocol"
)

func decodeLines(t *testing.T, out string) []protocol.Message {
	t.Helper()
	var msgs []protocol.Message
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var msg protocol.Message
		require.NoError(t, json.Unmarshal([]byte(line), &msg), line)
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestAirbyteEncoding(t *testing.T) {
	var out bytes.Buffer
	l, err := New(Config{Level: "debug", Encoding: EncodingAirbyte, Output: zapcore.AddSync(&out)})
	require.NoError(t, err)

	l.Info("reading stream", zap.String("stream", "balance_sheet"))
	l.Named("quickbooks").Warn("no rows in report")
	l.With(zap.Int("attempt", 2)).Error("request failed", zap.Error(errors.New("boom")))
	l.Debug("plain")

	msgs := decodeLines(t, out.String())
	require.Len(t, msgs, 4)

	for _, m := range msgs {
		assert.Equal(t, protocol.TypeLog, m.Type)
		require.NotNil(t, m.Log)
	}

	assert.Equal(t, "INFO", msgs[0].Log.Level)
	assert.Equal(t, `reading stream {"stream":"balance_sheet"}`, msgs[0].Log.Message)

	assert.Equal(t, "WARN", msgs[1].Log.Level)
	assert.Equal(t, "quickbooks: no rows in report", msgs[1].Log.Message)

	assert.Equal(t, "ERROR", msgs[2].Log.Level)
	assert.Equal(t, `request failed {"attempt":2,"error":"boom"}`, msgs[2].Log.Message)

	assert.Equal(t, "DEBUG", msgs[3].Log.Level)
	assert.Equal(t, "plain", msgs[3].Log.Message)
}

func TestAirbyteEncodingRespectsLevel(t *testing.T) {
	var out bytes.Buffer
	l, err := New(Config{Level: "warn", Output: zapcore.AddSync(&out)})
	require.NoError(t, err)

	l.Info("dropped")
	l.Warn("kept")

	msgs := decodeLines(t, out.String())
	require.Len(t, msgs, 1)
	assert.Equal(t, "kept", msgs[0].Log.Message)
}

func TestAirbyteEncodingSharesEmitter(t *testing.T) {
	var out bytes.Buffer
	em := protocol.NewEmitter(&out)
	l, err := New(Config{Level: "info", Output: em})
	require.NoError(t, err)

	require.NoError(t, em.Record("balance_sheet", map[string]string{"_Account": "Checking"}))
	l.Info("between records")
	require.NoError(t, em.Record("balance_sheet", map[string]string{"_Account": "Savings"}))

	msgs := decodeLines(t, out.String())
	require.Len(t, msgs, 3)
	assert.Equal(t, protocol.TypeRecord, msgs[0].Type)
	assert.Equal(t, protocol.TypeLog, msgs[1].Type)
	assert.Equal(t, protocol.TypeRecord, msgs[2].Type)
	assert.Equal(t, int64(1), em.Count(protocol.TypeLog))
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "bad level", cfg: Config{Level: "verbose"}},
		{name: "bad encoding", cfg: Config{Level: "info", Encoding: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestWithContext(t *testing.T) {
	var out bytes.Buffer
	l, err := New(Config{Level: "info", Output: zapcore.AddSync(&out)})
	require.NoError(t, err)

	mu.Lock()
	prev := globalLogger
	globalLogger = l
	mu.Unlock()
	defer func() {
		mu.Lock()
		globalLogger = prev
		mu.Unlock()
	}()

	ctx := context.WithValue(context.Background(), RunIDKey, "run-1")
	ctx = context.WithValue(ctx, StreamKey, "profit_and_loss")
	WithContext(ctx).Info("slice done")

	msgs := decodeLines(t, out.String())
	require.Len(t, msgs, 1)
	assert.Equal(t, `slice done {"run_id":"run-1","stream":"profit_and_loss"}`, msgs[0].Log.Message)
}
