package chat

import (
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"duochat/internal/app/user"
	"duochat/internal/configs"
	"duochat/internal/pkg/logx"
)

func TestMain(m *testing.M) {
	logx.SetOutput(io.Discard, zerolog.Disabled)
	os.Exit(m.Run())
}

// frame is a decoded outbound event with its payload left raw.
type frame struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func testConfig() *configs.AppConfig {
	return &configs.AppConfig{
		Environment:     "development",
		ShardCount:      4,
		StoreTimeout:    time.Second,
		StoreRetries:    2,
		MaxMessageBytes: 100,
	}
}

func testSession(id, identity string) *Session {
	return newSession(id, user.User{ID: identity}, nil, nil)
}

// drainFrames returns every frame queued on s so far.
func drainFrames(t *testing.T, s *Session) []frame {
	t.Helper()

	var out []frame
	for {
		select {
		case raw := <-s.send:
			var f frame
			require.NoError(t, json.Unmarshal(raw, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func framesOfType(frames []frame, eventType EventType) []frame {
	var out []frame
	for _, f := range frames {
		if f.Type == eventType {
			out = append(out, f)
		}
	}
	return out
}

func decodeMessage(t *testing.T, f frame) MessageView {
	t.Helper()

	var payload NewMessagePayload
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	return payload.Message
}

func decodeError(t *testing.T, f frame) ErrorPayload {
	t.Helper()

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	return payload
}

func decodePresence(t *testing.T, f frame) string {
	t.Helper()

	var payload PresencePayload
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	return payload.UserID
}
