package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/worker"
)

const replyRoute = "RestApiWorker/onProcessed"

// startWorker runs Main on one end of a pipe and returns the other end.
func startWorker(t *testing.T, config map[string]interface{}) *envelope.Conn {
	t.Helper()
	workerEnd, peer, err := envelope.Pipe()
	require.NoError(t, err)

	if config == nil {
		config = map[string]interface{}{}
	}
	if _, ok := config["database_path"]; !ok {
		config["database_path"] = filepath.Join(t.TempDir(), "history.db")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Main(ctx, workerEnd, worker.Env{
			Name:              Name,
			PID:               7,
			Config:            config,
			HeartbeatInterval: time.Hour,
			MaxConcurrency:    8,
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = peer.Close()
	})
	return peer
}

// call sends one request and waits for the matching reply, skipping
// heartbeats.
func call(t *testing.T, conn *envelope.Conn, id, route string, data any) envelope.Envelope {
	t.Helper()
	env := envelope.New(id, envelope.StatusProcessing)
	env.Destination = []string{route, replyRoute}
	env, err := env.WithData(data)
	require.NoError(t, err)
	require.NoError(t, conn.Send(env))

	for {
		reply, err := conn.Recv()
		require.NoError(t, err)
		if reply.IsHeartbeat() {
			continue
		}
		require.Equal(t, id, reply.MessageID)
		require.Equal(t, []string{replyRoute}, reply.Destination)
		return reply
	}
}

func TestWorker_HistoryLifecycle(t *testing.T) {
	conn := startWorker(t, nil)

	reply := call(t, conn, "m1", envelope.RouteTo(Name, MethodCreateHistory),
		NewHistoryRequest{Question: "everyone says so", ProjectID: "p1"})
	require.Equal(t, envelope.StatusCompleted, reply.Status)

	var created []History
	require.NoError(t, reply.Decode(&created))
	require.Len(t, created, 1)
	id := created[0].ID
	require.NotEmpty(t, id)

	reply = call(t, conn, "m2", envelope.RouteTo(Name, MethodCreateProgress, id),
		ProgressRequest{ProcessName: "classify", Output: json.RawMessage(`"bandwagon"`)})
	require.Equal(t, envelope.StatusCompleted, reply.Status)

	reply = call(t, conn, "m3", envelope.RouteTo(Name, MethodUpdateProgress, id),
		ProgressRequest{ProcessName: "classify", SubProcessName: "explain", Output: json.RawMessage(`"popularity"`)})
	require.Equal(t, envelope.StatusCompleted, reply.Status)

	reply = call(t, conn, "m4", envelope.RouteTo(Name, MethodGetHistory, id), nil)
	require.Equal(t, envelope.StatusCompleted, reply.Status)

	var hist History
	require.NoError(t, reply.Decode(&hist))
	assert.Equal(t, "everyone says so", hist.Question)
	require.Len(t, hist.Process, 1)
	assert.Equal(t, "classify", hist.Process[0].Name)
	require.Len(t, hist.Process[0].SubProcess, 1)
	assert.Equal(t, "explain", hist.Process[0].SubProcess[0].Name)
}

func TestWorker_DataAndPrompt(t *testing.T) {
	conn := startWorker(t, nil)

	reply := call(t, conn, "d1", envelope.RouteTo(Name, MethodAddData, "p1"), map[string]string{"text": "doc"})
	require.Equal(t, envelope.StatusCompleted, reply.Status)

	// Project id carried as a bare string payload.
	reply = call(t, conn, "d2", envelope.RouteTo(Name, MethodGetData), "p1")
	require.Equal(t, envelope.StatusCompleted, reply.Status)
	var docs []Document
	require.NoError(t, reply.Decode(&docs))
	require.Len(t, docs, 1)
	assert.JSONEq(t, `{"text":"doc"}`, string(docs[0].Content))

	reply = call(t, conn, "p0", envelope.RouteTo(Name, MethodGetPrompt, "p1"), nil)
	assert.Equal(t, envelope.StatusFailed, reply.Status)
	assert.Contains(t, reply.Reason, "NOT_FOUND")

	reply = call(t, conn, "p1", envelope.RouteTo(Name, MethodSetPrompt, "p1"), map[string]string{"prompt": "be kind"})
	require.Equal(t, envelope.StatusCompleted, reply.Status)

	// Project id carried in the payload object.
	reply = call(t, conn, "p2", envelope.RouteTo(Name, MethodGetPrompt), map[string]string{"projectId": "p1"})
	require.Equal(t, envelope.StatusCompleted, reply.Status)
	var prompts []Prompt
	require.NoError(t, reply.Decode(&prompts))
	require.Len(t, prompts, 1)
	assert.Equal(t, "be kind", prompts[0].Prompt)
}

func TestWorker_FailuresAreReplied(t *testing.T) {
	conn := startWorker(t, nil)

	tests := []struct {
		name   string
		route  string
		data   any
		reason string
	}{
		{"missing question", envelope.RouteTo(Name, MethodCreateHistory), NewHistoryRequest{}, "BAD_PAYLOAD"},
		{"missing history id", envelope.RouteTo(Name, MethodGetHistory), nil, "BAD_PAYLOAD"},
		{"unknown history", envelope.RouteTo(Name, MethodGetHistory, "nope"), nil, "NOT_FOUND"},
		{"progress on unknown history", envelope.RouteTo(Name, MethodCreateProgress, "nope"), ProgressRequest{ProcessName: "x"}, "NOT_FOUND"},
		{"malformed payload", envelope.RouteTo(Name, MethodCreateHistory), "just a string", "BAD_PAYLOAD"},
		{"unknown method", envelope.RouteTo(Name, "dropTables"), nil, "UNKNOWN_METHOD"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := call(t, conn, "f"+string(rune('a'+i)), tt.route, tt.data)
			assert.Equal(t, envelope.StatusFailed, reply.Status)
			assert.Contains(t, reply.Reason, tt.reason)
		})
	}
}

func TestWorkerMain_RejectsBadConfig(t *testing.T) {
	workerEnd, peer, err := envelope.Pipe()
	require.NoError(t, err)
	defer peer.Close()
	defer workerEnd.Close()

	err = Main(context.Background(), workerEnd, worker.Env{
		Name:   Name,
		Config: map[string]interface{}{"max_concurrency": "lots"},
	})
	require.Error(t, err)
}
