package gateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfcbot/lfc/internal/gateway"
	"github.com/lfcbot/lfc/internal/history"
	"github.com/lfcbot/lfc/internal/supervisor"
	"github.com/lfcbot/lfc/internal/worker"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestGatewayChatThroughSupervisor(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "history.db")
	port := freePort(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	catalog := worker.NewCatalog()
	catalog.Register(gateway.Name, gateway.Main)
	catalog.Register(history.Name, history.Main)

	sup := supervisor.New(catalog, &supervisor.InProcessSpawner{
		Catalog:  catalog,
		Template: worker.Env{HeartbeatInterval: time.Hour, MaxConcurrency: 4, CallTimeout: 5 * time.Second},
	}, supervisor.DefaultOptions())
	t.Cleanup(func() { _ = sup.Shutdown() })

	_, err := sup.CreateWorker(ctx, history.Name, 1, map[string]interface{}{"database_path": dbPath})
	require.NoError(t, err)
	_, err = sup.CreateWorker(ctx, gateway.Name, 1, map[string]interface{}{
		"host": "127.0.0.1",
		"port": port,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+"/chat", "application/json",
		strings.NewReader(`{"projectId":"p1","prompt":"my opponent is ugly, so he is wrong"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var chat gateway.ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chat))
	require.NotEmpty(t, chat.Data.ChatID)

	// The forward to the missing prompt worker waits in the pending store.
	assert.Eventually(t, func() bool {
		return len(sup.PendingMessages("LogicalFallacyPromptWorker")) == 1
	}, 5*time.Second, 20*time.Millisecond)

	hresp, err := http.Get(base + "/history/" + chat.Data.ChatID)
	require.NoError(t, err)
	defer hresp.Body.Close()
	require.Equal(t, http.StatusOK, hresp.StatusCode)

	var hist history.History
	require.NoError(t, json.NewDecoder(hresp.Body).Decode(&hist))
	assert.Equal(t, "my opponent is ugly, so he is wrong", hist.Question)
	assert.Equal(t, "p1", hist.ProjectID)

	missing, err := http.Get(base + "/history/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
