package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dedezza1D/bibtask/internal/store"
	"github.com/dedezza1D/bibtask/internal/store/storetest"
	"github.com/dedezza1D/bibtask/internal/task"
)

func serve(t *testing.T, st store.Queue) string {
	t.Helper()
	srv := NewServer(Config{Port: "0"}, zap.NewNop(), st)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		_ = srv.httpServer.Serve(ln)
	}()
	return fmt.Sprintf("http://%s", ln.Addr().String())
}

func get(t *testing.T, url string, into any) int {
	t.Helper()
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	if into != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode
}

func seed(t *testing.T, st store.Queue, proc string) int64 {
	t.Helper()
	args, err := task.EncodeArguments(proc, nil)
	require.NoError(t, err)
	id, err := st.CreateTask(context.Background(), store.CreateTaskParams{
		Proc:      proc,
		User:      "alice",
		Runtime:   time.Now(),
		Arguments: args,
	})
	require.NoError(t, err)
	return id
}

func TestHealthEndpoint(t *testing.T) {
	base := serve(t, nil)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(base + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestTasksAPI_GetAndList(t *testing.T) {
	st := storetest.SQLite(t)
	base := serve(t, st)

	demo := seed(t, st, "demo")
	named := seed(t, st, "demo:nightly")
	other := seed(t, st, "fail")
	require.NoError(t, st.SetStatus(context.Background(), other, store.StatusDone))

	var got getTaskResponse
	require.Equal(t, http.StatusOK, get(t, fmt.Sprintf("%s/api/v1/tasks/%d", base, demo), &got))
	assert.Equal(t, demo, got.Task.ID)
	assert.Equal(t, store.StatusWaiting, got.Task.Status)

	var list listTasksResponse
	require.Equal(t, http.StatusOK, get(t, base+"/api/v1/tasks?kind=demo", &list))
	ids := []int64{}
	for _, it := range list.Items {
		ids = append(ids, it.ID)
	}
	assert.ElementsMatch(t, []int64{demo, named}, ids)
	assert.Equal(t, 50, list.Limit)

	list = listTasksResponse{}
	require.Equal(t, http.StatusOK, get(t, base+"/api/v1/tasks?status=DONE", &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, other, list.Items[0].ID)

	list = listTasksResponse{}
	require.Equal(t, http.StatusOK, get(t, base+"/api/v1/tasks?limit=1&offset=1", &list))
	assert.Len(t, list.Items, 1)
	assert.Equal(t, 1, list.Offset)

	var counts statusCountsResponse
	require.Equal(t, http.StatusOK, get(t, base+"/api/v1/status", &counts))
	assert.Equal(t, 2, counts.Counts[store.StatusWaiting])
	assert.Equal(t, 1, counts.Counts[store.StatusDone])
}

func TestTasksAPI_Validation(t *testing.T) {
	st := storetest.SQLite(t)
	base := serve(t, st)

	assert.Equal(t, http.StatusNotFound, get(t, base+"/api/v1/tasks/999", nil))
	assert.Equal(t, http.StatusNotFound, get(t, base+"/api/v1/tasks/abc", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, base+"/api/v1/tasks?status=FINISHED", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, base+"/api/v1/tasks?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, base+"/api/v1/tasks?offset=-1", nil))
	assert.Equal(t, http.StatusNotFound, get(t, base+"/api/v1/tasks/999/runs", nil))
}

func TestRunsAPI_List(t *testing.T) {
	st := storetest.SQLite(t)
	base := serve(t, st)
	id := seed(t, st, "demo")

	run, err := st.CreateRun(context.Background(), id, "node-1", 4242)
	require.NoError(t, err)
	_, err = st.FinishRun(context.Background(), run.ID, store.StatusDone, nil)
	require.NoError(t, err)

	var runs listRunsResponse
	require.Equal(t, http.StatusOK, get(t, fmt.Sprintf("%s/api/v1/tasks/%d/runs", base, id), &runs))
	require.Len(t, runs.Items, 1)
	assert.Equal(t, run.ID, runs.Items[0].ID)
	assert.Equal(t, store.StatusDone, runs.Items[0].Status)
	assert.Equal(t, 4242, runs.Items[0].PID)
}

func TestDebugServer(t *testing.T) {
	tc, err := task.NewContext(&store.Task{
		ID:        7,
		Proc:      "demo:nightly",
		User:      "alice",
		Host:      "node-1",
		Runtime:   time.Now(),
		Sleeptime: "1d",
		Status:    store.StatusRunning,
		Arguments: []byte(`["demo:nightly","-s","1d","-L","22:00-03:00","--batches=3"]`),
	})
	require.NoError(t, err)

	addr, err := DebugServer("127.0.0.1:0", zap.NewNop())(tc)
	require.NoError(t, err)

	var d debugTask
	require.Equal(t, http.StatusOK, get(t, "http://"+addr+"/debug/task", &d))
	assert.Equal(t, int64(7), d.ID)
	assert.Equal(t, "demo", d.Kind)
	assert.Equal(t, []string{"--batches=3"}, d.Args)
	assert.Equal(t, "22:00-03:00", d.RuntimeLimit)
	assert.Len(t, d.Ranges, 1)

	assert.Equal(t, http.StatusOK, get(t, "http://"+addr+"/debug/pprof/", nil))
}
