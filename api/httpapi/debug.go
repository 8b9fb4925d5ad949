package httpapi

import (
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/dedezza1D/bibtask/internal/schedule"
	"github.com/dedezza1D/bibtask/internal/task"
)

type debugTask struct {
	ID           int64               `json:"id"`
	Kind         string              `json:"kind"`
	Proc         string              `json:"proc"`
	User         string              `json:"user"`
	Host         string              `json:"host"`
	Sleeptime    string              `json:"sleeptime,omitempty"`
	Runtime      time.Time           `json:"runtime"`
	SequenceID   string              `json:"sequence_id,omitempty"`
	Args         []string            `json:"args"`
	RuntimeLimit string              `json:"runtime_limit,omitempty"`
	Ranges       [][2]schedule.Range `json:"ranges,omitempty"`
	PostProcess  []string            `json:"post_process,omitempty"`
	PID          int                 `json:"pid"`
	Goroutines   int                 `json:"goroutines"`
}

func debugHandler(tc *task.TaskContext) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/debug/task", func(w http.ResponseWriter, req *http.Request) {
		d := debugTask{
			ID:           tc.ID,
			Kind:         tc.Kind,
			Proc:         tc.Proc,
			User:         tc.User,
			Host:         tc.Host,
			Sleeptime:    tc.Sleeptime,
			Runtime:      tc.Runtime,
			SequenceID:   tc.SequenceID,
			Args:         tc.Args(),
			RuntimeLimit: tc.Window.String(),
			PID:          os.Getpid(),
			Goroutines:   runtime.NumGoroutine(),
		}
		if !tc.Window.IsZero() {
			d.Ranges = tc.Window.Ranges(time.Now())
		}
		for _, p := range tc.PostProcess {
			d.PostProcess = append(d.PostProcess, p.String())
		}
		writeJSON(w, http.StatusOK, d)
	}).Methods(http.MethodGet)

	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	return r
}

// DebugServer returns a starter for the in-process endpoint a running task
// opens on request. It listens on addr and reports the bound address.
func DebugServer(addr string, logger *zap.Logger) func(tc *task.TaskContext) (string, error) {
	return func(tc *task.TaskContext) (string, error) {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return "", err
		}
		s := &http.Server{
			Handler:           debugHandler(tc),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := s.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.Warn("debug server stopped", zap.Error(err))
			}
		}()
		return ln.Addr().String(), nil
	}
}
