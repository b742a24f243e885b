package api

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/propnest/marketsync/client/internal/deployenv"
	"github.com/propnest/marketsync/client/internal/shardqueue"
	"github.com/propnest/marketsync/client/internal/transport"
)

func newDoer(srv *httptest.Server) *transport.Executor {
	return transport.New(deployenv.Detect("", srv.URL, false), nil,
		transport.WithHTTPClient(srv.Client()),
		transport.WithPolicy(transport.Policy{DefaultTimeout: 2 * time.Second, MaxRetries: 1, Backoff: time.Millisecond}),
		transport.WithDebug(false),
	)
}

// mockSubmitter records the keys it was asked to queue and runs jobs inline.
type mockSubmitter struct {
	mu   sync.Mutex
	keys []string
	errs []error
}

func (m *mockSubmitter) Submit(ctx context.Context, key string, job shardqueue.Job) error {
	m.mu.Lock()
	m.keys = append(m.keys, key)
	m.mu.Unlock()
	err := job.Run(ctx)
	m.mu.Lock()
	m.errs = append(m.errs, err)
	m.mu.Unlock()
	return nil
}

// failingSubmitter always refuses work.
type failingSubmitter struct{}

func (failingSubmitter) Submit(context.Context, string, shardqueue.Job) error {
	return fmt.Errorf("submit failed")
}
