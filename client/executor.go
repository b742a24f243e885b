package client

import (
	"context"

	"github.com/propnest/marketsync/client/internal/shardqueue"
)

// executor abstracts the queue that delivers read receipts in order per
// conversation.
type executor interface {
	Submit(context.Context, string, shardqueue.Job) error
	Barrier(context.Context, string) error
	Stop()
}
