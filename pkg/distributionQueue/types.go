package distributionQueue

import (
	"context"

	"github.com/copperlabs/engine/pkg/distribution"
	"go.uber.org/zap"
)

// RequestType selects what a queued message asks the distribution engine to do.
type RequestType string

var (
	// RequestType_ExecuteIfReady runs a distribution only when the pool trigger is met
	RequestType_ExecuteIfReady RequestType = "executeIfReady"

	// RequestType_ForceExecute runs a distribution regardless of the trigger
	RequestType_ForceExecute RequestType = "forceExecute"

	// RequestType_RetryPayouts re-drives unpaid recipients of committed distributions
	RequestType_RetryPayouts RequestType = "retryPayouts"
)

type RequestData struct {
	Type RequestType

	// PayoutLimit caps the recipients handled by a RetryPayouts request
	PayoutLimit int
}

// Message is one entry in the queue. ResponseChan may be nil for
// fire-and-forget requests.
type Message struct {
	Data         RequestData
	ResponseChan chan *Response
}

type ResponseData struct {
	Result  *distribution.Result
	Payouts *distribution.PayoutSummary
}

type Response struct {
	Data  *ResponseData
	Error error
}

// Executor is implemented by *distribution.Engine.
type Executor interface {
	ExecuteIfReady(ctx context.Context) (*distribution.Result, error)
	ForceExecute(ctx context.Context) (*distribution.Result, error)
	RetryPendingPayouts(ctx context.Context, limit int, progress func(done, total int)) (*distribution.PayoutSummary, error)
}

// DistributionQueue runs distribution requests one at a time in the order
// they arrive, so in-process callers never contend for the database lock.
type DistributionQueue struct {
	logger   *zap.Logger
	executor Executor
	queue    chan *Message
	done     chan struct{}
}
