package distributionQueue

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const queueSize = 100

func NewDistributionQueue(executor Executor, logger *zap.Logger) *DistributionQueue {
	return &DistributionQueue{
		logger:   logger,
		executor: executor,
		queue:    make(chan *Message, queueSize),
		done:     make(chan struct{}),
	}
}

// Enqueue adds a message and returns without waiting for it to run.
func (dq *DistributionQueue) Enqueue(payload *Message) {
	dq.logger.Sugar().Infow("Enqueueing distribution request", "type", payload.Data.Type)
	dq.queue <- payload
}

// EnqueueAndWait adds a request and blocks until it has run or ctx is done.
func (dq *DistributionQueue) EnqueueAndWait(ctx context.Context, data RequestData) (*ResponseData, error) {
	responseChan := make(chan *Response, 1)
	dq.Enqueue(&Message{Data: data, ResponseChan: responseChan})

	select {
	case response := <-responseChan:
		return response.Data, response.Error
	case <-ctx.Done():
		dq.logger.Sugar().Infow("Gave up waiting for distribution response", "type", data.Type)
		return nil, ctx.Err()
	}
}

// Process handles messages until Close is called or ctx is done. It is meant
// to run in its own goroutine.
func (dq *DistributionQueue) Process(ctx context.Context) {
	for {
		select {
		case <-dq.done:
			dq.logger.Sugar().Infow("Distribution queue closed")
			return
		case <-ctx.Done():
			dq.logger.Sugar().Infow("Distribution queue context done")
			return
		case msg := <-dq.queue:
			response := dq.handle(ctx, msg.Data)
			if msg.ResponseChan != nil {
				msg.ResponseChan <- response
			} else if response.Error != nil {
				dq.logger.Sugar().Debugw("Distribution request finished with error",
					zap.String("type", string(msg.Data.Type)),
					zap.Error(response.Error),
				)
			}
		}
	}
}

func (dq *DistributionQueue) handle(ctx context.Context, data RequestData) *Response {
	switch data.Type {
	case RequestType_ExecuteIfReady:
		res, err := dq.executor.ExecuteIfReady(ctx)
		return &Response{Data: &ResponseData{Result: res}, Error: err}
	case RequestType_ForceExecute:
		res, err := dq.executor.ForceExecute(ctx)
		return &Response{Data: &ResponseData{Result: res}, Error: err}
	case RequestType_RetryPayouts:
		summary, err := dq.executor.RetryPendingPayouts(ctx, data.PayoutLimit, nil)
		return &Response{Data: &ResponseData{Payouts: summary}, Error: err}
	default:
		return &Response{Error: fmt.Errorf("unknown distribution request type %q", data.Type)}
	}
}

// Close stops Process.
func (dq *DistributionQueue) Close() {
	dq.logger.Sugar().Infow("Closing distribution queue")
	close(dq.done)
}
