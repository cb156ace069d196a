package port

import "context"

// RequestPublisher enqueues a raw KeyframeRequestMessage for the worker pool.
type RequestPublisher interface {
	PublishRequest(ctx context.Context, msg []byte) error
}

type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg []byte) error
}

// DLQPublisher parks a message that will never succeed, with the reason it was rejected.
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg []byte, reason string) error
}
