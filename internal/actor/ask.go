package actor

import (
	"context"

	"github.com/pkg/errors"
)

// ErrAskTimeout is returned by Ask when no reply arrives before the context
// is done.
var ErrAskTimeout = errors.New("no reply received")

// Ask sends a request through send and blocks until the first reply or
// until ctx is done. Replies after the first, or after Ask has returned,
// are discarded.
//
// Ask is meant for callers that live outside the unit tree, such as HTTP
// handlers. Units never call Ask; they reply through Adapt instead.
func Ask[T any](ctx context.Context, send func(replyTo Receiver[T])) (T, error) {
	replies := make(chan T, 1)
	send(ReplyFunc[T](func(msg T) {
		select {
		case replies <- msg:
		default:
		}
	}))

	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		var zero T
		return zero, errors.Wrap(ErrAskTimeout, ctx.Err().Error())
	}
}

type adapter[T, M any] struct {
	target Receiver[M]
	wrap   func(T) M
}

func (a adapter[T, M]) Tell(msg T) bool {
	return a.target.Tell(a.wrap(msg))
}

// Adapt returns a Receiver of T that wraps every message into M before
// handing it to target. Units use it to receive replies of a foreign
// protocol in their own mailbox, tagged with whatever wrap captures.
func Adapt[T, M any](target Receiver[M], wrap func(T) M) Receiver[T] {
	return adapter[T, M]{target: target, wrap: wrap}
}
