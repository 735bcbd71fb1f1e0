package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Streamweaver/helix-jobs/internal/domain/model"
)

// ErrWaiterRequired indicates a notifier cannot be constructed without a waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter waits for job availability notifications.
type Waiter interface {
	WaitForNotification(ctx context.Context, kinds []model.JobKind) error
}

// Notifier manages subscriptions for job availability notifications.
// Workers subscribe to the kinds they execute; a submission wakes every
// subscriber covering that kind so idle workers never sit out a full poll
// interval.
type Notifier interface {
	Subscribe(kind model.JobKind) (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions configure the behaviour of the default notifier implementation.
type NotifierOptions struct {
	Waiter     Waiter
	WaitWindow time.Duration
	Backoff    time.Duration
}

// DefaultNotifier is the default implementation of Notifier. One listener
// goroutine per kind is started lazily on first subscribe and stopped when
// the last subscriber of that kind unsubscribes.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu        sync.Mutex
	subs      map[model.JobKind]map[chan struct{}]struct{}
	listeners map[model.JobKind]context.CancelFunc
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}

	waitWindow := opts.WaitWindow
	if waitWindow <= 0 {
		waitWindow = time.Minute
	}

	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	notifier := &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: waitWindow,
		backoff:    backoff,
		subs:       make(map[model.JobKind]map[chan struct{}]struct{}),
		listeners:  make(map[model.JobKind]context.CancelFunc),
	}
	return notifier, nil
}

// Subscribe registers interest in one kind. The returned channel receives a
// token whenever a job of that kind may be available; the returned func
// unsubscribes.
func (n *DefaultNotifier) Subscribe(kind model.JobKind) (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.listeners[kind]; !ok {
		ctx, cancel := context.WithCancel(context.Background())
		n.listeners[kind] = cancel
		go n.listenLoop(ctx, kind)
	}

	ch := make(chan struct{}, 1)
	if n.subs[kind] == nil {
		n.subs[kind] = make(map[chan struct{}]struct{})
	}
	n.subs[kind][ch] = struct{}{}

	unsub := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		subscribers := n.subs[kind]
		if subscribers == nil {
			return
		}

		if _, ok := subscribers[ch]; !ok {
			return
		}
		delete(subscribers, ch)
		drainAndClose(ch)
		if len(subscribers) == 0 {
			n.stopListener(kind)
			delete(n.subs, kind)
		}
	}

	return unsub, ch
}

// StopAll cancels every listener and closes every subscriber channel.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for kind, cancel := range n.listeners {
		cancel()
		delete(n.listeners, kind)
	}
	for kind, subscribers := range n.subs {
		for ch := range subscribers {
			drainAndClose(ch)
		}
		delete(n.subs, kind)
	}
}

func (n *DefaultNotifier) stopListener(kind model.JobKind) {
	cancel, ok := n.listeners[kind]
	if !ok {
		return
	}
	cancel()
	delete(n.listeners, kind)
}

func (n *DefaultNotifier) listenLoop(ctx context.Context, kind model.JobKind) {
	kinds := []model.JobKind{kind}
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx, kinds)
		cancel()

		// Broadcast even on error or window expiry; a spurious wake costs one
		// empty claim attempt, a missed one costs a full poll interval.
		n.broadcast(kind)

		if err != nil && ctx.Err() == nil {
			timer := time.NewTimer(n.backoff)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return
			case <-timer.C:
			}
		}
	}
}

func (n *DefaultNotifier) broadcast(kind model.JobKind) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subscribers := n.subs[kind]
	for ch := range subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// drainAndClose removes any buffered notifications before closing the channel so
// receivers observe a closed channel immediately.
func drainAndClose(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

var _ Notifier = (*DefaultNotifier)(nil)
