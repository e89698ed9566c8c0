package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// networkIdle counts in-flight requests from CDP network events.
type networkIdle struct {
	mu         sync.Mutex
	inflight   map[network.RequestID]struct{}
	lastChange time.Time
	now        func() time.Time
}

func newNetworkIdle() *networkIdle {
	return &networkIdle{
		inflight:   make(map[network.RequestID]struct{}),
		lastChange: time.Now(),
		now:        time.Now,
	}
}

func (n *networkIdle) captureEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		n.started(e.RequestID)
	case *network.EventLoadingFinished:
		n.finished(e.RequestID)
	case *network.EventLoadingFailed:
		n.finished(e.RequestID)
	}
}

func (n *networkIdle) started(id network.RequestID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inflight[id] = struct{}{}
	n.lastChange = n.now()
}

func (n *networkIdle) finished(id network.RequestID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.inflight[id]; !ok {
		return
	}
	delete(n.inflight, id)
	n.lastChange = n.now()
}

// idleFor reports whether at most maxInflight requests have been pending for
// at least quiet.
func (n *networkIdle) idleFor(maxInflight int, quiet time.Duration) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight) <= maxInflight && n.now().Sub(n.lastChange) >= quiet
}

// wait blocks until the network is mostly idle. Pages that never settle
// (long polling, analytics beacons) are released after maxWait.
func (n *networkIdle) wait(ctx context.Context, maxInflight int, quiet, maxWait time.Duration) error {
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if n.idleFor(maxInflight, quiet) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for network idle: %w", ctx.Err())
		case <-deadline.C:
			return nil
		case <-ticker.C:
		}
	}
}
