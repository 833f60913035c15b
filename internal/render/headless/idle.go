package headless

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
)

// Lifecycle event names emitted by Chrome for a document load.
const (
	lifecycleInit        = "init"
	lifecycleNetworkIdle = "networkIdle"
)

// idleWatcher turns tab events into a settle signal: the networkIdle
// lifecycle event of the current document, followed by a quiet window in
// which no network activity is observed.
type idleWatcher struct {
	mu       sync.Mutex
	loader   cdp.LoaderID
	idle     chan struct{}
	signaled bool
	activity chan struct{}
}

func newIdleWatcher() *idleWatcher {
	return &idleWatcher{
		idle:     make(chan struct{}),
		activity: make(chan struct{}, 1),
	}
}

// observe is registered with chromedp.ListenTarget.
func (w *idleWatcher) observe(ev any) {
	switch e := ev.(type) {
	case *page.EventLifecycleEvent:
		w.lifecycle(e.LoaderID, e.Name)
	case *network.EventRequestWillBeSent,
		*network.EventResponseReceived,
		*network.EventLoadingFinished,
		*network.EventLoadingFailed:
		w.touch()
	}
}

// lifecycle tracks the loader of the newest document; networkIdle events of
// earlier documents (the blank tab) are ignored.
func (w *idleWatcher) lifecycle(loader cdp.LoaderID, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch name {
	case lifecycleInit:
		if loader == w.loader {
			return
		}
		w.loader = loader
		if w.signaled {
			w.idle = make(chan struct{})
			w.signaled = false
		}
	case lifecycleNetworkIdle:
		if loader == "" || loader != w.loader || w.signaled {
			return
		}
		close(w.idle)
		w.signaled = true
	}
}

func (w *idleWatcher) touch() {
	select {
	case w.activity <- struct{}{}:
	default:
	}
}

func (w *idleWatcher) idleCh() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idle
}

// waitSettled blocks until networkIdle was seen (or maxWait elapsed) and then
// until quiet passes without activity. The quiet phase is also capped by
// maxWait. It reports whether networkIdle was observed.
func (w *idleWatcher) waitSettled(ctx context.Context, maxWait, quiet time.Duration) (bool, error) {
	sawIdle := true
	deadline := time.NewTimer(maxWait)
	select {
	case <-w.idleCh():
	case <-deadline.C:
		sawIdle = false
	case <-ctx.Done():
		deadline.Stop()
		return false, ctx.Err()
	}
	deadline.Stop()

	// Activity that happened before idle does not count against the window.
	select {
	case <-w.activity:
	default:
	}
	if quiet <= 0 {
		return sawIdle, nil
	}

	limit := time.NewTimer(maxWait)
	defer limit.Stop()
	window := time.NewTimer(quiet)
	defer window.Stop()
	for {
		select {
		case <-w.activity:
			if !window.Stop() {
				select {
				case <-window.C:
				default:
				}
			}
			window.Reset(quiet)
		case <-window.C:
			return sawIdle, nil
		case <-limit.C:
			return sawIdle, nil
		case <-ctx.Done():
			return sawIdle, ctx.Err()
		}
	}
}
