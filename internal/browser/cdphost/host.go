// internal/browser/cdphost/host.go
package cdphost

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scroller/pkg/scroller"
)

//go:embed observer.js
var observerJS string

const (
	batchBinding  = "__scrollerBatch"
	scrollBinding = "__scrollerScroll"

	// idAttribute is set on every element handed out by Resolve.
	idAttribute = "data-scroller-id"

	evalTimeout = 10 * time.Second
)

var (
	// ErrClosed is returned by operations on a closed Host.
	ErrClosed = errors.New("cdphost: host is closed")
	// ErrNoBrowser is returned when the context carries no chromedp target.
	ErrNoBrowser = errors.New("cdphost: context has no chromedp target")
	// ErrUnknownElement is returned when the page cannot find a tagged element.
	ErrUnknownElement = errors.New("cdphost: element is not present in the page")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ElementRef identifies a page element by its data-scroller-id attribute.
type ElementRef string

// evaluator runs a JavaScript expression in the page and decodes the result into res.
type evaluator func(ctx context.Context, expression string, res any) error

// framePayload is the geometry snapshot the page attaches to every notification.
type framePayload struct {
	ScrollY  float64                  `json:"scrollY"`
	Height   float64                  `json:"height"`
	Rects    map[string]scroller.Rect `json:"rects"`
	Entries  []entryPayload           `json:"entries,omitempty"`
	Observer int                      `json:"observer,omitempty"`
}

type entryPayload struct {
	ID             string        `json:"id"`
	Rect           scroller.Rect `json:"rect"`
	IsIntersecting bool          `json:"isIntersecting"`
}

type tagResult struct {
	ScrollY  float64 `json:"scrollY"`
	Height   float64 `json:"height"`
	Elements []struct {
		ID   string        `json:"id"`
		Rect scroller.Rect `json:"rect"`
	} `json:"elements"`
}

type bindingEvent struct {
	name    string
	payload string
}

type scrollListener struct {
	id uint64
	fn func()
}

// Host implements scroller.Host[ElementRef] on top of a live Chrome tab.
//
// The page pushes geometry with every intersection batch and scroll frame.
// ScrollY, ViewportHeight and Bounds are served from that cache, and every
// callback runs on a single pump goroutine owned by the Host.
type Host struct {
	logger *zap.Logger
	eval   evaluator

	// queue is appended to by the CDP listener and drained by the pump.
	queueMu sync.Mutex
	queue   []bindingEvent
	wake    chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	// background tracks asynchronous page observer teardown.
	background sync.WaitGroup

	mu             sync.Mutex
	scrollY        float64
	height         float64
	rects          map[ElementRef]scroller.Rect
	listeners      []scrollListener
	nextListener   uint64
	observers      map[int]*observer
	nextObserverID int
	closed         bool
}

// New instruments the tab carried by ctx and starts the pump. ctx must be a
// chromedp context whose browser has already been allocated (for example
// after a chromedp.Run with a navigation).
func New(ctx context.Context, logger *zap.Logger) (*Host, error) {
	if chromedp.FromContext(ctx) == nil {
		return nil, ErrNoBrowser
	}
	setup := chromedp.Tasks{
		cdpruntime.AddBinding(batchBinding),
		cdpruntime.AddBinding(scrollBinding),
		chromedp.ActionFunc(func(c context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(observerJS).Do(c)
			return err
		}),
		chromedp.Evaluate(observerJS, nil),
	}
	if err := chromedp.Run(ctx, setup); err != nil {
		return nil, fmt.Errorf("failed to instrument page: %w", err)
	}

	h := newHost(chromedpEvaluator(ctx), logger)
	chromedp.ListenTarget(ctx, h.listen)
	go func() {
		select {
		case <-ctx.Done():
			h.Close()
		case <-h.done:
		}
	}()
	h.logger.Debug("Page instrumented for scroll observation.")
	return h, nil
}

func newHost(eval evaluator, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Host{
		logger:    logger.Named("cdphost"),
		eval:      eval,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		rects:     make(map[ElementRef]scroller.Rect),
		observers: make(map[int]*observer),
	}
	h.wg.Add(1)
	go h.pump()
	return h
}

// chromedpEvaluator evaluates against the tab in tabCtx, honouring the
// deadline of the per-call context.
func chromedpEvaluator(tabCtx context.Context) evaluator {
	return func(ctx context.Context, expression string, res any) error {
		runCtx, cancel := context.WithTimeout(tabCtx, evalTimeout)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		return chromedp.Run(runCtx, chromedp.Evaluate(expression, res))
	}
}

// Resolve tags every element matching the CSS selector and returns their
// references in document order.
func (h *Host) Resolve(ctx context.Context, selector string) ([]ElementRef, error) {
	if h.isClosed() {
		return nil, ErrClosed
	}
	quoted, err := json.MarshalToString(selector)
	if err != nil {
		return nil, err
	}
	var res tagResult
	if err := h.eval(ctx, "window.__scroller.tag("+quoted+")", &res); err != nil {
		return nil, fmt.Errorf("failed to resolve selector %q: %w", selector, err)
	}

	refs := make([]ElementRef, 0, len(res.Elements))
	h.mu.Lock()
	h.scrollY, h.height = res.ScrollY, res.Height
	for _, el := range res.Elements {
		ref := ElementRef(el.ID)
		h.rects[ref] = el.Rect
		refs = append(refs, ref)
	}
	h.mu.Unlock()

	h.logger.Debug("Resolved selector.", zap.String("selector", selector), zap.Int("count", len(refs)))
	return refs, nil
}

// ScrollBy scrolls the page window vertically by dy pixels.
func (h *Host) ScrollBy(ctx context.Context, dy float64) error {
	if h.isClosed() {
		return ErrClosed
	}
	expr := "window.scrollBy(0, " + strconv.FormatFloat(dy, 'f', -1, 64) + ")"
	if err := h.eval(ctx, expr, nil); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}

// ScrollY implements scroller.Host.
func (h *Host) ScrollY() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scrollY
}

// ViewportHeight implements scroller.Host.
func (h *Host) ViewportHeight() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.height
}

// Bounds implements scroller.Host with the last geometry the page reported.
func (h *Host) Bounds(ref ElementRef) scroller.Rect {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rects[ref]
}

// OnScroll implements scroller.Host.
func (h *Host) OnScroll(fn func()) (cancel func()) {
	h.mu.Lock()
	h.nextListener++
	id := h.nextListener
	h.listeners = append(h.listeners, scrollListener{id: id, fn: fn})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.listeners = slices.DeleteFunc(h.listeners, func(l scrollListener) bool { return l.id == id })
	}
}

// Observe implements scroller.Host by creating an IntersectionObserver in
// the page with the band's root margin.
func (h *Host) Observe(band scroller.TriggerBand, callback func([]scroller.Entry[ElementRef])) (scroller.Observer[ElementRef], error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.nextObserverID++
	obs := &observer{
		host:     h,
		id:       h.nextObserverID,
		callback: callback,
		targets:  make(map[ElementRef]bool),
	}
	h.observers[obs.id] = obs
	h.mu.Unlock()

	margin, err := json.MarshalToString(band.RootMargin())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()
	expr := fmt.Sprintf("window.__scroller.create(%d, %s)", obs.id, margin)
	if err := h.eval(ctx, expr, nil); err != nil {
		h.dropObserver(obs.id)
		return nil, fmt.Errorf("failed to create page observer: %w", err)
	}
	h.logger.Debug("Page observer created.", zap.Int("observer", obs.id), zap.String("root_margin", band.RootMargin()))
	return obs, nil
}

// Close stops the pump and drops every observer and listener. Pending
// notifications are discarded. Close must not be called from a callback
// the Host is running.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.observers = make(map[int]*observer)
		h.listeners = nil
		h.mu.Unlock()

		close(h.done)
		h.wg.Wait()
		h.background.Wait()
		h.logger.Debug("Host closed.")
	})
}

func (h *Host) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Host) dropObserver(id int) {
	h.mu.Lock()
	delete(h.observers, id)
	h.mu.Unlock()
}

// listen runs on chromedp's event goroutine. It only queues; evaluating from
// here would block the target's event loop.
func (h *Host) listen(ev interface{}) {
	binding, ok := ev.(*cdpruntime.EventBindingCalled)
	if !ok || (binding.Name != batchBinding && binding.Name != scrollBinding) {
		return
	}
	h.enqueue(bindingEvent{name: binding.Name, payload: binding.Payload})
}

func (h *Host) enqueue(ev bindingEvent) {
	h.queueMu.Lock()
	h.queue = append(h.queue, ev)
	h.queueMu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Host) pump() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case <-h.wake:
		}

		h.queueMu.Lock()
		pending := h.queue
		h.queue = nil
		h.queueMu.Unlock()

		for _, ev := range pending {
			select {
			case <-h.done:
				return
			default:
			}
			h.dispatch(ev)
		}
	}
}

func (h *Host) dispatch(ev bindingEvent) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic while delivering page notification.",
				zap.String("binding", ev.name),
				zap.Any("panic_reason", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()

	var frame framePayload
	if err := json.UnmarshalFromString(ev.payload, &frame); err != nil {
		h.logger.Error("Could not decode page notification.", zap.String("binding", ev.name), zap.Error(err))
		return
	}

	h.mu.Lock()
	h.scrollY, h.height = frame.ScrollY, frame.Height
	for id, r := range frame.Rects {
		h.rects[ElementRef(id)] = r
	}
	var listeners []scrollListener
	var obs *observer
	switch ev.name {
	case scrollBinding:
		listeners = slices.Clone(h.listeners)
	case batchBinding:
		obs = h.observers[frame.Observer]
	}
	h.mu.Unlock()

	for _, l := range listeners {
		l.fn()
	}
	if obs != nil {
		obs.deliver(frame.Entries)
	}
}

type observer struct {
	host     *Host
	id       int
	callback func([]scroller.Entry[ElementRef])

	mu      sync.Mutex
	targets map[ElementRef]bool
	done    bool
}

// Observe implements scroller.Observer.
func (o *observer) Observe(ref ElementRef) error {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.targets[ref] {
		o.mu.Unlock()
		return nil
	}
	o.targets[ref] = true
	o.mu.Unlock()

	quoted, err := json.MarshalToString(string(ref))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()
	var found bool
	if err := o.host.eval(ctx, fmt.Sprintf("window.__scroller.observe(%d, %s)", o.id, quoted), &found); err != nil {
		return fmt.Errorf("failed to observe %s: %w", ref, err)
	}
	if !found {
		o.mu.Lock()
		delete(o.targets, ref)
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownElement, ref)
	}
	return nil
}

// Disconnect implements scroller.Observer. The page observer is torn down
// asynchronously so it is safe to call from inside a callback.
func (o *observer) Disconnect() {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return
	}
	o.done = true
	o.mu.Unlock()

	h := o.host
	h.mu.Lock()
	delete(h.observers, o.id)
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.background.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
		defer cancel()
		if err := h.eval(ctx, fmt.Sprintf("window.__scroller.disconnect(%d)", o.id), nil); err != nil {
			h.logger.Debug("Failed to disconnect page observer.", zap.Int("observer", o.id), zap.Error(err))
		}
	}()
}

func (o *observer) deliver(entries []entryPayload) {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return
	}
	batch := make([]scroller.Entry[ElementRef], 0, len(entries))
	for _, e := range entries {
		ref := ElementRef(e.ID)
		if !o.targets[ref] {
			continue
		}
		batch = append(batch, scroller.Entry[ElementRef]{Target: ref, Bounds: e.Rect, IsIntersecting: e.IsIntersecting})
	}
	o.mu.Unlock()

	if len(batch) > 0 {
		o.callback(batch)
	}
}
