package scroller_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/scroller/pkg/scroller"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func allTypes(s *scroller.Scroller[*el], c *capture) {
	for _, t := range s.EventTypes() {
		s.On(t, c)
	}
}

func TestNew_Defaults(t *testing.T) {
	host := newFakeHost(800)
	s := scroller.New(host, scroller.Config[*el]{})

	assert.Equal(t, scroller.DefaultOffset, s.Offset())
	assert.Equal(t, scroller.TriggerBand{TopMargin: -50, BottomMargin: -50}, s.Band())
	assert.Equal(t, scroller.VariantNamespaced, s.Variant())
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, []scroller.EventType{
		scroller.EventInit,
		scroller.EventSceneEnter, scroller.EventSceneExit,
		scroller.EventContainerEnter, scroller.EventContainerExit,
	}, s.EventTypes())
}

func TestNew_OutOfRangeOffsetIsKeptAndLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := scroller.New(newFakeHost(800), scroller.Config[*el]{Offset: 1.5, Logger: zap.New(core)})

	assert.Equal(t, 1.5, s.Offset())
	assert.Equal(t, 1, logs.FilterMessageSnippet("Offset outside").Len())
}

func TestNew_ZeroOffsetFallsBackVisibly(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := scroller.New(newFakeHost(800), scroller.Config[*el]{Offset: 0, Logger: zap.New(core)})

	assert.Equal(t, scroller.DefaultOffset, s.Offset())
	entries := logs.FilterMessage("Offset unset; using the default.").All()
	require.Len(t, entries, 1)
	assert.Equal(t, scroller.DefaultOffset, entries[0].ContextMap()["offset"])
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestNew_NudgeShiftsBandOnly(t *testing.T) {
	s := scroller.New(newFakeHost(800), scroller.Config[*el]{Offset: 0.5, Nudge: 0.01})
	assert.Equal(t, 0.5, s.Offset())
	assert.InDelta(t, -49, s.Band().TopMargin, 1e-9)
	assert.InDelta(t, -51, s.Band().BottomMargin, 1e-9)
}

func TestInit_ObservesInOrderContainerLastAndEmitsInit(t *testing.T) {
	host := newFakeHost(800)
	a, b, c, box := &el{"a"}, &el{"b"}, &el{"c"}, &el{"box"}
	s := scroller.New(host, scroller.Config[*el]{Scenes: []*el{a, b, c}, Container: box})

	inits := 0
	s.OnFunc(scroller.EventInit, func(ev scroller.Event[*el]) {
		inits++
		require.Len(t, host.observers, 1)
		assert.Equal(t, []*el{a, b, c, box}, host.observers[0].observed, "init fires after observation starts")
	})

	require.NoError(t, s.Init())
	assert.Equal(t, 1, inits)
	assert.Equal(t, "-50% 0px -50%", host.observers[0].band.RootMargin())
}

func TestInit_EmptySceneCollectionStillEmitsInit(t *testing.T) {
	host := newFakeHost(800)
	s := scroller.New(host, scroller.Config[*el]{})
	c := &capture{}
	allTypes(s, c)

	require.NoError(t, s.Init())
	host.deliver(enter(&el{"stranger"}, scroller.Rect{}))

	require.Len(t, c.events, 2)
	assert.Equal(t, scroller.EventInit, c.events[0].Type)
	assert.Equal(t, scroller.EventSceneEnter, c.events[1].Type)
	assert.Equal(t, scroller.NotAScene, c.events[1].Index)
}

func TestInit_PropagatesHostErrors(t *testing.T) {
	host := newFakeHost(800)
	host.observeErr = errObserve
	s := scroller.New(host, scroller.Config[*el]{Scenes: []*el{{"a"}}})
	err := s.Init()
	assert.ErrorIs(t, err, errObserve)

	bad := &el{"bad"}
	host = newFakeHost(800)
	host.failOn = bad
	s = scroller.New(host, scroller.Config[*el]{Scenes: []*el{{"a"}, bad}})
	inits := 0
	s.OnFunc(scroller.EventInit, func(scroller.Event[*el]) { inits++ })
	err = s.Init()
	assert.ErrorIs(t, err, errObserve)
	assert.Contains(t, err.Error(), "index 1")
	assert.True(t, host.observers[0].disconnected)
	assert.Equal(t, 0, inits)
}

func TestBatch_ClassifiesTransitions(t *testing.T) {
	host := newFakeHost(800)
	a, b, box := &el{"a"}, &el{"b"}, &el{"box"}
	s := scroller.New(host, scroller.Config[*el]{Scenes: []*el{a, b}, Container: box})
	c := &capture{}
	allTypes(s, c)
	require.NoError(t, s.Init())
	c.events = nil

	rect := scroller.Rect{Y: 10, Height: 100}
	host.scrollY = 300
	host.deliver(enter(box, rect), enter(a, rect))
	host.scrollY = 900
	host.deliver(exit(a, rect), enter(b, rect))

	want := []scroller.Event[*el]{
		{Type: scroller.EventContainerEnter, Kind: scroller.KindContainer, Bounds: rect, Index: scroller.NotAScene, IsScrollingDown: true, Element: box},
		{Type: scroller.EventSceneEnter, Kind: scroller.KindScene, Bounds: rect, Index: 0, IsScrollingDown: true, Element: a},
		{Type: scroller.EventSceneExit, Kind: scroller.KindScene, Bounds: rect, Index: 0, IsScrollingDown: true, Element: a},
		{Type: scroller.EventSceneEnter, Kind: scroller.KindScene, Bounds: rect, Index: 1, IsScrollingDown: true, Element: b},
	}
	if diff := cmp.Diff(want, c.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestBatch_DirectionIsSharedAcrossBatch(t *testing.T) {
	host := newFakeHost(800)
	a, b := &el{"a"}, &el{"b"}
	s := scroller.New(host, scroller.Config[*el]{Scenes: []*el{a, b}})
	c := &capture{}
	allTypes(s, c)
	require.NoError(t, s.Init())

	host.scrollY = 500
	host.deliver(enter(a, scroller.Rect{}), enter(b, scroller.Rect{}))
	host.scrollY = 200
	host.deliver(exit(a, scroller.Rect{}), exit(b, scroller.Rect{}))

	require.Len(t, c.events, 5)
	assert.True(t, c.events[1].IsScrollingDown)
	assert.True(t, c.events[2].IsScrollingDown)
	assert.False(t, c.events[3].IsScrollingDown)
	assert.False(t, c.events[4].IsScrollingDown)
}

func TestBatch_EnterAndExitStrictlyAlternate(t *testing.T) {
	host := newFakeHost(800)
	a := &el{"a"}
	s := scroller.New(host, scroller.Config[*el]{Scenes: []*el{a}})
	c := &capture{}
	allTypes(s, c)
	require.NoError(t, s.Init())
	c.events = nil

	// The initial "not intersecting" report and repeated states are dropped.
	host.deliver(exit(a, scroller.Rect{}))
	host.deliver(enter(a, scroller.Rect{}))
	host.deliver(enter(a, scroller.Rect{}))
	host.deliver(exit(a, scroller.Rect{}))
	host.deliver(exit(a, scroller.Rect{}))
	host.deliver(enter(a, scroller.Rect{}))

	assert.Equal(t, []scroller.EventType{
		scroller.EventSceneEnter, scroller.EventSceneExit, scroller.EventSceneEnter,
	}, c.types())
}

func TestPlainVariant(t *testing.T) {
	host := newFakeHost(800)
	a, box := &el{"a"}, &el{"box"}
	s := scroller.New(host, scroller.Config[*el]{Scenes: []*el{a}, Container: box, Variant: scroller.VariantPlain})
	assert.Equal(t, []scroller.EventType{scroller.EventInit, scroller.EventEnter, scroller.EventExit}, s.EventTypes())

	c := &capture{}
	allTypes(s, c)
	require.NoError(t, s.Init())
	host.deliver(enter(a, scroller.Rect{}), enter(box, scroller.Rect{}))

	assert.Equal(t, []scroller.EventType{scroller.EventInit, scroller.EventEnter, scroller.EventEnter}, c.types())
	assert.Equal(t, 0, c.events[1].Index)
	assert.Equal(t, scroller.NotAScene, c.events[2].Index)
	assert.Equal(t, scroller.KindContainer, c.events[2].Kind)
}

func TestOnOff_Semantics(t *testing.T) {
	host := newFakeHost(800)
	a := &el{"a"}
	s := scroller.New(host, scroller.Config[*el]{Scenes: []*el{a}})

	dup := &capture{}
	s.On(scroller.EventSceneEnter, dup)
	s.On(scroller.EventSceneEnter, dup)

	removed := &capture{}
	off := s.On(scroller.EventSceneEnter, removed)
	off()
	off()

	viaOff := &capture{}
	s.On(scroller.EventSceneEnter, viaOff)
	s.Off(scroller.EventSceneEnter, viaOff)
	s.Off(scroller.EventSceneEnter, viaOff)
	s.Off(scroller.EventSceneExit, &capture{})

	funcCalls := 0
	offFn := s.OnFunc(scroller.EventSceneEnter, func(scroller.Event[*el]) { funcCalls++ })
	s.OnFunc(scroller.EventSceneEnter, nil)
	s.On(scroller.EventSceneEnter, nil)

	require.NoError(t, s.Init())
	host.deliver(enter(a, scroller.Rect{}))
	offFn()
	host.deliver(exit(a, scroller.Rect{}), enter(a, scroller.Rect{}))

	assert.Len(t, dup.events, 2, "a duplicate registration must not double-dispatch")
	assert.Empty(t, removed.events)
	assert.Empty(t, viaOff.events)
	assert.Equal(t, 1, funcCalls)
}

func TestDispatch_StateIsUpdatedBeforeHandlersRun(t *testing.T) {
	host := newFakeHost(800)
	a, b := &el{"a"}, &el{"b"}
	s := scroller.New(host, scroller.Config[*el]{Scenes: []*el{a, b}})
	require.NoError(t, s.Init())

	s.OnFunc(scroller.EventSceneEnter, func(ev scroller.Event[*el]) {
		if ev.Element == a {
			panic("handler failure")
		}
	})
	c := &capture{}
	s.On(scroller.EventSceneExit, c)
	s.On(scroller.EventSceneEnter, c)

	assert.Panics(t, func() { host.deliver(enter(a, scroller.Rect{}), enter(b, scroller.Rect{})) })

	// a was marked inside before its handler panicked, so a repeat is ignored
	// and the exit is still recognised.
	host.deliver(enter(a, scroller.Rect{}), exit(a, scroller.Rect{}))
	require.Len(t, c.events, 1)
	assert.Equal(t, scroller.EventSceneExit, c.events[0].Type)
}

func TestClose_StopsEverything(t *testing.T) {
	host := newFakeHost(800)
	a := &el{"a"}
	host.bounds[a] = scroller.Rect{Y: 0, Height: 800}
	s := scroller.New(host, scroller.Config[*el]{Scenes: []*el{a}, Progress: true})
	c := &capture{}
	allTypes(s, c)
	require.NoError(t, s.Init())
	host.deliver(enter(a, host.bounds[a]))
	require.Len(t, host.listeners, 1)

	s.OnFunc(scroller.EventSceneProgress, func(scroller.Event[*el]) { s.Close() })
	host.scroll(10)
	n := len(c.events)

	s.Close()
	assert.True(t, host.observers[0].disconnected)
	assert.Empty(t, host.listeners)

	host.scroll(20)
	host.deliver(exit(a, scroller.Rect{}))
	assert.Len(t, c.events, n)
}

func TestClose_WhileProgressTrackerSubscribes(t *testing.T) {
	host := newFakeHost(800)
	a := &el{"a"}
	s := scroller.New(host, scroller.Config[*el]{Scenes: []*el{a}, Progress: true})
	progress := 0
	s.OnFunc(scroller.EventSceneProgress, func(scroller.Event[*el]) { progress++ })
	require.NoError(t, s.Init())

	host.beforeSubscribe = func() { s.Close() }
	host.deliver(enter(a, scroller.Rect{Y: 0, Height: 800}))

	assert.Empty(t, host.listeners, "a tracker stopped mid-subscribe must not leave a listener behind")
	host.beforeSubscribe = nil
	host.scroll(10)
	assert.Zero(t, progress)
}

func TestInstancesDoNotShareDirectionState(t *testing.T) {
	a := &el{"a"}
	h1, h2 := newFakeHost(800), newFakeHost(800)
	s1 := scroller.New(h1, scroller.Config[*el]{Scenes: []*el{a}})
	s2 := scroller.New(h2, scroller.Config[*el]{Scenes: []*el{a}})
	c1, c2 := &capture{}, &capture{}
	s1.On(scroller.EventSceneEnter, c1)
	s2.On(scroller.EventSceneEnter, c2)
	require.NoError(t, s1.Init())
	require.NoError(t, s2.Init())

	h1.scrollY = 1000
	h1.deliver(enter(a, scroller.Rect{}))
	h2.scrollY = 500
	h2.deliver(enter(a, scroller.Rect{}))

	assert.True(t, c1.events[0].IsScrollingDown)
	assert.True(t, c2.events[0].IsScrollingDown, "s2 compares against its own previous offset of 0")
	assert.NotEqual(t, s1.ID(), s2.ID())
}
