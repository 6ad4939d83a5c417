package virtual_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/scroller/internal/browser/virtual"
	"github.com/xkilldash9x/scroller/pkg/scroller"
	"go.uber.org/zap/zaptest"
)

const stackedPage = `<!doctype html>
<html>
<head><title>fixture</title><style>.scene { background: lightyellow; }</style></head>
<body>
  <div id="lead" data-height="1000"></div>
  <div id="container">
    <section class="scene" id="s0" data-height="600"></section>
    <section class="scene" id="s1" style="color: red; height: 600px"></section>
    <section class="scene" id="s2"><p data-height="250"></p><p data-height="350"></p></section>
  </div>
  <div id="tail" data-height="1000"></div>
</body>
</html>`

func parseFixture(t *testing.T) *virtual.Document {
	t.Helper()
	doc, err := virtual.ParseString(stackedPage)
	require.NoError(t, err)
	return doc
}

func TestParse_StacksBlocks(t *testing.T) {
	doc := parseFixture(t)

	cases := []struct {
		id          string
		top, height float64
	}{
		{"lead", 0, 1000},
		{"container", 1000, 1800},
		{"s0", 1000, 600},
		{"s1", 1600, 600},
		{"s2", 2200, 600},
		{"tail", 2800, 1000},
	}
	for _, tc := range cases {
		t.Run(tc.id, func(t *testing.T) {
			n := doc.ByID(tc.id)
			require.NotNil(t, n)
			assert.Equal(t, tc.top, n.Top())
			assert.Equal(t, tc.height, n.Height())
		})
	}
	assert.Equal(t, 3800.0, doc.Height())
}

func TestDocument_Select(t *testing.T) {
	doc := parseFixture(t)

	scenes, err := doc.Select(`//section[@class='scene']`)
	require.NoError(t, err)
	require.Len(t, scenes, 3)
	assert.Equal(t, "s0", scenes[0].ID)
	assert.Equal(t, "s2", scenes[2].ID)
	assert.Equal(t, "section#s1", scenes[1].String())
	assert.Equal(t, "scene", scenes[1].Attr("class"))

	_, err = doc.SelectOne(`//article`)
	assert.ErrorIs(t, err, virtual.ErrNoMatch)

	_, err = doc.Select(`//[`)
	assert.Error(t, err)
}

func TestWindow_ScrollClampsAndNotifies(t *testing.T) {
	doc := parseFixture(t)
	win := virtual.NewWindow(doc, 800, zaptest.NewLogger(t))

	calls := 0
	cancel := win.OnScroll(func() { calls++ })

	win.ScrollTo(-50)
	assert.Equal(t, 0.0, win.ScrollY())
	assert.Equal(t, 0, calls, "no change, no scroll event")

	win.ScrollTo(10_000)
	assert.Equal(t, 3000.0, win.ScrollY())
	assert.Equal(t, 1, calls)

	cancel()
	win.ScrollBy(-100)
	assert.Equal(t, 2900.0, win.ScrollY())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, win.ScrollListeners())
}

func TestWindow_BoundsAreViewportRelative(t *testing.T) {
	doc := parseFixture(t)
	win := virtual.NewWindow(doc, 800, nil)
	win.ScrollTo(700)

	b := win.Bounds(doc.ByID("s0"))
	assert.Equal(t, scroller.Rect{X: 0, Y: 300, Width: virtual.DefaultWidth, Height: 600}, b)

	other, err := virtual.ParseString(stackedPage)
	require.NoError(t, err)
	assert.Equal(t, scroller.Rect{}, win.Bounds(other.ByID("s0")))
}

func TestObserver_ReportsInitialStateThenChanges(t *testing.T) {
	doc := parseFixture(t)
	win := virtual.NewWindow(doc, 800, nil)
	band := scroller.NewTriggerBand(0.5)

	var batches [][]scroller.Entry[*virtual.Node]
	obs, err := win.Observe(band, func(entries []scroller.Entry[*virtual.Node]) {
		batches = append(batches, entries)
	})
	require.NoError(t, err)

	s0, s1 := doc.ByID("s0"), doc.ByID("s1")
	require.NoError(t, obs.Observe(s0))
	require.NoError(t, obs.Observe(s1))
	require.NoError(t, obs.Observe(s0), "observing twice is a no-op")

	win.Tick()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, s0, batches[0][0].Target)
	assert.False(t, batches[0][0].IsIntersecting)
	assert.False(t, batches[0][1].IsIntersecting)

	// Nothing changed: no batch.
	win.Tick()
	assert.Len(t, batches, 1)

	win.ScrollToTopOf(s0)
	require.Len(t, batches, 2)
	require.Len(t, batches[1], 1)
	assert.True(t, batches[1][0].IsIntersecting)

	win.ScrollBelow(s0)
	require.Len(t, batches, 3)
	require.Len(t, batches[2], 2)
	assert.Equal(t, s0, batches[2][0].Target)
	assert.False(t, batches[2][0].IsIntersecting)
	assert.Equal(t, s1, batches[2][1].Target)
	assert.True(t, batches[2][1].IsIntersecting)

	obs.Disconnect()
	obs.Disconnect()
	win.ScrollAbove(s0)
	assert.Len(t, batches, 3)
}

func TestObserver_RejectsForeignNodes(t *testing.T) {
	doc := parseFixture(t)
	other := parseFixture(t)
	win := virtual.NewWindow(doc, 800, nil)

	obs, err := win.Observe(scroller.NewTriggerBand(0.5), func([]scroller.Entry[*virtual.Node]) {})
	require.NoError(t, err)
	assert.ErrorIs(t, obs.Observe(other.ByID("s0")), virtual.ErrUnknownElement)
	assert.ErrorIs(t, obs.Observe(nil), virtual.ErrUnknownElement)
}
