package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/events"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/ghost"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestView_PullKeepsLatest(t *testing.T) {
	feeds := NewFeeds(nil)
	var view View
	assert.False(t, view.Pull(feeds))

	feeds.SpeedKmh.Put(9)
	feeds.SpeedKmh.Put(10.5)
	feeds.DistanceKm.Put(1.25)
	feeds.Gaps.Put([]ghost.Gap{{Name: "Ghost A", GapMeters: 12.4, GhostSpeedKmh: 10}})

	assert.True(t, view.Pull(feeds))
	assert.Equal(t, 10.5, view.SpeedKmh)
	assert.Equal(t, 1.25, view.DistanceKm)
	require.Len(t, view.Gaps, 1)
	assert.Equal(t, "Ghost A", view.Gaps[0].Name)

	assert.False(t, view.Pull(feeds))
	assert.Equal(t, 10.5, view.SpeedKmh, "values persist between pulls")
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "5:00", FormatClock(300))
	assert.Equal(t, "1:02:03", FormatClock(3723))
	assert.Equal(t, "0:00", FormatClock(-4))
	assert.Equal(t, "6:00", FormatPace(10))
	assert.Equal(t, "--:--", FormatPace(0))
	assert.Equal(t, "+12 m", FormatGap(12.4))
	assert.Equal(t, "-3 m", FormatGap(-3.2))
}

func TestSummary(t *testing.T) {
	line := Summary(View{SpeedKmh: 12, DistanceKm: 2.5, ElapsedSeconds: 750, HeartRateBpm: 150,
		Gaps: []Gap{{Name: "PB 5k", GapMeters: -20}}})
	assert.Equal(t, "12:30 | 12.0 km/h (5:00 /km) | 2.50 km | HR 150 | PB 5k -20 m", line)
}

func TestGhostText(t *testing.T) {
	assert.Contains(t, GhostText(nil), "No ghosts yet")

	text := GhostText([]Gap{{Name: "Ghost A", GapMeters: 400}, {Name: "Ghost B", GapMeters: -400}})
	lines := strings.Split(strings.TrimSpace(text), "\n\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], strings.Repeat("█", gapBarWidth))
	assert.Contains(t, lines[1], strings.Repeat("░", gapBarWidth))
	assert.Contains(t, lines[1], "[red]")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHeadless_LogsLatestValues(t *testing.T) {
	var out syncBuffer
	h := NewHeadless(log.New(&out, "", 0), 10*time.Millisecond)
	feeds := NewFeeds(nil)
	feeds.SpeedKmh.Put(10)
	feeds.DistanceKm.Put(0.5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, feeds) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "10.0 km/h (6:00 /km) | 0.50 km")
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

// recordingPlayback keeps every speed it sees
type recordingPlayback struct {
	mu     sync.Mutex
	speeds []float64
}

func (r *recordingPlayback) Run(ctx context.Context, feeds *Feeds) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-feeds.SpeedKmh.C():
			r.mu.Lock()
			r.speeds = append(r.speeds, v)
			r.mu.Unlock()
		}
	}
}

func (r *recordingPlayback) last() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.speeds) == 0 {
		return 0, false
	}
	return r.speeds[len(r.speeds)-1], true
}

func TestGroup_EveryMemberSeesValues(t *testing.T) {
	a, b := &recordingPlayback{}, &recordingPlayback{}
	exit := events.NewSignal()
	feeds := NewFeeds(exit)
	g := NewGroup(testLogger(), a, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx, feeds) }()

	feeds.SpeedKmh.Put(11)
	for _, p := range []*recordingPlayback{a, b} {
		require.Eventually(t, func() bool {
			v, ok := p.last()
			return ok && v == 11
		}, time.Second, 5*time.Millisecond)
	}
	cancel()
	require.NoError(t, <-done)
}

func TestLiveFeed_BroadcastsOverWebsocket(t *testing.T) {
	feed := NewLiveFeed(testLogger(), "", 10*time.Millisecond)
	srv := httptest.NewServer(feed.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return feed.Clients() == 1 }, time.Second, 5*time.Millisecond)

	feeds := NewFeeds(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, feeds) }()
	feeds.SpeedKmh.Put(12)
	feeds.HeartRateBpm.Put(151)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got View
	for got.HeartRateBpm == 0 {
		require.NoError(t, conn.ReadJSON(&got))
	}
	assert.Equal(t, 12.0, got.SpeedKmh)
	assert.Equal(t, 151, got.HeartRateBpm)

	resp, err := http.Get(srv.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	var state View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, 151, state.HeartRateBpm)

	cancel()
	require.NoError(t, <-done)
}

func TestDashboard_EscapeRaisesExit(t *testing.T) {
	screen := tcell.NewSimulationScreen("UTF-8")
	app := tview.NewApplication().SetScreen(screen)
	d := NewDashboard(testLogger(), app, "Test Run")

	feeds := NewFeeds(nil)
	feeds.SpeedKmh.Put(10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, feeds) }()

	app.QueueEvent(tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone))
	select {
	case <-feeds.Exit.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("escape did not raise exit")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dashboard did not stop")
	}
}
