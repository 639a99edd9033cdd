package playback

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/go_func_utils"
)

const (
	gapBarWidth   = 30
	gapBarMeters  = 400.0
	dashboardTick = 250 * time.Millisecond
)

// Dashboard is the terminal heads-up display. Escape or q raises the exit signal.
type Dashboard struct {
	logger *log.Logger
	app    *tview.Application
	title  string

	metricsPanel *tview.TextView
	ghostPanel   *tview.TextView
	statusPanel  *tview.TextView
}

func NewDashboard(logger *log.Logger, app *tview.Application, title string) *Dashboard {
	if logger == nil {
		panic("Dashboard: logger cannot be nil")
	}
	if app == nil {
		app = tview.NewApplication()
	}
	return &Dashboard{logger: logger, app: app, title: title}
}

func (d *Dashboard) layout() tview.Primitive {
	d.metricsPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	d.metricsPanel.SetBorder(true).SetTitle(fmt.Sprintf(" %s ", d.title))

	d.ghostPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	d.ghostPanel.SetBorder(true).SetTitle(" Ghosts ")

	d.statusPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)

	d.render(View{})

	body := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(d.metricsPanel, 0, 1, false).
		AddItem(d.ghostPanel, 0, 2, false)

	return tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, true).
		AddItem(d.statusPanel, 2, 0, false)
}

func (d *Dashboard) render(v View) {
	d.metricsPanel.SetText(MetricsText(v))
	d.ghostPanel.SetText(GhostText(v.Gaps))
	status := v.Status
	if status == "" {
		status = "Waiting for the treadmill..."
	}
	d.statusPanel.SetText(fmt.Sprintf("%s\n[yellow]Esc[white]/[yellow]q[white] End workout", status))
}

func (d *Dashboard) Run(ctx context.Context, feeds *Feeds) error {
	root := d.layout()
	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || (event.Key() == tcell.KeyRune && event.Rune() == 'q') {
			d.logger.Printf("Dashboard: Exit requested")
			feeds.Exit.Raise()
			return nil
		}
		return event
	})

	var wg sync.WaitGroup
	refreshCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(1)
	go_func_utils.SafeGo(d.logger, func() {
		defer wg.Done()
		ticker := time.NewTicker(dashboardTick)
		defer ticker.Stop()
		var view View
		for {
			select {
			case <-refreshCtx.Done():
				d.app.Stop()
				return
			case <-ticker.C:
				if view.Pull(feeds) {
					v := view
					d.app.QueueUpdateDraw(func() { d.render(v) })
				}
			}
		}
	})

	d.app.SetRoot(root, true)
	if err := d.app.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// MetricsText renders the live values for the metrics panel
func MetricsText(v View) string {
	var b strings.Builder
	b.WriteString("\n")
	fmt.Fprintf(&b, "  [green]Speed:[white]     [yellow]%.1f[white] km/h\n\n", v.SpeedKmh)
	fmt.Fprintf(&b, "  [green]Pace:[white]      [yellow]%s[white] /km\n\n", FormatPace(v.SpeedKmh))
	fmt.Fprintf(&b, "  [purple]Distance:[white]  [yellow]%.2f[white] km\n\n", v.DistanceKm)
	fmt.Fprintf(&b, "  [white]Elapsed:[white]   [yellow]%s[white]\n\n", FormatClock(v.ElapsedSeconds))
	if v.HeartRateBpm > 0 {
		fmt.Fprintf(&b, "  [red]Heart Rate:[white] [yellow]%d[white] bpm\n\n", v.HeartRateBpm)
	}
	if v.SpeedRatio > 0 {
		fmt.Fprintf(&b, "  [gray]Playback x%.2f[white]\n", v.SpeedRatio)
	}
	return b.String()
}

// GhostText draws one bar per ghost: a full bar is 400 m ahead, empty is 400 m behind
func GhostText(gaps []Gap) string {
	if len(gaps) == 0 {
		return "\n  [gray]No ghosts yet[white]"
	}
	var b strings.Builder
	b.WriteString("\n")
	for _, g := range gaps {
		ratio := math.Max(0, math.Min(1, (1+g.GapMeters/gapBarMeters)/2))
		filled := int(math.Round(ratio * gapBarWidth))
		color := "green"
		if g.GapMeters < 0 {
			color = "red"
		}
		fmt.Fprintf(&b, "  %-22s [%s]%s[gray]%s[white] %8s  %.1f km/h\n\n",
			g.Name, color, strings.Repeat("█", filled), strings.Repeat("░", gapBarWidth-filled),
			FormatGap(g.GapMeters), g.GhostSpeedKmh)
	}
	return b.String()
}
