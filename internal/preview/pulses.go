package preview

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/params"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Window is one span on the sequence timeline.
type Window struct {
	Label   string `json:"label"`
	Line    uint8  `json:"line"`
	StartUs uint32 `json:"start_us"`
	EndUs   uint32 `json:"end_us"`
}

// DurationUs is zero for windows that end before they start.
func (w Window) DurationUs() uint32 {
	if w.EndUs <= w.StartUs {
		return 0
	}
	return w.EndUs - w.StartUs
}

// PulseWindows returns the three configured pulse windows.
func PulseWindows(cfg params.Config) []Window {
	pulses := cfg.Pulses()
	windows := make([]Window, 0, len(pulses))
	for i, p := range pulses {
		windows = append(windows, Window{
			Label:   fmt.Sprintf("p%d", i+1),
			Line:    p.Line,
			StartUs: p.StartUs,
			EndUs:   p.EndUs,
		})
	}
	return windows
}

// SequencePhases lays the pulsed-timing delays and pulses end to end,
// starting at zero.
func SequencePhases(cfg params.Config) []Window {
	phases := []struct {
		label string
		line  uint8
		us    uint32
	}{
		{"delayBeforeOn", 0, cfg.DelayBeforeOnUs},
		{"onPulse", cfg.OnLaserTTLChan, cfg.OnPulseTimeUs},
		{"delayAfterOn", 0, cfg.DelayAfterOnUs},
		{"offPulse", cfg.OffLaserTTLChan, cfg.OffPulseTimeUs},
		{"delayAfterOff", 0, cfg.DelayAfterOffUs},
		{"roPulse", cfg.RoLaserTTLChan, cfg.RoPulseTimeUs},
		{"delayAfterRo", 0, cfg.DelayAfterRoUs},
	}

	windows := make([]Window, 0, len(phases))
	var t uint64
	for _, ph := range phases {
		start := t
		t += uint64(ph.us)
		windows = append(windows, Window{
			Label:   ph.label,
			Line:    ph.line,
			StartUs: clamp32(start),
			EndUs:   clamp32(t),
		})
	}
	return windows
}

func clamp32(v uint64) uint32 {
	if v > 1<<32-1 {
		return 1<<32 - 1
	}
	return uint32(v)
}

// timelineChart draws windows as a horizontal Gantt: a transparent offset bar
// stacked under a visible duration bar.
func timelineChart(title, subtitle string, windows []Window) *charts.Bar {
	labels := make([]string, 0, len(windows))
	offsets := make([]opts.BarData, 0, len(windows))
	durations := make([]opts.BarData, 0, len(windows))
	for _, w := range windows {
		labels = append(labels, fmt.Sprintf("%s (line %d)", w.Label, w.Line))
		offsets = append(offsets, opts.BarData{Value: w.StartUs})
		durations = append(durations, opts.BarData{Value: w.DurationUs()})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "µs", NameLocation: "middle", NameGap: 25}),
	)
	bar.SetXAxis(labels).
		AddSeries("offset", offsets,
			charts.WithBarChartOpts(opts.BarChart{Stack: "timeline"}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "transparent"}),
		).
		AddSeries("duration", durations,
			charts.WithBarChartOpts(opts.BarChart{Stack: "timeline"}),
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "right"}),
		)
	bar.XYReversal()
	return bar
}

// RenderTimingPage writes an HTML page with the pulse window and pulsed
// sequence timelines for cfg.
func RenderTimingPage(w io.Writer, cfg params.Config) error {
	pulses := timelineChart("Pulse windows",
		fmt.Sprintf("sequenceTimeUs=%d", cfg.SequenceTimeUs), PulseWindows(cfg))

	phases := SequencePhases(cfg)
	total := phases[len(phases)-1].EndUs
	sequence := timelineChart("Pulsed sequence",
		fmt.Sprintf("total=%dµs timeLapsePoints=%d", total, cfg.TimeLapsePoints), phases)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.PageTitle = "Triggerscope timing"
	page.AddCharts(pulses, sequence)

	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render timing page: %w", err)
	}
	return nil
}
