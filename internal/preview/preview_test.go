package preview

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/params"
)

func TestAxisSamples(t *testing.T) {
	tests := []struct {
		name string
		axis params.Axis
		want []float64
	}{
		{"zero axis", params.Axis{}, []float64{0}},
		{"zero step", params.Axis{StartV: 1, LenV: 2}, []float64{1}},
		{"whole steps", params.Axis{StartV: -1, LenV: 2, StepSizeV: 0.5}, []float64{-1, -0.5, 0, 0.5, 1}},
		{"negative length", params.Axis{StartV: 1, LenV: -1, StepSizeV: 0.5}, []float64{1, 0.5, 0}},
		{"negative step", params.Axis{StartV: 0, LenV: 1, StepSizeV: -0.5}, []float64{0, 0.5, 1}},
		{"partial last step dropped", params.Axis{StartV: 0, LenV: 1, StepSizeV: 0.4}, []float64{0, 0.4, 0.8}},
		{"step beyond length", params.Axis{StartV: 2, LenV: 0.1, StepSizeV: 1}, []float64{2}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := AxisSamples(tc.axis)
			require.Len(t, got, len(tc.want))
			for i := range got {
				assert.InDelta(t, tc.want[i], got[i], 1e-6, "sample %d", i)
			}
		})
	}
}

func TestAxisSamples_Float32Step(t *testing.T) {
	got := AxisSamples(params.Axis{StartV: 0, LenV: 1, StepSizeV: 0.1})
	assert.Len(t, got, 11)
	assert.InDelta(t, 1.0, got[10], 1e-6)
}

func TestAxisSamples_Bounds(t *testing.T) {
	got := AxisSamples(params.Axis{StartV: 0, LenV: 10, StepSizeV: 0.001})
	assert.Len(t, got, MaxAxisSamples)

	assert.Nil(t, AxisSamples(params.Axis{StartV: float32(math.NaN())}))
	assert.Equal(t, []float64{3}, AxisSamples(params.Axis{StartV: 3, LenV: float32(math.Inf(1)), StepSizeV: 1}))
}

func TestRasterPath(t *testing.T) {
	r := params.NewRegistry()
	r.Set("dimOneLenV", "1")
	r.Set("dimOneStepSizeV", "0.5")
	r.Set("dimTwoStartV", "-1")
	r.Set("dimTwoLenV", "1")
	r.Set("dimTwoStepSizeV", "1")

	path := RasterPath(r.Snapshot())
	want := plotter.XYs{
		{X: 0, Y: -1}, {X: 0.5, Y: -1}, {X: 1, Y: -1},
		{X: 0, Y: 0}, {X: 0.5, Y: 0}, {X: 1, Y: 0},
	}
	assert.Equal(t, want, path)
}

func TestRenderRasterPNG(t *testing.T) {
	r := params.NewRegistry()
	r.Set("dimOneLenV", "2")
	r.Set("dimOneStepSizeV", "0.25")
	r.Set("dimTwoLenV", "1")
	r.Set("dimTwoStepSizeV", "0.5")

	var buf bytes.Buffer
	require.NoError(t, RenderRasterPNG(&buf, r.Snapshot(), 4*vg.Inch, 3*vg.Inch))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))

	var single bytes.Buffer
	require.NoError(t, RenderRasterPNG(&single, params.Config{}, 2*vg.Inch, 2*vg.Inch))
	assert.NotZero(t, single.Len())

	cfg := params.Config{DimTwoStartV: float32(math.NaN())}
	assert.ErrorIs(t, RenderRasterPNG(&bytes.Buffer{}, cfg, vg.Inch, vg.Inch), ErrNoRasterData)
}

func TestPulseWindows(t *testing.T) {
	r := params.NewRegistry()
	r.Set("p1Line", "1")
	r.Set("p1StartUs", "10")
	r.Set("p1EndUs", "40")
	r.Set("p3StartUs", "500")
	r.Set("p3EndUs", "100")

	windows := PulseWindows(r.Snapshot())
	require.Len(t, windows, 3)
	assert.Equal(t, Window{Label: "p1", Line: 1, StartUs: 10, EndUs: 40}, windows[0])
	assert.Equal(t, uint32(30), windows[0].DurationUs())
	assert.Equal(t, uint32(0), windows[2].DurationUs(), "inverted window has no duration")
}

func TestSequencePhases(t *testing.T) {
	cfg := params.Config{
		DelayBeforeOnUs: 5,
		OnPulseTimeUs:   10,
		OnLaserTTLChan:  2,
		DelayAfterOnUs:  1,
		OffPulseTimeUs:  20,
		RoPulseTimeUs:   4,
		DelayAfterRoUs:  math.MaxUint32,
	}
	phases := SequencePhases(cfg)
	require.Len(t, phases, 7)
	assert.Equal(t, Window{Label: "onPulse", Line: 2, StartUs: 5, EndUs: 15}, phases[1])
	assert.Equal(t, uint32(36), phases[5].StartUs)
	assert.Equal(t, uint32(math.MaxUint32), phases[6].EndUs, "saturates instead of wrapping")
}

func TestRenderTimingPage(t *testing.T) {
	r := params.NewRegistry()
	r.Set("sequenceTimeUs", "1000")
	r.Set("p2StartUs", "100")
	r.Set("p2EndUs", "300")

	var buf bytes.Buffer
	require.NoError(t, RenderTimingPage(&buf, r.Snapshot()))
	html := buf.String()
	assert.True(t, strings.Contains(html, "<html"), "renders a full page")
	assert.Contains(t, html, "Pulse windows")
	assert.Contains(t, html, "Pulsed sequence")
	assert.Contains(t, html, "sequenceTimeUs=1000")
}
