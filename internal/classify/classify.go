package classify

import (
	"errors"
	"math"
	"time"

	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
)

// ErrNoSamples is returned when there is nothing to classify.
var ErrNoSamples = errors.New("classify: no samples")

// negligibleStdDev switches energy classification to the flat-signal path.
const negligibleStdDev = 1e-6

// EnergyLevel is a window's average magnitude relative to the whole series.
type EnergyLevel string

const (
	EnergyLow    EnergyLevel = "low"
	EnergyMedium EnergyLevel = "medium"
	EnergyHigh   EnergyLevel = "high"
)

// Volatility is a window's internal variance relative to the whole series.
type Volatility string

const (
	VolatilityStable      Volatility = "stable"
	VolatilityFluctuating Volatility = "fluctuating"
	VolatilitySpiking     Volatility = "spiking"
)

// GlobalStats are computed once per classification call over |value|.
type GlobalStats struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	StdDev  float64 `json:"std_dev"`
}

// Window is one labeled analysis window.
type Window struct {
	Index              int         `json:"index"`
	StartMs            int64       `json:"start_ms"`
	EndMs              int64       `json:"end_ms"`
	SampleCount        int         `json:"sample_count"`
	LocalAvg           float64     `json:"local_avg"`
	LocalVariance      float64     `json:"local_variance"`
	NormalizedVariance float64     `json:"normalized_variance"`
	Energy             EnergyLevel `json:"energy_level"`
	Volatility         Volatility  `json:"volatility"`
	IsPeak             bool        `json:"is_peak"`
	Audio              AudioParams `json:"audio_params"`
}

// Options are the classification policy knobs. Zero values pick defaults.
type Options struct {
	Window     time.Duration // explicit window size; 0 = derive from span
	Hop        time.Duration // 0 = Window (non-overlapping)
	MinSamples int           // windows with fewer samples are dropped; 0 = 3
	MinWindow  time.Duration // floor for the derived window; 0 = 60s
	MinWindows int           // derived window-count lower bound; 0 = 3
	MaxWindows int           // derived window-count upper bound; 0 = 16
}

func (o Options) withDefaults() Options {
	if o.MinSamples <= 0 {
		o.MinSamples = 3
	}
	if o.MinWindow <= 0 {
		o.MinWindow = time.Minute
	}
	if o.MinWindows <= 0 {
		o.MinWindows = 3
	}
	if o.MaxWindows <= 0 {
		o.MaxWindows = 16
	}
	return o
}

// Result is the full classification output for one series.
type Result struct {
	WindowMs int64       `json:"window_ms"`
	HopMs    int64       `json:"hop_ms"`
	Global   GlobalStats `json:"global_stats"`
	Windows  []Window    `json:"windows"`
}

// Classify partitions a time-ordered series into analysis windows and labels
// each window's energy and volatility against the global statistics. Pure and
// deterministic: no side effects, safe to run concurrently.
func Classify(samples []models.Sample, opts Options) (*Result, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	opts = opts.withDefaults()

	global := globalStats(samples)

	window := opts.Window
	if window <= 0 {
		window = deriveWindow(samples, opts)
	}
	hop := opts.Hop
	if hop <= 0 {
		hop = window
	}

	result := &Result{
		WindowMs: window.Milliseconds(),
		HopMs:    hop.Milliseconds(),
		Global:   global,
	}

	first := samples[0].Timestamp
	last := samples[len(samples)-1].Timestamp

	slot := 0
	for start := first; !start.After(last); start = start.Add(hop) {
		end := start.Add(window)
		bucket := samplesIn(samples, start, end)
		idx := slot
		slot++

		if len(bucket) < opts.MinSamples {
			continue
		}

		localAvg, localVar := localStats(bucket)
		normVar := localVar / math.Max(global.StdDev*global.StdDev, 1)
		normVar = clamp01(normVar)

		energy, peak := classifyEnergy(localAvg, global)

		w := Window{
			Index:              idx,
			StartMs:            start.UnixMilli(),
			EndMs:              end.UnixMilli(),
			SampleCount:        len(bucket),
			LocalAvg:           localAvg,
			LocalVariance:      localVar,
			NormalizedVariance: normVar,
			Energy:             energy,
			Volatility:         classifyVolatility(normVar),
			IsPeak:             peak,
		}
		w.Audio = MapAudio(w.Energy, w.Volatility, w.IsPeak)
		result.Windows = append(result.Windows, w)
	}

	return result, nil
}

// deriveWindow picks a window duration from the total span: target one window
// per ten minutes of span, bounded to [MinWindows, MaxWindows] windows, with
// the resulting duration floored at MinWindow.
func deriveWindow(samples []models.Sample, opts Options) time.Duration {
	span := samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp)
	if span <= 0 {
		return opts.MinWindow
	}

	target := int(span / (10 * time.Minute))
	if target < opts.MinWindows {
		target = opts.MinWindows
	}
	if target > opts.MaxWindows {
		target = opts.MaxWindows
	}

	window := span / time.Duration(target)
	if window < opts.MinWindow {
		window = opts.MinWindow
	}
	return window
}

func globalStats(samples []models.Sample) GlobalStats {
	var sum float64
	for _, s := range samples {
		sum += math.Abs(s.Value)
	}
	avg := sum / float64(len(samples))

	var variance float64
	for _, s := range samples {
		diff := math.Abs(s.Value) - avg
		variance += diff * diff
	}
	variance /= float64(len(samples))

	return GlobalStats{
		Count:   len(samples),
		Average: avg,
		StdDev:  math.Sqrt(variance),
	}
}

func localStats(bucket []models.Sample) (avg, variance float64) {
	var sum float64
	for _, s := range bucket {
		sum += math.Abs(s.Value)
	}
	avg = sum / float64(len(bucket))

	for _, s := range bucket {
		diff := math.Abs(s.Value) - avg
		variance += diff * diff
	}
	variance /= float64(len(bucket))
	return avg, variance
}

// samplesIn returns samples with timestamp in [start, end). Input is
// time-ordered, so a linear scan with early exit suffices.
func samplesIn(samples []models.Sample, start, end time.Time) []models.Sample {
	var out []models.Sample
	for _, s := range samples {
		if s.Timestamp.Before(start) {
			continue
		}
		if !s.Timestamp.Before(end) {
			break
		}
		out = append(out, s)
	}
	return out
}

// classifyEnergy labels a window's mean magnitude against the global stats.
// Peak is a refinement of high: it requires the stricter +1σ threshold.
func classifyEnergy(localAvg float64, g GlobalStats) (EnergyLevel, bool) {
	if g.StdDev < negligibleStdDev {
		// Flat signal: classify by ±5% deviation from the global average.
		if g.Average == 0 {
			if localAvg > 0 {
				return EnergyHigh, false
			}
			return EnergyMedium, false
		}
		switch {
		case localAvg < g.Average*0.95:
			return EnergyLow, false
		case localAvg > g.Average*1.05:
			return EnergyHigh, false
		default:
			return EnergyMedium, false
		}
	}

	switch {
	case localAvg < g.Average-0.5*g.StdDev:
		return EnergyLow, false
	case localAvg > g.Average+g.StdDev:
		return EnergyHigh, true
	case localAvg > g.Average+0.5*g.StdDev:
		return EnergyHigh, false
	default:
		return EnergyMedium, false
	}
}

func classifyVolatility(normVar float64) Volatility {
	switch {
	case normVar < 0.3:
		return VolatilityStable
	case normVar < 0.7:
		return VolatilityFluctuating
	default:
		return VolatilitySpiking
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
