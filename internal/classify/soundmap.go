package classify

// SoundMapVersion identifies the classification-to-audio contract. The
// sonification and narrative layers key their behavior off these parameters;
// threshold changes here must bump the version so consumers can follow.
const SoundMapVersion = 1

// Brightness is the tonal character of the generated audio bed.
type Brightness string

const (
	BrightnessDark     Brightness = "dark"
	BrightnessBalanced Brightness = "balanced"
	BrightnessBright   Brightness = "bright"
)

// AudioParams describe how a window should sound.
type AudioParams struct {
	Version    int        `json:"version"`
	Layers     int        `json:"layers"`
	Brightness Brightness `json:"brightness"`
	ModDepth   float64    `json:"mod_depth"`
	Glitch     float64    `json:"glitch"`
}

// MapAudio derives audio parameters from a window's labels. Layer count and
// brightness scale with energy; modulation depth and glitch amount scale with
// volatility, boosted slightly on a peak.
func MapAudio(energy EnergyLevel, vol Volatility, peak bool) AudioParams {
	p := AudioParams{Version: SoundMapVersion}

	switch energy {
	case EnergyLow:
		p.Layers = 1
		p.Brightness = BrightnessDark
	case EnergyHigh:
		p.Layers = 3
		p.Brightness = BrightnessBright
	default:
		p.Layers = 2
		p.Brightness = BrightnessBalanced
	}

	switch vol {
	case VolatilityStable:
		p.ModDepth = 0.1
		p.Glitch = 0.05
	case VolatilityFluctuating:
		p.ModDepth = 0.4
		p.Glitch = 0.25
	default:
		p.ModDepth = 0.8
		p.Glitch = 0.6
	}

	if peak {
		p.Layers++
		p.ModDepth = clamp01(p.ModDepth + 0.1)
		p.Glitch = clamp01(p.Glitch + 0.1)
	}
	return p
}
