package audio

import "math"

const firTaps = 31

// Resample converts between sample rates by linear interpolation, with a
// windowed-sinc low-pass applied on whichever side of the rate change sits
// above the new Nyquist frequency. Same-rate input passes through untouched.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate {
		return samples
	}

	cutoff := float64(min(srcRate, dstRate)) / 2.0

	if srcRate > dstRate {
		// remove content above the target Nyquist before decimation
		samples = antiAlias(samples, cutoff, float64(srcRate))
	}

	step := float64(srcRate) / float64(dstRate)
	out := make([]float32, int(float64(len(samples))/step))
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx+1 >= len(samples) {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}

	if dstRate > srcRate {
		// interpolation images land above the old Nyquist
		out = antiAlias(out, cutoff, float64(dstRate))
	}
	return out
}

// antiAlias convolves with a Blackman-windowed sinc kernel, truncating the
// kernel at the signal edges.
func antiAlias(samples []float32, cutoff, sampleRate float64) []float32 {
	kernel := blackmanSinc(cutoff / sampleRate)
	half := firTaps / 2
	out := make([]float32, len(samples))

	for i := range samples {
		var acc float32
		for k := -half; k <= half; k++ {
			j := i + k
			if j < 0 || j >= len(samples) {
				continue
			}
			acc += samples[j] * kernel[k+half]
		}
		out[i] = acc
	}
	return out
}

// blackmanSinc builds a unity-gain low-pass FIR kernel for the given
// normalized cutoff (cutoff frequency over sample rate).
func blackmanSinc(fc float64) [firTaps]float32 {
	var kernel [firTaps]float32
	half := firTaps / 2

	var sum float64
	for i := range firTaps {
		n := float64(i - half)
		sinc := 1.0
		if n != 0 {
			x := 2.0 * math.Pi * fc * n
			sinc = math.Sin(x) / x
		}
		phase := float64(i) / float64(firTaps-1)
		window := 0.42 - 0.5*math.Cos(2.0*math.Pi*phase) + 0.08*math.Cos(4.0*math.Pi*phase)
		v := sinc * window
		kernel[i] = float32(v)
		sum += v
	}

	scale := float32(1.0 / sum)
	for i := range kernel {
		kernel[i] *= scale
	}
	return kernel
}
