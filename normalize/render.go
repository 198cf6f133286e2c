package normalize

import (
	"context"
	"fmt"
	"math"
)

const renderBlock = 1 << 16

// lowPassHalfWidth is the number of taps on each side of the anti-alias
// filter's centre.
const lowPassHalfWidth = 16

// Render mixes pcm down to mono and resamples it to rate by linear
// interpolation over the whole buffer. Output length is ceil(n*rate/src).
// When downsampling, content above the new Nyquist frequency is filtered
// out first. Matching input is returned as a copy of its single channel.
func Render(ctx context.Context, pcm *PCM, rate int) ([]float64, error) {
	if pcm.SampleRate <= 0 || rate <= 0 {
		return nil, fmt.Errorf("render %d Hz to %d Hz: invalid rate", pcm.SampleRate, rate)
	}
	mono := downmix(pcm)
	if pcm.SampleRate == rate {
		return mono, nil
	}
	if rate < pcm.SampleRate {
		var err error
		if mono, err = lowPass(ctx, mono, 0.5*float64(rate)/float64(pcm.SampleRate)); err != nil {
			return nil, err
		}
	}
	return resample(ctx, mono, pcm.SampleRate, rate)
}

// lowPassKernel is a Blackman-windowed sinc with unity DC gain. cutoff is
// in cycles per sample.
func lowPassKernel(cutoff float64) []float64 {
	n := 2*lowPassHalfWidth + 1
	k := make([]float64, n)
	sum := 0.0
	for i := range k {
		x := float64(i - lowPassHalfWidth)
		v := 2 * cutoff
		if x != 0 {
			v = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
		w := 0.42 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1)) + 0.08*math.Cos(4*math.Pi*float64(i)/float64(n-1))
		k[i] = v * w
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// lowPass filters in with edge samples repeated past both ends.
func lowPass(ctx context.Context, in []float64, cutoff float64) ([]float64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	k := lowPassKernel(cutoff)
	last := len(in) - 1
	out := make([]float64, len(in))
	for i := range out {
		if i%renderBlock == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		acc := 0.0
		for j, c := range k {
			idx := min(max(i+j-lowPassHalfWidth, 0), last)
			acc += c * in[idx]
		}
		out[i] = acc
	}
	return out, nil
}

func downmix(pcm *PCM) []float64 {
	n := pcm.Frames()
	out := make([]float64, n)
	if len(pcm.Channels) == 1 {
		copy(out, pcm.Channels[0])
		return out
	}
	scale := 1 / float64(len(pcm.Channels))
	for _, ch := range pcm.Channels {
		for i := 0; i < n && i < len(ch); i++ {
			out[i] += ch[i] * scale
		}
	}
	return out
}

func resample(ctx context.Context, in []float64, src, dst int) ([]float64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	n := int((int64(len(in))*int64(dst) + int64(src) - 1) / int64(src))
	out := make([]float64, n)
	ratio := float64(src) / float64(dst)
	last := len(in) - 1

	for i := range out {
		if i%renderBlock == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(idx)
		out[i] = in[idx]*(1-frac) + in[idx+1]*frac
	}
	return out, nil
}
