package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

func decodeFLAC(data []byte) (*PCM, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	info := stream.Info
	if info.NChannels == 0 || info.SampleRate == 0 {
		return nil, fmt.Errorf("stream info: %d channels at %d Hz", info.NChannels, info.SampleRate)
	}
	bits := uint(info.BitsPerSample)

	pcm := &PCM{
		SampleRate: int(info.SampleRate),
		Channels:   make([][]float64, info.NChannels),
	}
	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", pcm.Frames(), err)
		}
		if len(f.Subframes) != len(pcm.Channels) {
			return nil, fmt.Errorf("frame has %d subframes, stream has %d channels", len(f.Subframes), len(pcm.Channels))
		}
		for ch, sub := range f.Subframes {
			for _, s := range sub.Samples[:sub.NSamples] {
				pcm.Channels[ch] = append(pcm.Channels[ch], dequantize(int64(s), bits))
			}
		}
	}
	return pcm, nil
}
