package normalize

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always produces interleaved 16-bit stereo.
func decodeMP3(data []byte) (*PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}
	frames := len(raw) / 4
	left := make([]float64, frames)
	right := make([]float64, frames)
	for i := 0; i < frames; i++ {
		left[i] = dequantize(int64(int16(binary.LittleEndian.Uint16(raw[i*4:]))), 16)
		right[i] = dequantize(int64(int16(binary.LittleEndian.Uint16(raw[i*4+2:]))), 16)
	}
	return &PCM{SampleRate: dec.SampleRate(), Channels: [][]float64{left, right}}, nil
}
