package encoder

import "time"

const (
	DefaultSampleRate = 16000
	Channels          = 1
	BitsPerSample     = 16
	BlockSize         = 4096
)

// Encoder turns PCM blocks into a compressed stream that can be drained in
// pieces while encoding is still in progress.
type Encoder interface {
	EncodeBlock(block []int16) error
	// Drain returns the bytes produced since the previous Drain.
	Drain() []byte
	Close() error
	MIMEType() string
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
}
