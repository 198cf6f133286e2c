package audio

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"permission", errors.New("Permission denied by user"), ErrPermissionDenied},
		{"access", errors.New("pulse: access denied"), ErrPermissionDenied},
		{"other", errors.New("connection refused"), ErrDeviceUnavailable},
		{"already classified", ErrPermissionDenied, ErrPermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("Classify dropped the original error")
			}
		})
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestIsBluetooth(t *testing.T) {
	if !IsBluetooth("AirPods Pro") {
		t.Error("AirPods should be bluetooth")
	}
	if IsBluetooth("Built-in Microphone") {
		t.Error("built-in mic is not bluetooth")
	}
}

func TestFakeCaptureDeliversAllSamples(t *testing.T) {
	samples := make([]int16, 3000)
	for i := range samples {
		samples[i] = int16(i)
	}
	ctx := NewFakeContextSamples(samples)

	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	var frames uint32
	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}
	dev.SetCallback(func(data []byte, n uint32) {
		mu.Lock()
		frames += n
		mu.Unlock()
	})

	select {
	case <-dev.(*FakeCapture).AudioDone():
	case <-time.After(2 * time.Second):
		t.Fatal("audio never finished")
	}
	dev.Stop()
	dev.Close()
	dev.Close()

	mu.Lock()
	defer mu.Unlock()
	if frames != 3000 {
		t.Errorf("frames = %d, want 3000", frames)
	}
	if ctx.Acquired() != 1 || ctx.Released() != 1 {
		t.Errorf("acquired/released = %d/%d, want 1/1", ctx.Acquired(), ctx.Released())
	}
}

func TestFakeCaptureStartErr(t *testing.T) {
	ctx := NewFakeContextSamples(nil)
	ctx.StartErr = ErrPermissionDenied
	dev, _ := ctx.NewCapture(nil, CaptureConfig{})
	if err := dev.Start(); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Start err = %v", err)
	}
	dev.Close()
	if ctx.Released() != 1 {
		t.Errorf("released = %d, want 1", ctx.Released())
	}
}

func TestBlobEmpty(t *testing.T) {
	if !(Blob{}).Empty() {
		t.Error("zero Blob should be empty")
	}
	if (Blob{Data: []byte{1}}).Empty() {
		t.Error("non-empty Blob reported empty")
	}
}

type listContext struct {
	devices []DeviceInfo
	err     error
}

func (c listContext) Devices() ([]DeviceInfo, error) { return c.devices, c.err }
func (c listContext) Close()                         {}

func (c listContext) NewCapture(*DeviceInfo, CaptureConfig) (CaptureDevice, error) {
	return nil, errors.New("not supported")
}

func TestSelectDeviceUnavailable(t *testing.T) {
	tests := []struct {
		name string
		ctx  listContext
	}{
		{"no devices", listContext{}},
		{"enumeration fails", listContext{err: errors.New("connection refused")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SelectDevice(tt.ctx)
			if !errors.Is(err, ErrDeviceUnavailable) {
				t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
			}
		})
	}
}

func TestSelectDeviceKeepsPermissionError(t *testing.T) {
	_, err := SelectDevice(listContext{err: errors.New("Access denied")})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestSelectDeviceSingle(t *testing.T) {
	dev, err := SelectDevice(listContext{devices: []DeviceInfo{{ID: "1", Name: "USB Mic"}}})
	if err != nil {
		t.Fatal(err)
	}
	if dev.Name != "USB Mic" {
		t.Fatalf("dev = %q", dev.Name)
	}
}

func TestFindDevice(t *testing.T) {
	ctx := listContext{devices: []DeviceInfo{{ID: "1", Name: "Built-in"}, {ID: "2", Name: "USB Mic"}}}
	dev, err := FindDevice(ctx, "USB Mic")
	if err != nil {
		t.Fatal(err)
	}
	if dev.ID != "2" {
		t.Fatalf("id = %q, want 2", dev.ID)
	}
	if _, err := FindDevice(ctx, "Headset"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
	if _, err := FindDevice(listContext{}, "USB Mic"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestPicker(t *testing.T) {
	devices := []DeviceInfo{{Name: "Built-in"}, {Name: "AirPods Pro"}, {Name: "USB Mic"}}
	tests := []struct {
		name  string
		input string
		want  string
		err   error
	}{
		{"enter picks first", "\r", "Built-in", nil},
		{"arrow down", "\x1b[B\r", "AirPods Pro", nil},
		{"vim keys", "jjk\r", "AirPods Pro", nil},
		{"clamped at bottom", "\x1b[B\x1b[B\x1b[B\x1b[B\r", "USB Mic", nil},
		{"clamped at top", "\x1b[Ak\r", "Built-in", nil},
		{"ctrl-c", "j\x03", "", ErrSelectionCancelled},
		{"input closed", "j", "", ErrSelectionCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := &picker{devices: devices}
			dev, err := p.run(strings.NewReader(tt.input), &out)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if tt.err == nil && dev.Name != tt.want {
				t.Fatalf("dev = %q, want %q", dev.Name, tt.want)
			}
		})
	}
}

func TestPickerTagsBluetooth(t *testing.T) {
	var out bytes.Buffer
	p := &picker{devices: []DeviceInfo{{Name: "Built-in"}, {Name: "AirPods Pro"}}}
	p.render(&out, false)
	lines := strings.Split(out.String(), "\r\n")
	var tagged []string
	for _, l := range lines {
		if strings.Contains(l, "Lower audio quality") {
			tagged = append(tagged, l)
		}
	}
	if len(tagged) != 1 || !strings.Contains(tagged[0], "AirPods Pro") {
		t.Fatalf("tagged = %q", tagged)
	}
}
