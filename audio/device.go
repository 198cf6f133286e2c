package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrSelectionCancelled is returned when the user aborts the device picker.
var ErrSelectionCancelled = errors.New("device selection cancelled")

// captureDevices lists devices, reporting an empty list or a failed
// enumeration as ErrDeviceUnavailable.
func captureDevices(ctx Context) ([]DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, Classify(fmt.Errorf("enumerating devices: %w", err))
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no capture devices found", ErrDeviceUnavailable)
	}
	return devices, nil
}

// FindDevice returns the capture device with the given name.
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	devices, err := captureDevices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: device %q not found", ErrDeviceUnavailable, name)
}

// SelectDevice asks the user to choose a capture device on the terminal.
// With a single device there is nothing to ask and it is returned as is.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := captureDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, state)

	p := &picker{devices: devices}
	return p.run(os.Stdin, os.Stdout)
}

type pickerKey int

const (
	keyNone pickerKey = iota
	keyUp
	keyDown
	keyEnter
	keyCancel
)

type picker struct {
	devices []DeviceInfo
	cursor  int
}

func (p *picker) run(r io.Reader, w io.Writer) (*DeviceInfo, error) {
	p.render(w, false)
	buf := make([]byte, 16)
	for {
		n, err := r.Read(buf)
		for _, k := range decodeKeys(buf[:n]) {
			switch k {
			case keyEnter:
				fmt.Fprint(w, "\r\n")
				return &p.devices[p.cursor], nil
			case keyCancel:
				fmt.Fprint(w, "\r\n")
				return nil, ErrSelectionCancelled
			case keyUp:
				p.cursor = max(p.cursor-1, 0)
			case keyDown:
				p.cursor = min(p.cursor+1, len(p.devices)-1)
			}
			p.render(w, true)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrSelectionCancelled
			}
			return nil, fmt.Errorf("reading input: %w", err)
		}
	}
}

func (p *picker) render(w io.Writer, redraw bool) {
	if redraw {
		fmt.Fprintf(w, "\x1b[%dA", len(p.devices)+2)
	}
	fmt.Fprint(w, "\r\x1b[J")
	fmt.Fprint(w, "Select input device (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range p.devices {
		tag := ""
		if IsBluetooth(d.Name) {
			tag = " \x1b[33m[⚠ Lower audio quality]\x1b[0m"
		}
		if i == p.cursor {
			fmt.Fprintf(w, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
		} else {
			fmt.Fprintf(w, "    %s%s\r\n", d.Name, tag)
		}
	}
}

// decodeKeys maps raw terminal bytes to picker keys. Arrow keys arrive as
// ESC [ A / ESC [ B.
func decodeKeys(b []byte) []pickerKey {
	var keys []pickerKey
	for i := 0; i < len(b); i++ {
		switch b[i] {
		case '\r', '\n':
			keys = append(keys, keyEnter)
		case 3, 'q':
			keys = append(keys, keyCancel)
		case 'k':
			keys = append(keys, keyUp)
		case 'j':
			keys = append(keys, keyDown)
		case 0x1b:
			if i+2 < len(b) && b[i+1] == '[' {
				switch b[i+2] {
				case 'A':
					keys = append(keys, keyUp)
				case 'B':
					keys = append(keys, keyDown)
				}
				i += 2
			}
		}
	}
	return keys
}
