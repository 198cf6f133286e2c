// Package clipboard copies chat entries to the system clipboard.
package clipboard

import (
	"fmt"

	cb "github.com/atotto/clipboard"
)

func Available() bool {
	return !cb.Unsupported
}

func Read() (string, error) {
	return cb.ReadAll()
}

func Copy(text string) error {
	if err := cb.WriteAll(text); err != nil {
		return fmt.Errorf("clipboard: %w", err)
	}
	return nil
}

// RoundTrip writes text and reads the clipboard back.
func RoundTrip(text string) (string, error) {
	if err := Copy(text); err != nil {
		return "", err
	}
	got, err := Read()
	if err != nil {
		return "", fmt.Errorf("clipboard read: %w", err)
	}
	return got, nil
}
