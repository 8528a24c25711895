package watcher

import "github.com/atotto/clipboard"

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks github.com/mattjoyce/cliprun/internal/watcher Source,Clipboard

// Source yields the current text of whatever is being watched.
type Source interface {
	ReadText() (string, error)
}

// Clipboard is a Source that can also be written, for copying a link back.
type Clipboard interface {
	Source
	WriteText(text string) error
}

// SystemClipboard reads and writes the desktop clipboard through the
// platform tools (pbpaste, xclip, xsel, wl-clipboard, Win32).
type SystemClipboard struct{}

func (SystemClipboard) ReadText() (string, error) {
	return clipboard.ReadAll()
}

func (SystemClipboard) WriteText(text string) error {
	return clipboard.WriteAll(text)
}

// Available reports whether a clipboard backend was found on this system.
func (SystemClipboard) Available() bool {
	return !clipboard.Unsupported
}
