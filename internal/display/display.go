// Package display previews suggestion images inline in terminals that speak
// the Kitty graphics protocol.
package display

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdimage "image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/manash/adcraft/pkg/models"
)

var (
	ErrNoImage     = errors.New("suggestion has no image")
	ErrUnsupported = errors.New("terminal does not support inline images")
)

// DefaultColumns is the preview width in terminal cells.
const DefaultColumns = 60

// Fetcher downloads an image and reports its MIME type.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

type Displayer struct {
	out       io.Writer
	fetcher   Fetcher
	supported bool
	columns   int
}

// New builds a Displayer. supported is normally IsTerminalSupported().
func New(out io.Writer, fetcher Fetcher, supported bool) *Displayer {
	return &Displayer{
		out:       out,
		fetcher:   fetcher,
		supported: supported,
		columns:   DefaultColumns,
	}
}

func (d *Displayer) Supported() bool {
	return d != nil && d.supported
}

// ShowSuggestion prints a caption and the suggestion's current image.
func (d *Displayer) ShowSuggestion(ctx context.Context, sug models.AdSuggestion) error {
	if !sug.HasImage() {
		return ErrNoImage
	}
	if !d.Supported() {
		return ErrUnsupported
	}

	data, mime, err := d.fetcher.Fetch(ctx, sug.GeneratedImageURL)
	if err != nil {
		return fmt.Errorf("failed to fetch image: %w", err)
	}

	data, err = toPNG(data, mime)
	if err != nil {
		return err
	}

	fmt.Fprintf(d.out, "%s: %s (%s)\n", sug.Platform.DisplayName(), sug.Headline, sug.Dimensions)

	enc := NewKittyEncoder(d.out, d.columns)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	fmt.Fprintln(d.out)
	return nil
}

// toPNG converts data to PNG. Kitty transmissions are always sent as f=100.
func toPNG(data []byte, mime string) ([]byte, error) {
	if mime == "image/png" {
		return data, nil
	}

	img, _, err := stdimage.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cannot preview %s: %w", mime, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	return buf.Bytes(), nil
}

// IsTerminalSupported reports whether stdout is a terminal that renders Kitty
// graphics.
func IsTerminalSupported() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && supportsGraphics()
}

func supportsGraphics() bool {
	termProgram := strings.ToLower(os.Getenv("TERM_PROGRAM"))
	supportedPrograms := []string{"kitty", "ghostty", "iterm.app", "wezterm"}

	for _, prog := range supportedPrograms {
		if termProgram == prog {
			return true
		}
	}

	if os.Getenv("KITTY_WINDOW_ID") != "" {
		return true
	}

	if os.Getenv("ITERM_SESSION_ID") != "" {
		return true
	}

	termEnv := strings.ToLower(os.Getenv("TERM"))
	return strings.Contains(termEnv, "kitty") || strings.Contains(termEnv, "ghostty")
}
