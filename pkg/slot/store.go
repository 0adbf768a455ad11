// Package slot persists the single user-chosen background image in a
// directory shared by cooperating processes.
//
// The slot is one file with a fixed name. Writes go to a temp file in the
// same directory and are renamed over the slot, so a reader sees either the
// previous image or the new one, never a mix. Last writer wins.
package slot

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// FileName is the well-known name of the slot inside its directory.
const FileName = "bg.png"

var ErrInvalidImage = errors.New("slot: data is not a decodable image")

// IOError reports a failed durable write. Nothing in memory changes when it is returned.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("slot: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Store reads and writes the background slot.
type Store struct {
	dir     string
	logger  zerolog.Logger
	changed *Signal
}

func NewStore(dir string, logger zerolog.Logger) *Store {
	return &Store{
		dir:     dir,
		logger:  logger.With().Str("component", "slot").Logger(),
		changed: NewSignal(),
	}
}

func (s *Store) Dir() string { return s.dir }

// Path returns the location of the slot file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Changed returns a channel closed by the next successful write in this process.
// Re-call it after each wakeup.
func (s *Store) Changed() <-chan struct{} {
	return s.changed.C()
}

// Write stores data as the current background. The whole image must decode;
// data in other image formats is re-encoded as PNG first.
func (s *Store) Write(data []byte) error {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if format != "png" {
		return s.Commit(img)
	}
	return s.writeFile(data)
}

// Commit encodes img as PNG and stores it as the current background.
func (s *Store) Commit(img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return &IOError{Op: "encode", Path: s.Path(), Err: err}
	}
	return s.writeFile(buf.Bytes())
}

func (s *Store) writeFile(data []byte) error {
	target := s.Path()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &IOError{Op: "create directory", Path: s.dir, Err: err}
	}

	tmp, err := os.CreateTemp(s.dir, ".bg-*.tmp")
	if err != nil {
		return &IOError{Op: "create temp file", Path: s.dir, Err: err}
	}
	tmpPath := tmp.Name()
	fail := func(op string, err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &IOError{Op: op, Path: tmpPath, Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		return fail("write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync temp file", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail("chmod temp file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &IOError{Op: "close temp file", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return &IOError{Op: "rename", Path: target, Err: err}
	}

	s.logger.Info().Str("path", target).Str("size", humanize.Bytes(uint64(len(data)))).Msg("Background committed")
	s.changed.Notify()
	return nil
}

// ReadIfPresent returns the slot contents. A missing slot is not an error:
// it yields false and the caller falls back to its built-in background.
// Unreadable slots are logged and reported as absent.
func (s *Store) ReadIfPresent() ([]byte, bool) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", s.Path()).Msg("Failed reading background slot")
		}
		return nil, false
	}
	return data, true
}

// Current returns the decoded background, or false when none is usable.
func (s *Store) Current() (image.Image, bool) {
	data, ok := s.ReadIfPresent()
	if !ok {
		return nil, false
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.Path()).Msg("Background slot is not a valid PNG")
		return nil, false
	}
	return img, true
}
