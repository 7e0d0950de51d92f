// Package media stores the animated images users attach to milestone
// announcements.
package media

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotGIF is returned when an upload is not a GIF file.
var ErrNotGIF = fmt.Errorf("only GIF files are allowed")

var gifMagic = [][]byte{[]byte("GIF87a"), []byte("GIF89a")}

// Store keeps uploaded GIFs on disk under a single directory. References
// handed out are bare file names; they are re-validated on read so a
// reference can never escape the directory.
type Store struct {
	dir      string
	maxBytes int64
}

func NewStore(dir string, maxBytes int64) (*Store, error) {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// SaveGIF validates and stores an uploaded GIF for an account, returning
// the media reference to record on the account. The file lands via a
// temp-file rename so a crash mid-write never leaves a half-written asset
// behind a live reference.
func (s *Store) SaveGIF(accountID string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("upload exceeds %d bytes", s.maxBytes)
	}

	if !isGIF(data) {
		return "", ErrNotGIF
	}

	ref := fmt.Sprintf("%s-%d.gif", sanitize(accountID), time.Now().UnixNano())

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close upload: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, ref)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to store upload: %w", err)
	}

	return ref, nil
}

// Read loads a previously stored asset by reference.
func (s *Store) Read(ref string) ([]byte, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Exists reports whether the referenced asset is still on disk.
func (s *Store) Exists(ref string) bool {
	path, err := s.resolve(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (s *Store) resolve(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", fmt.Errorf("invalid media reference %q", ref)
	}
	return filepath.Join(s.dir, ref), nil
}

func isGIF(data []byte) bool {
	for _, magic := range gifMagic {
		if bytes.HasPrefix(data, magic) {
			return true
		}
	}
	return false
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
