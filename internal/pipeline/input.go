package pipeline

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Mode selects whether a romanized rewrite is requested.
type Mode string

const (
	ModeNative    Mode = "native"
	ModeThanglish Mode = "thanglish"
)

// ParseMode accepts the form and API spellings of a mode. Empty means native.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "native", "tamil", "ta":
		return ModeNative, nil
	case "thanglish", "romanized":
		return ModeThanglish, nil
	default:
		return "", &InputError{Kind: InputBadMode, Detail: fmt.Sprintf("unknown mode %q", s)}
	}
}

// allowedExts is the accepted container allow-list.
var allowedExts = map[string]bool{
	".mp4": true,
	".mp3": true,
	".wav": true,
	".m4a": true,
}

// AllowedExtensions returns the allow-list for display in forms.
func AllowedExtensions() []string {
	return []string{"mp4", "mp3", "wav", "m4a"}
}

// Allowed reports whether filename has an accepted media extension.
func Allowed(filename string) bool {
	return allowedExts[strings.ToLower(filepath.Ext(filename))]
}

// sniffLen is how much of the upload is read for content detection.
const sniffLen = 3072

// checkName validates the filename before any bytes are read.
func checkName(filename string) error {
	if strings.TrimSpace(filename) == "" {
		return &InputError{Kind: InputMissing, Detail: "no file uploaded"}
	}
	if !Allowed(filename) {
		ext := strings.ToLower(filepath.Ext(filename))
		return &InputError{
			Kind:     InputUnsupported,
			Filename: filename,
			Detail:   fmt.Sprintf("extension %q not in %s", ext, strings.Join(AllowedExtensions(), ", ")),
		}
	}
	return nil
}

// sniff reads the head of the upload and checks it looks like audio or video.
// The returned bytes must be written before the rest of r.
func sniff(filename string, r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, &InputError{Kind: InputMissing, Filename: filename, Detail: "no file uploaded"}
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, &InputError{Kind: InputEmpty, Filename: filename, Detail: "file is empty"}
	}

	if isoBMFF(filename, head) {
		return head, nil
	}
	detected := mimetype.Detect(head)
	for m := detected; m != nil; m = m.Parent() {
		if isMedia(m.String()) {
			return head, nil
		}
	}
	return nil, &InputError{
		Kind:     InputUnsupported,
		Filename: filename,
		Detail:   fmt.Sprintf("content looks like %s, not audio or video", detected.String()),
	}
}

// isoBMFF accepts any ISO base media file for the mp4 and m4a extensions.
// Camera and encoder brands (XAVC, f4v) are missing from the sniffer's table
// but share the container.
func isoBMFF(filename string, head []byte) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4", ".m4a":
		return len(head) >= 12 && string(head[4:8]) == "ftyp"
	}
	return false
}

func isMedia(mime string) bool {
	return strings.HasPrefix(mime, "audio/") || strings.HasPrefix(mime, "video/")
}
