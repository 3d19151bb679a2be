// Package imagedata converts between raw image bytes, base64 payloads and data URIs.
package imagedata

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"
)

// DefaultMIME is assumed when a payload cannot be sniffed.
const DefaultMIME = "image/png"

const base64Marker = ";base64,"

// ErrNotImage is returned when bytes do not decode as a supported image format.
var ErrNotImage = errors.New("not a supported image")

// Decode accepts either a bare base64 string or a data URI and returns the raw bytes.
func Decode(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, errors.New("empty payload")
	}
	if strings.HasPrefix(payload, "data:") {
		idx := strings.Index(payload, base64Marker)
		if idx < 0 {
			return nil, errors.New("data URI missing base64 marker")
		}
		payload = payload[idx+len(base64Marker):]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return raw, nil
}

// IsDataURI reports whether s is an inline data URI rather than a durable URL.
func IsDataURI(s string) bool { return strings.HasPrefix(strings.TrimSpace(s), "data:") }

// DataURI encodes raw image bytes as a data URI, sniffing the MIME type.
func DataURI(raw []byte) string {
	return "data:" + MIME(raw) + base64Marker + base64.StdEncoding.EncodeToString(raw)
}

// MIME sniffs the image format of raw, falling back to DefaultMIME.
func MIME(raw []byte) string {
	_, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return DefaultMIME
	}
	return "image/" + format
}

// Validate checks that raw decodes as png, jpeg, gif or webp and returns its MIME type.
func Validate(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", ErrNotImage
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	return "image/" + format, nil
}

// Extension maps a MIME type to a file extension.
func Extension(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
