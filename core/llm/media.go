package llm

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Media is a file sent alongside the prompt.
type Media struct {
	Name     string
	Data     []byte
	MIMEType string
}

// NewMedia wraps data, sniffing the MIME type when mimeType is empty or a
// generic octet-stream.
func NewMedia(name string, data []byte, mimeType string) (*Media, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("media %q is empty", name)
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(data).String()
	}
	// strip parameters like "; charset=utf-8"
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return &Media{Name: name, Data: data, MIMEType: mimeType}, nil
}

// LoadMedia reads a local file.
func LoadMedia(path string) (*Media, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}
	return NewMedia(filepath.Base(path), data, "")
}

// IsImage reports whether the media has an image MIME type.
func (m *Media) IsImage() bool {
	return m != nil && strings.HasPrefix(m.MIMEType, "image/")
}

// FileToBase64 returns the standard base64 encoding of data, without the
// data URL prefix.
func FileToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DataURL returns the media as a data: URL.
func DataURL(m *Media) string {
	return "data:" + m.MIMEType + ";base64," + FileToBase64(m.Data)
}
