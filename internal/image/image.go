// Package image reads photographs from disk or the web and turns them into
// data URLs ready for analysis.
package image

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/manash/antika/internal/security"
	"github.com/manash/antika/pkg/models"
)

// Image is a photograph prepared for analysis.
type Image struct {
	Source    string
	MediaType string
	Size      int64
	DataURL   string
}

type Loader struct {
	httpClient *http.Client
	maxSize    int64
}

// NewLoader returns a loader refusing images larger than maxSize bytes.
func NewLoader(maxSize int64) *Loader {
	if maxSize <= 0 {
		maxSize = models.DefaultMaxImageSize
	}
	return &Loader{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		maxSize: maxSize,
	}
}

// Load reads source, a file path or an https URL. The size limit is checked
// before the content is read into memory.
func (l *Loader) Load(ctx context.Context, source string) (*Image, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, models.ValidationError("no image given")
	}
	if strings.HasPrefix(source, "https://") || strings.HasPrefix(source, "http://") {
		return l.download(ctx, source)
	}
	return l.readFile(source)
}

func (l *Loader) readFile(path string) (*Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.ValidationError(fmt.Sprintf("%s does not exist", path))
		}
		return nil, models.ValidationError(fmt.Sprintf("cannot read %s: %v", path, err))
	}
	if info.IsDir() {
		return nil, models.ValidationError(fmt.Sprintf("%s is a directory", path))
	}
	if info.Size() > l.maxSize {
		return nil, models.ImageTooLarge(info.Size(), l.maxSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.ValidationError(fmt.Sprintf("cannot read %s: %v", path, err))
	}
	return FromBytes(path, data)
}

func (l *Loader) download(ctx context.Context, url string) (*Image, error) {
	if err := security.ValidateSourceURL(url); err != nil {
		return nil, models.ValidationError(fmt.Sprintf("refusing to fetch %s: %v", url, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, models.ValidationError(fmt.Sprintf("invalid image URL: %v", err))
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, models.ServiceError("Could not download the image.", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, models.ServiceError("Could not download the image.",
			fmt.Errorf("download failed with status: %d", resp.StatusCode))
	}
	if resp.ContentLength > l.maxSize {
		return nil, models.ImageTooLarge(resp.ContentLength, l.maxSize)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxSize+1))
	if err != nil {
		return nil, models.ServiceError("Could not download the image.", err)
	}
	if int64(len(data)) > l.maxSize {
		return nil, models.ImageTooLarge(int64(len(data)), l.maxSize)
	}
	return FromBytes(url, data)
}

// FromBytes wraps raw image bytes. Content that is not a recognised image
// format is rejected.
func FromBytes(source string, data []byte) (*Image, error) {
	mediaType := DetectMediaType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, models.ValidationError(fmt.Sprintf("%s is not an image (%s)", source, mediaType))
	}
	return &Image{
		Source:    source,
		MediaType: mediaType,
		Size:      int64(len(data)),
		DataURL:   fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data)),
	}, nil
}

// DetectMediaType sniffs common photo formats from their magic bytes and
// falls back to content sniffing.
func DetectMediaType(data []byte) string {
	if len(data) < 4 {
		return "application/octet-stream"
	}

	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 {
		return "image/gif"
	}
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}
	if len(data) >= 12 && string(data[4:8]) == "ftyp" && (string(data[8:12]) == "heic" || string(data[8:12]) == "heix") {
		return "image/heic"
	}

	return strings.SplitN(http.DetectContentType(data), ";", 2)[0]
}

var dataURLPattern = regexp.MustCompile(`^data:([a-z]+/[a-z0-9.+-]+);base64,`)

// Decode returns the bytes and declared media type of a base64 data URL.
func Decode(dataURL string) ([]byte, string, error) {
	m := dataURLPattern.FindStringSubmatch(dataURL)
	if m == nil {
		return nil, "", fmt.Errorf("not a base64 data URL")
	}
	data, err := base64.StdEncoding.DecodeString(dataURL[len(m[0]):])
	if err != nil {
		return nil, "", fmt.Errorf("decode data URL: %w", err)
	}
	return data, m[1], nil
}

// Extension maps a media type to a file extension.
func Extension(mediaType string) string {
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	default:
		return ".bin"
	}
}
