package display

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"strings"
)

const (
	apcStart = "\x1b_G"
	apcEnd   = "\x1b\\"
	// maxChunk is the largest base64 payload the protocol accepts per escape.
	maxChunk = 4096
)

// KittyEncoder draws photos inline with the kitty graphics protocol.
// Compressed data is only accepted as PNG (f=100), so other formats are
// transcoded first.
type KittyEncoder struct {
	out io.Writer
	// columns scales the photo to that many terminal cells; 0 keeps its
	// natural size.
	columns int
}

func NewKittyEncoder(out io.Writer, columns int) *KittyEncoder {
	return &KittyEncoder{out: out, columns: columns}
}

// EncodeImage draws data of the given media type. Nothing is written when
// the photo cannot be decoded.
func (e *KittyEncoder) EncodeImage(data []byte, mediaType string) error {
	if mediaType != "image/png" {
		converted, err := transcodePNG(data)
		if err != nil {
			return fmt.Errorf("cannot preview %s: %w", mediaType, err)
		}
		data = converted
	}
	return e.Encode(data)
}

// Encode draws PNG data, split over as many escapes as needed.
func (e *KittyEncoder) Encode(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	payload := base64.StdEncoding.EncodeToString(data)
	for first := true; len(payload) > 0; first = false {
		n := min(len(payload), maxChunk)
		chunk := payload[:n]
		payload = payload[n:]

		if _, err := fmt.Fprintf(e.out, "%s%s;%s%s", apcStart, e.control(first, len(payload) > 0), chunk, apcEnd); err != nil {
			return err
		}
	}
	return nil
}

// control builds the key list of one escape. Only the first escape carries
// the transmit-and-display keys; continuation escapes carry just m.
func (e *KittyEncoder) control(first, more bool) string {
	var keys []string
	if first {
		keys = append(keys, "a=T", "f=100", "q=2")
		if e.columns > 0 {
			keys = append(keys, fmt.Sprintf("c=%d", e.columns))
		}
	}
	switch {
	case more:
		keys = append(keys, "m=1")
	case !first:
		keys = append(keys, "m=0")
	}
	return strings.Join(keys, ",")
}

func transcodePNG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
