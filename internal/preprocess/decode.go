package preprocess

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/chai2010/webp"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/classify-api/internal/model"
)

// DefaultFormats lists every format Decode understands.
var DefaultFormats = []string{"jpeg", "png", "gif", "webp", "bmp", "tiff"}

// Decoder turns uploaded bytes into an image, restricted to an allow-list of formats.
type Decoder struct {
	formats []string
}

// NewDecoder accepts the given formats; an empty list accepts DefaultFormats.
func NewDecoder(formats []string) *Decoder {
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	normalized := make([]string, 0, len(formats))
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "jpg" {
			f = "jpeg"
		}
		if f != "" {
			normalized = append(normalized, f)
		}
	}
	return &Decoder{formats: normalized}
}

// Decode reads an image from r and reports its format name.
func (d *Decoder) Decode(r io.Reader) (image.Image, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to read image: %v", model.ErrBadRequest, err)
	}
	return d.DecodeBytes(data)
}

// DecodeBytes decodes an in-memory image. WebP payloads the registered
// decoder rejects are retried with libwebp.
func (d *Decoder) DecodeBytes(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty image", model.ErrBadRequest)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if fallback, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
			img, format, err = fallback, "webp", nil
		}
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to decode image: %v", model.ErrBadRequest, err)
	}

	if !d.supported(format) {
		return nil, "", fmt.Errorf("%w: unsupported image format: %s", model.ErrBadRequest, format)
	}
	return img, format, nil
}

func (d *Decoder) supported(format string) bool {
	for _, f := range d.formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}
