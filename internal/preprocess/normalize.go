// Package preprocess turns uploaded images into the float tensors a model expects.
package preprocess

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	"github.com/Brownie44l1/classify-api/internal/model"
)

// Channels is the depth of every tensor Normalize produces (RGB).
const Channels = model.ImageChannels

var filters = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos3": resize.Lanczos3,
}

// ParseFilter maps a filter name to an interpolation function. Empty means bicubic.
func ParseFilter(name string) (resize.InterpolationFunction, error) {
	if name == "" {
		return resize.Bicubic, nil
	}
	f, ok := filters[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown resample filter %q", name)
	}
	return f, nil
}

// Normalizer center-crops, resizes and scales images to [0,1] RGB tensors.
type Normalizer struct {
	filter resize.InterpolationFunction
}

// NewNormalizer uses the given resample filter.
func NewNormalizer(filter resize.InterpolationFunction) *Normalizer {
	return &Normalizer{filter: filter}
}

// CenterCropBox returns the centered square of side min(w, h). Fractional
// edges are rounded half to even.
func CenterCropBox(width, height int) image.Rectangle {
	side := min(width, height)
	left := float64(width-side) / 2
	top := float64(height-side) / 2
	right := float64(width+side) / 2
	bottom := float64(height+side) / 2
	return image.Rect(
		int(math.RoundToEven(left)),
		int(math.RoundToEven(top)),
		int(math.RoundToEven(right)),
		int(math.RoundToEven(bottom)),
	)
}

// ToRGB copies img into an opaque NRGBA image with origin (0,0).
// Alpha is discarded rather than composited; gray and paletted images are expanded.
func ToRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// Normalize returns a float32 tensor shaped [height, width, 3] in RGB order
// with values in [0,1].
func (n *Normalizer) Normalize(img image.Image, height, width int) (*model.Tensor, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("%w: invalid target size %dx%d", model.ErrConfiguration, width, height)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", model.ErrBadRequest)
	}

	rgb := ToRGB(img)
	w, h := rgb.Bounds().Dx(), rgb.Bounds().Dy()
	var square image.Image = rgb
	if w != h {
		square = imaging.Crop(rgb, CenterCropBox(w, h))
	}

	sized := square
	if b := square.Bounds(); b.Dx() != width || b.Dy() != height {
		sized = resize.Resize(uint(width), uint(height), square, n.filter)
	}

	return &model.Tensor{
		Shape:  []int64{int64(height), int64(width), Channels},
		Floats: scale(sized),
	}, nil
}

// scale writes channel values divided by 255 in row-major HWC order.
func scale(img image.Image) []float32 {
	b := img.Bounds()
	out := make([]float32, 0, b.Dx()*b.Dy()*Channels)
	switch src := img.(type) {
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):]
			for x := 0; x < b.Dx(); x++ {
				p := row[x*4 : x*4+3]
				out = append(out, unit(p[0]), unit(p[1]), unit(p[2]))
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				out = append(out, unit(c.R), unit(c.G), unit(c.B))
			}
		}
	}
	return out
}

func unit(v uint8) float32 {
	return float32(float64(v) / 255.0)
}
