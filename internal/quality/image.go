package quality

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// grayPlane is a decoded image reduced to gray intensities in 0..255.
type grayPlane struct {
	pix  []float64
	w, h int
}

// decodeGray decodes an image and converts it to a grayscale plane using
// the standard luma weights.
func decodeGray(data []byte) (*grayPlane, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("empty image %dx%d", w, h)
	}

	plane := &grayPlane{pix: make([]float64, w*h), w: w, h: h}
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// 16-bit channels scaled back to 0..255.
			plane.pix[i] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
			i++
		}
	}
	return plane, nil
}

// mean returns the average gray intensity.
func (p *grayPlane) mean() float64 {
	var sum float64
	for _, v := range p.pix {
		sum += v
	}
	return sum / float64(len(p.pix))
}

// laplacianVariance measures sharpness as the variance of the 4-neighbor
// Laplacian over interior pixels. Flat images score near zero, crisp
// edges push the variance up.
func (p *grayPlane) laplacianVariance() float64 {
	if p.w < 3 || p.h < 3 {
		return 0
	}

	n := (p.w - 2) * (p.h - 2)
	values := make([]float64, 0, n)
	var sum float64
	for y := 1; y < p.h-1; y++ {
		row := y * p.w
		for x := 1; x < p.w-1; x++ {
			i := row + x
			l := p.pix[i-p.w] + p.pix[i+p.w] + p.pix[i-1] + p.pix[i+1] - 4*p.pix[i]
			values = append(values, l)
			sum += l
		}
	}

	mean := sum / float64(n)
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return variance / float64(n)
}
