package provisioning

import (
	"fmt"

	goqrcode "github.com/skip2/go-qrcode"
)

// Renderer turns a URL into a scannable image.
type Renderer interface {
	Render(content string) ([]byte, error)
}

// DefaultQRSize is the PNG edge length in pixels.
const DefaultQRSize = 512

// PNGRenderer renders QR codes as PNG with the highest error correction level.
type PNGRenderer struct {
	Size int
}

// Render implements Renderer.
func (r PNGRenderer) Render(content string) ([]byte, error) {
	size := r.Size
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := goqrcode.Encode(content, goqrcode.Highest, size)
	if err != nil {
		return nil, fmt.Errorf("rendering qr code: %w", err)
	}
	return png, nil
}
