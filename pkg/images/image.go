// Package images searches, fetches and caches background images.
package images

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // country flags are served as GIF
	_ "image/jpeg" // search results are served as JPEG
	_ "image/png"
)

// Image is a fetched image: the bytes as received plus their decoded form.
type Image struct {
	Key     string
	Format  string
	Data    []byte
	Decoded image.Image
}

// Decode parses data and records which format it was in.
func Decode(key string, data []byte) (*Image, error) {
	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image %s: %w", key, err)
	}
	return &Image{Key: key, Format: format, Data: data, Decoded: decoded}, nil
}

func (img *Image) Size() int {
	return len(img.Data)
}

func (img *Image) Bounds() image.Rectangle {
	if img.Decoded == nil {
		return image.Rectangle{}
	}
	return img.Decoded.Bounds()
}
