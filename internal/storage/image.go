package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

// ErrUnsupportedImage is returned for uploads that are not JPEG, PNG or GIF.
var ErrUnsupportedImage = errors.New("unsupported image type")

var allowedImageTypes = []string{"image/jpeg", "image/png", "image/gif"}

// Photo is an upload ready to be stored.
type Photo struct {
	Data        []byte
	ContentType string
	Ext         string
	Width       int
	Height      int
}

// DetectImage returns the sniffed content type of data, or
// ErrUnsupportedImage.
func DetectImage(data []byte) (string, error) {
	mt := mimetype.Detect(data)
	for _, allowed := range allowedImageTypes {
		if mt.Is(allowed) {
			return allowed, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, mt.String())
}

// PreparePhoto validates an uploaded image, fixes its EXIF orientation and
// shrinks it to fit maxWidth x maxHeight. The result is always JPEG.
// Images already within bounds are re-encoded but not resized.
func PreparePhoto(data []byte, maxWidth, maxHeight int) (*Photo, error) {
	if _, err := DetectImage(data); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	if maxWidth > 0 && maxHeight > 0 {
		b := img.Bounds()
		if b.Dx() > maxWidth || b.Dy() > maxHeight {
			img = imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)
		}
	}

	return encodeJPEG(img)
}

func encodeJPEG(img image.Image) (*Photo, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	b := img.Bounds()
	return &Photo{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Ext:         "jpg",
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}
