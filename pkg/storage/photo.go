package storage

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// MaxPhotoDimension bounds the longest side of a stored student photo.
const MaxPhotoDimension = 512

// Photo is an uploaded image ready to be stored.
type Photo struct {
	Data        []byte
	ContentType string
}

// PreparePhoto sniffs the image type, rejects anything that is not an allowed
// photo or is larger than maxBytes, and shrinks it to fit MaxPhotoDimension.
func PreparePhoto(data []byte, maxBytes int64) (*Photo, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("photo is empty")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("photo is %s, limit is %s", humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(maxBytes)))
	}

	contentType := mimetype.Detect(data).String()
	if _, ok := AllowedPhotoTypes[contentType]; !ok {
		return nil, fmt.Errorf("photo type not allowed: %s", contentType)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		// webp has no decoder here; it is stored as uploaded.
		if contentType == "image/webp" {
			return &Photo{Data: data, ContentType: contentType}, nil
		}
		return nil, fmt.Errorf("decode photo: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= MaxPhotoDimension && bounds.Dy() <= MaxPhotoDimension {
		return &Photo{Data: data, ContentType: contentType}, nil
	}

	resized := imaging.Fit(img, MaxPhotoDimension, MaxPhotoDimension, imaging.Lanczos)
	format := imaging.JPEG
	if contentType == "image/png" {
		format = imaging.PNG
	}
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, resized, format, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}
	return &Photo{Data: buf.Bytes(), ContentType: contentType}, nil
}
