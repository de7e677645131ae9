package blob

import (
	"bytes"
	"fmt"
	"image/gif"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

const MaxImageWidth = 1600

var imageFormats = map[string]imaging.Format{
	"image/jpeg": imaging.JPEG,
	"image/png":  imaging.PNG,
	"image/gif":  imaging.GIF,
}

// NormalizeImage 按内容嗅探类型，
// 超过 MaxImageWidth 的静态图等比缩放后重新编码
func NormalizeImage(data []byte, maxBytes int64) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmpty
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", ErrTooLarge
	}
	mt := mimetype.Detect(data)
	format, ok := imageFormats[mt.String()]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupported, mt.String())
	}

	if format == imaging.GIF {
		// 动图不缩放，只校验能解码
		if _, err := gif.DecodeConfig(bytes.NewReader(data)); err != nil {
			return nil, "", fmt.Errorf("blob: decode gif: %w", err)
		}
		return data, mt.String(), nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("blob: decode image: %w", err)
	}
	if img.Bounds().Dx() <= MaxImageWidth {
		return data, mt.String(), nil
	}
	img = imaging.Resize(img, MaxImageWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(85)); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mt.String(), nil
}
