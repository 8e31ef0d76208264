package vision

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonwraymond/visionops/fault"
)

// MaxImageBytes is the largest image LoadImage accepts.
const MaxImageBytes = 20 << 20

// Image is an in-memory image ready to send to a provider.
type Image struct {
	Path     string
	Data     []byte
	MIMEType string
}

var supportedImageMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/heic": true,
	"image/heif": true,
}

var imageMIMEByExtension = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// LoadImage reads an image from disk and sniffs its MIME type from the
// content, falling back to the file extension for formats the sniffer
// does not know. Files over MaxImageBytes or of unsupported types are
// rejected with a validation fault before any provider sees them.
func LoadImage(path string) (Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Image{}, fault.Wrap(fault.KindStorage, "vision", "load_image", err)
	}
	if info.Size() > MaxImageBytes {
		return Image{}, fault.New(fault.KindValidation, "vision", "load_image",
			fmt.Sprintf("image is %d bytes, limit is %d", info.Size(), MaxImageBytes))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fault.Wrap(fault.KindStorage, "vision", "load_image", err)
	}

	sniffed := http.DetectContentType(data)
	mimeType := sniffed
	if !supportedImageMIME[mimeType] {
		mimeType = imageMIMEByExtension[strings.ToLower(filepath.Ext(path))]
	}
	if !supportedImageMIME[mimeType] {
		return Image{}, fault.New(fault.KindValidation, "vision", "load_image",
			fmt.Sprintf("unsupported image type %q", sniffed))
	}

	return Image{Path: path, Data: data, MIMEType: mimeType}, nil
}
