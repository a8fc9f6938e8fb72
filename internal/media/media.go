// Package media classifies files as video or image by extension, falling back
// to content sniffing when the extension is unknown.
package media

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bdougie/mediadescriber/internal/models"
)

var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true,
	".wmv": true, ".flv": true, ".webm": true, ".m4v": true,
}

var imageMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

// sniffLen is how much of a file http.DetectContentType looks at.
const sniffLen = 512

// KindByExtension classifies path by its extension alone.
func KindByExtension(path string) models.MediaKind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case videoExtensions[ext]:
		return models.KindVideo
	case imageMIME[ext] != "":
		return models.KindImage
	}
	return models.KindUnsupported
}

// Classify returns the kind of the file at path. Unknown extensions are
// sniffed so renamed media is still picked up.
func Classify(path string) models.MediaKind {
	if kind := KindByExtension(path); kind != models.KindUnsupported {
		return kind
	}

	f, err := os.Open(path)
	if err != nil {
		return models.KindUnsupported
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return models.KindUnsupported
	}
	return kindOfContentType(http.DetectContentType(head[:n]))
}

func kindOfContentType(ct string) models.MediaKind {
	switch {
	case strings.HasPrefix(ct, "video/"), ct == "application/ogg":
		return models.KindVideo
	case strings.HasPrefix(ct, "image/"):
		return models.KindImage
	}
	return models.KindUnsupported
}

// ImageMIME returns the MIME type of an image, from its extension or, failing
// that, its content. data may be nil when only the extension is known.
func ImageMIME(path string, data []byte) string {
	if mt, ok := imageMIME[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	if len(data) > 0 {
		if ct := http.DetectContentType(data); strings.HasPrefix(ct, "image/") {
			return ct
		}
	}
	return "image/jpeg"
}
