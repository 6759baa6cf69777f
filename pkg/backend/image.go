package backend

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// MaxImageBytes bounds local image files.
const MaxImageBytes = 20 << 20

// Image is a resolved image reference. Remote images keep only their URL.
type Image struct {
	URL      string
	MIMEType string
	Data     []byte
}

// Remote reports whether the image is fetched by the backend itself.
func (i Image) Remote() bool {
	return i.Data == nil
}

// DataURL returns the URL to send in OpenAI-style image parts.
func (i Image) DataURL() string {
	if i.Remote() {
		return i.URL
	}
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Base64 returns the encoded payload of a local or inline image.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// LoadImage resolves ref, which may be an http(s) URL, a data URL or a path.
func LoadImage(ref string) (Image, error) {
	switch {
	case ref == "":
		return Image{}, fmt.Errorf("%w: empty reference", ErrInvalidImage)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return Image{URL: ref}, nil
	case strings.HasPrefix(ref, "data:"):
		return parseDataURL(ref)
	}
	return readImageFile(ref)
}

func parseDataURL(ref string) (Image, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return Image{}, fmt.Errorf("%w: data URL must be base64 encoded", ErrInvalidImage)
	}
	mime := strings.TrimSuffix(meta, ";base64")
	if !strings.HasPrefix(mime, "image/") {
		return Image{}, fmt.Errorf("%w: data URL type %q is not an image", ErrInvalidImage, mime)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: bad base64 payload: %v", ErrInvalidImage, err)
	}
	return Image{URL: ref, MIMEType: mime, Data: data}, nil
}

func readImageFile(path string) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxImageBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %s: %v", ErrInvalidImage, path, err)
	}
	if len(data) > MaxImageBytes {
		return Image{}, fmt.Errorf("%w: %s is larger than %d MiB", ErrInvalidImage, path, MaxImageBytes>>20)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: %s is empty", ErrInvalidImage, path)
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return Image{}, fmt.Errorf("%w: %s looks like %s, not an image", ErrInvalidImage, path, mime)
	}
	return Image{URL: path, MIMEType: mime, Data: data}, nil
}

// lastUserIndex returns the index of the message that carries the image.
func lastUserIndex(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return i
		}
	}
	return -1
}
