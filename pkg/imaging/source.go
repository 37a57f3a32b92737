package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	// Decoders for the supported formats. webp is decode-only, which is
	// fine: compression always re-encodes as JPEG.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// FetchError covers network and filesystem failures while obtaining the
// image bytes.
type FetchError struct {
	Ref string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch image %s: %v", e.Ref, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FormatError covers undecodable bytes and formats outside the allow-list.
type FormatError struct {
	Format string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("unsupported image format %q", e.Format)
	}
	return fmt.Sprintf("invalid image: %v", e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Source is the single input type for the pipeline: raw bytes, a local
// path, or an HTTP(S) URL. Exactly one field is set; resolution happens
// once at pipeline entry so nothing downstream branches on input kind.
type Source struct {
	Bytes []byte
	Path  string
	URL   string
}

var errNoSource = errors.New("image source is empty")

// Image is a decoded image plus the format name it was decoded from.
type Image struct {
	Decoded image.Image
	Format  string
}

// Resolver turns a Source into raw bytes, fetching over HTTP when needed.
type Resolver struct {
	client *http.Client
}

func NewResolver(client *http.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve obtains the raw bytes behind src. Network and IO failures come
// back as *FetchError.
func (r *Resolver) Resolve(ctx context.Context, src Source) ([]byte, error) {
	switch {
	case len(src.Bytes) > 0:
		return src.Bytes, nil
	case src.URL != "":
		return r.fetch(ctx, src.URL)
	case src.Path != "":
		data, err := os.ReadFile(filepath.Clean(src.Path))
		if err != nil {
			return nil, &FetchError{Ref: src.Path, Err: err}
		}
		return data, nil
	default:
		return nil, &FetchError{Ref: "", Err: errNoSource}
	}
}

func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, &FetchError{Ref: url, Err: errors.New("source must be an HTTP or HTTPS URL")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Ref: url, Err: err}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &FetchError{Ref: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Ref: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Ref: url, Err: err}
	}
	return data, nil
}

// Decode parses raw bytes into an Image. Unparseable bytes come back as
// *FormatError.
func Decode(data []byte) (Image, error) {
	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, &FormatError{Err: err}
	}
	return Image{Decoded: decoded, Format: format}, nil
}
