// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package respond

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sunshineplan/imgconv"
	"go.mau.fi/util/exsync"
)

var (
	ErrNoImageSource          = errors.New("no image source configured")
	ErrUnsupportedImageSource = errors.New("unsupported image reference")
	ErrImageTooLarge          = errors.New("image is too large")
)

const (
	DefaultImageCacheTTL = time.Hour
	// MaxImageSize is the largest image that will be read from a reference.
	MaxImageSize = 16 * 1024 * 1024
	// ThumbnailWidth is the width of the JPEG preview embedded in image messages.
	ThumbnailWidth = 72
)

// Image is a fetched image ready to be uploaded.
type Image struct {
	Data      []byte
	Mimetype  string
	Thumbnail []byte
	Width     int
	Height    int
}

type cachedImage struct {
	img     *Image
	expires time.Time
}

// ImageSource resolves image references (http(s) URLs, file:// URLs or local paths) into image
// data. Results are kept in memory for TTL.
type ImageSource struct {
	HTTP *http.Client
	TTL  time.Duration

	cache *exsync.Map[string, cachedImage]
}

// NewImageSource creates an ImageSource. A nil HTTP client defaults to one with a 30 second timeout.
func NewImageSource(client *http.Client, ttl time.Duration) *ImageSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ImageSource{
		HTTP:  client,
		TTL:   ttl,
		cache: exsync.NewMap[string, cachedImage](),
	}
}

// Fetch returns the image behind ref, using the cache if possible.
func (is *ImageSource) Fetch(ctx context.Context, ref string) (*Image, error) {
	if cached, ok := is.cache.Get(ref); ok && time.Now().Before(cached.expires) {
		return cached.img, nil
	}
	data, mime, err := is.read(ctx, ref)
	if err != nil {
		return nil, err
	}
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	img := &Image{Data: data, Mimetype: mime}
	if decoded, err := imgconv.Decode(bytes.NewReader(data)); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("image_ref", ref).Msg("Failed to decode image, sending without thumbnail")
	} else {
		img.Width, img.Height = decoded.Bounds().Dx(), decoded.Bounds().Dy()
		var thumb bytes.Buffer
		err = imgconv.Write(&thumb, imgconv.Resize(decoded, &imgconv.ResizeOption{Width: ThumbnailWidth}), &imgconv.FormatOption{Format: imgconv.JPEG})
		if err == nil {
			img.Thumbnail = thumb.Bytes()
		}
	}
	if is.TTL > 0 {
		is.cache.Set(ref, cachedImage{img: img, expires: time.Now().Add(is.TTL)})
	}
	return img, nil
}

// Forget drops ref from the cache.
func (is *ImageSource) Forget(ref string) {
	is.cache.Delete(ref)
}

func (is *ImageSource) read(ctx context.Context, ref string) ([]byte, string, error) {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return is.download(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		return readFile(strings.TrimPrefix(ref, "file://"))
	case strings.HasPrefix(ref, "/"), strings.HasPrefix(ref, "./"):
		return readFile(ref)
	default:
		return nil, "", fmt.Errorf("%w %q", ErrUnsupportedImageSource, ref)
	}
}

func readFile(path string) ([]byte, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()
	data, err := readLimited(file)
	return data, "", err
}

func (is *ImageSource) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to prepare image request: %w", err)
	}
	resp, err := is.HTTP.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download image: unexpected status %d", resp.StatusCode)
	}
	data, err := readLimited(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	} else if len(data) > MaxImageSize {
		return nil, ErrImageTooLarge
	}
	return data, nil
}
