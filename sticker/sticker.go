// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package sticker converts images and videos into WhatsApp stickers.
package sticker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sunshineplan/imgconv"
	"go.mau.fi/util/exmime"
	"go.mau.fi/util/ffmpeg"
	"go.mau.fi/util/random"
)

const (
	// Size is the width and height of the box stickers are fitted into.
	Size = 512
	// Mimetype is the mimetype of converted stickers.
	Mimetype = "image/webp"

	DefaultMaxFileSize      = 1024 * 1024
	DefaultMaxVideoDuration = 10 * time.Second
)

var (
	ErrFFmpegNotFound = errors.New("ffmpeg is not installed")
	ErrTooLarge       = errors.New("sticker is too large")
)

// qualities are the lossy WebP qualities tried in order until an image sticker fits in MaxFileSize.
var qualities = []int{80, 60, 40}

// Sticker is the result of a conversion.
type Sticker struct {
	Data     []byte
	Mimetype string
	Width    int
	Height   int
	Animated bool
}

// Converter turns media into stickers. The zero value is not usable, use NewConverter.
type Converter struct {
	// MaxFileSize is the largest image sticker that will be produced.
	MaxFileSize int
	// MaxVideoDuration limits the length of animated stickers.
	MaxVideoDuration time.Duration
	// TempDir is where video files are stored during conversion. Defaults to os.TempDir().
	TempDir string
}

// NewConverter creates a Converter with the default limits.
func NewConverter() *Converter {
	return &Converter{
		MaxFileSize:      DefaultMaxFileSize,
		MaxVideoDuration: DefaultMaxVideoDuration,
	}
}

// Convert turns the given media into a sticker.
//
// Images are resized to fit inside 512x512 and encoded as WebP. Videos and GIFs become animated
// WebP stickers through ffmpeg. Any other media is returned unchanged.
func (c *Converter) Convert(ctx context.Context, data []byte, mimetype string) (*Sticker, error) {
	switch {
	case mimetype == "image/gif", strings.HasPrefix(mimetype, "video/"):
		return c.convertVideo(ctx, data, mimetype)
	case strings.HasPrefix(mimetype, "image/"):
		return c.convertImage(ctx, data)
	default:
		zerolog.Ctx(ctx).Debug().Str("mimetype", mimetype).Msg("Passing through media with unknown type")
		return &Sticker{Data: data, Mimetype: mimetype}, nil
	}
}

// FitInside returns the dimensions of a width x height box scaled to fit inside a size x size square
// while keeping the aspect ratio. Small images are scaled up.
func FitInside(width, height, size int) (int, int) {
	if width <= 0 || height <= 0 {
		return size, size
	}
	if width >= height {
		return size, max(1, (height*size+width/2)/width)
	}
	return max(1, (width*size+height/2)/height), size
}

// Resize decodes an image and scales it to fit inside the sticker box. The result is PNG encoded.
func Resize(data []byte) ([]byte, int, int, error) {
	img, err := imgconv.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode image: %w", err)
	}
	width, height := FitInside(img.Bounds().Dx(), img.Bounds().Dy(), Size)
	var buf bytes.Buffer
	resized := imgconv.Resize(img, &imgconv.ResizeOption{Width: width, Height: height})
	if err = imgconv.Write(&buf, resized, &imgconv.FormatOption{Format: imgconv.PNG}); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), width, height, nil
}

func (c *Converter) convertImage(ctx context.Context, data []byte) (*Sticker, error) {
	resized, width, height, err := Resize(data)
	if err != nil {
		return nil, err
	}
	if !ffmpeg.Supported() {
		return nil, ErrFFmpegNotFound
	}
	var webp []byte
	for _, quality := range qualities {
		webp, err = encodeWebP(ctx, resized, quality)
		if err != nil {
			return nil, err
		}
		if c.MaxFileSize <= 0 || len(webp) <= c.MaxFileSize {
			return &Sticker{Data: webp, Mimetype: Mimetype, Width: width, Height: height}, nil
		}
		zerolog.Ctx(ctx).Debug().
			Int("quality", quality).
			Int("size", len(webp)).
			Msg("Sticker is too large, retrying with lower quality")
	}
	return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(webp))
}

func encodeWebP(ctx context.Context, png []byte, quality int) ([]byte, error) {
	webp, err := ffmpeg.ConvertBytes(ctx, png, ".webp", nil, []string{
		"-c:v", "libwebp",
		"-lossless", "0",
		"-quality", strconv.Itoa(quality),
		"-preset", "picture",
		"-frames:v", "1",
	}, "image/png")
	if err != nil {
		return nil, fmt.Errorf("failed to encode webp: %w", err)
	}
	return webp, nil
}

func (c *Converter) tempDir() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return os.TempDir()
}

func (c *Converter) convertVideo(ctx context.Context, data []byte, mimetype string) (*Sticker, error) {
	if !ffmpeg.Supported() {
		return nil, ErrFFmpegNotFound
	}
	ext := exmime.ExtensionFromMimetype(mimetype)
	if ext == "" || ext == ".webp" {
		ext = ".mp4"
	}
	inputPath := filepath.Join(c.tempDir(), "sticker-"+random.String(16)+ext)
	outputPath := strings.TrimSuffix(inputPath, ext) + ".webp"
	defer removeTemp(ctx, inputPath)
	defer removeTemp(ctx, outputPath)
	if err := os.WriteFile(inputPath, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write temporary video: %w", err)
	}
	var inputArgs []string
	if c.MaxVideoDuration > 0 {
		inputArgs = []string{"-t", strconv.FormatFloat(c.MaxVideoDuration.Seconds(), 'f', 2, 64)}
	}
	convertedPath, err := ffmpeg.ConvertPath(ctx, inputPath, ".webp", inputArgs, []string{
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", Size, Size),
		"-vcodec", "libwebp",
		"-lossless", "1",
		"-preset", "picture",
		"-loop", "0",
		"-an",
		"-vsync", "0",
		"-s", fmt.Sprintf("%d:%d", Size, Size),
	}, false)
	if err != nil {
		return nil, fmt.Errorf("failed to convert video: %w", err)
	}
	if convertedPath != outputPath {
		defer removeTemp(ctx, convertedPath)
	}
	webp, err := os.ReadFile(convertedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read converted sticker: %w", err)
	}
	return &Sticker{Data: webp, Mimetype: Mimetype, Width: Size, Height: Size, Animated: true}, nil
}

func removeTemp(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("Failed to remove temporary file")
	}
}
