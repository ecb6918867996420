// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sticker

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"math/rand/v2"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/util/ffmpeg"
)

func TestFitInside(t *testing.T) {
	for _, test := range []struct {
		w, h         int
		wantW, wantH int
	}{
		{w: 1024, h: 512, wantW: 512, wantH: 256},
		{w: 512, h: 1024, wantW: 256, wantH: 512},
		{w: 100, h: 100, wantW: 512, wantH: 512},
		{w: 300, h: 200, wantW: 512, wantH: 341},
		{w: 4000, h: 1, wantW: 512, wantH: 1},
		{w: 0, h: 10, wantW: 512, wantH: 512},
	} {
		w, h := FitInside(test.w, test.h, Size)
		assert.Equal(t, test.wantW, w, "FitInside(%d, %d) width", test.w, test.h)
		assert.Equal(t, test.wantH, h, "FitInside(%d, %d) height", test.w, test.h)
	}
}

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func testPNG(t *testing.T, w, h int) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

func testGIF(t *testing.T) []byte {
	anim := &gif.GIF{}
	for i := 0; i < 3; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 64, 32), palette.Plan9)
		for x := 0; x < 64; x++ {
			frame.Set(x, i*8, color.White)
		}
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 10)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, anim))
	return buf.Bytes()
}

func TestResize(t *testing.T) {
	out, w, h, err := Resize(testPNG(t, 300, 150))
	require.NoError(t, err)
	assert.Equal(t, 512, w)
	assert.Equal(t, 256, h)
	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 512, decoded.Bounds().Dx())
	assert.Equal(t, 256, decoded.Bounds().Dy())
}

func TestResizeInvalid(t *testing.T) {
	_, _, _, err := Resize([]byte("not an image"))
	assert.Error(t, err)
}

func TestConvertPassthrough(t *testing.T) {
	data := []byte("some document")
	st, err := NewConverter().Convert(context.Background(), data, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, data, st.Data)
	assert.Equal(t, "application/pdf", st.Mimetype)
	assert.False(t, st.Animated)
}

func requireFFmpeg(t *testing.T) {
	if !ffmpeg.Supported() {
		t.Skip("Skipping test: ffmpeg is not installed")
	}
}

func TestConvertImage(t *testing.T) {
	requireFFmpeg(t)
	st, err := NewConverter().Convert(context.Background(), testPNG(t, 128, 64), "image/png")
	require.NoError(t, err)
	assert.Equal(t, Mimetype, st.Mimetype)
	assert.Equal(t, 512, st.Width)
	assert.Equal(t, 256, st.Height)
	assert.False(t, st.Animated)
	require.True(t, len(st.Data) > 12)
	assert.Equal(t, "RIFF", string(st.Data[:4]))
	assert.Equal(t, "WEBP", string(st.Data[8:12]))
}

func TestConvertImageTooLarge(t *testing.T) {
	requireFFmpeg(t)
	conv := NewConverter()
	conv.MaxFileSize = 10
	_, err := conv.Convert(context.Background(), testPNG(t, 128, 64), "image/png")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func noisyPNG(t *testing.T) []byte {
	rng := rand.New(rand.NewPCG(1, 2))
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.UintN(256))
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestConvertImageLowersQuality(t *testing.T) {
	requireFFmpeg(t)
	ctx := context.Background()
	data := noisyPNG(t)
	resized, _, _, err := Resize(data)
	require.NoError(t, err)
	best, err := encodeWebP(ctx, resized, qualities[0])
	require.NoError(t, err)
	worst, err := encodeWebP(ctx, resized, qualities[len(qualities)-1])
	require.NoError(t, err)
	require.Less(t, len(worst), len(best))

	conv := NewConverter()
	conv.MaxFileSize = len(worst)
	st, err := conv.Convert(ctx, data, "image/png")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(st.Data), conv.MaxFileSize)
	assert.Less(t, len(st.Data), len(best))
}

// longGIF returns an animation of distinct one-second frames.
func longGIF(t *testing.T, frames int) []byte {
	anim := &gif.GIF{}
	for i := 0; i < frames; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 64, 32), palette.Plan9)
		fill := palette.Plan9[(i*7)%len(palette.Plan9)]
		for x := 0; x < 64; x++ {
			for y := 0; y < 32; y++ {
				frame.Set(x, y, fill)
			}
		}
		frame.Set(i%64, 0, color.White)
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 100)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, anim))
	return buf.Bytes()
}

// animationDuration sums the frame durations of an animated WebP.
func animationDuration(t *testing.T, webp []byte) time.Duration {
	require.True(t, len(webp) > 12)
	require.Equal(t, "WEBP", string(webp[8:12]))
	var total time.Duration
	for pos := 12; pos+8 <= len(webp); {
		id := string(webp[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(webp[pos+4 : pos+8]))
		payload := webp[pos+8 : min(len(webp), pos+8+size)]
		if id == "ANMF" && len(payload) >= 15 {
			ms := int(payload[12]) | int(payload[13])<<8 | int(payload[14])<<16
			total += time.Duration(ms) * time.Millisecond
		}
		pos += 8 + size + size%2
	}
	return total
}

func TestConvertAnimatedDurationCap(t *testing.T) {
	requireFFmpeg(t)
	data := longGIF(t, 30)
	conv := NewConverter()
	conv.TempDir = t.TempDir()

	conv.MaxVideoDuration = 0
	full, err := conv.Convert(context.Background(), data, "image/gif")
	require.NoError(t, err)
	fullDuration := animationDuration(t, full.Data)

	conv.MaxVideoDuration = 2 * time.Second
	capped, err := conv.Convert(context.Background(), data, "image/gif")
	require.NoError(t, err)
	cappedDuration := animationDuration(t, capped.Data)

	assert.Greater(t, fullDuration, 10*time.Second)
	assert.LessOrEqual(t, cappedDuration, 3*time.Second)
	assert.Less(t, cappedDuration, fullDuration)
}

func TestConvertAnimatedCleansUp(t *testing.T) {
	requireFFmpeg(t)
	conv := NewConverter()
	conv.TempDir = t.TempDir()
	st, err := conv.Convert(context.Background(), testGIF(t), "image/gif")
	require.NoError(t, err)
	assert.True(t, st.Animated)
	assert.Equal(t, Mimetype, st.Mimetype)
	assert.Equal(t, "WEBP", string(st.Data[8:12]))

	entries, err := os.ReadDir(conv.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files should be removed")
}

func TestConvertVideoFailureCleansUp(t *testing.T) {
	requireFFmpeg(t)
	conv := NewConverter()
	conv.TempDir = t.TempDir()
	_, err := conv.Convert(context.Background(), []byte("definitely not a video"), "video/mp4")
	assert.Error(t, err)

	entries, err := os.ReadDir(conv.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files should be removed")
}
