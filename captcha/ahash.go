// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package captcha caches solved challenge images per target so a fleet only
// pays for each unique challenge once.
package captcha

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/hashicorp/muster/structs/config"
)

// hashSize is the grid dimension of the average hash. An 8x8 grid gives a
// 64 bit fingerprint.
const hashSize = 8

// AverageHash fingerprints an image by averaging its gray values over an
// 8x8 grid and setting a bit for every cell brighter than the grid mean.
// Visually similar images, for example the same challenge recompressed,
// produce the same hash.
func AverageHash(img image.Image) uint64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	var sums [hashSize * hashSize]uint64
	var counts [hashSize * hashSize]uint64

	for y := 0; y < h; y++ {
		cy := y * hashSize / h
		for x := 0; x < w; x++ {
			cx := x * hashSize / w
			gray := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			cell := cy*hashSize + cx
			sums[cell] += uint64(gray.Y)
			counts[cell]++
		}
	}

	// Images narrower than the grid leave some cells empty. Empty cells
	// average to zero, same as pure black.
	var cells [hashSize * hashSize]uint64
	var total uint64
	for i := range cells {
		if counts[i] > 0 {
			cells[i] = sums[i] / counts[i]
		}
		total += cells[i]
	}
	mean := total / (hashSize * hashSize)

	var hash uint64
	for i, v := range cells {
		if v > mean {
			hash |= 1 << uint(i)
		}
	}
	return hash
}

// Fingerprint renders an average hash in the fixed width form used as a
// cache key and in the API.
func Fingerprint(hash uint64) string {
	return fmt.Sprintf("%016x", hash)
}

// ExactHash fingerprints raw image bytes with MD5, so only byte identical
// images match. MD5 is used as a fast fingerprint here, not for security.
func ExactHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// DecodeImage decodes PNG, JPEG or GIF bytes.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("captcha: unable to decode image: %w", err)
	}
	return img, nil
}

// HashFor fingerprints image bytes according to the configured hash method.
func HashFor(method string, data []byte) (string, error) {
	switch method {
	case config.CaptchaHashMethodExact:
		return ExactHash(data), nil
	case config.CaptchaHashMethodAverage:
		img, err := DecodeImage(data)
		if err != nil {
			return "", err
		}
		return Fingerprint(AverageHash(img)), nil
	default:
		return "", fmt.Errorf("captcha: unknown hash method %q", method)
	}
}
