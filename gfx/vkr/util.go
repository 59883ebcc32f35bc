// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"image"
	"unsafe"

	"golang.org/x/image/draw"
)

// SliceUint32 reslices bytes into a uint32, that is used
// to sumbit vulkan shaders for processing. Trailing bytes
// that do not fill a whole word are dropped.
func SliceUint32(data []byte) []uint32 {
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}

func safeString(s string) string {
	return s + "\x00"
}

func safeStrings(sgs []string) []string {
	safe := make([]string, 0, len(sgs))
	for _, s := range sgs {
		safe = append(safe, safeString(s))
	}
	return safe
}

// GetPixels transforms a given image into tightly packed RGBA pixels
// by drawing the decoded image onto a controlled RGBA canvas.
func GetPixels(img image.Image) []uint8 {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == 4*rgba.Rect.Dx() && rgba.Rect.Min == (image.Point{}) {
		return rgba.Pix
	}
	bounds := img.Bounds()
	newImg := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(newImg, newImg.Bounds(), img, bounds.Min, draw.Src)
	return newImg.Pix
}

// MipLevels returns the length of a full mip chain for the extent.
func MipLevels(width, height uint32) uint32 {
	levels := uint32(1)
	for width > 1 || height > 1 {
		width, height = width/2, height/2
		levels++
	}
	return levels
}

// GenerateMips scales img down into levels mip levels, the first being
// img itself. Every level is returned as tightly packed RGBA pixels.
func GenerateMips(img image.Image, levels uint32) [][]uint8 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	mips := make([][]uint8, 0, levels)
	mips = append(mips, GetPixels(img))

	src := img
	for level := uint32(1); level < levels; level++ {
		if width > 1 {
			width /= 2
		}
		if height > 1 {
			height /= 2
		}
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		mips = append(mips, dst.Pix)
		src = dst
	}
	return mips
}
