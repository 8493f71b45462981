// Package imagelib holds the float image primitives the sample pipeline is
// built on. Every buffer is CV_32F with values nominally in [0,1]; color
// buffers are 3-channel BGR and masks are single channel.
package imagelib

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"unsafe"

	"gocv.io/x/gocv"
)

// ErrNotSquare is returned for operations that need a square image
var ErrNotSquare = errors.New("image is not square")

var color0 = color.RGBA{}

// Zeros allocates a zero filled matrix
func Zeros(rows, cols int, mt gocv.MatType) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, mt)
}

// FloatType returns the CV_32F matrix type with the given channel count
func FloatType(channels int) (gocv.MatType, error) {
	switch channels {
	case 1:
		return gocv.MatTypeCV32FC1, nil
	case 2:
		return gocv.MatTypeCV32FC2, nil
	case 3:
		return gocv.MatTypeCV32FC3, nil
	case 4:
		return gocv.MatTypeCV32FC4, nil
	}
	return 0, fmt.Errorf("unsupported channel count %d", channels)
}

// FromFloats copies interleaved HWC data into a new matrix
func FromFloats(rows, cols, channels int, data []float32) (gocv.Mat, error) {
	if len(data) != rows*cols*channels {
		return gocv.Mat{}, fmt.Errorf("data length %d does not match %dx%dx%d", len(data), rows, cols, channels)
	}
	mt, err := FloatType(channels)
	if err != nil {
		return gocv.Mat{}, err
	}
	if len(data) == 0 {
		return gocv.NewMat(), nil
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*4)
	view, err := gocv.NewMatFromBytes(rows, cols, mt, raw)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to wrap float data: %w", err)
	}
	defer view.Close()
	// The view aliases data; clone so the result owns its pixels
	return view.Clone(), nil
}

// Floats copies a CV_32F matrix out as interleaved HWC data
func Floats(m gocv.Mat) ([]float32, error) {
	src := m
	if !m.IsContinuous() {
		src = m.Clone()
		defer src.Close()
	}
	data, err := src.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read float data: %w", err)
	}
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

// Clip limits every element of a continuous CV_32F matrix to [lo,hi] in place
func Clip(m *gocv.Mat, lo, hi float32) error {
	data, err := m.DataPtrFloat32()
	if err != nil {
		return fmt.Errorf("failed to access float data: %w", err)
	}
	for i, v := range data {
		if v < lo {
			data[i] = lo
		} else if v > hi {
			data[i] = hi
		}
	}
	return nil
}

// SplitColorMask separates a BGR(+mask) buffer into its 3-channel color
// part and its optional mask channel. A single channel buffer is treated
// as a bare mask. Both results are owned by the caller; empty when absent.
func SplitColorMask(m gocv.Mat) (col, mask gocv.Mat) {
	switch m.Channels() {
	case 1:
		return gocv.NewMat(), m.Clone()
	case 3:
		return m.Clone(), gocv.NewMat()
	}

	planes := gocv.Split(m)
	defer closeAll(planes)

	col = gocv.NewMat()
	gocv.Merge(planes[:3], &col)
	if len(planes) > 3 {
		mask = planes[3].Clone()
	} else {
		mask = gocv.NewMat()
	}
	return col, mask
}

// Concat stacks the mask under the color channels; a missing mask yields a clone
func Concat(col, mask gocv.Mat) gocv.Mat {
	if mask.Empty() {
		return col.Clone()
	}
	planes := gocv.Split(col)
	defer closeAll(planes)

	out := gocv.NewMat()
	gocv.Merge(append(planes, mask), &out)
	return out
}

// Resize resamples src to size x size with cubic interpolation
func Resize(src gocv.Mat, size int) gocv.Mat {
	if src.Rows() == size && src.Cols() == size {
		return src.Clone()
	}
	dst := gocv.NewMat()
	gocv.Resize(src, &dst, image.Pt(size, size), 0, 0, gocv.InterpolationCubic)
	return dst
}

// Crop copies a rectangular region into its own continuous matrix
func Crop(src gocv.Mat, r image.Rectangle) gocv.Mat {
	region := src.Region(r)
	defer region.Close()
	return region.Clone()
}

func closeAll(mats []gocv.Mat) {
	for i := range mats {
		mats[i].Close()
	}
}
