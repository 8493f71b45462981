package ui

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Keys understood by the preview loop
const (
	KeyQuit = 'q'
	KeyNext = ' '
)

// Window shows preview sheets in a native OpenCV window
type Window struct {
	window *gocv.Window
	name   string
}

// NewWindow creates a new preview window
func NewWindow(name string) *Window {
	window := gocv.NewWindow(name)
	window.MoveWindow(100, 100)
	return &Window{
		window: window,
		name:   name,
	}
}

// Show displays a sheet with a caption in the top left corner
func (w *Window) Show(sheet *image.NRGBA, caption string) error {
	frame, err := gocv.ImageToMatRGB(sheet)
	if err != nil {
		return err
	}
	defer frame.Close()

	if frame.Cols() < 640 {
		scale := 640.0 / float64(frame.Cols())
		gocv.Resize(frame, &frame, image.Pt(0, 0), scale, scale, gocv.InterpolationNearestNeighbor)
	}
	gocv.PutText(&frame, caption, image.Pt(10, 24),
		gocv.FontHersheyPlain, 1.5, color.RGBA{R: 0, G: 255, B: 0, A: 255}, 2)

	w.window.IMShow(frame)
	return nil
}

// WaitKey waits for key press, returns key code or -1
func (w *Window) WaitKey(delayMs int) int {
	return w.window.WaitKey(delayMs)
}

// Close closes the window
func (w *Window) Close() error {
	if w.window != nil {
		return w.window.Close()
	}
	return nil
}
