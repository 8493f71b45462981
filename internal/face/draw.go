package face

import (
	"image/color"

	"gocv.io/x/gocv"
)

// Debug landmark color on float BGR buffers
var landmarkColor = color.RGBA{G: 1}

// DrawLandmarks marks every landmark on img with a small filled dot
func DrawLandmarks(img *gocv.Mat, l Landmarks) {
	radius := max(1, img.Cols()/256)
	for _, p := range l {
		gocv.Circle(img, p.ImagePoint(), radius, landmarkColor, -1)
	}
}
