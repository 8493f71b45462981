package imagelib

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const lctEpsilon = 1e-5

// LinearColorTransfer matches the mean and covariance of target's colors
// to those of ref using the PCA solution, clipped to [0,1].
func LinearColorTransfer(target, ref gocv.Mat) (gocv.Mat, error) {
	if target.Channels() != 3 || ref.Channels() != 3 {
		return gocv.Mat{}, fmt.Errorf("linear color transfer needs 3-channel images")
	}

	t, err := Floats(target)
	if err != nil {
		return gocv.Mat{}, err
	}
	r, err := Floats(ref)
	if err != nil {
		return gocv.Mat{}, err
	}

	muT, covT := colorMoments(t)
	muR, covR := colorMoments(r)

	qt, err := sqrtSym(covT)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("target covariance: %w", err)
	}
	qr, err := sqrtSym(covR)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("reference covariance: %w", err)
	}

	var qtInv mat.Dense
	if err := qtInv.Inverse(qt); err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to invert target covariance root: %w", err)
	}
	var m mat.Dense
	m.Mul(qr, &qtInv)

	out := make([]float32, len(t))
	for i := 0; i < len(t); i += 3 {
		c0 := float64(t[i]) - muT[0]
		c1 := float64(t[i+1]) - muT[1]
		c2 := float64(t[i+2]) - muT[2]
		for ch := 0; ch < 3; ch++ {
			v := m.At(ch, 0)*c0 + m.At(ch, 1)*c1 + m.At(ch, 2)*c2 + muR[ch]
			out[i+ch] = float32(math.Max(0, math.Min(1, v)))
		}
	}
	return FromFloats(target.Rows(), target.Cols(), 3, out)
}

// colorMoments returns the per-channel mean and the regularized covariance
func colorMoments(px []float32) ([3]float64, *mat.SymDense) {
	var mu [3]float64
	n := float64(len(px) / 3)
	for i := 0; i < len(px); i += 3 {
		mu[0] += float64(px[i])
		mu[1] += float64(px[i+1])
		mu[2] += float64(px[i+2])
	}
	for c := range mu {
		mu[c] /= n
	}

	var cov [3][3]float64
	for i := 0; i < len(px); i += 3 {
		d := [3]float64{float64(px[i]) - mu[0], float64(px[i+1]) - mu[1], float64(px[i+2]) - mu[2]}
		for a := 0; a < 3; a++ {
			for b := a; b < 3; b++ {
				cov[a][b] += d[a] * d[b]
			}
		}
	}

	sym := mat.NewSymDense(3, nil)
	for a := 0; a < 3; a++ {
		for b := a; b < 3; b++ {
			v := cov[a][b] / n
			if a == b {
				v += lctEpsilon
			}
			sym.SetSym(a, b, v)
		}
	}
	return mu, sym
}

// sqrtSym returns V * sqrt(D) * V^T for a symmetric positive definite matrix
func sqrtSym(s *mat.SymDense) (*mat.Dense, error) {
	var eig mat.EigenSym
	if !eig.Factorize(s, true) {
		return nil, fmt.Errorf("eigen decomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	n := len(vals)
	root := mat.NewDiagDense(n, nil)
	for i, v := range vals {
		root.SetDiag(i, math.Sqrt(math.Max(v, 0)))
	}

	var tmp, out mat.Dense
	tmp.Mul(&vecs, root)
	out.Mul(&tmp, vecs.T())
	return &out, nil
}

// ReinhardOptions tunes ReinhardColorTransfer
type ReinhardOptions struct {
	// Clip clamps out of range Lab values instead of rescaling them
	Clip bool
	// PreservePaper inverts the std ratio
	PreservePaper bool
	// TargetMask and RefMask restrict the statistics to pixels >= 0.5
	TargetMask gocv.Mat
	RefMask    gocv.Mat
}

var labRanges = [3][2]float64{{0, 100}, {-127, 127}, {-127, 127}}

// ReinhardColorTransfer shifts target's Lab statistics onto ref's.
func ReinhardColorTransfer(target, ref gocv.Mat, opts ReinhardOptions) (gocv.Mat, error) {
	if target.Channels() != 3 || ref.Channels() != 3 {
		return gocv.Mat{}, fmt.Errorf("reinhard color transfer needs 3-channel images")
	}

	targetLab, err := toLab(target)
	if err != nil {
		return gocv.Mat{}, err
	}
	refLab, err := toLab(ref)
	if err != nil {
		return gocv.Mat{}, err
	}

	tw, err := maskWeights(opts.TargetMask, target)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("target mask: %w", err)
	}
	rw, err := maskWeights(opts.RefMask, ref)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("reference mask: %w", err)
	}

	tStats := labStats(targetLab, tw)
	rStats := labStats(refLab, rw)

	out := make([]float64, len(targetLab))
	for ch := 0; ch < 3; ch++ {
		tMean, tStd := tStats[ch][0], tStats[ch][1]
		rMean, rStd := rStats[ch][0], rStats[ch][1]

		ratio := safeDiv(rStd, tStd)
		if opts.PreservePaper {
			ratio = safeDiv(tStd, rStd)
		}
		for i := ch; i < len(targetLab); i += 3 {
			out[i] = (float64(targetLab[i])-tMean)*ratio + rMean
		}
		scaleChannel(out, ch, labRanges[ch][0], labRanges[ch][1], opts.Clip)
	}

	lab := make([]float32, len(out))
	for i, v := range out {
		lab[i] = float32(v)
	}
	labMat, err := FromFloats(target.Rows(), target.Cols(), 3, lab)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer labMat.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(labMat, &bgr, gocv.ColorLabToBGR)
	if err := Clip(&bgr, 0, 1); err != nil {
		bgr.Close()
		return gocv.Mat{}, err
	}
	return bgr, nil
}

func toLab(bgr gocv.Mat) ([]float32, error) {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(bgr, &lab, gocv.ColorBGRToLab)
	return Floats(lab)
}

// maskWeights turns a mask into 0/1 statistic weights. nil means unweighted.
func maskWeights(mask, img gocv.Mat) ([]float64, error) {
	if mask.Empty() {
		return nil, nil
	}
	if mask.Rows() != img.Rows() || mask.Cols() != img.Cols() {
		return nil, fmt.Errorf("mask is %dx%d, image is %dx%d", mask.Cols(), mask.Rows(), img.Cols(), img.Rows())
	}
	m, err := Floats(mask)
	if err != nil {
		return nil, err
	}
	ch := mask.Channels()
	w := make([]float64, len(m)/ch)
	found := false
	for i := range w {
		if m[i*ch] >= 0.5 {
			w[i] = 1
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	return w, nil
}

// labStats returns mean and population std for each Lab channel
func labStats(px []float32, weights []float64) [3][2]float64 {
	var out [3][2]float64
	n := len(px) / 3
	col := make([]float64, n)
	for ch := 0; ch < 3; ch++ {
		for i := 0; i < n; i++ {
			col[i] = float64(px[i*3+ch])
		}
		mean, std := stat.PopMeanStdDev(col, weights)
		out[ch] = [2]float64{mean, std}
	}
	return out
}

// scaleChannel brings one interleaved channel back into [lo,hi], either by
// clamping or by min-max rescaling into the overlap of its range and [lo,hi].
func scaleChannel(px []float64, ch int, lo, hi float64, clip bool) {
	if clip {
		for i := ch; i < len(px); i += 3 {
			px[i] = math.Max(lo, math.Min(hi, px[i]))
		}
		return
	}

	mn, mx := math.Inf(1), math.Inf(-1)
	for i := ch; i < len(px); i += 3 {
		mn = math.Min(mn, px[i])
		mx = math.Max(mx, px[i])
	}
	if mn >= lo && mx <= hi {
		return
	}
	newLo, newHi := math.Max(mn, lo), math.Min(mx, hi)
	span := mx - mn
	if span < 1e-12 {
		return
	}
	for i := ch; i < len(px); i += 3 {
		px[i] = (newHi-newLo)*(px[i]-mn)/span + newLo
	}
}

func safeDiv(a, b float64) float64 {
	if b < 1e-12 {
		return 1
	}
	return a / b
}
