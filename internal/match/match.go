// Package match finds tie points between two co-registered images with a
// pyramidal Lucas-Kanade tracker and turns them into a displacement field.
package match

import (
	"fmt"
	"image"
	"math"

	"s2reframe/internal/config"
	"s2reframe/internal/raster"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// backThreshold is the forward-backward round-trip tolerance in pixels.
// Points whose backward-tracked position drifts more than this are dropped.
const backThreshold = 0.01

// Result holds the displacement field of one matching run. DX and DY are in
// ground units (pixels scaled by the reference resolution). A zero PointCount
// is a valid terminal state meaning no correction is available.
type Result struct {
	DX         []float64
	DY         []float64
	PointCount int
}

// MeanDisplacement returns the average displacement over the surviving
// points, or (0, 0) when there are none.
func (r *Result) MeanDisplacement() (float64, float64) {
	if r.PointCount == 0 {
		return 0, 0
	}
	return stat.Mean(r.DX, nil), stat.Mean(r.DY, nil)
}

// Matcher extracts and tracks tie points between a reference and a secondary
// image sharing one pixel grid.
type Matcher struct {
	winSize     int
	maxCorners  int
	quality     float64
	minDistance float64
}

// NewMatcher creates a Matcher with the given matching configuration.
func NewMatcher(cfg config.Match) *Matcher {
	return &Matcher{
		winSize:     cfg.WindowSize,
		maxCorners:  cfg.MaxCorners,
		quality:     cfg.Quality,
		minDistance: cfg.MinDistance,
	}
}

// enhance runs a Laplacian contour filter over the image and clips the
// response to uint8, which is what the corner detector and tracker consume.
func enhance(img *raster.Image) (gocv.Mat, error) {
	src, err := raster.ToMat(img)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer src.Close()

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(src, &lap, gocv.MatTypeCV32F, 5, 1, 0, gocv.BorderDefault)

	// conversion to CV8U saturates, clipping the response to [0, 255]
	out := gocv.NewMat()
	lap.ConvertTo(&out, gocv.MatTypeCV8U)
	return out, nil
}

// conformMask returns the validity mask as a CV8U Mat of the given shape,
// resizing with nearest-neighbor when the mask was produced at another
// resolution.
func conformMask(mask *raster.Image, rows, cols int) (gocv.Mat, error) {
	data := make([]uint8, len(mask.Data))
	for i, v := range mask.Data {
		if v != 0 {
			data[i] = 1
		}
	}
	m, err := raster.GrayMat(data, mask.Header.YSize, mask.Header.XSize)
	if err != nil {
		return gocv.Mat{}, err
	}
	if mask.Header.YSize == rows && mask.Header.XSize == cols {
		return m, nil
	}

	log.Debug().Msg("Resize mask to image shape")
	resized := gocv.NewMat()
	gocv.Resize(m, &resized, image.Pt(cols, rows), 0, 0, gocv.InterpolationNearestNeighbor)
	m.Close()
	return resized, nil
}

// detectCorners finds Shi-Tomasi corners on the reference restricted to the
// mask. Invalid pixels are zeroed before detection and corners falling on an
// invalid pixel are discarded, so the artificial edges introduced by the
// zeroing cannot contribute points.
func (m *Matcher) detectCorners(ref, mask gocv.Mat) ([]float64, []float64, error) {
	rows, cols := ref.Rows(), ref.Cols()

	masked := ref.Clone()
	defer masked.Close()
	buf, err := masked.DataPtrUint8()
	if err != nil {
		return nil, nil, fmt.Errorf("reference buffer: %w", err)
	}
	maskBuf, err := mask.DataPtrUint8()
	if err != nil {
		return nil, nil, fmt.Errorf("mask buffer: %w", err)
	}
	for i := range buf {
		if maskBuf[i] == 0 {
			buf[i] = 0
		}
	}

	corners := gocv.NewMat()
	defer corners.Close()
	gocv.GoodFeaturesToTrack(masked, &corners, m.maxCorners, m.quality, m.minDistance)

	var xs, ys []float64
	for i := 0; i < corners.Rows(); i++ {
		v := corners.GetVecfAt(i, 0)
		x, y := float64(v[0]), float64(v[1])
		col, row := int(math.Round(x)), int(math.Round(y))
		if col < 0 || col >= cols || row < 0 || row >= rows {
			continue
		}
		if maskBuf[row*cols+col] == 0 {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return xs, ys, nil
}

func pointsMat(xs, ys []float64) gocv.Mat {
	m := gocv.NewMatWithSize(len(xs), 1, gocv.MatTypeCV32FC2)
	for i := range xs {
		m.SetFloatAt(i, 0, float32(xs[i]))
		m.SetFloatAt(i, 1, float32(ys[i]))
	}
	return m
}

func matPoints(m gocv.Mat) ([]float64, []float64) {
	xs := make([]float64, m.Rows())
	ys := make([]float64, m.Rows())
	for i := 0; i < m.Rows(); i++ {
		v := m.GetVecfAt(i, 0)
		xs[i] = float64(v[0])
		ys[i] = float64(v[1])
	}
	return xs, ys
}

// track runs the pyramidal tracker from the points in (xs, ys) on prev to
// their counterparts on next.
func (m *Matcher) track(prev, next gocv.Mat, xs, ys []float64) ([]float64, []float64) {
	p0 := pointsMat(xs, ys)
	defer p0.Close()
	p1 := gocv.NewMat()
	defer p1.Close()
	status := gocv.NewMat()
	defer status.Close()
	errs := gocv.NewMat()
	defer errs.Close()

	criteria := gocv.NewTermCriteria(gocv.MaxIter+gocv.EPS, 30, 0.03)
	gocv.CalcOpticalFlowPyrLKWithParams(prev, next, p0, p1, &status, &errs,
		image.Pt(m.winSize, m.winSize), 1, criteria, 0, 1e-4)

	return matPoints(p1)
}

// rejectOutliers iteratively removes points whose displacement deviates from
// the mean of the surviving set by more than min(3*std, 20) pixels on either
// axis, until a pass removes nothing. Statistics are recomputed from the
// surviving set on every pass.
func rejectOutliers(x0, y0, dx, dy []float64) ([]float64, []float64, []float64, []float64) {
	for len(dx) > 0 {
		meanX, stdX := stat.Mean(dx, nil), stat.PopStdDev(dx, nil)
		meanY, stdY := stat.Mean(dy, nil), stat.PopStdDev(dy, nil)
		limX := math.Min(3*stdX, 20)
		limY := math.Min(3*stdY, 20)

		var kx0, ky0, kdx, kdy []float64
		for i := range dx {
			if math.Abs(dx[i]-meanX) <= limX && math.Abs(dy[i]-meanY) <= limY {
				kx0 = append(kx0, x0[i])
				ky0 = append(ky0, y0[i])
				kdx = append(kdx, dx[i])
				kdy = append(kdy, dy[i])
			}
		}
		if len(kdx) == len(dx) {
			break
		}
		x0, y0, dx, dy = kx0, ky0, kdx, kdy
	}
	return x0, y0, dx, dy
}

// Match tracks tie points from ref to sec, both on the same pixel grid, and
// returns the surviving displacement field in ground units. The mask marks
// valid pixels (non-zero). refLabel and secLabel identify the two images in
// the statistics file. A featureless or fully masked scene yields a Result
// with PointCount 0, not an error. Tie points and summary statistics are
// written into workDir for the polynomial correction path.
func (m *Matcher) Match(workDir, refLabel, secLabel string, ref, sec, mask *raster.Image) (*Result, error) {
	log.Info().Msg("Start matching")

	refEnh, err := enhance(ref)
	if err != nil {
		return nil, fmt.Errorf("enhance reference: %w", err)
	}
	defer refEnh.Close()
	secEnh, err := enhance(sec)
	if err != nil {
		return nil, fmt.Errorf("enhance secondary: %w", err)
	}
	defer secEnh.Close()

	maskMat, err := conformMask(mask, secEnh.Rows(), secEnh.Cols())
	if err != nil {
		return nil, fmt.Errorf("conform mask: %w", err)
	}
	defer maskMat.Close()

	x0, y0, err := m.detectCorners(refEnh, maskMat)
	if err != nil {
		return nil, err
	}
	if len(x0) == 0 {
		log.Warn().Msg("No features extracted")
		return &Result{}, nil
	}

	log.Debug().Int("candidates", len(x0)).Int("window", m.winSize).Msg("Track tie points")
	x1, y1 := m.track(refEnh, secEnh, x0, y0)
	x0r, y0r := m.track(secEnh, refEnh, x1, y1)

	// forward-backward check: keep points that track back onto themselves
	var fx0, fy0, fx1, fy1 []float64
	for i := range x0 {
		d := math.Max(math.Abs(x0[i]-x0r[i]), math.Abs(y0[i]-y0r[i]))
		if d < backThreshold {
			fx0 = append(fx0, x0[i])
			fy0 = append(fy0, y0[i])
			fx1 = append(fx1, x1[i])
			fy1 = append(fy1, y1[i])
		}
	}
	if len(fx0) == 0 {
		log.Warn().Msg("No points survived the backward check")
		return &Result{}, nil
	}

	dx := make([]float64, len(fx0))
	dy := make([]float64, len(fy0))
	for i := range fx0 {
		dx[i] = fx1[i] - fx0[i]
		dy[i] = fy1[i] - fy0[i]
	}
	sx0, sy0, dx, dy := rejectOutliers(fx0, fy0, dx, dy)
	if len(dx) == 0 {
		return &Result{}, nil
	}

	points := make([]TiePoint, len(dx))
	for i := range dx {
		points[i] = TiePoint{X0: sx0[i], Y0: sy0[i], DX: dx[i], DY: dy[i]}
	}
	if err := WriteTiePoints(workDir, points); err != nil {
		return nil, err
	}

	// pixel displacements to ground units; the y axis points down in pixel
	// space and up in map space, hence the negation
	result := &Result{
		DX:         make([]float64, len(dx)),
		DY:         make([]float64, len(dy)),
		PointCount: len(dx),
	}
	for i := range dx {
		result.DX[i] = dx[i] * ref.Header.XRes
		result.DY[i] = dy[i] * -ref.Header.YRes
	}

	if err := appendStats(workDir, refLabel, secLabel, len(fx0), result); err != nil {
		return nil, err
	}

	mx, my := result.MeanDisplacement()
	log.Info().
		Int("candidates", len(fx0)).Int("surviving", result.PointCount).
		Float64("mean_dx", mx).Float64("mean_dy", my).
		Msg("End matching")
	return result, nil
}
