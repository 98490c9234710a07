package match

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// TiePointsFile is the name of the tie-point CSV written into the working
// directory after a successful match, consumed by the polynomial correction.
const TiePointsFile = "KLT.csv"

// statsFile accumulates one summary line per matching run.
const statsFile = "correl_res.txt"

// TiePoint is one matched point: its position on the reference image and its
// displacement towards the secondary, both in pixels.
type TiePoint struct {
	X0 float64
	Y0 float64
	DX float64
	DY float64
}

// WriteTiePoints writes the tie points to the working directory as a
// semicolon-separated CSV, sorted by x0 then y0.
func WriteTiePoints(dir string, points []TiePoint) error {
	sorted := make([]TiePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X0 != sorted[j].X0 {
			return sorted[i].X0 < sorted[j].X0
		}
		return sorted[i].Y0 < sorted[j].Y0
	})

	path := filepath.Join(dir, TiePointsFile)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write tie points: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = ';'
	if err := w.Write([]string{"x0", "y0", "dx", "dy"}); err != nil {
		return err
	}
	for _, p := range sorted {
		rec := []string{
			formatFloat(p.X0), formatFloat(p.Y0),
			formatFloat(p.DX), formatFloat(p.DY),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ReadTiePoints loads a tie-point CSV previously written by WriteTiePoints.
func ReadTiePoints(dir string) ([]TiePoint, error) {
	path := filepath.Join(dir, TiePointsFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read tie points: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = ';'
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) < 1 {
		return nil, nil
	}

	points := make([]TiePoint, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != 4 {
			return nil, fmt.Errorf("parse %s: record has %d fields, want 4", path, len(rec))
		}
		vals := make([]float64, 4)
		for i, s := range rec {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			vals[i] = v
		}
		points = append(points, TiePoint{X0: vals[0], Y0: vals[1], DX: vals[2], DY: vals[3]})
	}
	return points, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func axisStats(d []float64) []string {
	sorted := make([]float64, len(d))
	copy(sorted, d)
	sort.Float64s(sorted)

	return []string{
		formatFloat(sorted[0]),
		formatFloat(sorted[len(sorted)-1]),
		formatFloat(stat.Quantile(0.5, stat.LinInterp, sorted, nil)),
		formatFloat(stat.Mean(d, nil)),
		formatFloat(stat.PopStdDev(d, nil)),
	}
}

// appendStats appends one summary line per matching run to the correlation
// statistics file, creating it with its header first.
func appendStats(dir, refLabel, secLabel string, candidates int, r *Result) error {
	path := filepath.Join(dir, statsFile)

	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("write match stats: %w", err)
	}
	defer f.Close()

	if os.IsNotExist(statErr) {
		header := "refImg secImg total_valid_pixel sample_pixel confidence_th " +
			"min_x max_x median_x mean_x std_x min_y max_y median_y mean_y std_y"
		if _, err := fmt.Fprintln(f, header); err != nil {
			return err
		}
	}

	fields := []string{
		refLabel, secLabel,
		strconv.Itoa(candidates), strconv.Itoa(r.PointCount), "-1",
	}
	fields = append(fields, axisStats(r.DX)...)
	fields = append(fields, axisStats(r.DY)...)

	_, err = fmt.Fprintln(f, strings.Join(fields, " "))
	return err
}
