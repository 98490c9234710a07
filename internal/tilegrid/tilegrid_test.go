package tilegrid

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	fixtureUTMWKT = "POLYGON((600000 4880000,609780 4880000,609780 4889780,600000 4889780,600000 4880000))"
	fixtureLLWKT  = "POLYGON((10.0 44.0,10.13 44.0,10.13 44.1,10.0 44.1,10.0 44.0))"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "s2tiles.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	if err := db.AutoMigrate(&tileRow{}); err != nil {
		t.Fatalf("migrate fixture db: %v", err)
	}

	rows := []tileRow{
		{TileID: "32TQM", EPSG: "32632", UTMWKT: fixtureUTMWKT, LLWKT: fixtureLLWKT, MGRSRef: "32TQM"},
		{TileID: "01KAB", EPSG: "32701", UTMWKT: fixtureUTMWKT, LLWKT: "POLYGON((-180 -20,-179 -20,-179 -19,-180 -19,-180 -20))"},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("insert fixture rows: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.Close()

	r, err := NewResolver(dbPath)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestResolve(t *testing.T) {
	r := newTestResolver(t)

	fp, err := r.Resolve("32TQM")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if fp.TileID != "32TQM" {
		t.Errorf("TileID = %q, want 32TQM", fp.TileID)
	}
	if fp.EPSG != 32632 {
		t.Errorf("EPSG = %d, want 32632", fp.EPSG)
	}

	b := fp.Bounds()
	if !b.IsValid() {
		t.Errorf("bounds not well-formed: %+v", b)
	}
	if b.XMin != 600000 || b.YMin != 4880000 || b.XMax != 609780 || b.YMax != 4889780 {
		t.Errorf("bounds = %+v, want (600000, 4880000, 609780, 4889780)", b)
	}
}

func TestResolve_StripsLeadingT(t *testing.T) {
	r := newTestResolver(t)

	fp, err := r.Resolve("T32TQM")
	if err != nil {
		t.Fatalf("Resolve(T32TQM): %v", err)
	}
	if fp.TileID != "32TQM" {
		t.Errorf("TileID = %q, want 32TQM", fp.TileID)
	}
}

func TestResolve_Memoizes(t *testing.T) {
	r := newTestResolver(t)

	first, err := r.Resolve("32TQM")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := r.Resolve("T32TQM")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first != second {
		t.Error("expected memoized footprint on repeated lookup")
	}
}

func TestResolve_NotFound(t *testing.T) {
	r := newTestResolver(t)

	_, err := r.Resolve("99ZZZ")
	var notFound *TileNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want TileNotFoundError", err)
	}
	if notFound.TileID != "99ZZZ" {
		t.Errorf("TileID in error = %q, want 99ZZZ", notFound.TileID)
	}
}

func TestTilesIntersecting(t *testing.T) {
	r := newTestResolver(t)

	roi := orb.Polygon{{{10.05, 44.05}, {10.06, 44.05}, {10.06, 44.06}, {10.05, 44.06}, {10.05, 44.05}}}
	tiles, err := r.TilesIntersecting(roi)
	if err != nil {
		t.Fatalf("TilesIntersecting: %v", err)
	}
	if len(tiles) != 1 || tiles[0] != "32TQM" {
		t.Errorf("tiles = %v, want [32TQM]", tiles)
	}
}

func TestTilesIntersecting_ExcludesAntimeridianZones(t *testing.T) {
	r := newTestResolver(t)

	roi := orb.Polygon{{{-179.5, -19.5}, {-179.4, -19.5}, {-179.4, -19.4}, {-179.5, -19.4}, {-179.5, -19.5}}}
	tiles, err := r.TilesIntersecting(roi)
	if err != nil {
		t.Fatalf("TilesIntersecting: %v", err)
	}
	if len(tiles) != 0 {
		t.Errorf("tiles = %v, want empty (zone 01 excluded)", tiles)
	}
}

func TestTilesContaining(t *testing.T) {
	r := newTestResolver(t)

	inside := orb.Polygon{{{10.05, 44.05}, {10.06, 44.05}, {10.06, 44.06}, {10.05, 44.06}, {10.05, 44.05}}}
	tiles, err := r.TilesContaining(inside)
	if err != nil {
		t.Fatalf("TilesContaining: %v", err)
	}
	if len(tiles) != 1 || tiles[0] != "32TQM" {
		t.Errorf("tiles = %v, want [32TQM]", tiles)
	}

	// straddles the tile edge: intersects but is not contained
	straddling := orb.Polygon{{{10.12, 44.05}, {10.2, 44.05}, {10.2, 44.06}, {10.12, 44.06}, {10.12, 44.05}}}
	tiles, err = r.TilesContaining(straddling)
	if err != nil {
		t.Fatalf("TilesContaining: %v", err)
	}
	if len(tiles) != 0 {
		t.Errorf("tiles = %v, want empty for straddling ROI", tiles)
	}
}

func TestNormalizeTileID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"32TQM", "32TQM"},
		{"T32TQM", "32TQM"},
		{"t31tfj", "31TFJ"},
		{" T33UUP ", "33UUP"},
	}
	for _, c := range cases {
		if got := NormalizeTileID(c.in); got != c.want {
			t.Errorf("NormalizeTileID(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
