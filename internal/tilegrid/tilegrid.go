// Package tilegrid resolves MGRS tile identifiers against the Sentinel-2
// tile reference database (s2tiles), yielding each tile's UTM EPSG code and
// footprint geometry.
//
// The database is read-only reference data; a Resolver memoizes lookups and
// is safe for concurrent use.
package tilegrid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"s2reframe/pkg/geometry"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// TileFootprint identifies one MGRS tile: its UTM zone EPSG code and its
// boundary polygon in that zone's projected coordinates. Footprints are
// immutable reference data.
type TileFootprint struct {
	TileID   string
	EPSG     int
	Geometry orb.Polygon // tile boundary in the tile's own UTM CRS
	LL       orb.Polygon // tile boundary in geographic coordinates
	MGRSRef  string
}

// Bounds returns the UTM bounding box of the tile. For any resolution, the
// box fully determines the output raster origin and extent.
func (f *TileFootprint) Bounds() geometry.Box {
	b := f.Geometry.Bound()
	return geometry.NewBox(b.Min[0], b.Min[1], b.Max[0], b.Max[1])
}

// TileNotFoundError reports an MGRS identifier with no entry in the tile
// reference database. Fatal for the whole product: it cannot be placed on
// any grid.
type TileNotFoundError struct {
	TileID string
}

func (e *TileNotFoundError) Error() string {
	return fmt.Sprintf("tile %s not found in tile database", e.TileID)
}

// tileRow maps the s2tiles table layout.
type tileRow struct {
	TileID  string `gorm:"column:TILE_ID;primaryKey"`
	EPSG    string `gorm:"column:EPSG"`
	UTMWKT  string `gorm:"column:UTM_WKT"`
	LLWKT   string `gorm:"column:LL_WKT"`
	MGRSRef string `gorm:"column:MGRS_REF"`
}

func (tileRow) TableName() string { return "s2tiles" }

// Resolver looks up MGRS tiles in the s2tiles SQLite database.
type Resolver struct {
	db *gorm.DB

	mu    sync.Mutex
	cache map[string]*TileFootprint
}

// NewResolver opens the tile database at the given path.
func NewResolver(dbPath string) (*Resolver, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open tile database %s: %w", dbPath, err)
	}
	return &Resolver{db: db, cache: make(map[string]*TileFootprint)}, nil
}

// Close releases the database connection.
func (r *Resolver) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NormalizeTileID strips an optional leading "T" and uppercases the code.
func NormalizeTileID(tileID string) string {
	tileID = strings.ToUpper(strings.TrimSpace(tileID))
	return strings.TrimPrefix(tileID, "T")
}

// Resolve returns the footprint of an MGRS tile. Results are memoized per
// normalized tile id for the lifetime of the resolver.
func (r *Resolver) Resolve(tileID string) (*TileFootprint, error) {
	code := NormalizeTileID(tileID)

	r.mu.Lock()
	if fp, ok := r.cache[code]; ok {
		r.mu.Unlock()
		return fp, nil
	}
	r.mu.Unlock()

	var row tileRow
	err := r.db.Where("TILE_ID = ?", code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &TileNotFoundError{TileID: code}
	}
	if err != nil {
		return nil, fmt.Errorf("tile %s: query tile database: %w", code, err)
	}

	fp, err := footprintFromRow(row)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("tile", fp.TileID).Int("epsg", fp.EPSG).Msg("Resolved MGRS tile")

	r.mu.Lock()
	r.cache[code] = fp
	r.mu.Unlock()
	return fp, nil
}

func footprintFromRow(row tileRow) (*TileFootprint, error) {
	epsg, err := strconv.Atoi(row.EPSG)
	if err != nil {
		return nil, fmt.Errorf("tile %s: bad EPSG value %q", row.TileID, row.EPSG)
	}

	utm, err := parsePolygon(row.UTMWKT)
	if err != nil {
		return nil, fmt.Errorf("tile %s: UTM footprint: %w", row.TileID, err)
	}

	// LL_WKT may be absent from trimmed databases.
	var ll orb.Polygon
	if row.LLWKT != "" {
		if ll, err = parsePolygon(row.LLWKT); err != nil {
			return nil, fmt.Errorf("tile %s: LL footprint: %w", row.TileID, err)
		}
	}

	return &TileFootprint{
		TileID:   row.TileID,
		EPSG:     epsg,
		Geometry: utm,
		LL:       ll,
		MGRSRef:  row.MGRSRef,
	}, nil
}

func parsePolygon(s string) (orb.Polygon, error) {
	geom, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, err
	}
	switch g := geom.(type) {
	case orb.Polygon:
		return g, nil
	case orb.MultiPolygon:
		if len(g) > 0 {
			return g[0], nil
		}
	}
	return nil, fmt.Errorf("unexpected geometry type %T", geom)
}
