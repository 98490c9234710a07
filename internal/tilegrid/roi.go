package tilegrid

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// rows whose ids start with these zones sit on the antimeridian and are
// excluded from ROI selection, as the reference implementation does.
var excludedZones = []string{"01", "60"}

func zoneExcluded(tileID string) bool {
	for _, z := range excludedZones {
		if len(tileID) >= 2 && tileID[:2] == z {
			return true
		}
	}
	return false
}

// TilesIntersecting returns the ids of MGRS tiles whose geographic footprint
// intersects the given region of interest, excluding antimeridian zones 01
// and 60.
func (r *Resolver) TilesIntersecting(roi orb.Geometry) ([]string, error) {
	return r.selectByRelation(roi, false)
}

// TilesContaining returns the ids of MGRS tiles whose geographic footprint
// fully contains the given region of interest, excluding antimeridian zones
// 01 and 60.
func (r *Resolver) TilesContaining(roi orb.Geometry) ([]string, error) {
	return r.selectByRelation(roi, true)
}

func (r *Resolver) selectByRelation(roi orb.Geometry, contains bool) ([]string, error) {
	var rows []tileRow
	if err := r.db.Select("TILE_ID", "LL_WKT").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("scan tile database: %w", err)
	}

	roiBound := roi.Bound()
	var tiles []string
	for _, row := range rows {
		if zoneExcluded(row.TileID) || row.LLWKT == "" {
			continue
		}
		ll, err := parsePolygon(row.LLWKT)
		if err != nil {
			return nil, fmt.Errorf("tile %s: LL footprint: %w", row.TileID, err)
		}
		if !ll.Bound().Intersects(roiBound) {
			continue
		}
		if contains && !polygonContainsBound(ll, roiBound) {
			continue
		}
		tiles = append(tiles, row.TileID)
	}
	return tiles, nil
}

func polygonContainsBound(poly orb.Polygon, b orb.Bound) bool {
	corners := []orb.Point{
		{b.Min[0], b.Min[1]},
		{b.Min[0], b.Max[1]},
		{b.Max[0], b.Min[1]},
		{b.Max[0], b.Max[1]},
	}
	for _, c := range corners {
		if !planar.PolygonContains(poly, c) {
			return false
		}
	}
	return true
}
