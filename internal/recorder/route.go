package recorder

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tkrajina/gpxgo/gpx"
)

var ErrEmptyRoute = errors.New("route has no points")

type routePoint struct {
	pos    Position
	cumDst float64
}

// Route maps distance run on the belt onto a real-world path, so treadmill
// sessions show up on a map.
type Route struct {
	points []routePoint
}

// LoadRoute reads the first track of a GPX file, or its first route when it
// has no tracks.
func LoadRoute(path string) (*Route, error) {
	g, err := gpx.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parse gpx %s: %w", path, err)
	}

	var positions []Position
	for _, trk := range g.Tracks {
		for _, seg := range trk.Segments {
			for _, p := range seg.Points {
				positions = append(positions, gpxPosition(p))
			}
		}
	}
	if len(positions) == 0 {
		for _, rte := range g.Routes {
			for _, p := range rte.Points {
				positions = append(positions, gpxPosition(p))
			}
		}
	}
	return NewRoute(positions)
}

func gpxPosition(p gpx.GPXPoint) Position {
	pos := Position{Latitude: p.Latitude, Longitude: p.Longitude}
	if p.Elevation.NotNull() {
		pos.Elevation = p.Elevation.Value()
	}
	return pos
}

// NewRoute builds a route from ordered positions, measuring cumulative
// haversine distance between them.
func NewRoute(positions []Position) (*Route, error) {
	if len(positions) == 0 {
		return nil, ErrEmptyRoute
	}
	r := &Route{points: make([]routePoint, 0, len(positions))}
	var total float64
	for i, pos := range positions {
		if i > 0 {
			prev := positions[i-1]
			total += gpx.Distance2D(prev.Latitude, prev.Longitude, pos.Latitude, pos.Longitude, true)
		}
		r.points = append(r.points, routePoint{pos: pos, cumDst: total})
	}
	return r, nil
}

// LengthMeters is the total distance along the route
func (r *Route) LengthMeters() float64 {
	return r.points[len(r.points)-1].cumDst
}

// Position interpolates linearly between the two route points around
// distanceM. Distances outside the route have no position.
func (r *Route) Position(distanceM float64) (Position, bool) {
	if r == nil || len(r.points) == 0 || distanceM < 0 {
		return Position{}, false
	}
	i := sort.Search(len(r.points), func(i int) bool {
		return r.points[i].cumDst >= distanceM
	})
	if i == len(r.points) {
		return Position{}, false
	}
	if i == 0 {
		return r.points[0].pos, true
	}

	p0, p1 := r.points[i-1], r.points[i]
	var frac float64
	if span := p1.cumDst - p0.cumDst; span > 0 {
		frac = (distanceM - p0.cumDst) / span
	}
	return Position{
		Latitude:  p0.pos.Latitude + frac*(p1.pos.Latitude-p0.pos.Latitude),
		Longitude: p0.pos.Longitude + frac*(p1.pos.Longitude-p0.pos.Longitude),
		Elevation: p0.pos.Elevation + frac*(p1.pos.Elevation-p0.pos.Elevation),
	}, true
}
