package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// GeometryType represents the GeoJSON geometry type
type GeometryType string

const (
	GeometryPoint      GeometryType = "Point"
	GeometryLineString GeometryType = "LineString"
	GeometryPolygon    GeometryType = "Polygon"
)

// Geometry represents a GeoJSON geometry object
type Geometry struct {
	Type        GeometryType    `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Feature represents a GeoJSON feature with geometry and properties
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   *Geometry              `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
	ID         interface{}            `json:"id,omitempty"`
}

// FeatureCollection represents a GeoJSON FeatureCollection
type FeatureCollection struct {
	Type     string     `json:"type"`
	BBox     []float64  `json:"bbox,omitempty"`
	Features []*Feature `json:"features"`
}

// NewFeatureCollection creates a new empty FeatureCollection
func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]*Feature, 0),
	}
}

// AddFeature appends a feature to the collection
func (fc *FeatureCollection) AddFeature(f *Feature) {
	fc.Features = append(fc.Features, f)
}

// NewFeature creates a Feature with the given geometry and properties
func NewFeature(geom *Geometry, props map[string]interface{}) *Feature {
	if props == nil {
		props = make(map[string]interface{})
	}
	return &Feature{
		Type:       "Feature",
		Geometry:   geom,
		Properties: props,
	}
}

func newGeometry(t GeometryType, coords interface{}) *Geometry {
	data, _ := json.Marshal(coords)
	return &Geometry{Type: t, Coordinates: data}
}

// PointGeometry converts a point to a GeoJSON Point.
func PointGeometry(p orb.Point) *Geometry {
	return newGeometry(GeometryPoint, [2]float64(p))
}

// LineStringGeometry converts a line string to a GeoJSON LineString.
func LineStringGeometry(ls orb.LineString) *Geometry {
	coords := make([][2]float64, len(ls))
	for i, p := range ls {
		coords[i] = p
	}
	return newGeometry(GeometryLineString, coords)
}

// PolygonGeometry converts a polygon to a GeoJSON Polygon, closing every
// ring.
func PolygonGeometry(poly orb.Polygon) *Geometry {
	rings := make([][][2]float64, len(poly))
	for i, ring := range poly {
		coords := make([][2]float64, 0, len(ring)+1)
		for _, p := range ring {
			coords = append(coords, p)
		}
		if len(coords) > 0 && coords[0] != coords[len(coords)-1] {
			coords = append(coords, coords[0])
		}
		rings[i] = coords
	}
	return newGeometry(GeometryPolygon, rings)
}

func toOrb(p r2.Point) orb.Point {
	return orb.Point{p.X, p.Y}
}

// ResultToFeatureCollection exports a planar run: one Point per measured
// correspondence (with its inlier flag, residual and quality), one
// LineString per residual vector from the model prediction to the
// measurement, and the convex hull of the inliers as a Polygon.
func ResultToFeatureCollection(ds *Dataset, res *Result) (*FeatureCollection, error) {
	if !ds.Model.Planar() {
		return nil, fmt.Errorf("geojson: model %s has no planar measurements", ds.Model)
	}
	observed := ds.observed()
	if res.Predicted != nil && len(res.Predicted) != len(observed) {
		return nil, fmt.Errorf("geojson: %d predictions for %d measurements", len(res.Predicted), len(observed))
	}

	truthOutlier := make(map[int]bool, len(ds.Outliers))
	for _, i := range ds.Outliers {
		truthOutlier[i] = true
	}

	fc := NewFeatureCollection()
	points := make(orb.MultiPoint, len(observed))
	var inlierPoints []orb.Point
	for i, p := range observed {
		points[i] = toOrb(p)
		props := map[string]interface{}{"index": i}
		if res.Inliers != nil {
			props["inlier"] = res.Inliers[i]
			if res.Inliers[i] {
				inlierPoints = append(inlierPoints, points[i])
			}
		}
		if res.Residuals != nil {
			props["residual"] = res.Residuals[i]
		}
		if ds.Quality != nil {
			props["quality"] = ds.Quality[i]
		}
		if ds.Outliers != nil {
			props["generatedOutlier"] = truthOutlier[i]
		}
		f := NewFeature(PointGeometry(points[i]), props)
		f.ID = i
		fc.AddFeature(f)
	}

	for i, pred := range res.Predicted {
		seg := orb.LineString{toOrb(pred), points[i]}
		fc.AddFeature(NewFeature(LineStringGeometry(seg), map[string]interface{}{
			"index":  i,
			"kind":   "residual",
			"length": planar.Distance(seg[0], seg[1]),
		}))
	}

	if hull := convexHull(inlierPoints); len(hull) >= 3 {
		poly := orb.Polygon{append(orb.Ring(hull), hull[0])}
		fc.AddFeature(NewFeature(PolygonGeometry(poly), map[string]interface{}{
			"kind":   "consensus-hull",
			"area":   planar.Area(poly),
			"points": len(inlierPoints),
		}))
	}

	if len(points) > 0 {
		b := points.Bound()
		fc.BBox = []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
	}
	return fc, nil
}

// convexHull computes the convex hull of points by Andrew's monotone chain.
// The hull is returned counter-clockwise without repeating the first point.
func convexHull(points []orb.Point) []orb.Point {
	if len(points) < 3 {
		result := make([]orb.Point, len(points))
		copy(result, points)
		return result
	}

	// Sort by x, then y
	sorted := make([]orb.Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	// cross returns the cross product of vectors OA and OB where O is origin
	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	n := len(sorted)
	hull := make([]orb.Point, 0, 2*n)

	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	lower := len(hull) + 1
	for i := n - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	return hull[:len(hull)-1]
}
