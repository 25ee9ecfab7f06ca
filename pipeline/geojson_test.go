package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squareRun() (*Dataset, *Result) {
	target := []r2.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}, {X: 5, Y: 5}, {X: 40, Y: -20}}
	ds := &Dataset{
		Model:    ModelAffine,
		Source:   target,
		Target:   target,
		Quality:  []float64{1, 1, 1, 1, 1, 0.1},
		Outliers: []int{5},
	}
	predicted := append([]r2.Point(nil), target...)
	predicted[5] = r2.Point{X: 40, Y: -17}
	res := &Result{
		ID:         "sq",
		Model:      ModelAffine,
		NumInliers: 5,
		Inliers:    []bool{true, true, true, true, true, false},
		Residuals:  []float64{0, 0, 0, 0, 0, 3},
		Predicted:  predicted,
	}
	return ds, res
}

func featuresOfKind(fc *FeatureCollection, t GeometryType) []*Feature {
	var out []*Feature
	for _, f := range fc.Features {
		if f.Geometry.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func TestResultToFeatureCollection(t *testing.T) {
	ds, res := squareRun()
	fc, err := ResultToFeatureCollection(ds, res)
	require.NoError(t, err)

	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Equal(t, []float64{0, -20, 40, 10}, fc.BBox)

	points := featuresOfKind(fc, GeometryPoint)
	require.Len(t, points, 6)
	assert.Equal(t, 5, points[5].ID)
	assert.Equal(t, false, points[5].Properties["inlier"])
	assert.Equal(t, true, points[5].Properties["generatedOutlier"])
	assert.Equal(t, 3.0, points[5].Properties["residual"])
	assert.Equal(t, 0.1, points[5].Properties["quality"])

	var coords [2]float64
	require.NoError(t, json.Unmarshal(points[2].Geometry.Coordinates, &coords))
	assert.Equal(t, [2]float64{10, 10}, coords)

	lines := featuresOfKind(fc, GeometryLineString)
	require.Len(t, lines, 6)
	assert.InDelta(t, 3.0, lines[5].Properties["length"], 1e-12)
	assert.Equal(t, "residual", lines[5].Properties["kind"])

	polys := featuresOfKind(fc, GeometryPolygon)
	require.Len(t, polys, 1)
	assert.Equal(t, "consensus-hull", polys[0].Properties["kind"])
	assert.InDelta(t, 100.0, polys[0].Properties["area"], 1e-9)
	assert.Equal(t, 5, polys[0].Properties["points"])

	var rings [][][2]float64
	require.NoError(t, json.Unmarshal(polys[0].Geometry.Coordinates, &rings))
	require.Len(t, rings, 1)
	assert.Len(t, rings[0], 5, "four hull corners plus the closing point")
	assert.Equal(t, rings[0][0], rings[0][len(rings[0])-1])
}

func TestResultToFeatureCollection_JSON(t *testing.T) {
	ds, res := squareRun()
	fc, err := ResultToFeatureCollection(ds, res)
	require.NoError(t, err)

	data, err := json.Marshal(fc)
	require.NoError(t, err)

	var decoded struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "FeatureCollection", decoded.Type)
	assert.Len(t, decoded.Features, 13)
	for _, f := range decoded.Features {
		assert.Equal(t, "Feature", f.Type)
	}
}

func TestResultToFeatureCollection_Errors(t *testing.T) {
	_, err := ResultToFeatureCollection(&Dataset{Model: ModelPoint3D}, &Result{})
	assert.Error(t, err)

	ds, res := squareRun()
	res.Predicted = res.Predicted[:2]
	_, err = ResultToFeatureCollection(ds, res)
	assert.Error(t, err)
}

func TestResultToFeatureCollection_FewInliers(t *testing.T) {
	ds, res := squareRun()
	res.Inliers = []bool{true, true, false, false, false, false}
	res.Predicted = nil

	fc, err := ResultToFeatureCollection(ds, res)
	require.NoError(t, err)
	assert.Empty(t, featuresOfKind(fc, GeometryPolygon))
	assert.Empty(t, featuresOfKind(fc, GeometryLineString))
	assert.Len(t, featuresOfKind(fc, GeometryPoint), 6)
}

func TestConvexHull(t *testing.T) {
	tests := []struct {
		name   string
		points []orb.Point
		want   int
	}{
		{"empty", nil, 0},
		{"two points", []orb.Point{{0, 0}, {1, 1}}, 2},
		{"square with interior", []orb.Point{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {2, 2}, {1, 3}}, 4},
		{"collinear edge points", []orb.Point{{0, 0}, {2, 0}, {4, 0}, {4, 4}, {0, 4}}, 4},
		{"triangle", []orb.Point{{0, 0}, {5, 0}, {0, 5}}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hull := convexHull(tt.points)
			assert.Len(t, hull, tt.want)
		})
	}
}
