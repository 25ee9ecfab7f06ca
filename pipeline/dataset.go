package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/kwv/robustfit/geometry"
)

// ModelKind names the model family a dataset is estimated with.
type ModelKind string

const (
	ModelPoint2D    ModelKind = "point2d"
	ModelPoint3D    ModelKind = "point3d"
	ModelAffine     ModelKind = "affine"
	ModelEuclidean  ModelKind = "euclidean"
	ModelHomography ModelKind = "homography"
	ModelCamera     ModelKind = "camera"
	ModelPose       ModelKind = "pose"
)

// ModelKinds lists every supported model family.
func ModelKinds() []ModelKind {
	return []ModelKind{ModelPoint2D, ModelPoint3D, ModelAffine, ModelEuclidean, ModelHomography, ModelCamera, ModelPose}
}

// Planar reports whether the model maps correspondences to measured 2D
// points, which the GeoJSON export and the vector plot draw.
func (k ModelKind) Planar() bool {
	switch k {
	case ModelAffine, ModelEuclidean, ModelHomography, ModelCamera, ModelPose:
		return true
	}
	return false
}

// Dataset is a set of correspondences on disk. Which fields are used depends
// on Model:
//
//	point2d              Lines
//	point3d              Planes
//	affine, euclidean,
//	homography           Source, Target
//	camera               World, Image
//	pose                 World, Image, Intrinsics
type Dataset struct {
	Model ModelKind `json:"model"`

	Lines  []geometry.Line  `json:"lines,omitempty"`
	Planes []geometry.Plane `json:"planes,omitempty"`

	Source []r2.Point `json:"source,omitempty"`
	Target []r2.Point `json:"target,omitempty"`

	World      []r3.Vector          `json:"world,omitempty"`
	Image      []r2.Point           `json:"image,omitempty"`
	Intrinsics *geometry.Intrinsics `json:"intrinsics,omitempty"`

	Quality []float64 `json:"quality,omitempty"`

	// Truth holds the generating model in the family parameter layout and
	// Outliers the indices that were corrupted. Both are set by Generate.
	Truth    []float64 `json:"truth,omitempty"`
	Outliers []int     `json:"outliers,omitempty"`
}

// Len is the number of correspondences.
func (d *Dataset) Len() int {
	switch d.Model {
	case ModelPoint2D:
		return len(d.Lines)
	case ModelPoint3D:
		return len(d.Planes)
	case ModelAffine, ModelEuclidean, ModelHomography:
		return len(d.Source)
	case ModelCamera, ModelPose:
		return len(d.World)
	}
	return 0
}

// Validate checks that the fields required by the model are present and
// consistent.
func (d *Dataset) Validate() error {
	switch d.Model {
	case ModelPoint2D:
		if len(d.Lines) == 0 {
			return fmt.Errorf("dataset %s: no lines", d.Model)
		}
	case ModelPoint3D:
		if len(d.Planes) == 0 {
			return fmt.Errorf("dataset %s: no planes", d.Model)
		}
	case ModelAffine, ModelEuclidean, ModelHomography:
		if len(d.Source) == 0 || len(d.Source) != len(d.Target) {
			return fmt.Errorf("dataset %s: need matching source and target, got %d/%d", d.Model, len(d.Source), len(d.Target))
		}
	case ModelCamera, ModelPose:
		if len(d.World) == 0 || len(d.World) != len(d.Image) {
			return fmt.Errorf("dataset %s: need matching world and image points, got %d/%d", d.Model, len(d.World), len(d.Image))
		}
		if d.Model == ModelPose {
			if d.Intrinsics == nil {
				return fmt.Errorf("dataset %s: intrinsics are required", d.Model)
			}
			if err := d.Intrinsics.Validate(); err != nil {
				return fmt.Errorf("dataset %s: %w", d.Model, err)
			}
		}
	default:
		return fmt.Errorf("unknown model %q", d.Model)
	}
	if d.Quality != nil && len(d.Quality) != d.Len() {
		return fmt.Errorf("dataset %s: %d quality scores for %d correspondences", d.Model, len(d.Quality), d.Len())
	}
	return nil
}

// DecodeDataset reads and validates a JSON dataset.
func DecodeDataset(r io.Reader) (*Dataset, error) {
	var ds Dataset
	if err := json.NewDecoder(r).Decode(&ds); err != nil {
		return nil, fmt.Errorf("parsing dataset: %w", err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// LoadDataset loads a dataset from a JSON file.
func LoadDataset(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return DecodeDataset(f)
}

// SaveDataset writes a dataset as indented JSON, creating the directory if
// needed.
func SaveDataset(path string, ds *Dataset) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating dataset directory: %w", err)
	}

	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling dataset: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing dataset file: %w", err)
	}
	return nil
}

// observed returns the measured 2D points of a planar dataset: the targets
// of a plane to plane model or the image points of a camera model.
func (d *Dataset) observed() []r2.Point {
	switch d.Model {
	case ModelAffine, ModelEuclidean, ModelHomography:
		return d.Target
	case ModelCamera, ModelPose:
		return d.Image
	}
	return nil
}
