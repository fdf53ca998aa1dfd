// Package icp implements point-to-point iterative closest point alignment of range scans.
package icp

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"

	"go.viam.com/graphslam/logging"
	"go.viam.com/graphslam/observation"
	"go.viam.com/graphslam/posegraph"
	"go.viam.com/graphslam/spatialmath"
)

// ErrIncompatibleScans is returned when the two observations cannot be aligned with each other.
var ErrIncompatibleScans = errors.New("scans are not both 2D or both 3D range scans")

// Config holds the ICP parameters. Distances are in meters.
type Config struct {
	MaxIterations          int     `json:"max_iterations"`
	CorrespondenceDistance float64 `json:"correspondence_distance"`
	InlierDistance         float64 `json:"inlier_distance"`
	ConvergenceEpsilon     float64 `json:"convergence_epsilon"`
	MinCorrespondences     int     `json:"min_correspondences"`
}

// DefaultConfig returns the parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxIterations:          40,
		CorrespondenceDistance: 1.0,
		InlierDistance:         0.2,
		ConvergenceEpsilon:     1e-6,
		MinCorrespondences:     10,
	}
}

// Result is the outcome of one alignment.
type Result struct {
	// Pose is the refined pose of the source scan's frame in the target scan's frame.
	Pose spatialmath.Pose
	// Goodness is the fraction of source points with a target point within the inlier distance.
	Goodness    float64
	Success     bool
	Converged   bool
	Iterations  int
	Information *mat.SymDense
}

// Matcher aligns pairs of range scans.
type Matcher struct {
	cfg    Config
	logger logging.Logger
}

// NewMatcher returns a Matcher. Zero fields of cfg take their default values.
func NewMatcher(cfg Config, logger logging.Logger) *Matcher {
	def := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.CorrespondenceDistance <= 0 {
		cfg.CorrespondenceDistance = def.CorrespondenceDistance
	}
	if cfg.InlierDistance <= 0 {
		cfg.InlierDistance = def.InlierDistance
	}
	if cfg.ConvergenceEpsilon <= 0 {
		cfg.ConvergenceEpsilon = def.ConvergenceEpsilon
	}
	if cfg.MinCorrespondences <= 0 {
		cfg.MinCorrespondences = def.MinCorrespondences
	}
	if logger == nil {
		logger = logging.NewBlankLogger("icp")
	}
	return &Matcher{cfg: cfg, logger: logger}
}

// Config returns the effective parameters.
func (m *Matcher) Config() Config {
	return m.cfg
}

// Align estimates the pose of source relative to target starting from initialGuess.
// Both observations must be 2D range scans or both 3D range scans.
func (m *Matcher) Align(
	ctx context.Context,
	source, target observation.Observation,
	initialGuess spatialmath.Pose,
) (Result, error) {
	switch src := source.(type) {
	case *observation.RangeScan2D:
		tgt, ok := target.(*observation.RangeScan2D)
		if !ok {
			return Result{}, errors.Wrapf(ErrIncompatibleScans, "source %T, target %T", source, target)
		}
		return m.AlignPoints(ctx, src.Points(), tgt.Points(), initialGuess, true)
	case *observation.RangeScan3D:
		tgt, ok := target.(*observation.RangeScan3D)
		if !ok {
			return Result{}, errors.Wrapf(ErrIncompatibleScans, "source %T, target %T", source, target)
		}
		return m.AlignPoints(ctx, src.Points(), tgt.Points(), initialGuess, false)
	default:
		return Result{}, errors.Wrapf(ErrIncompatibleScans, "source %T, target %T", source, target)
	}
}

// AlignPoints runs ICP on raw point sets. When planar is set the estimate is restricted
// to a translation in the xy plane and a rotation about z.
func (m *Matcher) AlignPoints(
	ctx context.Context,
	source, target []r3.Vector,
	initialGuess spatialmath.Pose,
	planar bool,
) (Result, error) {
	if initialGuess == nil {
		initialGuess = spatialmath.NewZeroPose()
	}
	res := Result{Pose: initialGuess}
	if len(source) < m.cfg.MinCorrespondences || len(target) < m.cfg.MinCorrespondences {
		m.logger.Debugw("not enough points to align", "source", len(source), "target", len(target))
		return res, nil
	}

	tree := newTree(target)
	maxSq := m.cfg.CorrespondenceDistance * m.cfg.CorrespondenceDistance
	current := initialGuess
	prevErr := math.Inf(1)
	for res.Iterations < m.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res.Iterations++

		src, tgt, meanErr := correspondences(tree, source, current, maxSq)
		if len(src) < m.cfg.MinCorrespondences {
			m.logger.Debugw("lost correspondences", "pairs", len(src), "iteration", res.Iterations)
			res.Pose = current
			return res, nil
		}
		delta, ok := rigidTransform(src, tgt, planar)
		if !ok {
			res.Pose = current
			return res, nil
		}
		current = spatialmath.Compose(delta, current)
		if math.Abs(prevErr-meanErr) < m.cfg.ConvergenceEpsilon {
			res.Converged = true
			break
		}
		prevErr = meanErr
	}

	inliers := countInliers(tree, source, current, m.cfg.InlierDistance)
	res.Pose = current
	res.Goodness = float64(inliers) / float64(len(source))
	res.Success = inliers >= m.cfg.MinCorrespondences
	dof := posegraph.DOF3D
	if planar {
		dof = posegraph.DOF2D
	}
	res.Information = posegraph.ScaledInformation(dof, res.Goodness*float64(inliers))
	return res, nil
}

func newTree(points []r3.Vector) *kdtree.Tree {
	pts := make(kdtree.Points, len(points))
	for i, p := range points {
		pts[i] = kdtree.Point{p.X, p.Y, p.Z}
	}
	return kdtree.New(pts, false)
}

func nearest(tree *kdtree.Tree, p r3.Vector) (r3.Vector, float64) {
	c, distSq := tree.Nearest(kdtree.Point{p.X, p.Y, p.Z})
	kp := c.(kdtree.Point)
	return r3.Vector{X: kp[0], Y: kp[1], Z: kp[2]}, distSq
}

// correspondences pairs every transformed source point with its nearest target point
// within sqrt(maxSq), returning the mean pair distance.
func correspondences(tree *kdtree.Tree, source []r3.Vector, pose spatialmath.Pose, maxSq float64) ([]r3.Vector, []r3.Vector, float64) {
	src := make([]r3.Vector, 0, len(source))
	tgt := make([]r3.Vector, 0, len(source))
	sum := 0.
	for _, s := range source {
		moved := spatialmath.TransformPoint(pose, s)
		t, distSq := nearest(tree, moved)
		if distSq > maxSq {
			continue
		}
		src = append(src, moved)
		tgt = append(tgt, t)
		sum += math.Sqrt(distSq)
	}
	if len(src) == 0 {
		return src, tgt, math.Inf(1)
	}
	return src, tgt, sum / float64(len(src))
}

func countInliers(tree *kdtree.Tree, source []r3.Vector, pose spatialmath.Pose, inlierDistance float64) int {
	maxSq := inlierDistance * inlierDistance
	count := 0
	for _, s := range source {
		if _, distSq := nearest(tree, spatialmath.TransformPoint(pose, s)); distSq <= maxSq {
			count++
		}
	}
	return count
}

func centroid(points []r3.Vector) r3.Vector {
	var c r3.Vector
	for _, p := range points {
		c = c.Add(p)
	}
	return c.Mul(1 / float64(len(points)))
}

// rigidTransform returns the rigid motion best mapping src onto tgt in the least squares sense.
func rigidTransform(src, tgt []r3.Vector, planar bool) (spatialmath.Pose, bool) {
	cs, ct := centroid(src), centroid(tgt)
	if planar {
		var sxx, sxy float64
		for i := range src {
			s, t := src[i].Sub(cs), tgt[i].Sub(ct)
			sxx += s.X*t.X + s.Y*t.Y
			sxy += s.X*t.Y - s.Y*t.X
		}
		theta := math.Atan2(sxy, sxx)
		cos, sin := math.Cos(theta), math.Sin(theta)
		rotated := r3.Vector{X: cos*cs.X - sin*cs.Y, Y: sin*cs.X + cos*cs.Y}
		return spatialmath.NewPose2D(ct.X-rotated.X, ct.Y-rotated.Y, theta), true
	}

	h := mat.NewDense(3, 3, nil)
	for i := range src {
		s, t := src[i].Sub(cs), tgt[i].Sub(ct)
		sv := [3]float64{s.X, s.Y, s.Z}
		tv := [3]float64{t.X, t.Y, t.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+sv[r]*tv[c])
			}
		}
	}
	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return nil, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&v, u.T())
	if mat.Det(&rot) < 0 {
		for r := 0; r < 3; r++ {
			v.Set(r, 2, -v.At(r, 2))
		}
		rot.Mul(&v, u.T())
	}
	o := spatialmath.NewOrientationFromRotationMatrix(&rot)
	trans := ct.Sub(spatialmath.RotateVector(o, cs))
	return spatialmath.NewPose(trans, o), true
}
