// Package transform provides 2D rigid-body pose math for moving poses and
// points between the robot, odometry, and map frames.
package transform

import (
	"math"

	"github.com/golang/geo/r2"
)

// Pose is a 2D rigid-body pose: a heading in radians wrapped to (-pi, pi] and
// a translation. Pose is a value type; all frame operations return new instances.
type Pose struct {
	Theta       float64
	Translation r2.Point
}

// NewPose returns a pose with the given heading wrapped to (-pi, pi].
func NewPose(theta float64, translation r2.Point) Pose {
	return Pose{Theta: AngleMod(theta), Translation: translation}
}

// AngleMod wraps an angle in radians to (-pi, pi].
func AngleMod(theta float64) float64 {
	theta = math.Mod(theta, 2*math.Pi)
	if theta > math.Pi {
		theta -= 2 * math.Pi
	} else if theta <= -math.Pi {
		theta += 2 * math.Pi
	}
	return theta
}

// AngleDist returns the shorter arc between two headings, always non-negative.
func AngleDist(a, b float64) float64 {
	return math.Abs(AngleMod(a - b))
}

// Compose expresses pose, given in the frame defined by ref, in ref's parent
// frame: the translation is rotated by ref's heading and offset by ref's
// translation, and the headings are summed.
func Compose(pose, ref Pose) Pose {
	return Pose{
		Theta:       AngleMod(pose.Theta + ref.Theta),
		Translation: ref.Translation.Add(rotate(pose.Translation, ref.Theta)),
	}
}

// Relative expresses pose, given in ref's parent frame, in the frame defined
// by ref. It is the exact inverse of Compose: Relative(Compose(p, r), r) == p
// for all p and r, up to angle wrapping.
func Relative(pose, ref Pose) Pose {
	return Pose{
		Theta:       AngleMod(pose.Theta - ref.Theta),
		Translation: rotate(pose.Translation.Sub(ref.Translation), -ref.Theta),
	}
}

// TransformPoint maps a point expressed in the pose's frame into the pose's
// parent frame.
func (p Pose) TransformPoint(pt r2.Point) r2.Point {
	return p.Translation.Add(rotate(pt, p.Theta))
}

func rotate(pt r2.Point, theta float64) r2.Point {
	sin, cos := math.Sincos(theta)
	return r2.Point{
		X: cos*pt.X - sin*pt.Y,
		Y: sin*pt.X + cos*pt.Y,
	}
}
