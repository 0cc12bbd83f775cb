// Package sensors defines the timed sensor interfaces the pose graph front
// end consumes, along with playback implementations for recorded datasets.
package sensors

import (
	"context"
	"math"
	"time"

	"github.com/golang/geo/r2"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"

	"github.com/viamrobotics/viam-posegraph/pointcloud"
)

// ErrEndOfDataset denotes that a playback sensor has delivered every recorded
// reading.
var ErrEndOfDataset = errors.New("end of dataset reached")

// TimedLidar describes a lidar that reports the time each scan is from.
type TimedLidar interface {
	Name() string
	DataFrequencyHz() int
	TimedLidarReading(ctx context.Context) (TimedLidarReadingResponse, error)
}

// TimedLidarReadingResponse represents a lidar reading with a time.
type TimedLidarReadingResponse struct {
	Scan        pointcloud.LaserScan
	ReadingTime time.Time
}

// TimedOdometer describes an odometry source that reports the time each
// reading is from.
type TimedOdometer interface {
	Name() string
	DataFrequencyHz() int
	TimedOdometerReading(ctx context.Context) (TimedOdometerReadingResponse, error)
}

// TimedOdometerReadingResponse represents an odometer reading with a time:
// a geodetic position fix and an absolute orientation.
type TimedOdometerReadingResponse struct {
	Position    *geo.Point
	Orientation spatialmath.Orientation
	ReadingTime time.Time
}

// metersPerDegree is the arc length of one degree along a great circle.
const metersPerDegree = 111194.92664455873

// PlanarProjection maps geodetic fixes onto a local planar frame in meters,
// anchored at an origin fix. The equirectangular approximation is accurate
// over the spans a single mapping session covers.
type PlanarProjection struct {
	origin *geo.Point
}

// NewPlanarProjection anchors a projection at the given fix.
func NewPlanarProjection(origin *geo.Point) *PlanarProjection {
	return &PlanarProjection{origin: origin}
}

// Project converts a fix into planar meters relative to the origin, x east
// and y north.
func (p *PlanarProjection) Project(fix *geo.Point) r2.Point {
	return r2.Point{
		X: (fix.Lng() - p.origin.Lng()) * metersPerDegree * math.Cos(p.origin.Lat()*math.Pi/180),
		Y: (fix.Lat() - p.origin.Lat()) * metersPerDegree,
	}
}

// Heading extracts the planar heading in radians from an absolute orientation.
func Heading(orientation spatialmath.Orientation) float64 {
	if orientation == nil {
		return 0
	}
	return orientation.EulerAngles().Yaw
}
