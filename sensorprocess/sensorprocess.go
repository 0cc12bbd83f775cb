// Package sensorprocess contains the logic to poll lidar and odometry sensors
// and feed their readings to the pose graph front end.
package sensorprocess

import (
	"context"

	"github.com/golang/geo/r2"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/viam-posegraph/pointcloud"
	s "github.com/viamrobotics/viam-posegraph/sensors"
)

// FrontEnd describes the subset of the front end the sensor processes feed.
type FrontEnd interface {
	ObserveLaser(ctx context.Context, scan pointcloud.LaserScan) error
	ObserveOdometry(loc r2.Point, angle float64)
}

// Config holds everything needed to run the sensor polling loops.
type Config struct {
	FrontEnd FrontEnd

	Lidar    s.TimedLidar
	Odometer s.TimedOdometer

	Logger logging.Logger

	// projection maps geodetic odometer fixes onto the planar frame. It is
	// anchored at the first fix the odometer process sees.
	projection *s.PlanarProjection
}
