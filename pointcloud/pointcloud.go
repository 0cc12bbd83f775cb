// Package pointcloud converts raw laser range readings into 2D point clouds
// expressed in the sensor frame.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r2"
)

// LaserScan is a single sweep of range readings. Ranges are ordered by beam
// angle, spread evenly over [AngleMin, AngleMax].
type LaserScan struct {
	Ranges   []float64
	RangeMin float64
	RangeMax float64
	AngleMin float64
	AngleMax float64
}

// Projector converts laser scans into point clouds in the robot's local frame,
// discarding out-of-range returns and applying the fixed offset between the
// sensor and the robot origin.
type Projector struct {
	sensorOffset r2.Point
}

// NewProjector returns a projector that offsets every projected point by the
// sensor's position relative to the robot origin.
func NewProjector(sensorOffset r2.Point) Projector {
	return Projector{sensorOffset: sensorOffset}
}

// Project converts a scan into a point cloud. Readings at or beyond the range
// bounds are dropped. Empty scans and degenerate angle spans yield an empty
// cloud rather than an error.
func (p Projector) Project(scan LaserScan) []r2.Point {
	n := len(scan.Ranges)
	if n == 0 {
		return nil
	}

	var angleIncrement float64
	if n > 1 {
		angleIncrement = (scan.AngleMax - scan.AngleMin) / float64(n-1)
	}

	points := make([]r2.Point, 0, n)
	for i, rng := range scan.Ranges {
		if rng <= scan.RangeMin || rng >= scan.RangeMax {
			continue
		}
		angle := scan.AngleMin + float64(i)*angleIncrement
		sin, cos := math.Sincos(angle)
		points = append(points, r2.Point{X: rng * cos, Y: rng * sin}.Add(p.sensorOffset))
	}
	return points
}
