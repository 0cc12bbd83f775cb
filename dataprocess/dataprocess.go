// Package dataprocess manages code related to the data-saving process.
package dataprocess

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	pc "go.viam.com/rdk/pointcloud"

	"github.com/viamrobotics/viam-posegraph/transform"
)

const (
	// SlamTimeFormat is the timestamp format used in the dataprocess.
	SlamTimeFormat = "2006-01-02T15:04:05.0000Z"
)

// CreateTimestampFilename creates an absolute filename with a primary sensor name and timestamp written
// into the filename.
func CreateTimestampFilename(dataDirectory, primarySensorName, fileType string, timeStamp time.Time) string {
	return filepath.Join(dataDirectory, primarySensorName+"_data_"+timeStamp.UTC().Format(SlamTimeFormat)+fileType)
}

// WriteMapToFile encodes the planar map points as a pointcloud and saves it to
// the passed filename in binary PCD format.
func WriteMapToFile(points []r2.Point, filename string) error {
	pointcloud := pc.New()
	for _, pt := range points {
		if err := pointcloud.Set(r3.Vector{X: pt.X, Y: pt.Y, Z: 0}, pc.NewBasicData()); err != nil {
			return err
		}
	}
	buf := new(bytes.Buffer)
	if err := pc.ToPCD(pointcloud, buf, pc.PCDBinary); err != nil {
		return err
	}
	return WriteBytesToFile(buf.Bytes(), filename)
}

// TrajectoryPose is a single optimized pose in an exported trajectory.
type TrajectoryPose struct {
	ID    int     `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// WriteTrajectoryToFile encodes the optimized poses in node id order and saves
// them to the passed filename.
func WriteTrajectoryToFile(poses map[int]transform.Pose, filename string) error {
	trajectory := make([]TrajectoryPose, 0, len(poses))
	for id := 0; ; id++ {
		pose, ok := poses[id]
		if !ok {
			break
		}
		trajectory = append(trajectory, TrajectoryPose{
			ID:    id,
			X:     pose.Translation.X,
			Y:     pose.Translation.Y,
			Theta: pose.Theta,
		})
	}
	data, err := json.MarshalIndent(trajectory, "", "  ")
	if err != nil {
		return err
	}
	return WriteBytesToFile(data, filename)
}

// WriteBytesToFile writes the passed bytes to the passed filename.
func WriteBytesToFile(bytes []byte, filename string) error {
	//nolint:gosec
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(bytes); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
