// Package main runs the pose graph service over a recorded dataset and
// exports the optimized map and trajectory.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/utils"

	viamposegraph "github.com/viamrobotics/viam-posegraph"
	"github.com/viamrobotics/viam-posegraph/config"
	"github.com/viamrobotics/viam-posegraph/pointcloud"
	s "github.com/viamrobotics/viam-posegraph/sensors"
	"github.com/viamrobotics/viam-posegraph/telemetry"
)

// Versioning variables which are replaced by LD flags.
var (
	Version     = "development"
	GitRevision = ""
)

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("posegraphModule"))
}

// recordedScan is a single laser scan in a recorded dataset file.
type recordedScan struct {
	Ranges   []float64 `json:"ranges"`
	RangeMin float64   `json:"range_min"`
	RangeMax float64   `json:"range_max"`
	AngleMin float64   `json:"angle_min"`
	AngleMax float64   `json:"angle_max"`
	TimeSec  float64   `json:"time_sec"`
}

// recordedFix is a single odometry sample in a recorded dataset file.
type recordedFix struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Yaw     float64 `json:"yaw"`
	TimeSec float64 `json:"time_sec"`
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	if Version != "" {
		logger.Infow("viam-posegraph", "version", Version, "git_rev", GitRevision)
	}

	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	configPath := flags.String("config", "", "path to the service config JSON")
	scansPath := flags.String("scans", "", "path to the recorded laser scans JSON")
	odometryPath := flags.String("odometry", "", "path to the recorded odometry JSON")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}
	if *configPath == "" || *scansPath == "" || *odometryPath == "" {
		return errors.New("-config, -scans, and -odometry are required")
	}

	exporter, err := telemetry.Setup(10 * time.Second)
	if err != nil {
		return err
	}
	defer exporter.Stop()

	svcConfig, err := readConfig(*configPath)
	if err != nil {
		return err
	}

	lidarReadings, err := readScans(*scansPath)
	if err != nil {
		return err
	}
	odometerReadings, err := readOdometry(*odometryPath)
	if err != nil {
		return err
	}
	logger.Infof("replaying %d scans and %d odometry samples", len(lidarReadings), len(odometerReadings))

	svc, err := viamposegraph.New(
		ctx,
		svcConfig,
		s.NewPlaybackLidar(svcConfig.Camera, svcConfig.LidarFrequencyHz, lidarReadings),
		s.NewPlaybackOdometer(svcConfig.MovementSensor, svcConfig.OdometerFrequencyHz, odometerReadings),
		logger,
	)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(func() error { return svc.Close(ctx) })

	for !svc.JobDone() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	logger.Info("dataset fully processed")
	return nil
}

func readConfig(path string) (*config.Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, err
	}
	var svcConfig config.Config
	if err := json.Unmarshal(data, &svcConfig); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if _, err := svcConfig.Validate(path); err != nil {
		return nil, err
	}
	return &svcConfig, nil
}

func readScans(path string) ([]s.TimedLidarReadingResponse, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, err
	}
	var scans []recordedScan
	if err := json.Unmarshal(data, &scans); err != nil {
		return nil, errors.Wrap(err, "failed to parse scans")
	}
	readings := make([]s.TimedLidarReadingResponse, 0, len(scans))
	for _, scan := range scans {
		readings = append(readings, s.TimedLidarReadingResponse{
			Scan: pointcloud.LaserScan{
				Ranges:   scan.Ranges,
				RangeMin: scan.RangeMin,
				RangeMax: scan.RangeMax,
				AngleMin: scan.AngleMin,
				AngleMax: scan.AngleMax,
			},
			ReadingTime: timeFromSec(scan.TimeSec),
		})
	}
	return readings, nil
}

func readOdometry(path string) ([]s.TimedOdometerReadingResponse, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, err
	}
	var fixes []recordedFix
	if err := json.Unmarshal(data, &fixes); err != nil {
		return nil, errors.Wrap(err, "failed to parse odometry")
	}
	readings := make([]s.TimedOdometerReadingResponse, 0, len(fixes))
	for _, fix := range fixes {
		readings = append(readings, s.TimedOdometerReadingResponse{
			Position:    geo.NewPoint(fix.Lat, fix.Lng),
			Orientation: &spatialmath.EulerAngles{Yaw: fix.Yaw},
			ReadingTime: timeFromSec(fix.TimeSec),
		})
	}
	return readings, nil
}

func timeFromSec(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second)))
}
