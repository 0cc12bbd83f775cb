package sensorprocess

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	geo "github.com/kellydunn/golang-geo"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/test"

	"github.com/viamrobotics/viam-posegraph/pointcloud"
	s "github.com/viamrobotics/viam-posegraph/sensors"
	"github.com/viamrobotics/viam-posegraph/sensors/inject"
)

type injectFrontEnd struct {
	ObserveLaserFunc    func(ctx context.Context, scan pointcloud.LaserScan) error
	ObserveOdometryFunc func(loc r2.Point, angle float64)
}

func (fe *injectFrontEnd) ObserveLaser(ctx context.Context, scan pointcloud.LaserScan) error {
	return fe.ObserveLaserFunc(ctx, scan)
}

func (fe *injectFrontEnd) ObserveOdometry(loc r2.Point, angle float64) {
	fe.ObserveOdometryFunc(loc, angle)
}

func TestAddLidarReading(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()

	scan := pointcloud.LaserScan{
		Ranges:   []float64{1, 2, 3},
		RangeMin: 0.1,
		RangeMax: 10,
		AngleMin: -1,
		AngleMax: 1,
	}

	lidar := &inject.TimedLidar{
		NameFunc:            func() string { return "good_lidar" },
		DataFrequencyHzFunc: func() int { return 0 },
		TimedLidarReadingFunc: func(ctx context.Context) (s.TimedLidarReadingResponse, error) {
			return s.TimedLidarReadingResponse{Scan: scan, ReadingTime: time.Unix(5, 0)}, nil
		},
	}

	t.Run("forwards the scan to the front end", func(t *testing.T) {
		var observed []pointcloud.LaserScan
		config := Config{
			FrontEnd: &injectFrontEnd{
				ObserveLaserFunc: func(ctx context.Context, scan pointcloud.LaserScan) error {
					observed = append(observed, scan)
					return nil
				},
			},
			Lidar:  lidar,
			Logger: logger,
		}

		jobDone, err := config.addLidarReading(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, jobDone, test.ShouldBeFalse)
		test.That(t, len(observed), test.ShouldEqual, 1)
		test.That(t, observed[0].Ranges, test.ShouldResemble, []float64{1, 2, 3})
	})

	t.Run("front end error does not end the job", func(t *testing.T) {
		config := Config{
			FrontEnd: &injectFrontEnd{
				ObserveLaserFunc: func(ctx context.Context, scan pointcloud.LaserScan) error {
					return errors.New("match failed")
				},
			},
			Lidar:  lidar,
			Logger: logger,
		}

		jobDone, err := config.addLidarReading(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, jobDone, test.ShouldBeFalse)
	})

	t.Run("end of dataset ends the job", func(t *testing.T) {
		exhausted := &inject.TimedLidar{
			NameFunc:            func() string { return "finished_lidar" },
			DataFrequencyHzFunc: func() int { return 0 },
			TimedLidarReadingFunc: func(ctx context.Context) (s.TimedLidarReadingResponse, error) {
				return s.TimedLidarReadingResponse{}, s.ErrEndOfDataset
			},
		}
		config := Config{
			FrontEnd: &injectFrontEnd{
				ObserveLaserFunc: func(ctx context.Context, scan pointcloud.LaserScan) error {
					t.Fatal("front end should not be called")
					return nil
				},
			},
			Lidar:  exhausted,
			Logger: logger,
		}

		jobDone, err := config.addLidarReading(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, jobDone, test.ShouldBeTrue)
	})

	t.Run("sensor error is returned", func(t *testing.T) {
		expectedErr := errors.New("lidar unplugged")
		broken := &inject.TimedLidar{
			NameFunc:            func() string { return "broken_lidar" },
			DataFrequencyHzFunc: func() int { return 0 },
			TimedLidarReadingFunc: func(ctx context.Context) (s.TimedLidarReadingResponse, error) {
				return s.TimedLidarReadingResponse{}, expectedErr
			},
		}
		config := Config{
			FrontEnd: &injectFrontEnd{},
			Lidar:    broken,
			Logger:   logger,
		}

		jobDone, err := config.addLidarReading(ctx)
		test.That(t, err, test.ShouldBeError, expectedErr)
		test.That(t, jobDone, test.ShouldBeFalse)
	})
}

func TestStartLidar(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("returns true once the dataset is exhausted", func(t *testing.T) {
		count := 0
		lidar := &inject.TimedLidar{
			NameFunc:            func() string { return "replay_lidar" },
			DataFrequencyHzFunc: func() int { return 0 },
			TimedLidarReadingFunc: func(ctx context.Context) (s.TimedLidarReadingResponse, error) {
				if count >= 2 {
					return s.TimedLidarReadingResponse{}, s.ErrEndOfDataset
				}
				count++
				return s.TimedLidarReadingResponse{Scan: pointcloud.LaserScan{Ranges: []float64{1}}}, nil
			},
		}
		observed := 0
		config := Config{
			FrontEnd: &injectFrontEnd{
				ObserveLaserFunc: func(ctx context.Context, scan pointcloud.LaserScan) error {
					observed++
					return nil
				},
			},
			Lidar:  lidar,
			Logger: logger,
		}

		jobDone := config.StartLidar(context.Background())
		test.That(t, jobDone, test.ShouldBeTrue)
		test.That(t, observed, test.ShouldEqual, 2)
	})

	t.Run("returns false when the context is cancelled", func(t *testing.T) {
		lidar := &inject.TimedLidar{
			NameFunc:            func() string { return "replay_lidar" },
			DataFrequencyHzFunc: func() int { return 0 },
			TimedLidarReadingFunc: func(ctx context.Context) (s.TimedLidarReadingResponse, error) {
				return s.TimedLidarReadingResponse{Scan: pointcloud.LaserScan{Ranges: []float64{1}}}, nil
			},
		}
		config := Config{
			FrontEnd: &injectFrontEnd{
				ObserveLaserFunc: func(ctx context.Context, scan pointcloud.LaserScan) error { return nil },
			},
			Lidar:  lidar,
			Logger: logger,
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		jobDone := config.StartLidar(ctx)
		test.That(t, jobDone, test.ShouldBeFalse)
	})
}

func TestAddOdometerReading(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()

	t.Run("projects fixes relative to the first fix", func(t *testing.T) {
		readings := []s.TimedOdometerReadingResponse{
			{Position: geo.NewPoint(0, 0), Orientation: &spatialmath.EulerAngles{Yaw: 0.5}, ReadingTime: time.Unix(1, 0)},
			{Position: geo.NewPoint(0, 0.00001), Orientation: &spatialmath.EulerAngles{Yaw: 0.6}, ReadingTime: time.Unix(2, 0)},
		}
		odometer := s.NewPlaybackOdometer("replay_odometer", 0, readings)

		var locs []r2.Point
		var angles []float64
		config := Config{
			FrontEnd: &injectFrontEnd{
				ObserveOdometryFunc: func(loc r2.Point, angle float64) {
					locs = append(locs, loc)
					angles = append(angles, angle)
				},
			},
			Odometer: odometer,
			Logger:   logger,
		}

		for i := 0; i < 2; i++ {
			jobDone, err := config.addOdometerReading(ctx)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, jobDone, test.ShouldBeFalse)
		}

		test.That(t, len(locs), test.ShouldEqual, 2)
		test.That(t, locs[0].X, test.ShouldEqual, 0.)
		test.That(t, locs[0].Y, test.ShouldEqual, 0.)
		test.That(t, locs[1].X, test.ShouldAlmostEqual, 1.1119492664455873, 1e-9)
		test.That(t, locs[1].Y, test.ShouldAlmostEqual, 0., 1e-9)
		test.That(t, angles, test.ShouldResemble, []float64{0.5, 0.6})

		jobDone, err := config.addOdometerReading(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, jobDone, test.ShouldBeTrue)
	})
}

func TestStartOdometer(t *testing.T) {
	logger := logging.NewTestLogger(t)

	readings := []s.TimedOdometerReadingResponse{
		{Position: geo.NewPoint(0, 0), Orientation: &spatialmath.EulerAngles{}, ReadingTime: time.Unix(1, 0)},
	}
	observed := 0
	config := Config{
		FrontEnd: &injectFrontEnd{
			ObserveOdometryFunc: func(loc r2.Point, angle float64) { observed++ },
		},
		Odometer: s.NewPlaybackOdometer("replay_odometer", 0, readings),
		Logger:   logger,
	}

	jobDone := config.StartOdometer(context.Background())
	test.That(t, jobDone, test.ShouldBeTrue)
	test.That(t, observed, test.ShouldEqual, 1)
}
