package sensorprocess

import (
	"context"
	"errors"
	"math"
	"time"

	s "github.com/viamrobotics/viam-posegraph/sensors"
)

// StartLidar polls the lidar to get the next sensor reading and adds it to the
// front end. Returns true when the sensor's dataset has been exhausted, false
// when the context is Done.
func (config *Config) StartLidar(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		default:
			if jobDone, err := config.addLidarReading(ctx); err != nil {
				config.Logger.Warn(err)
			} else if jobDone {
				return true
			}
		}
	}
}

// addLidarReading fetches the next lidar scan, hands it to the front end, and
// sleeps the remainder of the data interval.
func (config *Config) addLidarReading(ctx context.Context) (bool, error) {
	reading, err := config.Lidar.TimedLidarReading(ctx)
	if err != nil {
		if errors.Is(err, s.ErrEndOfDataset) {
			return true, nil
		}
		return false, err
	}

	timeToSleep := config.tryAddLidarReading(ctx, reading)
	time.Sleep(time.Duration(timeToSleep) * time.Millisecond)
	config.Logger.Debugf("lidar sleep for %vms", timeToSleep)
	return false, nil
}

// tryAddLidarReading adds a reading to the front end. Returns remainder of
// time interval.
func (config *Config) tryAddLidarReading(ctx context.Context, reading s.TimedLidarReadingResponse) int {
	startTime := time.Now().UTC()

	if err := config.FrontEnd.ObserveLaser(ctx, reading.Scan); err != nil {
		config.Logger.Warnw("Skipping lidar reading due to error from front end", "error", err)
	} else {
		config.Logger.Debugf("%v \t | LIDAR | Success \t \t | %v \n", reading.ReadingTime, reading.ReadingTime.Unix())
	}

	if config.Lidar.DataFrequencyHz() == 0 {
		return 0
	}
	timeElapsedMs := int(time.Since(startTime).Milliseconds())
	return int(math.Max(0, float64(1000/config.Lidar.DataFrequencyHz()-timeElapsedMs)))
}
