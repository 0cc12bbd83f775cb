package sensorprocess

import (
	"context"
	"errors"
	"math"
	"time"

	s "github.com/viamrobotics/viam-posegraph/sensors"
)

// StartOdometer polls the odometer to get the next sensor reading and adds it
// to the front end. Returns true when the sensor's dataset has been exhausted,
// false when the context is Done.
func (config *Config) StartOdometer(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		default:
			if jobDone, err := config.addOdometerReading(ctx); err != nil {
				config.Logger.Warn(err)
			} else if jobDone {
				return true
			}
		}
	}
}

// addOdometerReading fetches the next odometer reading, hands it to the front
// end, and sleeps the remainder of the data interval.
func (config *Config) addOdometerReading(ctx context.Context) (bool, error) {
	reading, err := config.Odometer.TimedOdometerReading(ctx)
	if err != nil {
		if errors.Is(err, s.ErrEndOfDataset) {
			return true, nil
		}
		return false, err
	}

	timeToSleep := config.tryAddOdometerReading(reading)
	time.Sleep(time.Duration(timeToSleep) * time.Millisecond)
	config.Logger.Debugf("odometer sleep for %vms", timeToSleep)
	return false, nil
}

// tryAddOdometerReading projects a reading onto the planar frame and adds it
// to the front end. Returns remainder of time interval.
func (config *Config) tryAddOdometerReading(reading s.TimedOdometerReadingResponse) int {
	startTime := time.Now().UTC()

	if config.projection == nil {
		config.projection = s.NewPlanarProjection(reading.Position)
	}
	loc := config.projection.Project(reading.Position)
	config.FrontEnd.ObserveOdometry(loc, s.Heading(reading.Orientation))
	config.Logger.Debugf("%v \t | ODOMETER | Success \t \t | %v \n", reading.ReadingTime, reading.ReadingTime.Unix())

	if config.Odometer.DataFrequencyHz() == 0 {
		return 0
	}
	timeElapsedMs := int(time.Since(startTime).Milliseconds())
	return int(math.Max(0, float64(1000/config.Odometer.DataFrequencyHz()-timeElapsedMs)))
}
