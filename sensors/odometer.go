package sensors

import (
	"context"
	"sync"
)

// PlaybackOdometer replays recorded odometer readings in order, returning
// ErrEndOfDataset once exhausted.
type PlaybackOdometer struct {
	name            string
	dataFrequencyHz int

	mu       sync.Mutex
	readings []TimedOdometerReadingResponse
	index    int
}

// NewPlaybackOdometer returns an odometer that replays the given readings.
func NewPlaybackOdometer(name string, dataFrequencyHz int, readings []TimedOdometerReadingResponse) *PlaybackOdometer {
	return &PlaybackOdometer{
		name:            name,
		dataFrequencyHz: dataFrequencyHz,
		readings:        readings,
	}
}

// Name returns the name of the odometer.
func (po *PlaybackOdometer) Name() string {
	return po.name
}

// DataFrequencyHz returns the replay frequency, or 0 for as-fast-as-possible.
func (po *PlaybackOdometer) DataFrequencyHz() int {
	return po.dataFrequencyHz
}

// TimedOdometerReading returns the next recorded reading.
func (po *PlaybackOdometer) TimedOdometerReading(ctx context.Context) (TimedOdometerReadingResponse, error) {
	if err := ctx.Err(); err != nil {
		return TimedOdometerReadingResponse{}, err
	}

	po.mu.Lock()
	defer po.mu.Unlock()
	if po.index >= len(po.readings) {
		return TimedOdometerReadingResponse{}, ErrEndOfDataset
	}
	reading := po.readings[po.index]
	po.index++
	return reading, nil
}
