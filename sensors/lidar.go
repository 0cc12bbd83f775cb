package sensors

import (
	"context"
	"sync"
)

// PlaybackLidar replays recorded lidar scans in order, returning
// ErrEndOfDataset once exhausted.
type PlaybackLidar struct {
	name            string
	dataFrequencyHz int

	mu       sync.Mutex
	readings []TimedLidarReadingResponse
	index    int
}

// NewPlaybackLidar returns a lidar that replays the given readings.
func NewPlaybackLidar(name string, dataFrequencyHz int, readings []TimedLidarReadingResponse) *PlaybackLidar {
	return &PlaybackLidar{
		name:            name,
		dataFrequencyHz: dataFrequencyHz,
		readings:        readings,
	}
}

// Name returns the name of the lidar.
func (pl *PlaybackLidar) Name() string {
	return pl.name
}

// DataFrequencyHz returns the replay frequency, or 0 for as-fast-as-possible.
func (pl *PlaybackLidar) DataFrequencyHz() int {
	return pl.dataFrequencyHz
}

// TimedLidarReading returns the next recorded scan.
func (pl *PlaybackLidar) TimedLidarReading(ctx context.Context) (TimedLidarReadingResponse, error) {
	if err := ctx.Err(); err != nil {
		return TimedLidarReadingResponse{}, err
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.index >= len(pl.readings) {
		return TimedLidarReadingResponse{}, ErrEndOfDataset
	}
	reading := pl.readings[pl.index]
	pl.index++
	return reading, nil
}
