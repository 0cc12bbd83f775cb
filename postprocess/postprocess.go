// Package postprocess contains functionality to postprocess planar point maps.
package postprocess

import (
	"errors"

	"github.com/golang/geo/r2"
)

// Instruction describes the action of the postprocess step.
type Instruction int

const (
	// Add is the instruction for adding points.
	Add Instruction = iota
	// Remove is the instruction for removing points.
	Remove = iota
)

const (
	removalRadiusMeters = 0.1
	xKey                = "X"
	yKey                = "Y"

	// ToggleCommand can be used to turn postprocessing on and off.
	ToggleCommand = "postprocess_toggle"
	// AddCommand can be used to add points to the map.
	AddCommand = "postprocess_add"
	// RemoveCommand can be used to remove points from the map.
	RemoveCommand = "postprocess_remove"
	// UndoCommand can be used to undo last postprocessing step.
	UndoCommand = "postprocess_undo"
)

var (
	// ErrPointsNotASlice denotes that the points have not been properly formatted as a slice.
	ErrPointsNotASlice = errors.New("could not parse provided points as a slice")

	// ErrPointNotAMap denotes that a point has not been properly formatted as a map.
	ErrPointNotAMap = errors.New("could not parse provided point as a map")

	// ErrXNotProvided denotes that an X value was not provided.
	ErrXNotProvided = errors.New("X value not provided")

	// ErrXNotFloat64 denotes that an X value is not a float64.
	ErrXNotFloat64 = errors.New("could not parse provided X as a float64")

	// ErrYNotProvided denotes that a Y value was not provided.
	ErrYNotProvided = errors.New("Y value not provided")

	// ErrYNotFloat64 denotes that a Y value is not a float64.
	ErrYNotFloat64 = errors.New("could not parse provided Y as a float64")
)

// Task can be used to construct a postprocessing step.
type Task struct {
	Instruction Instruction
	Points      []r2.Point
}

// ParseDoCommand parses postprocessing DoCommands into Tasks.
func ParseDoCommand(
	unstructuredPoints interface{},
	instruction Instruction,
) (Task, error) {
	pointSlice, ok := unstructuredPoints.([]interface{})
	if !ok {
		return Task{}, ErrPointsNotASlice
	}

	task := Task{Instruction: instruction}
	for _, point := range pointSlice {
		pointMap, ok := point.(map[string]interface{})
		if !ok {
			return Task{}, ErrPointNotAMap
		}

		x, ok := pointMap[xKey]
		if !ok {
			return Task{}, ErrXNotProvided
		}

		xFloat, ok := x.(float64)
		if !ok {
			return Task{}, ErrXNotFloat64
		}

		y, ok := pointMap[yKey]
		if !ok {
			return Task{}, ErrYNotProvided
		}

		yFloat, ok := y.(float64)
		if !ok {
			return Task{}, ErrYNotFloat64
		}

		task.Points = append(task.Points, r2.Point{X: xFloat, Y: yFloat})
	}
	return task, nil
}

// UpdateMap iterates through a list of tasks and adds or removes points from
// the map, returning the updated map. The input slice is not modified.
func UpdateMap(points []r2.Point, tasks []Task) []r2.Point {
	updated := make([]r2.Point, len(points))
	copy(updated, points)

	for _, task := range tasks {
		switch task.Instruction {
		case Add:
			updated = append(updated, task.Points...)
		case Remove:
			updated = removePoints(updated, task.Points)
		}
	}
	return updated
}

// removePoints drops all map points within the removal radius of any of the
// given points.
func removePoints(points, removed []r2.Point) []r2.Point {
	kept := make([]r2.Point, 0, len(points))
	for _, pt := range points {
		withinRadius := false
		for _, rm := range removed {
			if pt.Sub(rm).Norm() <= removalRadiusMeters {
				withinRadius = true
				break
			}
		}
		if !withinRadius {
			kept = append(kept, pt)
		}
	}
	return kept
}
