// Package viamposegraph implements a 2D pose graph SLAM front end that turns
// streaming laser scans and odometry into a globally consistent trajectory and
// an aligned point cloud map.
package viamposegraph

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	pc "go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/spatialmath"

	"github.com/viamrobotics/viam-posegraph/config"
	"github.com/viamrobotics/viam-posegraph/dataprocess"
	"github.com/viamrobotics/viam-posegraph/frontend"
	"github.com/viamrobotics/viam-posegraph/posegraph"
	"github.com/viamrobotics/viam-posegraph/postprocess"
	"github.com/viamrobotics/viam-posegraph/scanmatch"
	"github.com/viamrobotics/viam-posegraph/sensorprocess"
	s "github.com/viamrobotics/viam-posegraph/sensors"
	"github.com/viamrobotics/viam-posegraph/solver"
	"github.com/viamrobotics/viam-posegraph/transform"
)

// ErrClosed denotes that a service method was called on a closed service.
var ErrClosed = errors.New("pose graph service is closed")

const chunkSizeBytes = 1 * 1024 * 1024

// PoseGraphService runs the sensor processes and the front end, and exposes
// the estimated pose, the pose graph nodes, and the assembled map.
type PoseGraphService struct {
	mu     sync.Mutex
	closed bool

	lidar    s.TimedLidar
	odometer s.TimedOdometer

	frontEnd      *frontend.FrontEnd
	dataDirectory string

	cancelSensorProcessFunc func()
	logger                  logging.Logger
	sensorProcessWorkers    sync.WaitGroup

	jobDone atomic.Bool

	postprocessed       atomic.Bool
	postprocessingTasks []postprocess.Task
}

// New returns a new pose graph service consuming the given sensors.
func New(
	ctx context.Context,
	svcConfig *config.Config,
	lidar s.TimedLidar,
	odometer s.TimedOdometer,
	logger logging.Logger,
) (*PoseGraphService, error) {
	_, span := trace.StartSpan(ctx, "viamposegraph::PoseGraphService::New")
	defer span.End()

	feConfig := config.GetOptionalParameters(svcConfig, logger)

	frontEnd := frontend.New(
		feConfig,
		scanmatch.NewICP(scanmatch.DefaultICPConfig()),
		func() solver.Interface { return solver.NewGaussNewton(solver.DefaultConfig()) },
		logger,
	)

	cancelSensorProcessCtx, cancelSensorProcessFunc := context.WithCancel(context.Background())

	svc := &PoseGraphService{
		lidar:                   lidar,
		odometer:                odometer,
		frontEnd:                frontEnd,
		dataDirectory:           svcConfig.DataDirectory,
		cancelSensorProcessFunc: cancelSensorProcessFunc,
		logger:                  logger,
	}

	initSensorProcesses(cancelSensorProcessCtx, svc)

	return svc, nil
}

func initSensorProcesses(cancelCtx context.Context, svc *PoseGraphService) {
	spConfig := sensorprocess.Config{
		FrontEnd: svc.frontEnd,
		Lidar:    svc.lidar,
		Odometer: svc.odometer,
		Logger:   svc.logger,
	}

	svc.sensorProcessWorkers.Add(1)
	go func() {
		defer svc.sensorProcessWorkers.Done()
		_ = spConfig.StartOdometer(cancelCtx)
	}()

	svc.sensorProcessWorkers.Add(1)
	go func() {
		defer svc.sensorProcessWorkers.Done()
		if jobDone := spConfig.StartLidar(cancelCtx); jobDone {
			if err := svc.StopFrontEnd(cancelCtx); err != nil {
				svc.logger.Errorw("final optimization after dataset end failed", "error", err)
			}
			svc.jobDone.Store(true)
			svc.cancelSensorProcessFunc()
		}
	}()
}

// Position returns the current best estimate of the robot pose in the map
// frame along with the name of the lidar it is relative to.
func (svc *PoseGraphService) Position(ctx context.Context) (spatialmath.Pose, string, error) {
	_, span := trace.StartSpan(ctx, "viamposegraph::PoseGraphService::Position")
	defer span.End()
	if svc.isClosed() {
		svc.logger.Warn("Position called after closed")
		return nil, "", ErrClosed
	}

	pose := svc.frontEnd.Pose()
	spatialPose := spatialmath.NewPose(
		r3.Vector{X: pose.Translation.X, Y: pose.Translation.Y, Z: 0},
		&spatialmath.EulerAngles{Yaw: pose.Theta},
	)
	return spatialPose, svc.lidar.Name(), nil
}

// PointCloudMap assembles the current map and returns a callback function
// which will return the next chunk of the PCD-encoded map.
func (svc *PoseGraphService) PointCloudMap(ctx context.Context) (func() ([]byte, error), error) {
	_, span := trace.StartSpan(ctx, "viamposegraph::PoseGraphService::PointCloudMap")
	defer span.End()
	if svc.isClosed() {
		svc.logger.Warn("PointCloudMap called after closed")
		return nil, ErrClosed
	}

	points := svc.frontEnd.Map()
	if svc.postprocessed.Load() {
		svc.mu.Lock()
		points = postprocess.UpdateMap(points, svc.postprocessingTasks)
		svc.mu.Unlock()
	}

	pointcloud := pc.New()
	for _, pt := range points {
		if err := pointcloud.Set(r3.Vector{X: pt.X, Y: pt.Y, Z: 0}, pc.NewBasicData()); err != nil {
			return nil, err
		}
	}
	buf := new(bytes.Buffer)
	if err := pc.ToPCD(pointcloud, buf, pc.PCDBinary); err != nil {
		return nil, err
	}
	return toChunkedFunc(buf.Bytes()), nil
}

// Nodes returns a snapshot of the pose graph nodes in id order.
func (svc *PoseGraphService) Nodes(ctx context.Context) ([]posegraph.Node, error) {
	_, span := trace.StartSpan(ctx, "viamposegraph::PoseGraphService::Nodes")
	defer span.End()
	if svc.isClosed() {
		svc.logger.Warn("Nodes called after closed")
		return nil, ErrClosed
	}

	return svc.frontEnd.Nodes(), nil
}

// StopFrontEnd runs the final batch optimization over the whole graph and
// exports the optimized map and trajectory to the data directory. Further
// laser scans are ignored after it returns.
func (svc *PoseGraphService) StopFrontEnd(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "viamposegraph::PoseGraphService::StopFrontEnd")
	defer span.End()
	if svc.isClosed() {
		svc.logger.Warn("StopFrontEnd called after closed")
		return ErrClosed
	}

	if err := svc.frontEnd.Stop(ctx); err != nil {
		return errors.Wrap(err, "final optimization failed")
	}

	if svc.dataDirectory == "" {
		return nil
	}

	timeStamp := time.Now().UTC()
	mapFilename := dataprocess.CreateTimestampFilename(svc.dataDirectory, svc.lidar.Name(), ".pcd", timeStamp)
	if err := dataprocess.WriteMapToFile(svc.frontEnd.Map(), mapFilename); err != nil {
		return errors.Wrap(err, "failed to save map")
	}

	trajectoryFilename := dataprocess.CreateTimestampFilename(svc.dataDirectory, svc.lidar.Name(), ".json", timeStamp)
	if err := dataprocess.WriteTrajectoryToFile(transformPoses(svc.frontEnd.Nodes()), trajectoryFilename); err != nil {
		return errors.Wrap(err, "failed to save trajectory")
	}
	svc.logger.Infof("saved map to %s and trajectory to %s", mapFilename, trajectoryFilename)
	return nil
}

// DoCommand receives arbitrary commands: job status queries and map
// postprocessing edits.
func (svc *PoseGraphService) DoCommand(ctx context.Context, req map[string]interface{}) (map[string]interface{}, error) {
	if svc.isClosed() {
		svc.logger.Warn("DoCommand called after closed")
		return nil, ErrClosed
	}

	if _, ok := req["job_done"]; ok {
		return map[string]interface{}{"job_done": svc.jobDone.Load()}, nil
	}

	if _, ok := req[postprocess.ToggleCommand]; ok {
		svc.postprocessed.Store(!svc.postprocessed.Load())
		return map[string]interface{}{"success": true}, nil
	}

	if points, ok := req[postprocess.AddCommand]; ok {
		task, err := postprocess.ParseDoCommand(points, postprocess.Add)
		if err != nil {
			return nil, err
		}
		svc.appendPostprocessingTask(task)
		return map[string]interface{}{"success": true}, nil
	}

	if points, ok := req[postprocess.RemoveCommand]; ok {
		task, err := postprocess.ParseDoCommand(points, postprocess.Remove)
		if err != nil {
			return nil, err
		}
		svc.appendPostprocessingTask(task)
		return map[string]interface{}{"success": true}, nil
	}

	if _, ok := req[postprocess.UndoCommand]; ok {
		svc.mu.Lock()
		if n := len(svc.postprocessingTasks); n > 0 {
			svc.postprocessingTasks = svc.postprocessingTasks[:n-1]
		}
		svc.mu.Unlock()
		return map[string]interface{}{"success": true}, nil
	}

	return nil, errors.Errorf("unknown command: %v", req)
}

func (svc *PoseGraphService) appendPostprocessingTask(task postprocess.Task) {
	svc.mu.Lock()
	svc.postprocessingTasks = append(svc.postprocessingTasks, task)
	svc.mu.Unlock()
	svc.postprocessed.Store(true)
}

// JobDone reports whether the lidar dataset has been fully processed.
func (svc *PoseGraphService) JobDone() bool {
	return svc.jobDone.Load()
}

func (svc *PoseGraphService) isClosed() bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.closed
}

// Close stops the sensor processes and runs the final optimization.
func (svc *PoseGraphService) Close(ctx context.Context) error {
	svc.mu.Lock()
	if svc.closed {
		svc.mu.Unlock()
		svc.logger.Warn("Close() called multiple times")
		return nil
	}
	svc.mu.Unlock()

	svc.logger.Info("Closing pose graph service")

	svc.cancelSensorProcessFunc()
	svc.sensorProcessWorkers.Wait()

	var err error
	if !svc.jobDone.Load() {
		err = svc.StopFrontEnd(ctx)
	}

	svc.mu.Lock()
	svc.closed = true
	svc.mu.Unlock()

	svc.logger.Info("Closing complete")
	return multierr.Combine(err)
}

func transformPoses(nodes []posegraph.Node) map[int]transform.Pose {
	poses := make(map[int]transform.Pose, len(nodes))
	for _, node := range nodes {
		poses[node.ID] = node.Pose
	}
	return poses
}

func toChunkedFunc(b []byte) func() ([]byte, error) {
	chunk := make([]byte, chunkSizeBytes)

	reader := bytes.NewReader(b)

	f := func() ([]byte, error) {
		bytesRead, err := reader.Read(chunk)
		if err != nil {
			return nil, err
		}
		return chunk[:bytesRead], err
	}
	return f
}
