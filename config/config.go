// Package config implements functions to assist with attribute evaluation in the pose graph service.
package config

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"github.com/viamrobotics/viam-posegraph/frontend"
)

// Default values for the optional front end parameters.
const (
	DefaultMinTransDiffMeters      = 1.0
	DefaultMinAngleDiffRads        = 0.52
	DefaultNonSuccessiveMaxFactors = 3
	DefaultMaxNodeDistMeters       = 5.0
	DefaultSensorOffsetXMeters     = 0.2
	DefaultSensorOffsetYMeters     = 0.0
	DefaultNewNodeXStd             = 0.1
	DefaultNewNodeYStd             = 0.1
	DefaultNewNodeThetaStd         = 0.05
	DefaultTransErrFromTrans       = 0.2
	DefaultTransErrFromRot         = 0.1
	DefaultRotErrFromTrans         = 0.1
	DefaultRotErrFromRot           = 0.2
)

// newError returns an error specific to a failure in the service config.
func newError(configError string) error {
	return errors.Errorf("pose graph service configuration error: %s", configError)
}

// Config describes how to configure the pose graph service.
type Config struct {
	Camera              string `json:"camera"`
	MovementSensor      string `json:"movement_sensor"`
	DataDirectory       string `json:"data_dir"`
	LidarFrequencyHz    int    `json:"lidar_data_frequency_hz"`
	OdometerFrequencyHz int    `json:"odometer_data_frequency_hz"`

	MinTransDiffMeters       *float64 `json:"min_trans_diff_meters"`
	MinAngleDiffRads         *float64 `json:"min_angle_diff_rads"`
	NonSuccessiveConstraints *bool    `json:"non_successive_constraints"`
	MaxFactorsPerNode        *int     `json:"max_factors_per_node"`
	MaxNodeDistMeters        *float64 `json:"max_node_dist_meters"`
	ConsiderOdomConstraint   *bool    `json:"consider_odom_constraint"`

	SensorOffsetXMeters *float64 `json:"sensor_offset_x_meters"`
	SensorOffsetYMeters *float64 `json:"sensor_offset_y_meters"`

	NewNodeXStd     *float64 `json:"new_node_x_std"`
	NewNodeYStd     *float64 `json:"new_node_y_std"`
	NewNodeThetaStd *float64 `json:"new_node_theta_std"`

	TransErrFromTrans *float64 `json:"motion_model_trans_err_from_trans"`
	TransErrFromRot   *float64 `json:"motion_model_trans_err_from_rot"`
	RotErrFromTrans   *float64 `json:"motion_model_rot_err_from_trans"`
	RotErrFromRot     *float64 `json:"motion_model_rot_err_from_rot"`
}

// Validate creates the list of implicit dependencies.
func (config *Config) Validate(path string) ([]string, error) {
	if config.Camera == "" {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "camera")
	}

	if config.MovementSensor == "" {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "movement_sensor")
	}

	if config.DataDirectory == "" {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "data_dir")
	}

	if config.LidarFrequencyHz < 0 {
		return nil, newError("cannot specify lidar_data_frequency_hz less than zero")
	}

	if config.OdometerFrequencyHz < 0 {
		return nil, newError("cannot specify odometer_data_frequency_hz less than zero")
	}

	if config.MinTransDiffMeters != nil && *config.MinTransDiffMeters <= 0 {
		return nil, newError("cannot specify min_trans_diff_meters less than or equal to zero")
	}

	if config.MinAngleDiffRads != nil && *config.MinAngleDiffRads <= 0 {
		return nil, newError("cannot specify min_angle_diff_rads less than or equal to zero")
	}

	if config.MaxFactorsPerNode != nil && *config.MaxFactorsPerNode < 0 {
		return nil, newError("cannot specify max_factors_per_node less than zero")
	}

	if config.MaxNodeDistMeters != nil && *config.MaxNodeDistMeters <= 0 {
		return nil, newError("cannot specify max_node_dist_meters less than or equal to zero")
	}

	for name, std := range map[string]*float64{
		"new_node_x_std":     config.NewNodeXStd,
		"new_node_y_std":     config.NewNodeYStd,
		"new_node_theta_std": config.NewNodeThetaStd,
	} {
		if std != nil && *std <= 0 {
			return nil, newError("cannot specify " + name + " less than or equal to zero")
		}
	}

	deps := []string{config.Camera, config.MovementSensor}

	return deps, nil
}

// GetOptionalParameters sets any unset optional config parameters to their
// default values, logging each default applied, and returns the assembled
// front end configuration.
func GetOptionalParameters(config *Config, logger logging.Logger) frontend.Config {
	feConfig := frontend.Config{
		MinTransDiff:             DefaultMinTransDiffMeters,
		MinAngleDiff:             DefaultMinAngleDiffRads,
		NonSuccessiveConstraints: true,
		MaxFactorsPerNode:        DefaultNonSuccessiveMaxFactors,
		MaxNodeDist:              DefaultMaxNodeDistMeters,
		ConsiderOdomConstraint:   true,
		MotionModel: frontend.MotionModel{
			TransErrFromTrans: DefaultTransErrFromTrans,
			TransErrFromRot:   DefaultTransErrFromRot,
			RotErrFromTrans:   DefaultRotErrFromTrans,
			RotErrFromRot:     DefaultRotErrFromRot,
		},
		PriorXStd:     DefaultNewNodeXStd,
		PriorYStd:     DefaultNewNodeYStd,
		PriorThetaStd: DefaultNewNodeThetaStd,
		SensorOffset:  r2.Point{X: DefaultSensorOffsetXMeters, Y: DefaultSensorOffsetYMeters},
	}

	if config.MinTransDiffMeters == nil {
		logger.Debugf("no min_trans_diff_meters given, setting to default value of %v", DefaultMinTransDiffMeters)
	} else {
		feConfig.MinTransDiff = *config.MinTransDiffMeters
	}

	if config.MinAngleDiffRads == nil {
		logger.Debugf("no min_angle_diff_rads given, setting to default value of %v", DefaultMinAngleDiffRads)
	} else {
		feConfig.MinAngleDiff = *config.MinAngleDiffRads
	}

	if config.NonSuccessiveConstraints == nil {
		logger.Debug("no non_successive_constraints given, loop closure constraints enabled")
	} else {
		feConfig.NonSuccessiveConstraints = *config.NonSuccessiveConstraints
	}

	if config.MaxFactorsPerNode == nil {
		logger.Debugf("no max_factors_per_node given, setting to default value of %d", DefaultNonSuccessiveMaxFactors)
	} else {
		feConfig.MaxFactorsPerNode = *config.MaxFactorsPerNode
	}

	if config.MaxNodeDistMeters == nil {
		logger.Debugf("no max_node_dist_meters given, setting to default value of %v", DefaultMaxNodeDistMeters)
	} else {
		feConfig.MaxNodeDist = *config.MaxNodeDistMeters
	}

	if config.ConsiderOdomConstraint == nil {
		logger.Debug("no consider_odom_constraint given, odometry constraints enabled")
	} else {
		feConfig.ConsiderOdomConstraint = *config.ConsiderOdomConstraint
	}

	if config.SensorOffsetXMeters != nil {
		feConfig.SensorOffset.X = *config.SensorOffsetXMeters
	}
	if config.SensorOffsetYMeters != nil {
		feConfig.SensorOffset.Y = *config.SensorOffsetYMeters
	}

	if config.NewNodeXStd != nil {
		feConfig.PriorXStd = *config.NewNodeXStd
	}
	if config.NewNodeYStd != nil {
		feConfig.PriorYStd = *config.NewNodeYStd
	}
	if config.NewNodeThetaStd != nil {
		feConfig.PriorThetaStd = *config.NewNodeThetaStd
	}

	if config.TransErrFromTrans != nil {
		feConfig.MotionModel.TransErrFromTrans = *config.TransErrFromTrans
	}
	if config.TransErrFromRot != nil {
		feConfig.MotionModel.TransErrFromRot = *config.TransErrFromRot
	}
	if config.RotErrFromTrans != nil {
		feConfig.MotionModel.RotErrFromTrans = *config.RotErrFromTrans
	}
	if config.RotErrFromRot != nil {
		feConfig.MotionModel.RotErrFromRot = *config.RotErrFromRot
	}

	return feConfig
}
