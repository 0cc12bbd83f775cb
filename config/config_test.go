package config

import (
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"
	"go.viam.com/utils"
)

func ptrFloat(v float64) *float64 { return &v }
func ptrBool(v bool) *bool        { return &v }
func ptrInt(v int) *int           { return &v }

func validConfig() Config {
	return Config{
		Camera:         "lidar",
		MovementSensor: "odometer",
		DataDirectory:  "path",
	}
}

func TestValidate(t *testing.T) {
	testConfigPath := "services.slam.attributes.fake"

	t.Run("valid minimal config returns dependencies", func(t *testing.T) {
		cfg := validConfig()
		deps, err := cfg.Validate(testConfigPath)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, deps, test.ShouldResemble, []string{"lidar", "odometer"})
	})

	t.Run("missing camera", func(t *testing.T) {
		cfg := validConfig()
		cfg.Camera = ""
		_, err := cfg.Validate(testConfigPath)
		test.That(t, err, test.ShouldBeError,
			utils.NewConfigValidationFieldRequiredError(testConfigPath, "camera"))
	})

	t.Run("missing movement sensor", func(t *testing.T) {
		cfg := validConfig()
		cfg.MovementSensor = ""
		_, err := cfg.Validate(testConfigPath)
		test.That(t, err, test.ShouldBeError,
			utils.NewConfigValidationFieldRequiredError(testConfigPath, "movement_sensor"))
	})

	t.Run("missing data dir", func(t *testing.T) {
		cfg := validConfig()
		cfg.DataDirectory = ""
		_, err := cfg.Validate(testConfigPath)
		test.That(t, err, test.ShouldBeError,
			utils.NewConfigValidationFieldRequiredError(testConfigPath, "data_dir"))
	})

	t.Run("negative frequency", func(t *testing.T) {
		cfg := validConfig()
		cfg.LidarFrequencyHz = -1
		_, err := cfg.Validate(testConfigPath)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "lidar_data_frequency_hz")
	})

	t.Run("non-positive admission thresholds", func(t *testing.T) {
		cfg := validConfig()
		cfg.MinTransDiffMeters = ptrFloat(0)
		_, err := cfg.Validate(testConfigPath)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "min_trans_diff_meters")

		cfg = validConfig()
		cfg.MinAngleDiffRads = ptrFloat(-0.1)
		_, err = cfg.Validate(testConfigPath)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "min_angle_diff_rads")
	})

	t.Run("negative max factors", func(t *testing.T) {
		cfg := validConfig()
		cfg.MaxFactorsPerNode = ptrInt(-1)
		_, err := cfg.Validate(testConfigPath)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "max_factors_per_node")
	})

	t.Run("non-positive prior std", func(t *testing.T) {
		cfg := validConfig()
		cfg.NewNodeThetaStd = ptrFloat(0)
		_, err := cfg.Validate(testConfigPath)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "new_node_theta_std")
	})
}

func TestGetOptionalParameters(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("all defaults", func(t *testing.T) {
		cfg := validConfig()
		feConfig := GetOptionalParameters(&cfg, logger)
		test.That(t, feConfig.MinTransDiff, test.ShouldEqual, DefaultMinTransDiffMeters)
		test.That(t, feConfig.MinAngleDiff, test.ShouldEqual, DefaultMinAngleDiffRads)
		test.That(t, feConfig.NonSuccessiveConstraints, test.ShouldBeTrue)
		test.That(t, feConfig.MaxFactorsPerNode, test.ShouldEqual, DefaultNonSuccessiveMaxFactors)
		test.That(t, feConfig.MaxNodeDist, test.ShouldEqual, DefaultMaxNodeDistMeters)
		test.That(t, feConfig.ConsiderOdomConstraint, test.ShouldBeTrue)
		test.That(t, feConfig.SensorOffset.X, test.ShouldEqual, DefaultSensorOffsetXMeters)
		test.That(t, feConfig.SensorOffset.Y, test.ShouldEqual, DefaultSensorOffsetYMeters)
		test.That(t, feConfig.PriorXStd, test.ShouldEqual, DefaultNewNodeXStd)
		test.That(t, feConfig.MotionModel.TransErrFromTrans, test.ShouldEqual, DefaultTransErrFromTrans)
	})

	t.Run("explicit values override defaults", func(t *testing.T) {
		cfg := validConfig()
		cfg.MinTransDiffMeters = ptrFloat(0.5)
		cfg.MinAngleDiffRads = ptrFloat(0.3)
		cfg.NonSuccessiveConstraints = ptrBool(false)
		cfg.MaxFactorsPerNode = ptrInt(7)
		cfg.MaxNodeDistMeters = ptrFloat(2.5)
		cfg.ConsiderOdomConstraint = ptrBool(false)
		cfg.SensorOffsetXMeters = ptrFloat(0.1)
		cfg.SensorOffsetYMeters = ptrFloat(-0.05)
		cfg.NewNodeThetaStd = ptrFloat(0.02)
		cfg.RotErrFromRot = ptrFloat(0.4)

		feConfig := GetOptionalParameters(&cfg, logger)
		test.That(t, feConfig.MinTransDiff, test.ShouldEqual, 0.5)
		test.That(t, feConfig.MinAngleDiff, test.ShouldEqual, 0.3)
		test.That(t, feConfig.NonSuccessiveConstraints, test.ShouldBeFalse)
		test.That(t, feConfig.MaxFactorsPerNode, test.ShouldEqual, 7)
		test.That(t, feConfig.MaxNodeDist, test.ShouldEqual, 2.5)
		test.That(t, feConfig.ConsiderOdomConstraint, test.ShouldBeFalse)
		test.That(t, feConfig.SensorOffset.X, test.ShouldEqual, 0.1)
		test.That(t, feConfig.SensorOffset.Y, test.ShouldEqual, -0.05)
		test.That(t, feConfig.PriorThetaStd, test.ShouldEqual, 0.02)
		test.That(t, feConfig.MotionModel.RotErrFromRot, test.ShouldEqual, 0.4)
	})
}
