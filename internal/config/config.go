package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/rescuebot/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical robot defaults file. It
// must stay in sync with Default.
const DefaultConfigPath = "config/robot.defaults.json"

// maxFileSize bounds config files read from disk.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root robot configuration.
type Config struct {
	Serial  SerialConfig  `json:"serial" yaml:"serial"`
	Vision  VisionConfig  `json:"vision" yaml:"vision"`
	Control ControlConfig `json:"control" yaml:"control"`
	Rescue  RescueConfig  `json:"rescue" yaml:"rescue"`
	Camera  CameraConfig  `json:"camera" yaml:"camera"`
}

// SerialConfig configures the link to the actuator controller.
type SerialConfig struct {
	Port              string                `json:"port" yaml:"port"`
	Options           serialmux.PortOptions `json:"options" yaml:"options"`
	ExchangeTimeout   Duration              `json:"exchange_timeout" yaml:"exchange_timeout"`
	HandshakeInterval Duration              `json:"handshake_interval" yaml:"handshake_interval"`
	// ClearDistance is reported for ultrasonic sensors that did not answer.
	ClearDistance float64 `json:"clear_distance" yaml:"clear_distance"`
}

// HSVRange is an inclusive OpenCV HSV range (H in 0..179, S and V in 0..255).
type HSVRange struct {
	Lower [3]int `json:"lower" yaml:"lower"`
	Upper [3]int `json:"upper" yaml:"upper"`
}

// VisionConfig holds the line perception parameters. Sizes are in pixels of
// the processed (low resolution) frame.
type VisionConfig struct {
	FrameWidth       int      `json:"frame_width" yaml:"frame_width"`
	FrameHeight      int      `json:"frame_height" yaml:"frame_height"`
	BlackThreshold   int      `json:"black_threshold" yaml:"black_threshold"`
	ErodeIterations  int      `json:"erode_iterations" yaml:"erode_iterations"`
	DilateIterations int      `json:"dilate_iterations" yaml:"dilate_iterations"`
	MinLineArea      float64  `json:"min_line_area" yaml:"min_line_area"`
	BottomRatio      float64  `json:"bottom_ratio" yaml:"bottom_ratio"`
	WideBottomPx     float64  `json:"wide_bottom_px" yaml:"wide_bottom_px"`
	FarDistancePx    float64  `json:"far_distance_px" yaml:"far_distance_px"`
	Green            HSVRange `json:"green" yaml:"green"`
	MinGreenArea     float64  `json:"min_green_area" yaml:"min_green_area"`
	Red              HSVRange `json:"red" yaml:"red"`
	MinRedArea       float64  `json:"min_red_area" yaml:"min_red_area"`
	// DebugEvery writes debug images every Nth frame when a debug
	// directory is configured.
	DebugEvery int `json:"debug_every" yaml:"debug_every"`
}

// ControlConfig holds line following and obstacle avoidance parameters.
// Speeds are offsets from the neutral motor command.
type ControlConfig struct {
	SteerGain          float64  `json:"steer_gain" yaml:"steer_gain"`
	BaseSpeed          float64  `json:"base_speed" yaml:"base_speed"`
	GapSpeed           int      `json:"gap_speed" yaml:"gap_speed"`
	LineLostDwell      Duration `json:"line_lost_dwell" yaml:"line_lost_dwell"`
	SnapshotMaxAge     Duration `json:"snapshot_max_age" yaml:"snapshot_max_age"`
	ObstacleDistance   float64  `json:"obstacle_distance" yaml:"obstacle_distance"`
	ReacquireArea      float64  `json:"reacquire_area" yaml:"reacquire_area"`
	TurnSpeed          int      `json:"turn_speed" yaml:"turn_speed"`
	CruiseSpeed        int      `json:"cruise_speed" yaml:"cruise_speed"`
	ArcOuterSpeed      int      `json:"arc_outer_speed" yaml:"arc_outer_speed"`
	ArcInnerSpeed      int      `json:"arc_inner_speed" yaml:"arc_inner_speed"`
	SwerveTurn         Duration `json:"swerve_turn" yaml:"swerve_turn"`
	SwerveForward      Duration `json:"swerve_forward" yaml:"swerve_forward"`
	BeaconApproach     Duration `json:"beacon_approach" yaml:"beacon_approach"`
	PivotDuration      Duration `json:"pivot_duration" yaml:"pivot_duration"`
	TurnAroundDuration Duration `json:"turn_around_duration" yaml:"turn_around_duration"`
}

// RescueConfig holds the rescue arena parameters. Offsets and areas are in
// pixels of the detector's input frame.
type RescueConfig struct {
	FrameWidth            int      `json:"frame_width" yaml:"frame_width"`
	DetectionMaxAge       Duration `json:"detection_max_age" yaml:"detection_max_age"`
	EntryWire             int      `json:"entry_wire" yaml:"entry_wire"`
	SweepStep             int      `json:"sweep_step" yaml:"sweep_step"`
	SweepPulse            Duration `json:"sweep_pulse" yaml:"sweep_pulse"`
	SilverTarget          int      `json:"silver_target" yaml:"silver_target"`
	SilverSweepLimit      int      `json:"silver_sweep_limit" yaml:"silver_sweep_limit"`
	BlackSweepLimit       int      `json:"black_sweep_limit" yaml:"black_sweep_limit"`
	ApproachGain          float64  `json:"approach_gain" yaml:"approach_gain"`
	DistanceGain          float64  `json:"distance_gain" yaml:"distance_gain"`
	CatchArea             float64  `json:"catch_area" yaml:"catch_area"`
	CatchCommandThreshold float64  `json:"catch_command_threshold" yaml:"catch_command_threshold"`
	RepositionOffset      float64  `json:"reposition_offset" yaml:"reposition_offset"`
	RepositionSpeed       int      `json:"reposition_speed" yaml:"reposition_speed"`
	RepositionPulse       Duration `json:"reposition_pulse" yaml:"reposition_pulse"`
	MaxReposition         int      `json:"max_reposition" yaml:"max_reposition"`
	BackoffSpeed          int      `json:"backoff_speed" yaml:"backoff_speed"`
	BackoffPulse          Duration `json:"backoff_pulse" yaml:"backoff_pulse"`
	NudgeSpeed            int      `json:"nudge_speed" yaml:"nudge_speed"`
	NudgePulse            Duration `json:"nudge_pulse" yaml:"nudge_pulse"`
	ReversePulse          Duration `json:"reverse_pulse" yaml:"reverse_pulse"`
	ArmDownAngle          int      `json:"arm_down_angle" yaml:"arm_down_angle"`
	ArmUpAngle            int      `json:"arm_up_angle" yaml:"arm_up_angle"`
	ArmSettle             Duration `json:"arm_settle" yaml:"arm_settle"`
	ReleaseArea           float64  `json:"release_area" yaml:"release_area"`
	ExitArea              float64  `json:"exit_area" yaml:"exit_area"`
	ExitPulse             Duration `json:"exit_pulse" yaml:"exit_pulse"`
}

// CameraControls enumerates the camera options the robot understands.
type CameraControls struct {
	AfMode          string  `json:"af_mode" yaml:"af_mode"`
	AfSpeed         string  `json:"af_speed,omitempty" yaml:"af_speed,omitempty"`
	LensPosition    float64 `json:"lens_position" yaml:"lens_position"`
	AeFlickerPeriod int     `json:"ae_flicker_period" yaml:"ae_flicker_period"`
	AeMeteringMode  string  `json:"ae_metering_mode" yaml:"ae_metering_mode"`
	AwbEnable       bool    `json:"awb_enable" yaml:"awb_enable"`
	AwbMode         string  `json:"awb_mode" yaml:"awb_mode"`
	HdrMode         string  `json:"hdr_mode" yaml:"hdr_mode"`
}

// CameraConfig selects and configures the two cameras.
type CameraConfig struct {
	LineDevice     int            `json:"line_device" yaml:"line_device"`
	RescueDevice   int            `json:"rescue_device" yaml:"rescue_device"`
	Width          int            `json:"width" yaml:"width"`
	Height         int            `json:"height" yaml:"height"`
	FPS            float64        `json:"fps" yaml:"fps"`
	LineControls   CameraControls `json:"line_controls" yaml:"line_controls"`
	RescueControls CameraControls `json:"rescue_controls" yaml:"rescue_controls"`
}

func ms(n int) Duration { return Duration(time.Duration(n) * time.Millisecond) }

// Default returns the built-in configuration. config/robot.defaults.json
// carries the same values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:              "/dev/ttyUSB0",
			Options:           serialmux.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
			ExchangeTimeout:   ms(100),
			HandshakeInterval: ms(1000),
			ClearDistance:     999,
		},
		Vision: VisionConfig{
			FrameWidth:       320,
			FrameHeight:      180,
			BlackThreshold:   95,
			ErodeIterations:  2,
			DilateIterations: 3,
			MinLineArea:      100,
			BottomRatio:      0.95,
			WideBottomPx:     20,
			FarDistancePx:    30,
			Green:            HSVRange{Lower: [3]int{35, 60, 0}, Upper: [3]int{85, 255, 255}},
			MinGreenArea:     200,
			Red:              HSVRange{Lower: [3]int{130, 160, 0}, Upper: [3]int{179, 255, 255}},
			MinRedArea:       20,
			DebugEvery:       15,
		},
		Control: ControlConfig{
			SteerGain:          500,
			BaseSpeed:          250,
			GapSpeed:           120,
			LineLostDwell:      ms(3000),
			SnapshotMaxAge:     ms(500),
			ObstacleDistance:   8,
			ReacquireArea:      400,
			TurnSpeed:          300,
			CruiseSpeed:        200,
			ArcOuterSpeed:      250,
			ArcInnerSpeed:      60,
			SwerveTurn:         ms(600),
			SwerveForward:      ms(1000),
			BeaconApproach:     ms(300),
			PivotDuration:      ms(800),
			TurnAroundDuration: ms(1600),
		},
		Rescue: RescueConfig{
			FrameWidth:            640,
			DetectionMaxAge:       ms(1000),
			EntryWire:             0,
			SweepStep:             30,
			SweepPulse:            ms(350),
			SilverTarget:          2,
			SilverSweepLimit:      360,
			BlackSweepLimit:       720,
			ApproachGain:          0.8,
			DistanceGain:          6,
			CatchArea:             9000,
			CatchCommandThreshold: 40,
			RepositionOffset:      30,
			RepositionSpeed:       150,
			RepositionPulse:       ms(150),
			MaxReposition:         5,
			BackoffSpeed:          200,
			BackoffPulse:          ms(500),
			NudgeSpeed:            150,
			NudgePulse:            ms(400),
			ReversePulse:          ms(300),
			ArmDownAngle:          110,
			ArmUpAngle:            10,
			ArmSettle:             ms(600),
			ReleaseArea:           20000,
			ExitArea:              15000,
			ExitPulse:             ms(1000),
		},
		Camera: CameraConfig{
			LineDevice:   0,
			RescueDevice: 1,
			Width:        320,
			Height:       180,
			FPS:          30,
			LineControls: CameraControls{
				AfMode:          "Manual",
				LensPosition:    1.0 / 0.03,
				AeFlickerPeriod: 10000,
				AeMeteringMode:  "Matrix",
				AwbEnable:       false,
				AwbMode:         "Indoor",
				HdrMode:         "Night",
			},
			RescueControls: CameraControls{
				AfMode:          "Continuous",
				AfSpeed:         "Fast",
				AeFlickerPeriod: 10000,
				AeMeteringMode:  "Matrix",
				AwbEnable:       true,
				AwbMode:         "Indoor",
				HdrMode:         "Off",
			},
		},
	}
}

// Load reads a JSON or YAML config file. Fields omitted from the file keep
// their default values, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent
// directories. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/perception/cvline/
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func checkRange(name string, r HSVRange) error {
	maxes := [3]int{179, 255, 255}
	for i := range 3 {
		if r.Lower[i] < 0 || r.Upper[i] > maxes[i] {
			return fmt.Errorf("%s channel %d out of range 0..%d", name, i, maxes[i])
		}
		if r.Lower[i] > r.Upper[i] {
			return fmt.Errorf("%s channel %d lower bound %d exceeds upper bound %d", name, i, r.Lower[i], r.Upper[i])
		}
	}
	return nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial.port must be set")
	}
	if _, err := c.Serial.Options.Normalise(); err != nil {
		return fmt.Errorf("serial.options: %w", err)
	}
	if c.Serial.ExchangeTimeout <= 0 || c.Serial.HandshakeInterval <= 0 {
		return fmt.Errorf("serial timeouts must be positive")
	}
	if c.Serial.ClearDistance <= 0 {
		return fmt.Errorf("serial.clear_distance must be positive, got %g", c.Serial.ClearDistance)
	}

	v := c.Vision
	if v.FrameWidth <= 0 || v.FrameHeight <= 0 {
		return fmt.Errorf("vision frame size must be positive, got %dx%d", v.FrameWidth, v.FrameHeight)
	}
	if v.BlackThreshold < 0 || v.BlackThreshold > 255 {
		return fmt.Errorf("vision.black_threshold must be between 0 and 255, got %d", v.BlackThreshold)
	}
	if v.ErodeIterations < 0 || v.DilateIterations < 0 {
		return fmt.Errorf("vision erode/dilate iterations must be non-negative")
	}
	if v.BottomRatio <= 0 || v.BottomRatio > 1 {
		return fmt.Errorf("vision.bottom_ratio must be in (0, 1], got %g", v.BottomRatio)
	}
	if v.MinLineArea < 0 || v.MinGreenArea < 0 || v.MinRedArea < 0 {
		return fmt.Errorf("vision minimum areas must be non-negative")
	}
	if err := checkRange("vision.green", v.Green); err != nil {
		return err
	}
	if err := checkRange("vision.red", v.Red); err != nil {
		return err
	}
	if v.DebugEvery <= 0 {
		return fmt.Errorf("vision.debug_every must be positive, got %d", v.DebugEvery)
	}

	ctl := c.Control
	if ctl.LineLostDwell <= 0 {
		return fmt.Errorf("control.line_lost_dwell must be positive")
	}
	if ctl.SnapshotMaxAge <= 0 {
		return fmt.Errorf("control.snapshot_max_age must be positive")
	}
	if ctl.BaseSpeed < 0 || ctl.BaseSpeed > 500 {
		return fmt.Errorf("control.base_speed must be between 0 and 500, got %g", ctl.BaseSpeed)
	}

	r := c.Rescue
	if r.FrameWidth <= 0 {
		return fmt.Errorf("rescue.frame_width must be positive, got %d", r.FrameWidth)
	}
	if r.SweepStep <= 0 {
		return fmt.Errorf("rescue.sweep_step must be positive, got %d", r.SweepStep)
	}
	if r.SilverSweepLimit <= 0 || r.BlackSweepLimit < r.SilverSweepLimit {
		return fmt.Errorf("rescue sweep limits must satisfy 0 < silver (%d) <= black (%d)", r.SilverSweepLimit, r.BlackSweepLimit)
	}
	if r.MaxReposition <= 0 {
		return fmt.Errorf("rescue.max_reposition must be positive, got %d", r.MaxReposition)
	}
	if r.CatchArea <= 0 || r.ReleaseArea <= 0 || r.ExitArea <= 0 {
		return fmt.Errorf("rescue areas must be positive")
	}
	if r.EntryWire < 0 || r.EntryWire > 9 {
		return fmt.Errorf("rescue.entry_wire must be a single digit, got %d", r.EntryWire)
	}

	cam := c.Camera
	if cam.LineDevice < 0 || cam.RescueDevice < 0 {
		return fmt.Errorf("camera device indices must be non-negative")
	}
	if cam.LineDevice == cam.RescueDevice {
		return fmt.Errorf("camera.line_device and camera.rescue_device must be different, both %d", cam.LineDevice)
	}
	return nil
}

// Summary renders the settings worth logging at startup.
func (c *Config) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "serial %s %s exchange=%s\n", c.Serial.Port, c.Serial.Options, c.Serial.ExchangeTimeout)
	fmt.Fprintf(&b, "cameras line=%d rescue=%d %dx%d@%g\n", c.Camera.LineDevice, c.Camera.RescueDevice, c.Camera.Width, c.Camera.Height, c.Camera.FPS)
	fmt.Fprintf(&b, "vision threshold=%d min_line=%g min_green=%g min_red=%g\n", c.Vision.BlackThreshold, c.Vision.MinLineArea, c.Vision.MinGreenArea, c.Vision.MinRedArea)
	fmt.Fprintf(&b, "control steer_gain=%g base_speed=%g line_lost_dwell=%s", c.Control.SteerGain, c.Control.BaseSpeed, c.Control.LineLostDwell)
	return b.String()
}
