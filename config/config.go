// Package config loads and saves Sentinel's persisted configuration
// document. Grounded on LanternOps-breeze's
// apps/agent/internal/config/config.go (package-level viper instance,
// AddConfigPath/AutomaticEnv/Unmarshal-into-struct shape) adapted to a
// JSON-shaped document (spec.md §6) with dual legacy key names accepted
// on read and a single canonical name written back out (DESIGN.md Open
// Question 3).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ROI is the on-disk region-of-interest shape, accepted in any of the
// three forms spec.md §6 lists: {left,top,right,bottom}, [l,t,r,b], or
// {x,y,w,h}.
type ROI struct {
	Left, Top, Right, Bottom int
}

// FinderStrategies enables/disables each of the five SmartTargetFinder
// search strategies by name.
type FinderStrategies struct {
	ProcessName bool `mapstructure:"process_name"`
	ProcessPath bool `mapstructure:"process_path"`
	WindowTitle bool `mapstructure:"window_title"`
	ClassName   bool `mapstructure:"class_name"`
	FuzzyMatch  bool `mapstructure:"fuzzy_match"`
}

// Config is Sentinel's full persisted document, covering target
// resolution, capture session tuning, matching, clicking, and the
// smart-finder recovery policy.
type Config struct {
	TargetHwnd              uintptr `mapstructure:"target_hwnd"`
	TargetProcess           string  `mapstructure:"target_process"`
	ProcessPartialMatch     bool    `mapstructure:"process_partial_match"`
	TargetWindowTitle       string  `mapstructure:"target_window_title"`
	WindowTitlePartialMatch bool    `mapstructure:"window_title_partial_match"`

	UseMonitor   bool `mapstructure:"use_monitor"`
	MonitorIndex int  `mapstructure:"monitor_index"`

	FPSMax                       int  `mapstructure:"fps_max"`
	IncludeCursor                bool `mapstructure:"include_cursor"`
	ScreenBorderRequired         bool `mapstructure:"screen_border_required"`
	WindowBorderRequired         bool `mapstructure:"window_border_required"`
	RestoreMinimizedAfterCapture bool `mapstructure:"restore_minimized_after_capture"`

	TemplatePaths []string `mapstructure:"template_paths"`
	Threshold     float64  `mapstructure:"threshold"`
	Grayscale     bool     `mapstructure:"grayscale"`
	ROI           *ROI     `mapstructure:"-"`

	IntervalMs   int `mapstructure:"interval_ms"`
	ClickOffsetX int `mapstructure:"click_offset_x"`
	ClickOffsetY int `mapstructure:"click_offset_y"`
	ClickDelayMs int `mapstructure:"click_delay_ms"`

	EnhancedWindowFinding    bool `mapstructure:"enhanced_window_finding"`
	VerifyWindowBeforeClick bool `mapstructure:"verify_window_before_click"`
	SendMouseMoveBeforeClick bool `mapstructure:"send_mousemove_before_click"`
	DebugMode                bool `mapstructure:"debug_mode"`

	SmartFinderBaseInterval float64 `mapstructure:"smart_finder_base_interval"`
	SmartFinderMinInterval  float64 `mapstructure:"smart_finder_min_interval"`
	SmartFinderMaxInterval  float64 `mapstructure:"smart_finder_max_interval"`

	EnableAutoRecovery  bool    `mapstructure:"enable_auto_recovery"`
	MaxRecoveryAttempts int     `mapstructure:"max_recovery_attempts"`
	RecoveryCooldown    float64 `mapstructure:"recovery_cooldown"`

	FinderStrategies FinderStrategies `mapstructure:"finder_strategies"`
}

// dualNameAliases maps each legacy/alternate key name to the canonical
// name Save() always writes. Registered on the shared viper instance so
// either spelling is readable.
var dualNameAliases = map[string]string{
	"target_fps": "fps_max",
	"cooldown_s": "click_delay_ms",
	"template_path": "template_paths",
}

// DefaultConfig returns the documented defaults for every tunable.
func DefaultConfig() *Config {
	return &Config{
		ProcessPartialMatch:          true,
		FPSMax:                       30,
		Threshold:                    0.85,
		Grayscale:                    false,
		IntervalMs:                   100,
		ClickDelayMs:                 300,
		EnhancedWindowFinding:        true,
		VerifyWindowBeforeClick:      true,
		SmartFinderBaseInterval:      1.0,
		SmartFinderMinInterval:       0.5,
		SmartFinderMaxInterval:       30.0,
		EnableAutoRecovery:           true,
		MaxRecoveryAttempts:          5,
		RecoveryCooldown:             10.0,
		FinderStrategies: FinderStrategies{
			ProcessName: true,
			ProcessPath: true,
			WindowTitle: true,
			ClassName:   true,
			FuzzyMatch:  true,
		},
	}
}

// Load reads the config file (JSON) plus environment overrides
// (SENTINEL_ prefix) from path, falling back to defaults for anything
// absent. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("SENTINEL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	// Registered after the file is read: RegisterAlias moves a value
	// already stored under the alias name over to the canonical key.
	for alias, canonical := range dualNameAliases {
		v.RegisterAlias(alias, canonical)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.ROI = parseROI(v.Get("roi"))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as JSON, using only canonical key names.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")

	v.Set("target_hwnd", c.TargetHwnd)
	v.Set("target_process", c.TargetProcess)
	v.Set("process_partial_match", c.ProcessPartialMatch)
	v.Set("target_window_title", c.TargetWindowTitle)
	v.Set("window_title_partial_match", c.WindowTitlePartialMatch)
	v.Set("use_monitor", c.UseMonitor)
	v.Set("monitor_index", c.MonitorIndex)
	v.Set("fps_max", c.FPSMax)
	v.Set("include_cursor", c.IncludeCursor)
	v.Set("screen_border_required", c.ScreenBorderRequired)
	v.Set("window_border_required", c.WindowBorderRequired)
	v.Set("restore_minimized_after_capture", c.RestoreMinimizedAfterCapture)
	v.Set("template_paths", c.TemplatePaths)
	v.Set("threshold", c.Threshold)
	v.Set("grayscale", c.Grayscale)
	if c.ROI != nil {
		v.Set("roi", map[string]int{
			"left": c.ROI.Left, "top": c.ROI.Top,
			"right": c.ROI.Right, "bottom": c.ROI.Bottom,
		})
	}
	v.Set("interval_ms", c.IntervalMs)
	v.Set("click_offset_x", c.ClickOffsetX)
	v.Set("click_offset_y", c.ClickOffsetY)
	v.Set("click_delay_ms", c.ClickDelayMs)
	v.Set("enhanced_window_finding", c.EnhancedWindowFinding)
	v.Set("verify_window_before_click", c.VerifyWindowBeforeClick)
	v.Set("send_mousemove_before_click", c.SendMouseMoveBeforeClick)
	v.Set("debug_mode", c.DebugMode)
	v.Set("smart_finder_base_interval", c.SmartFinderBaseInterval)
	v.Set("smart_finder_min_interval", c.SmartFinderMinInterval)
	v.Set("smart_finder_max_interval", c.SmartFinderMaxInterval)
	v.Set("enable_auto_recovery", c.EnableAutoRecovery)
	v.Set("max_recovery_attempts", c.MaxRecoveryAttempts)
	v.Set("recovery_cooldown", c.RecoveryCooldown)
	v.Set("finder_strategies", map[string]bool{
		"process_name": c.FinderStrategies.ProcessName,
		"process_path": c.FinderStrategies.ProcessPath,
		"window_title": c.FinderStrategies.WindowTitle,
		"class_name":   c.FinderStrategies.ClassName,
		"fuzzy_match":  c.FinderStrategies.FuzzyMatch,
	})

	return v.WriteConfigAs(path)
}

// Validate clamps tunables to the ranges spec.md §6 requires (fps_max in
// [1,60], interval_ms floored at 1ms even when the file says 0, threshold
// in (0,1]).
func (c *Config) Validate() error {
	if c.FPSMax <= 0 {
		c.FPSMax = 30
	}
	if c.FPSMax > 60 {
		c.FPSMax = 60
	}
	if c.IntervalMs < 1 {
		c.IntervalMs = 1
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = 0.85
	}
	if c.MaxRecoveryAttempts <= 0 {
		c.MaxRecoveryAttempts = 5
	}
	return nil
}

// parseROI accepts any of the three on-disk ROI shapes spec.md §6 lists;
// an unrecognized or absent value yields nil (no ROI restriction).
func parseROI(raw any) *ROI {
	switch v := raw.(type) {
	case map[string]any:
		if left, ok := numField(v, "left"); ok {
			top, _ := numField(v, "top")
			right, _ := numField(v, "right")
			bottom, _ := numField(v, "bottom")
			return &ROI{Left: left, Top: top, Right: right, Bottom: bottom}
		}
		if x, ok := numField(v, "x"); ok {
			y, _ := numField(v, "y")
			w, _ := numField(v, "w")
			h, _ := numField(v, "h")
			return &ROI{Left: x, Top: y, Right: x + w, Bottom: y + h}
		}
		return nil
	case []any:
		if len(v) != 4 {
			return nil
		}
		vals := make([]int, 4)
		for i, e := range v {
			n, ok := toInt(e)
			if !ok {
				return nil
			}
			vals[i] = n
		}
		return &ROI{Left: vals[0], Top: vals[1], Right: vals[2], Bottom: vals[3]}
	default:
		return nil
	}
}

func numField(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	return toInt(v)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
