package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const defaultConfigPath = "~/.config/astrokeep/config.json"

// Config holds user-editable settings for the archive pipeline.
type Config struct {
	Logging Logging `json:"logging"`
	Paths   Paths   `json:"paths"`
	Cull    Cull    `json:"cull"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures the staged pipeline roots, calibration libraries and
// database locations. Values may contain %NAME% environment placeholders;
// Load expands them once, at the boundary.
type Paths struct {
	RawRoot        string `json:"raw_root"`
	DataRoot       string `json:"data_root"`
	CalibrationDir string `json:"calibration_dir"`
	BiasLibrary    string `json:"bias_library"`
	DarkLibrary    string `json:"dark_library"`
	FlatLibrary    string `json:"flat_library"`
	CSVDir         string `json:"csv_dir"`
	DatabasePath   string `json:"database_path"`
	SchedulerPath  string `json:"scheduler_path"`
}

// Cull holds default quality thresholds for the cull workflow.
type Cull struct {
	MaxHFR         float64 `json:"max_hfr"`
	MaxRMSArcsec   float64 `json:"max_rms_arcsec"`
	AutoYesPercent float64 `json:"auto_yes_percent"`
}

// Load reads configuration from disk, falling back to sensible defaults.
// Path fields have %NAME% placeholders expanded from the environment.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("ASTROKEEP_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		cfg.expandPaths()
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	cfg.expandPaths()
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			RawRoot:        "%Dropbox%/Astrophotography/RAW",
			DataRoot:       "%Dropbox%/Astrophotography/Data",
			CalibrationDir: filepath.Join(os.TempDir(), "PI_WBPP", DirCalibration),
			BiasLibrary:    "%Dropbox%/Astrophotography/Data/_Bias Library",
			DarkLibrary:    "%Dropbox%/Astrophotography/Data/_Dark Library",
			FlatLibrary:    "%Dropbox%/Astrophotography/Data/_Flats Stash",
			CSVDir:         "%Dropbox%/Astrophotography/Data",
			DatabasePath:   "%Dropbox%/Astrophotography/Data/astrophotography.sqlite",
			SchedulerPath:  "%LocalAppData%/NINA/SchedulerPlugin/schedulerdb.sqlite",
		},
		Cull: Cull{
			MaxHFR:         3.5,
			MaxRMSArcsec:   1.0,
			AutoYesPercent: 5.0,
		},
	}
}

func (c *Config) expandPaths() {
	p := &c.Paths
	for _, s := range []*string{
		&p.RawRoot, &p.DataRoot, &p.CalibrationDir,
		&p.BiasLibrary, &p.DarkLibrary, &p.FlatLibrary,
		&p.CSVDir, &p.DatabasePath, &p.SchedulerPath,
	} {
		*s = ExpandEnvVars(*s)
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
