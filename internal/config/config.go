package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/acpuchades/eegtools/internal/fsutil"
)

// EnvPath names the environment variable that points at a defaults file.
const EnvPath = "EEGTOOLS_CONFIG"

// Defaults holds user defaults for eeg-dipole. Every field is optional; nil
// means the built-in default, and command-line flags always win.
type Defaults struct {
	SubjectsDir *string `json:"subjects_dir,omitempty"`
	Subject     *string `json:"subject,omitempty"`
	Jobs        *int    `json:"jobs,omitempty"`
	LogLevel    *string `json:"log_level,omitempty"`
	LogFormat   *string `json:"log_format,omitempty"`
	Gzip        *bool   `json:"gzip,omitempty"`
	Method      *string `json:"method,omitempty"`
	HistoryDB   *string `json:"history_db,omitempty"`
}

// Load reads a Defaults file from fsys. The file must be JSON and under 1MB.
// Fields omitted from the file stay nil, so partial configs are safe.
func Load(fsys fsutil.FileSystem, path string) (*Defaults, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Defaults{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Resolve loads path, or the file named by $EEGTOOLS_CONFIG when path is
// empty. With neither set it returns empty Defaults.
func Resolve(fsys fsutil.FileSystem, path string) (*Defaults, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		return &Defaults{}, nil
	}
	return Load(fsys, path)
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"console", "json"}
	methods    = []string{"dSPM", "MNE", "sLORETA", "eLORETA"}
)

// Validate checks that the configuration values are valid.
func (c *Defaults) Validate() error {
	if c.LogLevel != nil && !slices.Contains(logLevels, *c.LogLevel) {
		return fmt.Errorf("log_level must be one of %v, got %q", logLevels, *c.LogLevel)
	}
	if c.LogFormat != nil && !slices.Contains(logFormats, *c.LogFormat) {
		return fmt.Errorf("log_format must be one of %v, got %q", logFormats, *c.LogFormat)
	}
	if c.Method != nil && !slices.Contains(methods, *c.Method) {
		return fmt.Errorf("method must be one of %v, got %q", methods, *c.Method)
	}
	if c.Subject != nil && *c.Subject == "" {
		return fmt.Errorf("subject must not be empty")
	}
	return nil
}

// GetSubjectsDir returns subjects_dir, falling back to $SUBJECTS_DIR.
func (c *Defaults) GetSubjectsDir() string {
	if c.SubjectsDir == nil || *c.SubjectsDir == "" {
		return os.Getenv("SUBJECTS_DIR")
	}
	return *c.SubjectsDir
}

// GetSubject returns the subject value or "".
func (c *Defaults) GetSubject() string {
	if c.Subject == nil {
		return ""
	}
	return *c.Subject
}

// GetJobs returns the jobs value or the default of one worker.
func (c *Defaults) GetJobs() int {
	if c.Jobs == nil {
		return 1
	}
	return *c.Jobs
}

// GetLogLevel returns the log_level value or "info".
func (c *Defaults) GetLogLevel() string {
	if c.LogLevel == nil {
		return "info"
	}
	return *c.LogLevel
}

// GetLogFormat returns the log_format value or "console".
func (c *Defaults) GetLogFormat() string {
	if c.LogFormat == nil {
		return "console"
	}
	return *c.LogFormat
}

// GetGzip returns the gzip value or the default.
func (c *Defaults) GetGzip() bool {
	if c.Gzip == nil {
		return false // default: uncompressed operator
	}
	return *c.Gzip
}

// GetMethod returns the method value or "dSPM".
func (c *Defaults) GetMethod() string {
	if c.Method == nil {
		return "dSPM"
	}
	return *c.Method
}

// GetHistoryDB returns the history_db value or "" (history disabled).
func (c *Defaults) GetHistoryDB() string {
	if c.HistoryDB == nil {
		return ""
	}
	return *c.HistoryDB
}
