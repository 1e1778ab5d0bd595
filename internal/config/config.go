package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gitlab.com/tozd/go/errors"

	cerrors "github.com/hpungsan/chrono/internal/errors"
)

// Conflict policies accepted by DefaultPolicy.
const (
	PolicySkip      = "skip"
	PolicyOverwrite = "overwrite"
	PolicyRename    = "rename"
)

// Operation modes accepted by DefaultMode.
const (
	ModeMove = "move"
	ModeCopy = "copy"
)

// Error policies accepted by ErrorPolicy.
const (
	ErrorPolicyContinue = "continue"
	ErrorPolicyAbort    = "abort"
)

// Config holds application configuration.
type Config struct {
	// CaseInsensitive makes name rules ignore case for the whole run.
	CaseInsensitive bool `json:"case_insensitive,omitempty"`

	// DefaultPolicy is the conflict policy used when a run does not name one:
	// "skip", "overwrite" or "rename".
	DefaultPolicy string `json:"default_conflict_policy,omitempty"`

	// DefaultMode is "move" or "copy".
	DefaultMode string `json:"default_mode,omitempty"`

	// ErrorPolicy is "continue" (keep going after a failed entry) or "abort".
	ErrorPolicy string `json:"error_policy,omitempty"`

	// MaxSuffixAttempts bounds the name(1).ext, name(2).ext search.
	MaxSuffixAttempts int `json:"max_suffix_attempts"`

	// MaxUndoLevels bounds the number of records kept per session.
	// Oldest records are dropped first.
	MaxUndoLevels int `json:"max_undo_levels"`

	// Recursive makes scans descend into subdirectories.
	Recursive bool `json:"recursive,omitempty"`

	// IncludeHidden makes scans consider dotfiles.
	IncludeHidden bool `json:"include_hidden,omitempty"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty"`

	// LogFormat is "auto" (console on a terminal, JSON otherwise), "console" or "json".
	LogFormat string `json:"log_format,omitempty"`

	// AllowedPaths is an allowlist of directories for history export/import.
	// Paths outside ~/.chrono/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export/import.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of tool groups to disable entirely.
	// Known types: "organize", "history".
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultPolicy:     PolicySkip,
		DefaultMode:       ModeMove,
		ErrorPolicy:       ErrorPolicyContinue,
		MaxSuffixAttempts: 1000,
		MaxUndoLevels:     50,
		LogLevel:          "info",
		LogFormat:         "auto",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.chrono) and repo (.chrono) directories.
// Repo config is found by walking upward from startDir to find the nearest .chrono/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .chrono/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".chrono", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, errors.Errorf("read config %s: %w", configPath, err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, cerrors.NewInvalidConfig(configPath, "not valid JSON: "+err.Error())
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Validate rejects enum values and bounds the engine cannot use.
func (c *Config) Validate() error {
	switch c.DefaultPolicy {
	case PolicySkip, PolicyOverwrite, PolicyRename:
	default:
		return cerrors.NewInvalidConfig("default_conflict_policy", "must be skip, overwrite or rename")
	}
	switch c.DefaultMode {
	case ModeMove, ModeCopy:
	default:
		return cerrors.NewInvalidConfig("default_mode", "must be move or copy")
	}
	switch c.ErrorPolicy {
	case ErrorPolicyContinue, ErrorPolicyAbort:
	default:
		return cerrors.NewInvalidConfig("error_policy", "must be continue or abort")
	}
	switch c.LogFormat {
	case "auto", "console", "json":
	default:
		return cerrors.NewInvalidConfig("log_format", "must be auto, console or json")
	}
	if c.MaxSuffixAttempts < 1 {
		return cerrors.NewInvalidConfig("max_suffix_attempts", "must be at least 1")
	}
	if c.MaxUndoLevels < 1 {
		return cerrors.NewInvalidConfig("max_undo_levels", "must be at least 1")
	}
	return nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.DefaultPolicy = firstNonEmpty(overlay.DefaultPolicy, base.DefaultPolicy)
	result.DefaultMode = firstNonEmpty(overlay.DefaultMode, base.DefaultMode)
	result.ErrorPolicy = firstNonEmpty(overlay.ErrorPolicy, base.ErrorPolicy)
	result.LogLevel = firstNonEmpty(overlay.LogLevel, base.LogLevel)
	result.LogFormat = firstNonEmpty(overlay.LogFormat, base.LogFormat)

	result.MaxSuffixAttempts = firstNonZero(overlay.MaxSuffixAttempts, base.MaxSuffixAttempts)
	result.MaxUndoLevels = firstNonZero(overlay.MaxUndoLevels, base.MaxUndoLevels)
	result.DBMaxOpenConns = firstNonZero(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstNonZero(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Booleans: true in either layer wins
	result.CaseInsensitive = base.CaseInsensitive || overlay.CaseInsensitive
	result.Recursive = base.Recursive || overlay.Recursive
	result.IncludeHidden = base.IncludeHidden || overlay.IncludeHidden
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	var result []string
	for _, s := range slices.Concat(a, b) {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(result, s) {
			result = append(result, s)
		}
	}
	return result
}
