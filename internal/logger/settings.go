package logger

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Log level constants
const (
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Log type constants
const (
	TypeConsole = "console"
	TypeFile    = "file"
)

// Settings selects the handler and its rotation limits.
type Settings struct {
	Level      string `yaml:"level" validate:"required,oneof=debug info warning error"`
	Type       string `yaml:"type" validate:"required,oneof=console file"`
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// DefaultSettings logs info and above to the console.
func DefaultSettings() Settings {
	return Settings{Level: LevelInfo, Type: TypeConsole}
}

// Validate checks the settings, including rotation bounds for file logs.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("validation failed for logger settings: %w", err)
	}
	if s.Type != TypeFile {
		return nil
	}
	if s.FilePath == "" {
		return fmt.Errorf("file path is required for file logger")
	}
	if s.MaxSize < 1 || s.MaxSize > 100 {
		return fmt.Errorf("max size must be between 1 and 100 MB")
	}
	if s.MaxBackups < 1 || s.MaxBackups > 10 {
		return fmt.Errorf("max backups must be between 1 and 10")
	}
	if s.MaxAge < 1 || s.MaxAge > 365 {
		return fmt.Errorf("max age must be between 1 and 365 days")
	}
	return nil
}
