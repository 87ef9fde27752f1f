package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownFileType indicates a file_types key outside the recognized set.
	ErrUnknownFileType = errors.New("unknown file type")

	// ErrInvalidMaxFileSize indicates a non-positive max_file_size.
	ErrInvalidMaxFileSize = errors.New("invalid max_file_size")

	// ErrInvalidDimensions indicates invalid embedding dimensions.
	ErrInvalidDimensions = errors.New("invalid embedding dimensions")

	// ErrEmptyEndpoint indicates a missing embedding endpoint.
	ErrEmptyEndpoint = errors.New("empty embedding endpoint")
)

var recognizedFileTypes = map[string]bool{
	"pdf": true, "txt": true, "md": true, "docx": true, "doc": true,
	"rtf": true, "csv": true, "tsv": true, "xlsx": true, "xls": true, "xlsm": true,
}

// Validate checks that the configuration is valid and complete.
func Validate(cfg *Config) error {
	var errs []error

	if err := validateFileTypes(cfg.FileTypes); err != nil {
		errs = append(errs, err)
	}

	if cfg.MaxFileSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("%w: must be positive, got %d", ErrInvalidMaxFileSize, cfg.MaxFileSizeMB))
	}

	if err := validateEmbedding(&cfg.Embedding); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}

	return nil
}

func validateFileTypes(fileTypes map[string]bool) error {
	var errs []error
	for key := range fileTypes {
		if !recognizedFileTypes[strings.ToLower(key)] {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownFileType, key))
		}
	}
	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

func validateEmbedding(cfg *EmbeddingConfig) error {
	var errs []error

	if cfg.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("%w: dimensions must be positive, got %d", ErrInvalidDimensions, cfg.Dimensions))
	}

	if strings.TrimSpace(cfg.Endpoint) == "" {
		errs = append(errs, fmt.Errorf("%w: endpoint is required", ErrEmptyEndpoint))
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}

	return nil
}

// joinErrors combines multiple errors into a single error with clear formatting.
func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	if len(errs) == 1 {
		return errs[0]
	}

	var msgs []string
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}

	return fmt.Errorf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}
