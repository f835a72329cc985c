package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldBoard is the structured log field key for the job board tag.
	FieldBoard = "board"
	// FieldProvider is the structured log field key for the LLM provider name.
	FieldProvider = "provider"
	// FieldModel is the structured log field key for the LLM model identifier.
	FieldModel = "model"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// If the logger is nil or no fields are supplied, the input logger is returned
// unchanged, defaulting to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// WithBoard attaches the board tag to a scraper or bot logger.
func WithBoard(logger *zap.Logger, board string) *zap.Logger {
	return WithFields(logger, StringFields(StringField{Key: FieldBoard, Value: board})...)
}

// WithTailor attaches the LLM provider and model to a tailoring logger.
// Empty values are ignored to keep log entries compact when information is
// missing.
func WithTailor(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)...)
}
