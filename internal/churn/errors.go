package churn

import "errors"

var (
	// ErrArtifactNotFound is returned when the model artifact directory or
	// one of its files is missing.
	ErrArtifactNotFound = errors.New("model artifact not found")

	// ErrArtifactCorrupt is returned when an artifact file exists but cannot
	// be decoded or is internally inconsistent.
	ErrArtifactCorrupt = errors.New("model artifact corrupt")

	// ErrSchemaMismatch is returned when the artifact's training feature
	// schema does not match the feature engineer's current schema. Scoring
	// would silently misread the vector, so this is fatal, never zero-filled.
	ErrSchemaMismatch = errors.New("feature schema mismatch")

	// ErrUnknownModelType is returned when the artifact metadata names a
	// model family this build does not implement.
	ErrUnknownModelType = errors.New("unknown model type")
)
