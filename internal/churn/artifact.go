package churn

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"churn-service/internal/feature"
	"churn-service/prometheus"
)

// Artifact file names inside <dir>/<version>/.
const (
	metadataFile     = "metadata.json"
	modelFile        = "model.json"
	preprocessorFile = "preprocessor.json"
)

// Artifact is one loaded model version: classifier, fitted preprocessor and
// metadata. Read-only after load; shared across concurrent scoring calls.
type Artifact struct {
	Meta         Metadata
	Model        Model
	Preprocessor *Preprocessor
}

// Loader reads model artifacts from the filesystem and caches them by
// version. Loading is lazy; a version is read and validated at most once.
type Loader struct {
	dir string

	mu    sync.Mutex
	cache map[string]*Artifact
}

// NewLoader creates a loader rooted at the artifact directory.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: make(map[string]*Artifact)}
}

// Load returns the artifact for a version, reading it from disk on first use.
// The artifact's declared feature schema is validated against the feature
// engineer's current schema; a mismatch is a hard failure.
func (l *Loader) Load(version string) (*Artifact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if a, ok := l.cache[version]; ok {
		return a, nil
	}

	a, err := l.read(version)
	if err != nil {
		prometheus.RecordModelLoad(version, "error")
		return nil, err
	}

	prometheus.RecordModelLoad(version, "success")
	l.cache[version] = a
	return a, nil
}

func (l *Loader) read(version string) (*Artifact, error) {
	dir := filepath.Join(l.dir, version)

	var meta Metadata
	if err := readJSON(filepath.Join(dir, metadataFile), &meta); err != nil {
		return nil, err
	}

	if meta.FeatureSchema != feature.SchemaVersion {
		return nil, fmt.Errorf("%w: artifact %s trained on schema %q, current schema is %q",
			ErrSchemaMismatch, version, meta.FeatureSchema, feature.SchemaVersion)
	}
	if len(meta.FeatureNames) != len(feature.Names) {
		return nil, fmt.Errorf("%w: artifact %s expects %d features, schema has %d",
			ErrSchemaMismatch, version, len(meta.FeatureNames), len(feature.Names))
	}
	for i, name := range meta.FeatureNames {
		if name != feature.Names[i] {
			return nil, fmt.Errorf("%w: artifact %s expects %q at position %d, schema has %q",
				ErrSchemaMismatch, version, name, i, feature.Names[i])
		}
	}

	mdl, err := readModel(filepath.Join(dir, modelFile), meta.ModelType, len(meta.FeatureNames))
	if err != nil {
		return nil, err
	}

	pre := &Preprocessor{}
	if err := readJSON(filepath.Join(dir, preprocessorFile), pre); err != nil {
		return nil, err
	}
	if err := pre.validate(len(meta.FeatureNames)); err != nil {
		return nil, err
	}

	return &Artifact{Meta: meta, Model: mdl, Preprocessor: pre}, nil
}

func readModel(path, modelType string, featureCount int) (Model, error) {
	switch modelType {
	case ModelTypeLogistic:
		m := &logisticModel{}
		if err := readJSON(path, m); err != nil {
			return nil, err
		}
		if err := m.init(featureCount); err != nil {
			return nil, err
		}
		return m, nil
	case ModelTypeGradientBoosting:
		m := &boostedModel{}
		if err := readJSON(path, m); err != nil {
			return nil, err
		}
		if err := m.init(featureCount); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModelType, modelType)
	}
}

func readJSON(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArtifactCorrupt, path, err)
	}
	return nil
}
