package prototypes

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// ArtifactVersion is bumped whenever the on-disk layout changes
const ArtifactVersion = 1

// Persistence loads and saves a prototype set
type Persistence interface {
	Load() (*Set, error)
	Save(set *Set) error
}

// artifact is the on-disk layout: the tag list plus a row-major matrix of
// len(Tags) rows by Dim columns.
type artifact struct {
	Version    int         `msgpack:"version"`
	Model      string      `msgpack:"model"`
	Template   string      `msgpack:"template"`
	Dim        int         `msgpack:"dim"`
	Tags       []string    `msgpack:"tags"`
	Matrix     []float32   `msgpack:"matrix"`
	Projection *Projection `msgpack:"projection,omitempty"`
}

// FilePersistence stores the prototype set as a msgpack file
type FilePersistence struct {
	filepath string
}

var _ Persistence = (*FilePersistence)(nil)

// NewFilePersistence creates a file-based persistence handler
func NewFilePersistence(filepath string) *FilePersistence {
	return &FilePersistence{
		filepath: filepath,
	}
}

// Path returns the artifact location
func (f *FilePersistence) Path() string {
	return f.filepath
}

// Load reads and validates the artifact. A missing file is an error: the
// prototypes must be generated before they can be served.
func (f *FilePersistence) Load() (*Set, error) {
	data, err := os.ReadFile(f.filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prototypes from file %s: %w", f.filepath, err)
	}

	set, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode prototypes from file %s: %w", f.filepath, err)
	}
	return set, nil
}

// Save validates the set and writes it atomically, so a failed run never
// leaves a partially written artifact behind.
func (f *FilePersistence) Save(set *Set) error {
	data, err := Encode(set)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.filepath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".prototypes-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write prototypes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write prototypes: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.filepath); err != nil {
		return fmt.Errorf("failed to write prototypes to file %s: %w", f.filepath, err)
	}
	return nil
}

// Encode serializes a validated set
func Encode(set *Set) ([]byte, error) {
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to encode invalid prototype set: %w", err)
	}

	matrix := make([]float32, 0, len(set.Vectors)*set.Dim)
	for _, v := range set.Vectors {
		matrix = append(matrix, v...)
	}

	data, err := msgpack.Marshal(&artifact{
		Version:    ArtifactVersion,
		Model:      set.Model,
		Template:   set.Template,
		Dim:        set.Dim,
		Tags:       set.Tags,
		Matrix:     matrix,
		Projection: set.Projection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prototypes: %w", err)
	}
	return data, nil
}

// Decode parses and validates an artifact
func Decode(data []byte) (*Set, error) {
	var a artifact
	if err := msgpack.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prototypes: %w", err)
	}
	if a.Version != ArtifactVersion {
		return nil, fmt.Errorf("unsupported prototype artifact version %d", a.Version)
	}
	if a.Dim <= 0 || len(a.Matrix) != len(a.Tags)*a.Dim {
		return nil, fmt.Errorf("prototype matrix has %d values for %d tags of dimension %d",
			len(a.Matrix), len(a.Tags), a.Dim)
	}

	vectors := make([][]float32, len(a.Tags))
	for i := range vectors {
		vectors[i] = a.Matrix[i*a.Dim : (i+1)*a.Dim : (i+1)*a.Dim]
	}

	if a.Projection != nil {
		if err := a.Projection.init(); err != nil {
			return nil, err
		}
	}

	set := &Set{
		Tags:       a.Tags,
		Vectors:    vectors,
		Dim:        a.Dim,
		Model:      a.Model,
		Template:   a.Template,
		Projection: a.Projection,
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}
