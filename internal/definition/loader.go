package definition

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader scans directories for YAML seed files, parses them, and
// computes SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new seed Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and
// parses each into a SeedFile. Files are returned in walk order, which
// is lexical within each directory.
func (l *Loader) LoadAll(directories []string) ([]SeedFile, error) {
	var seeds []SeedFile

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			seed, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			seeds = append(seeds, seed)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return seeds, nil
}

// LoadFile loads and parses a single YAML seed file. It computes the
// SHA-256 checksum and records the source file path.
func (l *Loader) LoadFile(path string) (SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return SeedFile{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	seed.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	seed.SourceFile = path

	return seed, nil
}
