// Package collection implements the isolation unit of the hybrid search
// core: a named collection owns its own vector store, lexical index, and
// document registry, and vectors/postings never cross collection boundaries.
package collection

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	coreerrors "github.com/aman-cerp/hybridsearch/internal/errors"
)

// NamePattern is the allowed collection name grammar.
var NamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_\-]{1,63}$`)

// ValidateName reports whether name satisfies the collection name grammar.
func ValidateName(name string) error {
	if !NamePattern.MatchString(name) {
		return coreerrors.ValidationError(
			fmt.Sprintf("invalid collection name %q: must match %s", name, NamePattern.String()), nil).
			WithDetail("name", name)
	}
	return nil
}

// Collection describes the isolation unit's identity and accounting.
type Collection struct {
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
	Dimension     int       `json:"dimension"`
	Metric        string    `json:"metric"`
	DocumentCount int       `json:"document_count"`
	VectorCount   int       `json:"vector_count"`
	SizeBytes     int64     `json:"size_bytes"`
}

// manifestFile is the on-disk shape of manifest.json, per the persisted
// state layout: one directory per collection containing manifest.json,
// vectors/, lexical/, docs.json, and operations.log.
type manifestFile struct {
	Name      string    `json:"name"`
	Dimension int       `json:"dimension"`
	Metric    string    `json:"metric"`
	CreatedAt time.Time `json:"created_at"`
}

func manifestPath(dir string) string {
	return filepath.Join(dir, "manifest.json")
}

func writeManifest(dir string, m manifestFile) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(manifestPath(dir), data, 0o644)
}

func readManifest(dir string) (manifestFile, bool, error) {
	data, err := os.ReadFile(manifestPath(dir))
	if os.IsNotExist(err) {
		return manifestFile{}, false, nil
	}
	if err != nil {
		return manifestFile{}, false, err
	}
	var m manifestFile
	if err := json.Unmarshal(data, &m); err != nil {
		return manifestFile{}, false, err
	}
	return m, true, nil
}
