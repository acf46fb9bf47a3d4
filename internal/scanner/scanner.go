package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/aman-cerp/hybridsearch/internal/corelog"
)

// Scanner discovers indexable files under a source path.
type Scanner struct{}

// New creates a Scanner.
func New() *Scanner {
	return &Scanner{}
}

// Scan walks opts.RootDir and emits one ScanResult per indexable file.
// The returned channel is closed when the walk finishes or ctx is
// cancelled. Per-entry errors are emitted on the channel and never stop
// the walk.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}

	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	results := make(chan ScanResult, 64)

	go func() {
		defer close(results)
		s.walk(ctx, absRoot, opts, maxFileSize, results)
	}()

	return results, nil
}

func (s *Scanner) walk(ctx context.Context, absRoot string, opts *ScanOptions, maxFileSize int64, results chan<- ScanResult) {
	log := corelog.Component("scanner")

	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			results <- ScanResult{Error: fmt.Errorf("walking %s: %w", path, err)}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, relErr := filepath.Rel(absRoot, path)
		if relErr != nil || relPath == "." {
			return nil
		}

		if d.IsDir() {
			if !opts.Recursive {
				return filepath.SkipDir
			}
			if !opts.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if s.shouldExcludeDir(relPath, opts) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if !opts.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if s.shouldExcludeFile(relPath, opts) {
			return nil
		}
		if len(opts.IncludeExtensions) > 0 && !matchesExtension(path, opts.IncludeExtensions) {
			return nil
		}

		fi, statErr := d.Info()
		if statErr != nil {
			results <- ScanResult{Error: fmt.Errorf("stat %s: %w", path, statErr)}
			return nil
		}
		if fi.Size() > maxFileSize {
			log.Debug("skipping oversized file", "path", relPath, "size", fi.Size())
			return nil
		}
		if fi.Size() > 0 && s.isBinaryFile(path) {
			log.Debug("skipping binary file", "path", relPath)
			return nil
		}

		language := DetectLanguage(path)
		results <- ScanResult{File: &FileInfo{
			Path:        relPath,
			AbsPath:     path,
			Size:        fi.Size(),
			ModTime:     fi.ModTime(),
			ContentType: DetectContentType(language),
			Language:    language,
		}}
		return nil
	})

	if err != nil && err != context.Canceled && !strings.Contains(err.Error(), "context canceled") {
		log.Warn("scan terminated", "error", err)
	}
}

// shouldExcludeDir checks if a directory should be skipped entirely.
func (s *Scanner) shouldExcludeDir(relPath string, opts *ScanOptions) bool {
	for _, pattern := range defaultExcludeDirs {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	return false
}

// shouldExcludeFile checks if a file should be excluded.
func (s *Scanner) shouldExcludeFile(relPath string, opts *ScanOptions) bool {
	baseName := filepath.Base(relPath)

	for _, pattern := range sensitiveFilePatterns {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}
	for _, pattern := range defaultExcludeFiles {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}
	return false
}

// matchesExtension reports whether path's extension is in the allowlist.
func matchesExtension(path string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, a := range allowed {
		if !strings.HasPrefix(a, ".") {
			a = "." + a
		}
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}

// matchDirPattern checks if a directory path matches a pattern.
func matchDirPattern(relPath, pattern string) bool {
	// **/name and **/name/** match the component anywhere in the path.
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		suffix = strings.TrimSuffix(suffix, "/**")
		for _, part := range strings.Split(relPath, string(filepath.Separator)) {
			if part == suffix {
				return true
			}
		}
		return false
	}

	// dir/** matches the directory itself and everything under it.
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+string(filepath.Separator))
	}

	return relPath == pattern || strings.HasPrefix(relPath, pattern+string(filepath.Separator))
}

// matchFilePattern checks if a file matches a pattern.
func matchFilePattern(baseName, relPath, pattern string) bool {
	// dir/** matches any file under the directory.
	if strings.HasSuffix(pattern, "/**") && !strings.HasPrefix(pattern, "**/") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return strings.HasPrefix(relPath, prefix+string(filepath.Separator))
	}

	// dir/glob.ext patterns with a directory component.
	if strings.Contains(pattern, string(filepath.Separator)) && strings.Contains(pattern, "*") && !strings.HasPrefix(pattern, "**/") {
		if filepath.Dir(relPath) == filepath.Dir(pattern) {
			matched, err := filepath.Match(filepath.Base(pattern), baseName)
			return err == nil && matched
		}
		return false
	}

	// **/glob matches by extension or component anywhere in the path.
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		if strings.HasPrefix(suffix, "*.") {
			return strings.HasSuffix(baseName, strings.TrimPrefix(suffix, "*"))
		}
		for _, part := range strings.Split(relPath, string(filepath.Separator)) {
			if part == suffix {
				return true
			}
		}
		return false
	}

	// *middle* contains-match.
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 2 {
		middle := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
		return strings.Contains(strings.ToLower(baseName), strings.ToLower(middle))
	}

	// .env* style prefix patterns.
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(pattern, ".") {
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	}

	// *suffix glob.
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(baseName, strings.TrimPrefix(pattern, "*"))
	}

	// prefix* glob.
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	}

	return baseName == pattern
}

// binarySampleSize is how much of a file the binary heuristic inspects.
const binarySampleSize = 8192

// isBinaryFile applies the binary-content heuristic: a NUL byte, invalid
// UTF-8, or a high-entropy byte distribution in the leading sample marks
// the file binary.
func (s *Scanner) isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, binarySampleSize)
	n, err := f.Read(buf)
	if err != nil || n == 0 {
		return false
	}
	sample := buf[:n]

	if bytes.ContainsRune(sample, 0) {
		return true
	}
	// Tolerate a truncated trailing rune at the sample boundary.
	trimmed := sample
	for len(trimmed) > 0 && !utf8.Valid(trimmed) {
		if r, _ := utf8.DecodeLastRune(trimmed); r == utf8.RuneError && len(trimmed) > len(sample)-utf8.UTFMax {
			trimmed = trimmed[:len(trimmed)-1]
			continue
		}
		return true
	}

	return shannonEntropy(sample) > 7.5
}

// shannonEntropy computes bits-per-byte entropy over the sample.
// Compressed or encrypted content sits near 8.0; text well below 6.0.
func shannonEntropy(sample []byte) float64 {
	if len(sample) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range sample {
		counts[b]++
	}
	total := float64(len(sample))
	var entropy float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
