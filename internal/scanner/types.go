// Package scanner discovers indexable files under a source path. It
// applies extension allowlists, glob exclusions, sensitive-file patterns,
// and a binary-content heuristic before a file ever reaches the chunker.
package scanner

import (
	"path/filepath"
	"strings"
	"time"
)

// ContentType represents the type of content in a file.
type ContentType string

const (
	// ContentTypeCode represents source code files.
	ContentTypeCode ContentType = "code"
	// ContentTypeMarkdown represents markdown documentation files.
	ContentTypeMarkdown ContentType = "markdown"
	// ContentTypeText represents plain text files.
	ContentTypeText ContentType = "text"
	// ContentTypeConfig represents structured configuration files.
	ContentTypeConfig ContentType = "config"
	// ContentTypeHTML represents HTML documents.
	ContentTypeHTML ContentType = "html"
)

// FileInfo contains metadata about a discovered file.
type FileInfo struct {
	Path        string      // Relative path to the scan root
	AbsPath     string      // Absolute path
	Size        int64       // File size in bytes
	ModTime     time.Time   // Last modification time
	ContentType ContentType // code, markdown, text, config, html
	Language    string      // go, typescript, python, etc.
}

// ScanOptions configures the scanner behavior.
type ScanOptions struct {
	// RootDir is the root directory to scan.
	RootDir string

	// Recursive controls whether subdirectories are descended into.
	// A non-recursive scan emits only the root's direct children.
	Recursive bool

	// IncludeExtensions is an extension allowlist (".md", ".go", ...).
	// Empty means every non-excluded, non-binary file is emitted.
	IncludeExtensions []string

	// ExcludePatterns specifies glob-style patterns to exclude, in
	// addition to the built-in defaults. Supports "dir/**", "**/name",
	// "*.ext" and exact-name forms.
	ExcludePatterns []string

	// MaxFileSize is the maximum file size to include in bytes
	// (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// IncludeHidden emits dotfiles and descends into dot-directories.
	IncludeHidden bool
}

// ScanResult is returned from the scanner channel. A per-entry Error never
// stops the scan; callers accumulate errors alongside discovered files.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// DefaultMaxFileSize is the default maximum file size (1MB). Larger files
// are almost never prose or code worth chunking whole.
const DefaultMaxFileSize = 1024 * 1024

// languageMap maps file extensions to languages for the code chunker.
var languageMap = map[string]string{
	".go":  "go",
	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".ts":  "typescript",
	".tsx": "tsx",
	".py":  "python",
	".pyw": "python",
	".pyi": "python",

	".html": "html",
	".htm":  "html",

	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",

	".md":       "markdown",
	".mdx":      "markdown",
	".markdown": "markdown",
	".txt":      "text",
	".rst":      "text",
}

// DetectLanguage returns the language for a file path, or "" if unknown.
func DetectLanguage(path string) string {
	return languageMap[strings.ToLower(filepath.Ext(path))]
}

// DetectContentType maps a detected language to a coarse content type.
func DetectContentType(language string) ContentType {
	switch language {
	case "markdown":
		return ContentTypeMarkdown
	case "text", "":
		return ContentTypeText
	case "json", "yaml", "toml":
		return ContentTypeConfig
	case "html":
		return ContentTypeHTML
	default:
		return ContentTypeCode
	}
}

// defaultExcludeDirs are directories never worth indexing.
var defaultExcludeDirs = []string{
	".git",
	".hg",
	".svn",
	"node_modules",
	"vendor",
	"__pycache__",
	".venv",
	"venv",
	"dist",
	"build",
	"target",
	".idea",
	".vscode",
}

// defaultExcludeFiles are file patterns never worth indexing.
var defaultExcludeFiles = []string{
	"*.min.js",
	"*.min.css",
	"*.map",
	"*.lock",
	"package-lock.json",
	"go.sum",
	"*.log",
}

// sensitiveFilePatterns are files that must never enter an index.
var sensitiveFilePatterns = []string{
	".env",
	".env*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"id_rsa",
	"id_ed25519",
	"credentials*",
	"*.secret",
}
