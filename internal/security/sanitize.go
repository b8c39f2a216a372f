// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/unicode/norm"

	"github.com/campusevents/sectoolkit/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// Upload size defaults.
const (
	DefaultMaxImageBytes    int64 = 5 * 1024 * 1024
	DefaultMaxDocumentBytes int64 = 10 * 1024 * 1024
)

// MaxFilenameStem is the longest filename stem SanitizeFilename keeps, in runes.
const MaxFilenameStem = 50

// UnnamedFile replaces filenames that sanitize to nothing.
const UnnamedFile = "unnamed_file"

// UploadCategory selects the extension whitelist and size limit for an upload.
type UploadCategory string

const (
	UploadImage    UploadCategory = "image"
	UploadDocument UploadCategory = "document"
)

var (
	allowedImageExtensions    = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}
	allowedDocumentExtensions = []string{".pdf", ".doc", ".docx", ".txt", ".csv"}
)

// =============================================================================
// PATTERNS
// =============================================================================

// xssPatterns are removed before SQL fragments so script bodies go as a whole.
var xssPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>.*?</script\s*>`),
	regexp.MustCompile(`(?i)</?script[^>]*>`),
	regexp.MustCompile(`(?i)(javascript|vbscript)\s*:`),
	regexp.MustCompile(`(?i)\bon\w+\s*=`),
	regexp.MustCompile(`(?i)</?(iframe|object|embed)[^>]*>`),
}

var sqlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|EXEC|EXECUTE|UNION)\b`),
	regexp.MustCompile(`--|;|/\*|\*/`),
	regexp.MustCompile(`(?i)\b(OR|AND)\b\s+('?\w+'?)\s*=\s*('?\w+'?)`),
	regexp.MustCompile(`(?i)'\s*(OR|AND)\s*'`),
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var unsafeFilenameChars = regexp.MustCompile(`[^\p{L}\p{N}_\s.-]`)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
)

// =============================================================================
// INPUT SANITIZER
// =============================================================================

// InputSanitizer neutralizes untrusted text and validates uploads.
//
// String sanitization is a best-effort denylist. It complements, and never
// replaces, server-side validation and parameterized queries.
type InputSanitizer struct {
	maxImageBytes    int64
	maxDocumentBytes int64
	metrics          *Metrics
}

// SanitizerOption configures an InputSanitizer.
type SanitizerOption func(*InputSanitizer)

// WithUploadLimits overrides the per-category size limits. Non-positive
// values keep the default.
func WithUploadLimits(maxImageBytes, maxDocumentBytes int64) SanitizerOption {
	return func(s *InputSanitizer) {
		if maxImageBytes > 0 {
			s.maxImageBytes = maxImageBytes
		}
		if maxDocumentBytes > 0 {
			s.maxDocumentBytes = maxDocumentBytes
		}
	}
}

// WithSanitizerMetrics records rejected uploads.
func WithSanitizerMetrics(m *Metrics) SanitizerOption {
	return func(s *InputSanitizer) {
		s.metrics = m
	}
}

// NewInputSanitizer creates a sanitizer with the default upload limits.
func NewInputSanitizer(opts ...SanitizerOption) *InputSanitizer {
	s := &InputSanitizer{
		maxImageBytes:    DefaultMaxImageBytes,
		maxDocumentBytes: DefaultMaxDocumentBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SanitizeOptions controls SanitizeStringWith.
type SanitizeOptions struct {
	// AllowHTML keeps non-dangerous tags. They are still HTML-escaped.
	AllowHTML bool
}

// SanitizeString removes SQL and script fragments, strips tags and
// HTML-escapes the result.
func (s *InputSanitizer) SanitizeString(text string) string {
	return s.SanitizeStringWith(text, SanitizeOptions{})
}

// SanitizeStringWith is SanitizeString with options.
func (s *InputSanitizer) SanitizeStringWith(text string, opts SanitizeOptions) string {
	if text == "" {
		return ""
	}

	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\x00", "")

	// Removing one fragment can join its neighbours into another
	// ("-;-" becomes "--"), so strip until nothing changes. Every pass that
	// changes the text shortens it, so the loop ends.
	for {
		before := text
		text = removeAll(text, xssPatterns)
		text = removeAll(text, sqlPatterns)
		if !opts.AllowHTML {
			text = htmlTagPattern.ReplaceAllString(text, "")
		}
		if text == before {
			break
		}
	}

	return strings.TrimSpace(htmlEscaper.Replace(text))
}

func removeAll(text string, patterns []*regexp.Regexp) string {
	for _, p := range patterns {
		text = p.ReplaceAllString(text, "")
	}
	return text
}

// SanitizeEmail returns the trimmed address, or a *ValidationError if it is
// not of the form local@domain.tld.
func (s *InputSanitizer) SanitizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", newValidationError("email", "must not be empty")
	}
	if !emailPattern.MatchString(email) {
		return "", newValidationError("email", "not a valid address")
	}
	return email, nil
}

// SanitizeFilename reduces name to a safe base name: no directories, no
// "..", only word characters, dots and dashes, spaces replaced by
// underscores and a stem of at most MaxFilenameStem runes. Letters and
// digits from any script are kept.
func (s *InputSanitizer) SanitizeFilename(name string) string {
	// Both separators, regardless of platform.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.Join(strings.Fields(name), "_")
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	stem = util.TruncateRunesNoEllipsis(stem, MaxFilenameStem)
	name = stem + ext

	if strings.Trim(name, ".") == "" {
		return UnnamedFile
	}
	return name
}

// ValidateFileUpload checks that path exists, is non-empty, fits the category
// size limit, has a whitelisted extension and that its content sniffs as the
// category claims. Rejections are *ValidationError.
func (s *InputSanitizer) ValidateFileUpload(path string, category UploadCategory) error {
	err := s.validateFileUpload(path, category)
	if err != nil {
		s.metrics.uploadRejected(string(category))
	}
	return err
}

func (s *InputSanitizer) validateFileUpload(path string, category UploadCategory) error {
	var (
		maxBytes int64
		allowed  []string
	)
	switch category {
	case UploadImage:
		maxBytes, allowed = s.maxImageBytes, allowedImageExtensions
	case UploadDocument:
		maxBytes, allowed = s.maxDocumentBytes, allowedDocumentExtensions
	default:
		return newValidationError("category", "unknown upload category %q", string(category))
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newValidationError("file", "does not exist")
		}
		return fmt.Errorf("failed to stat upload: %w", err)
	}
	if info.IsDir() {
		return newValidationError("file", "is a directory")
	}
	if info.Size() == 0 {
		return newValidationError("file", "is empty")
	}
	if info.Size() > maxBytes {
		return newValidationError("file", "too large, maximum size is %.1f MB", float64(maxBytes)/(1024*1024))
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(allowed, ext) {
		return newValidationError("file", "invalid %s format, allowed: %s", category, strings.Join(allowed, ", "))
	}

	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("failed to detect content type: %w", err)
	}
	if !contentMatches(category, mime.String()) {
		return newValidationError("file", "content (%s) does not match %s extension", mime.String(), category)
	}
	return nil
}

func contentMatches(category UploadCategory, mime string) bool {
	switch category {
	case UploadImage:
		return strings.HasPrefix(mime, "image/")
	case UploadDocument:
		return strings.HasPrefix(mime, "application/") || strings.HasPrefix(mime, "text/")
	}
	return false
}

// SanitizeMap returns a copy of data with every string sanitized. Nested maps
// and slices are walked; values under excludeKeys (at any depth) are copied
// unchanged.
func (s *InputSanitizer) SanitizeMap(data map[string]any, excludeKeys ...string) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if slices.Contains(excludeKeys, k) {
			out[k] = v
			continue
		}
		out[k] = s.sanitizeValue(v, excludeKeys)
	}
	return out
}

func (s *InputSanitizer) sanitizeValue(v any, excludeKeys []string) any {
	switch val := v.(type) {
	case string:
		return s.SanitizeString(val)
	case map[string]any:
		return s.SanitizeMap(val, excludeKeys...)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.sanitizeValue(item, excludeKeys)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = s.SanitizeString(item)
		}
		return out
	default:
		return v
	}
}
