package usecase

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
)

const (
	DefaultKeyPrefix  = "notation-uploads"
	maxFileNameLength = 128
	fallbackFileName  = "scoresheet.bin"
)

var allowedFileTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/tiff": {},
}

// NormalizeFileType lower-cases fileType and checks it against the allow-list.
func NormalizeFileType(fileType string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(fileType))
	if _, ok := allowedFileTypes[normalized]; !ok {
		return "", domain.WrapError(domain.ErrInvalidFileType, "validate file type", fmt.Errorf("%q is not accepted", fileType))
	}
	return normalized, nil
}

// DeriveKey builds <prefix>/<id>/<uploadMillis>-<sanitizedFileName>.
func DeriveKey(prefix, id string, uploadedAt time.Time, fileName string) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return fmt.Sprintf("%s/%s/%d-%s", prefix, id, uploadedAt.UnixMilli(), sanitizeFilename(fileName))
}

// ParseWorkflowID extracts the workflow id from a key built by DeriveKey.
func ParseWorkflowID(prefix, key string) (string, error) {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	parts := strings.SplitN(key, "/", 3)
	if len(parts) < 3 || parts[0] != prefix {
		return "", domain.WrapError(domain.ErrValidation, "parse storage key", fmt.Errorf("key %q is outside prefix %q", key, prefix))
	}
	id := parts[1]
	if strings.TrimSpace(id) == "" || parts[2] == "" {
		return "", domain.WrapError(domain.ErrValidation, "parse storage key", fmt.Errorf("key %q has no workflow id segment", key))
	}
	return id, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = ""
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return fallbackFileName
	}
	if len(base) > maxFileNameLength {
		base = base[len(base)-maxFileNameLength:]
	}
	return base
}
