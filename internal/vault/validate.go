package vault

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kura/internal/errs"
)

// illegalNameChars are rejected in filenames and project names: they are
// either path separators or unsafe on common filesystems.
const illegalNameChars = `\/:*?"<>|`

// ValidateFilename rejects empty names, path traversal, and characters that
// are unsafe on the filesystem.
func ValidateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: filename cannot be empty", errs.ErrInvalidInput)
	}
	if strings.ContainsAny(name, illegalNameChars) {
		return fmt.Errorf("%w: filename contains illegal characters", errs.ErrInvalidInput)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: invalid filename", errs.ErrInvalidInput)
	}
	return nil
}

// ValidateProjectName applies the same rules to project names.
func ValidateProjectName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: project name cannot be empty", errs.ErrInvalidInput)
	}
	if strings.ContainsAny(name, illegalNameChars) {
		return fmt.Errorf("%w: project name contains illegal characters", errs.ErrInvalidInput)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: invalid project name", errs.ErrInvalidInput)
	}
	return nil
}
