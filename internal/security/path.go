package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrAbsolutePath  = errors.New("absolute paths are not allowed")
	ErrReservedName  = errors.New("reserved filename not allowed")
	ErrExtension     = errors.New("file extension not allowed")
)

// Device names Windows refuses as file names, with or without extension.
var reservedNames = []string{
	"con", "prn", "aux", "nul",
	"com1", "com2", "com3", "com4", "com5", "com6", "com7", "com8", "com9",
	"lpt1", "lpt2", "lpt3", "lpt4", "lpt5", "lpt6", "lpt7", "lpt8", "lpt9",
}

func isReserved(base string) bool {
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	return slices.Contains(reservedNames, stem)
}

// ValidateOutputPath checks a file the CLI is about to write: history
// exports and saved images. Paths must stay below the working directory. An
// empty allowed list accepts any extension.
func ValidateOutputPath(path string, allowed ...string) error {
	if filepath.IsAbs(path) {
		return ErrAbsolutePath
	}
	if strings.Contains(path, "..") {
		return ErrPathTraversal
	}

	base := filepath.Base(filepath.Clean(path))
	switch {
	case isReserved(base):
		return ErrReservedName
	case strings.HasPrefix(base, "-"):
		return fmt.Errorf("filename cannot start with hyphen")
	}

	if len(allowed) == 0 {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(base))
	if slices.ContainsFunc(allowed, func(a string) bool { return strings.ToLower(a) == ext }) {
		return nil
	}
	return fmt.Errorf("%w: %q (use %s)", ErrExtension, ext, strings.Join(allowed, ", "))
}

// SanitizeFilename turns free text, such as an item title, into a safe
// file name. Whitespace runs become single hyphens.
func SanitizeFilename(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '-'
		case '*', '?', '"', '<', '>', '|', 0:
			return -1
		}
		return r
	}, name)

	cleaned = strings.Join(strings.Fields(cleaned), "-")
	cleaned = strings.TrimLeft(cleaned, ".-")
	cleaned = strings.TrimRight(cleaned, ". ")

	if cleaned == "" {
		return "antique"
	}
	if isReserved(cleaned) {
		cleaned += "_"
	}
	return cleaned
}
