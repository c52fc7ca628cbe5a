// Package errs defines the error kinds shared across the vault core.
// Callers match them with errors.Is; packages wrap them with context via fmt.Errorf and %w.
package errs

import "errors"

var (
	// ErrNotFound indicates a referenced id, path, or version does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a duplicate unversioned path or duplicate project name.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates an illegal filename, project name, or empty query.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTooLarge indicates an upload above the configured size ceiling.
	ErrTooLarge = errors.New("too large")

	// ErrCrypto indicates a missing key or a padding/length failure on decrypt.
	// Decrypt must fail with this rather than return wrong plaintext.
	ErrCrypto = errors.New("crypto failure")

	// ErrStorageIO indicates a disk read or write error on a blob.
	ErrStorageIO = errors.New("storage I/O failure")
)
