// Package storage holds the blob store backends used for archived attachments
// and pipeline state snapshots.
package storage

import "errors"

// ErrNotFound is returned by GetObject when no object exists at the path.
var ErrNotFound = errors.New("object not found")
