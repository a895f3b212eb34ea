// Package db declares types shared by every persistence package.
package db

import "errors"

// Record is a single row decoded into JSON-encodable values,
// keyed by column name.
type Record map[string]any

// requested row is not found.
var ErrMissing = errors.New("missing")

// a table or column was named which the database does not have.
var ErrUnknownColumn = errors.New("unknown column")
