package document

import "errors"

// ErrEmptyPath is returned by any operation addressed with a zero-length
// path — every document op must name at least the leaf/list/set key.
var ErrEmptyPath = errors.New("document: path must have at least one segment")

// ErrKindMismatch is returned when a path already resolves to a
// container of a different kind than the operation expects (e.g.
// list_insert against a path that already holds an OR-Set).
var ErrKindMismatch = errors.New("document: path resolves to a different container kind")

// ErrIndexOutOfRange is returned by list_insert/list_delete when index
// falls outside the current live element count.
var ErrIndexOutOfRange = errors.New("document: list index out of range")
