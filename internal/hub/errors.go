package hub

import "errors"

// ErrNotFound is returned by operations addressing a document this
// process has never seen (not yet inserted, or never loaded by
// Bootstrap).
var ErrNotFound = errors.New("hub: document not found")
