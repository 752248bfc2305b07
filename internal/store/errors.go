package store

import "errors"

// ErrNotFound is returned when a key does not exist (or has expired).
var ErrNotFound = errors.New("key not found")

// ErrWrongType is returned when a command targets a key holding the other
// value kind — e.g. ZADD against a string key, or GET against a sorted
// set.
var ErrWrongType = errors.New("operation against a key holding the wrong kind of value")
