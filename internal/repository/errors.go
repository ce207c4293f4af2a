package repository

import "errors"

// ErrNotFound is returned when the addressed record does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when an update's expected version no longer
// matches the stored record; another writer got there first.
var ErrVersionConflict = errors.New("version conflict")

// ErrDeleteRefused is returned when a delete is attempted by someone other than
// the requester or after the ticket has been assigned.
var ErrDeleteRefused = errors.New("delete refused")
