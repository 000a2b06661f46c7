// Package repository defines the ticket store and the error values it
// reports.  These sentinel values allow the lifecycle engine to
// distinguish a legitimate uniqueness conflict from a missing row or an
// unexpected database failure.  ErrActivePlateExists and ErrDuplicateToken
// both wrap ErrConflict so callers that only care about the class of
// failure can test for ErrConflict.
package repository

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no ticket matches the lookup key.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("conflict")

// ErrActivePlateExists is returned by Insert when the plate already has an
// ACTIVE ticket.
var ErrActivePlateExists = fmt.Errorf("%w: plate already has an active ticket", ErrConflict)

// ErrDuplicateToken is returned by Insert when the token is already taken.
var ErrDuplicateToken = fmt.Errorf("%w: token already issued", ErrConflict)

// ErrNotApplied is returned by UpdateExit when the conditional update
// matched no ACTIVE ticket.  The caller must re-read to tell a missing
// ticket from an already completed one.
var ErrNotApplied = errors.New("update not applied")
