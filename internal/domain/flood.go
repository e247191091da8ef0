// Package domain contains the core business entities and value objects for the REM server.
// These models represent the language of flood reporting: areas, flood states and the
// requests that read or change them.
package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrAreaNotFound is returned when an area cannot be found in a polygon layer.
var ErrAreaNotFound = errors.New("area not found")

// FloodState is the flood depth band recorded for an area.
// Zero means no flooding has been recorded; 1 to 4 are reportable bands.
type FloodState int

const (
	// FloodStateNone indicates no flooding is recorded for the area.
	FloodStateNone FloodState = 0
	// FloodStateUnknown indicates flooding of unknown depth.
	FloodStateUnknown FloodState = 1
	// FloodStateMinor indicates flooding between 10 and 70 centimeters.
	FloodStateMinor FloodState = 2
	// FloodStateModerate indicates flooding between 71 and 150 centimeters.
	FloodStateModerate FloodState = 3
	// FloodStateSevere indicates flooding over 150 centimeters.
	FloodStateSevere FloodState = 4
)

// IsValid returns true if the state can be stored, including FloodStateNone.
func (s FloodState) IsValid() bool {
	return s >= FloodStateNone && s <= FloodStateSevere
}

// IsFlooded returns true if the state is one of the reportable flood bands.
func (s FloodState) IsFlooded() bool {
	return s >= FloodStateUnknown && s <= FloodStateSevere
}

// Errors returned by ParseFloodState.
var (
	ErrStateMissing     = errors.New("state is missing")
	ErrStateType        = errors.New("state is not a number")
	ErrStateNotIntegral = errors.New("state is not a whole number")
)

// ParseFloodState reads a state property value. Decoded JSON yields float64,
// while values built in code may be an int, an int64 or a FloodState.
// The result is not range checked.
func ParseFloodState(v any) (FloodState, error) {
	switch v := v.(type) {
	case FloodState:
		return v, nil
	case int:
		return FloodState(v), nil
	case int64:
		return FloodState(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return FloodStateNone, fmt.Errorf("%w: %v", ErrStateNotIntegral, v)
		}
		return FloodState(int(v)), nil
	case nil:
		return FloodStateNone, ErrStateMissing
	default:
		return FloodStateNone, fmt.Errorf("%w: %T", ErrStateType, v)
	}
}

// Validation errors for StateUpdate.
var (
	ErrInvalidAreaID = errors.New("'id' option is invalid")
	ErrInvalidState  = errors.New("'state' option is invalid")
	ErrEmptyUsername = errors.New("'username' option must be supplied")
)

// StateUpdate is a request to set the flooded state of one area.
type StateUpdate struct {
	// AreaID is the primary key of the area in the polygon layer.
	AreaID int64 `json:"id"`

	// State is the new flood state.
	State FloodState `json:"state"`

	// Username identifies the operator making the change; it is written to the state log.
	Username string `json:"username"`
}

// Validate checks that the update names an area, a storable state and a user.
func (u *StateUpdate) Validate() error {
	if u.AreaID <= 0 {
		return ErrInvalidAreaID
	}
	if !u.State.IsValid() {
		return ErrInvalidState
	}
	if u.Username == "" {
		return ErrEmptyUsername
	}
	return nil
}

// StateChange is published after a flood state has been written.
// Consumers use it to dispatch alerts for the area.
type StateChange struct {
	// ID uniquely identifies this change.
	ID string `json:"id"`

	// Layer is the polygon table the area belongs to.
	Layer string `json:"layer"`

	// AreaID is the primary key of the area.
	AreaID int64 `json:"area_id"`

	// State is the state that was written.
	State FloodState `json:"state"`

	// Username is the operator who made the change.
	Username string `json:"username"`

	// ChangedAt is when the change was accepted.
	ChangedAt time.Time `json:"changed_at"`
}
