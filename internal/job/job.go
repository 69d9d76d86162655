// Package job holds the stored job record, its lifecycle states and the
// order in which consumers receive jobs.
package job

import (
	"errors"
	"fmt"
	"time"
)

// State represents the lifecycle state of a stored job
type State string

const (
	StateReady    State = "ready"
	StateReserved State = "reserved"
	StateBuried   State = "buried"
)

// MaxNameLength bounds the symbolic task name
const MaxNameLength = 255

var (
	ErrInvalidName     = errors.New("invalid job name")
	ErrInvalidPriority = errors.New("invalid job priority")
)

// Name is the symbolic task type of a job
type Name string

// ParseName validates a task name
func ParseName(s string) (Name, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(s) > MaxNameLength {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, MaxNameLength)
	}
	return Name(s), nil
}

func (n Name) String() string { return string(n) }

// Priority orders jobs, higher is served first
type Priority uint8

const (
	PriorityMin    Priority = 0
	PriorityNormal Priority = 0
	PriorityLow    Priority = 2
	PriorityMedium Priority = 3
	PriorityHigh   Priority = 4
	PriorityMax    Priority = 5
)

// ParsePriority validates a raw priority value
func ParsePriority(v int) (Priority, error) {
	if v < int(PriorityMin) || v > int(PriorityMax) {
		return 0, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidPriority, v, PriorityMin, PriorityMax)
	}
	return Priority(v), nil
}

// Valid reports whether p is within bounds
func (p Priority) Valid() bool {
	return p <= PriorityMax
}

// Record is the stored form of a job. Data is already encoded.
type Record struct {
	ID            int64
	State         State
	Name          Name
	Data          []byte
	Attempt       uint32
	Priority      Priority
	Until         *time.Time
	ReservedAt    *time.Time
	ReservedUntil *time.Time
}

// IsReady returns true if the job is ready and its due time has passed
func (r *Record) IsReady(now time.Time) bool {
	return r.State == StateReady && (r.Until == nil || !r.Until.After(now))
}

// LeaseExpired returns true if the job is reserved and its lease ran out
func (r *Record) LeaseExpired(now time.Time) bool {
	return r.State == StateReserved && r.ReservedUntil != nil && !r.ReservedUntil.After(now)
}

// IsReserved returns true if the job is held under a live lease
func (r *Record) IsReserved(now time.Time) bool {
	return r.State == StateReserved && !r.LeaseExpired(now)
}

// IsBuried returns true if the job is parked
func (r *Record) IsBuried() bool {
	return r.State == StateBuried
}

// Reserve applies a successful claim to the record
func (r *Record) Reserve(now, until time.Time) {
	r.State = StateReserved
	r.ReservedAt = &now
	r.ReservedUntil = &until
	r.Attempt++
}

// Bury parks the record and drops its lease
func (r *Record) Bury() {
	r.State = StateBuried
	r.ReservedAt = nil
	r.ReservedUntil = nil
}

// Reanimate returns a buried record to ready
func (r *Record) Reanimate(until *time.Time) {
	r.State = StateReady
	r.Until = until
	r.ReservedAt = nil
	r.ReservedUntil = nil
}
