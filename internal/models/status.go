package models

import "fmt"

type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusDownloading JobStatus = "downloading"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
)

var allowedTransitions = map[JobStatus]map[JobStatus]bool{
	StatusPending: {
		StatusDownloading: true,
		StatusFailed:      true, // rejected by validation before the claim
	},
	StatusDownloading: {
		StatusDownloading: true,
		StatusCompleted:   true,
		StatusFailed:      true,
		StatusPending:     true, // lease expired or transient failure with retries left
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

func (s JobStatus) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func CanTransition(from, to JobStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// TransitionStatus moves d to status to, or reports why the edge is illegal.
func TransitionStatus(d *Download, to JobStatus) error {
	if !CanTransition(d.Status, to) {
		return fmt.Errorf("invalid download status transition: %q -> %q (id=%s)", d.Status, to, d.ID)
	}
	d.Status = to
	return nil
}
