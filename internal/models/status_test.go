package models

import "testing"

func TestCanTransition_AllowsLifecycleEdges(t *testing.T) {
	cases := []struct {
		from JobStatus
		to   JobStatus
	}{
		{StatusPending, StatusDownloading},
		{StatusPending, StatusFailed},
		{StatusDownloading, StatusDownloading},
		{StatusDownloading, StatusCompleted},
		{StatusDownloading, StatusFailed},
		{StatusDownloading, StatusPending},
	}

	for _, tc := range cases {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be allowed", tc.from, tc.to)
		}
	}
}

func TestCanTransition_RejectsTerminalExits(t *testing.T) {
	all := []JobStatus{StatusPending, StatusDownloading, StatusCompleted, StatusFailed}
	for _, from := range []JobStatus{StatusCompleted, StatusFailed} {
		for _, to := range all {
			if CanTransition(from, to) {
				t.Fatalf("expected transition %q -> %q to be rejected", from, to)
			}
		}
	}
}

func TestCanTransition_RejectsShortcuts(t *testing.T) {
	cases := []struct {
		from JobStatus
		to   JobStatus
	}{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusPending},
		{"archived", StatusPending},
	}

	for _, tc := range cases {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be rejected", tc.from, tc.to)
		}
	}
}

func TestTransitionStatus_BlocksIllegalTransition(t *testing.T) {
	d := &Download{Status: StatusCompleted}
	if err := TransitionStatus(d, StatusDownloading); err == nil {
		t.Fatal("expected illegal transition error")
	}
	if d.Status != StatusCompleted {
		t.Fatalf("status must be unchanged, got %q", d.Status)
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	if StatusPending.IsTerminal() || StatusDownloading.IsTerminal() {
		t.Fatal("active statuses must not be terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Fatal("completed and failed must be terminal")
	}
}
