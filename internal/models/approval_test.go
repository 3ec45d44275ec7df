package models

import (
	"testing"
	"time"
)

func TestIsValidRequestTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{RequestStatusPending, RequestStatusApproved, true},
		{RequestStatusApproved, RequestStatusBroadcasting, true},
		{RequestStatusBroadcasting, RequestStatusCompleted, true},
		{RequestStatusBroadcasting, RequestStatusFailed, true},

		// Alternative endings from pending
		{RequestStatusPending, RequestStatusCancelled, true},
		{RequestStatusPending, RequestStatusExpired, true},
		{RequestStatusPending, RequestStatusBroadcasting, true},

		// Invalid transitions
		{RequestStatusApproved, RequestStatusCancelled, false},
		{RequestStatusApproved, RequestStatusExpired, false},
		{RequestStatusBroadcasting, RequestStatusPending, false},
		{RequestStatusCompleted, RequestStatusFailed, false},
		{RequestStatusFailed, RequestStatusBroadcasting, false},
		{RequestStatusExpired, RequestStatusApproved, false},
		{RequestStatusCancelled, RequestStatusPending, false},
		{"nonexistent", RequestStatusPending, false},
		{RequestStatusPending, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidRequestTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidRequestTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestTerminalRequestStatuses(t *testing.T) {
	terminal := []string{RequestStatusCompleted, RequestStatusFailed, RequestStatusCancelled, RequestStatusExpired}
	for _, status := range terminal {
		if !IsTerminalRequestStatus(status) {
			t.Errorf("status %q should be terminal", status)
		}
	}
	for _, status := range []string{RequestStatusPending, RequestStatusApproved, RequestStatusBroadcasting} {
		if IsTerminalRequestStatus(status) {
			t.Errorf("status %q should not be terminal", status)
		}
	}
}

func TestIsExpiredAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := &MultiSigApprovalRequest{Status: RequestStatusPending, ExpiresAt: now}

	if !r.IsExpiredAt(now) {
		t.Error("request should be expired exactly at its expiry timestamp")
	}
	if r.IsExpiredAt(now.Add(-time.Second)) {
		t.Error("request should not be expired before its expiry timestamp")
	}

	r.Status = RequestStatusApproved
	if r.IsExpiredAt(now.Add(time.Hour)) {
		t.Error("approved request must not expire")
	}
}
