package domain

import "testing"

func TestSessionTransitions(t *testing.T) {
	cases := []struct {
		from, to SessionState
		ok       bool
	}{
		{SessionJoining, SessionJoined, true},
		{SessionJoining, SessionClosed, true},
		{SessionJoining, SessionReconnecting, false},
		{SessionJoined, SessionReconnecting, true},
		{SessionJoined, SessionClosed, true},
		{SessionJoined, SessionJoining, false},
		{SessionReconnecting, SessionClosed, true},
		{SessionReconnecting, SessionJoining, false},
		{SessionClosed, SessionJoined, false},
		{SessionClosed, SessionJoining, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestSessionMember(t *testing.T) {
	if SessionJoining.Member() || SessionClosed.Member() {
		t.Fatal("joining/closed sessions must not count as room members")
	}
	if !SessionJoined.Member() || !SessionReconnecting.Member() {
		t.Fatal("joined/reconnecting sessions must count as room members")
	}
}
