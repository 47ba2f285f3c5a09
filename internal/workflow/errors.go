// Package workflow implements the approval-gated workflow engine.
//
// This file defines sentinel errors for session-level failures. These
// are returned synchronously to the caller and never recorded as
// conversation turns; the state that produced them is unchanged.
package workflow

import "errors"

// ErrPendingApproval is returned when a new user turn arrives while the
// session holds a proposed invocation set awaiting approval. The caller
// must approve or reject before submitting again.
var ErrPendingApproval = errors.New("a proposed action is awaiting approval; approve or reject it first")

// ErrNoPendingApproval is returned by Approve and Reject when the
// session has nothing awaiting approval.
var ErrNoPendingApproval = errors.New("no action is awaiting approval")

// ErrSessionBusy is returned when a request arrives while another
// request for the same session is still in flight. Turns are strictly
// ordered; concurrent turns are rejected, not interleaved.
var ErrSessionBusy = errors.New("session is busy with another request")
