package approval

import "context"

// Request contains information for requesting user approval of a sandbox
// action that policy would otherwise refuse.
type Request struct {
	Operation string // "bash", "file_write", "file_read"
	Target    string // command or path
	Summary   string
	Diff      string // optional preview for file writes
	Reasons   []string
}

// Response contains the user's approval decision.
type Response struct {
	Approved bool
	Message  string
}

// Approver handles approval requests for risky operations.
type Approver interface {
	// RequestApproval asks for user approval for an operation.
	RequestApproval(ctx context.Context, request *Request) (*Response, error)
}

// NoOpApprover always approves (for tests or fully automated runs).
type NoOpApprover struct{}

// NewNoOpApprover creates a new no-op approver.
func NewNoOpApprover() *NoOpApprover {
	return &NoOpApprover{}
}

// RequestApproval always approves.
func (a *NoOpApprover) RequestApproval(ctx context.Context, request *Request) (*Response, error) {
	return &Response{Approved: true, Message: "auto-approved (no-op)"}, nil
}
