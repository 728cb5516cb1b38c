package id

import (
	"strings"

	"github.com/google/uuid"
)

// NewAgentID generates a new agent identifier with a stable prefix for display.
func NewAgentID() string {
	return newIdentifier("agent")
}

// NewContainerName generates a unique name for an ephemeral sandbox container.
func NewContainerName() string {
	return newIdentifier("crew-sandbox")
}

// NewAuditID generates a unique identifier for an audit log record.
func NewAuditID() string {
	return newIdentifier("audit")
}

func newIdentifier(prefix string) string {
	// Compact form keeps container names within runtime limits.
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + raw[:12]
}
