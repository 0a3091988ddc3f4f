// Package auth - invitecode.go generates the opaque codes used to redeem team invitations.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// MinInviteCodeBytes is the minimum entropy of an invitation code
const MinInviteCodeBytes = 32

// CodeGenerator produces unguessable invitation codes
type CodeGenerator struct {
	bytes int
}

// NewCodeGenerator returns a generator producing hex codes of n random bytes.
// n is raised to MinInviteCodeBytes if smaller.
func NewCodeGenerator(n int) *CodeGenerator {
	if n < MinInviteCodeBytes {
		n = MinInviteCodeBytes
	}
	return &CodeGenerator{bytes: n}
}

// Generate returns a new hex-encoded code
func (g *CodeGenerator) Generate() (string, error) {
	b := make([]byte, g.bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate invite code: %w", err)
	}
	return hex.EncodeToString(b), nil
}
