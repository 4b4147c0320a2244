package mail

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSMTPSenderRejected = errors.New("smtp sender rejected by policy")
	ErrNoRecipients       = errors.New("at least one recipient is required")
	ErrArchiveFailed      = errors.New("message sent but not archived")
)

func WrapSMTPSenderRejected(err error) error {
	if err == nil {
		return ErrSMTPSenderRejected
	}
	return fmt.Errorf("%w: %v", ErrSMTPSenderRejected, err)
}

// Relay replies that mean the envelope sender is not allowed for the
// authenticated account.
var senderPolicyHints = []string{
	"sender must match authenticated user",
	"sender address rejected",
	"not owned by user",
	"sender login mismatch",
	"not authorized to send as",
	"must be authenticated as",
	"sender rejected",
}

// IsSMTPSenderPolicyError reports whether the relay refused the envelope
// sender rather than failing for transport reasons.
func IsSMTPSenderPolicyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range senderPolicyHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
