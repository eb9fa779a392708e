package steam

import (
	"fmt"
	"strings"
)

// ErrorKind partitions download tool failures by what the operator can do
// about them.
type ErrorKind string

const (
	// KindAuth covers rejected credentials and Steam Guard prompts.
	KindAuth ErrorKind = "auth"
	// KindPartialTransfer covers interrupted downloads that left the
	// install dir incomplete. A retry of the same command resumes them.
	KindPartialTransfer ErrorKind = "partial-transfer"
	// KindNetwork covers everything else: connection failures, content
	// server errors, unclassifiable exits.
	KindNetwork ErrorKind = "network"
)

// GatewayError is a classified download tool failure.
type GatewayError struct {
	Kind   ErrorKind
	Detail string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("steamcmd failed (%s): %s", e.Kind, e.Detail)
}

var authMarkers = []string{
	"Invalid Password",
	"Login Failure",
	"Two-factor code mismatch",
	"Invalid Login Auth Code",
	"Account Logon Denied",
	"password:",
}

// Partial transfer state codes printed by app_update when a download dies
// midway. Retrying the same update resumes from where it stopped.
var partialMarkers = []string{
	"0x202",
	"0x206",
	"0x602",
	"update required",
}

// classify turns raw tool output into a GatewayError. The detail is the last
// marker line when one matched, else the last non-empty output line.
func classify(output string) *GatewayError {
	lines := strings.Split(output, "\n")

	match := func(markers []string) (string, bool) {
		// Scan backwards so the detail reflects the final failure, not an
		// earlier retried one.
		for i := len(lines) - 1; i >= 0; i-- {
			for _, m := range markers {
				if strings.Contains(lines[i], m) {
					return strings.TrimSpace(lines[i]), true
				}
			}
		}
		return "", false
	}

	if detail, ok := match(authMarkers); ok {
		return &GatewayError{Kind: KindAuth, Detail: detail}
	}
	if detail, ok := match(partialMarkers); ok {
		return &GatewayError{Kind: KindPartialTransfer, Detail: detail}
	}

	detail := "no output"
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			detail = s
			break
		}
	}
	return &GatewayError{Kind: KindNetwork, Detail: detail}
}
