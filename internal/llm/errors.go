// ABOUTME: Classifies model errors into short hints for execution results
// ABOUTME: Matches on message patterns since providers wrap errors differently

package llm

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var (
	credentialHintRe = regexp.MustCompile(`(?i)api[ _-]?key|unauthori[sz]ed|unauthenticated|permission[ _]denied|forbidden|invalid[ _]x-api-key|authentication|\b401\b|\b403\b`)
	quotaHintRe      = regexp.MustCompile(`(?i)quota|rate[ _-]?limit|too many requests|resource[ _]exhausted|overloaded|\b429\b|\b529\b`)
	modelHintRe      = regexp.MustCompile(`(?i)model.*(not found|does not exist|unsupported|not supported|invalid)|unknown model|not_found_error|\b404\b`)
)

// Hints prefixed to failure messages.
const (
	HintCredentials = "invalid or missing API credentials"
	HintQuota       = "quota or rate limit exceeded"
	HintModel       = "unknown or unavailable model"
)

// Describe turns an invocation error into the message stored on a failed
// execution. Classification is best effort, based on the error text.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrMissingAPIKey) {
		return HintCredentials + ": " + err.Error()
	}
	if errors.Is(err, context.Canceled) {
		return "Execution cancelled"
	}

	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return ""
	}

	switch {
	case credentialHintRe.MatchString(msg):
		return HintCredentials + ": " + msg
	case quotaHintRe.MatchString(msg):
		return HintQuota + ": " + msg
	case modelHintRe.MatchString(msg):
		return HintModel + ": " + msg
	default:
		return msg
	}
}
