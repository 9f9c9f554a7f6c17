package scheduler

import (
	"strings"

	"github.com/hupe1980/taskmesh/core"
)

// defaultAffirmatives is the built-in lexicon of confirmation replies,
// matched against the normalized user message. Extend via Options.
var defaultAffirmatives = []string{
	"yes", "y", "yes please", "yep", "yeah", "sure", "ok", "okay",
	"go ahead", "go for it", "do it", "please do", "confirm", "confirmed",
	"sounds good", "looks good", "send it", "ship it",
}

// normalize lowercases, collapses runs of whitespace and strips trailing
// punctuation. Both output deduplication and confirmation matching compare
// normalized text.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".!?,;: ")
}

// duplicateOutput reports whether text is substantially identical to the
// most recent prior user-visible output in the log.
func duplicateOutput(events []core.Event, text string) bool {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == core.KindAssistantOutput {
			return normalize(events[i].Text()) == normalize(text)
		}
	}
	return false
}

// confirmationGranted reports whether the log currently carries an approved,
// unconsumed draft: the most recent user message is affirmative and the
// exchange directly before it was assistant output (the draft). Any newer
// assistant output or user message invalidates a prior approval, so an
// edited draft must be confirmed again. An executed irreversible tool call
// consumes the approval: one affirmative authorizes at most one irreversible
// batch, and the next one needs a fresh draft plus a fresh answer.
func confirmationGranted(events []core.Event, affirmatives []string, irreversible func(name string) bool) bool {
	for i := len(events) - 1; i >= 0; i-- {
		switch events[i].Kind {
		case core.KindToolCall:
			if issuedIrreversible(events[i], irreversible) {
				return false
			}
		case core.KindAssistantOutput:
			// Draft shown but not yet answered.
			return false
		case core.KindUserMessage:
			if !isAffirmative(events[i].Text(), affirmatives) {
				return false
			}
			for j := i - 1; j >= 0; j-- {
				switch events[j].Kind {
				case core.KindToolCall:
					if issuedIrreversible(events[j], irreversible) {
						return false
					}
				case core.KindAssistantOutput:
					return true
				case core.KindUserMessage, core.KindExternalEvent:
					return false
				}
			}
			return false
		}
	}
	return false
}

// issuedIrreversible reports whether the tool call event carries an
// irreversible tool name.
func issuedIrreversible(ev core.Event, irreversible func(name string) bool) bool {
	if irreversible == nil {
		return false
	}
	for _, call := range ev.GetToolCalls() {
		if irreversible(call.Name) {
			return true
		}
	}
	return false
}

func isAffirmative(text string, affirmatives []string) bool {
	n := normalize(text)
	for _, a := range affirmatives {
		if n == a {
			return true
		}
	}
	return false
}
