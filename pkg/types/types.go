// Package types holds the shared data model for the voicecard conversation
// pipeline: conversation stages, card families, and the clarification history
// exchanged with the extraction collaborators.
//
// These types form the lingua franca between the recording pipeline, the
// conversation machine, and the collaborator client. Each package defines its
// own domain types; cross-cutting structures live here to avoid circular
// imports.
package types

// Stage identifies the current position of a conversation in the turn-taking
// state machine. Exactly one stage is active at a time; it is owned and
// mutated exclusively by the conversation machine.
type Stage string

const (
	// StageAwaitingExperience is the resting state: the next user input is
	// treated as raw experience narration.
	StageAwaitingExperience Stage = "awaiting_experience"

	// StageAwaitingChoice means a disambiguation list was presented and the
	// next user input is expected to select one entry.
	StageAwaitingChoice Stage = "awaiting_choice"

	// StageExtracting marks an in-flight detect/extract collaborator call.
	StageExtracting Stage = "extracting"

	// StageClarifying means a clarifying question is pending an answer.
	StageClarifying Stage = "clarifying"

	// StageCardReady marks a finalized card preview for the surrounding UI.
	StageCardReady Stage = "card_ready"

	// StageIdle is the quiescent marker before any conversation has started.
	StageIdle Stage = "idle"
)

// IsValid reports whether s is a recognised conversation stage.
func (s Stage) IsValid() bool {
	switch s {
	case StageAwaitingExperience, StageAwaitingChoice, StageExtracting,
		StageClarifying, StageCardReady, StageIdle:
		return true
	}
	return false
}

// CardFields holds the structured fields of a single card. Field names and
// values are owned by the extraction collaborator; the client never interprets
// them beyond display and pass-through.
type CardFields map[string]any

// Clone returns a shallow copy of f. A nil map clones to an empty map so the
// result is always safe to write to.
func (f CardFields) Clone() CardFields {
	out := make(CardFields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// CardFamily is the working structured result of one extraction pass: a
// parent experience record plus its child evidence records.
type CardFamily struct {
	Parent   CardFields   `json:"parent"`
	Children []CardFields `json:"children"`
}

// Clone returns a copy of the family with the parent and every child cloned.
func (cf *CardFamily) Clone() *CardFamily {
	if cf == nil {
		return nil
	}
	out := &CardFamily{Parent: cf.Parent.Clone()}
	if len(cf.Children) > 0 {
		out.Children = make([]CardFields, len(cf.Children))
		for i, c := range cf.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// ClarifyRole identifies the author of a clarification history entry.
type ClarifyRole string

const (
	RoleAssistant ClarifyRole = "assistant"
	RoleUser      ClarifyRole = "user"
)

// ClarifyKind distinguishes questions from answers in the history log.
type ClarifyKind string

const (
	KindClarifyQuestion ClarifyKind = "clarify_question"
	KindClarifyAnswer   ClarifyKind = "clarify_answer"
)

// ClarifyEntry is one element of the append-only clarification log kept for
// the current card. The log is cleared when a card is finalized or abandoned.
type ClarifyEntry struct {
	Role            ClarifyRole `json:"role"`
	Kind            ClarifyKind `json:"kind"`
	TargetType      string      `json:"target_type,omitempty"`
	TargetField     string      `json:"target_field,omitempty"`
	TargetChildType string      `json:"target_child_type,omitempty"`
	Text            string      `json:"text"`
}
