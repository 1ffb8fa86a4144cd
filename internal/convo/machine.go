// Package convo implements the turn-taking brain of voicecard: a conversation
// state machine that decides whether user input is raw narration, a
// disambiguation choice, or an answer to a clarifying question, calls the
// extraction collaborators accordingly, and merges their responses into the
// working card family.
//
// The machine owns the conversation stage exclusively. All input enters
// through [Machine.HandleInput]; a second call while a turn is in flight is
// rejected with [ErrTurnInFlight] so that two clarify calls for the same card
// can never overlap.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicecard-io/voicecard/internal/collab"
	"github.com/voicecard-io/voicecard/internal/observe"
	"github.com/voicecard-io/voicecard/pkg/types"
)

// ErrTurnInFlight is returned by [Machine.HandleInput] while a previous turn
// is still being processed.
var ErrTurnInFlight = errors.New("convo: a turn is already in flight")

// ErrSuperseded is returned when a turn was abandoned because a newer user
// submission arrived while its collaborator call was in flight. The turn's
// results are discarded; no state was mutated.
var ErrSuperseded = errors.New("convo: turn superseded by newer input")

// Canned assistant lines. The collaborator authors every substantive message;
// these cover the paths where no collaborator response is available.
const (
	msgAskForDetail = "I couldn't find a concrete experience in that. Could you tell me a bit more about what you did?"
	msgRepeatChoice = "Sorry, I didn't catch which one you meant. Please answer with a number from the list."
	msgApology      = "Sorry, something went wrong on my end. Could you try that again?"
	msgCardReady    = "Great, I have everything I need. Here's your card."
)

// Reply is one assistant turn produced by the machine.
type Reply struct {
	// ID uniquely identifies the reply for playback de-duplication.
	ID string

	// Text is the assistant message to show and speak.
	Text string

	// Stage is the conversation stage after this turn, for the surrounding
	// UI. [types.StageCardReady] marks a finalized card even though the
	// machine itself has already returned to the resting stage.
	Stage types.Stage

	// Choices is the disambiguation list, set only when Stage is
	// [types.StageAwaitingChoice].
	Choices []collab.DetectedExperience

	// Card is the finalized card family, set only when Stage is
	// [types.StageCardReady].
	Card *types.CardFamily
}

// Machine is the conversation state machine. Safe for concurrent use; turns
// are processed one at a time.
type Machine struct {
	client  *collab.Client
	metrics *observe.Metrics

	mu      sync.Mutex
	busy    bool
	epoch   uint64
	stage   types.Stage
	family  *types.CardFamily
	history []types.ClarifyEntry
	asked   []string
	// lastTarget is the "type.field" the most recent clarifying question
	// addressed, echoed back so the collaborator can attribute the answer.
	lastTarget string
	choices    []collab.DetectedExperience
	// pendingText is the narration awaiting disambiguation while the stage
	// is awaiting_choice.
	pendingText string
}

// Option is a functional option for configuring the [Machine].
type Option func(*Machine)

// WithMetrics attaches observability instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(mc *Machine) { mc.metrics = m }
}

// New creates a conversation machine in the resting stage.
func New(client *collab.Client, opts ...Option) *Machine {
	m := &Machine{
		client: client,
		stage:  types.StageAwaitingExperience,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Stage returns the current conversation stage.
func (m *Machine) Stage() types.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// Card returns a copy of the working card family, or nil if none exists.
func (m *Machine) Card() *types.CardFamily {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.family.Clone()
}

// History returns a copy of the clarification log for the current card.
func (m *Machine) History() []types.ClarifyEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ClarifyEntry, len(m.history))
	copy(out, m.history)
	return out
}

// Supersede marks any in-flight turn as abandoned: its collaborator results
// will be discarded without mutating state. Callers cancel the old turn's
// context alongside, then submit the new input.
func (m *Machine) Supersede() {
	m.mu.Lock()
	m.epoch++
	m.mu.Unlock()
}

// HandleInput processes one user turn (typed text or a finalized transcript)
// and returns the assistant's reply.
//
// Collaborator failures do not surface as errors: the user gets an apologetic
// reply and the machine settles in a stage from which they can retry. The
// returned error is non-nil only for [ErrTurnInFlight], [ErrSuperseded],
// context cancellation, or empty input.
func (m *Machine) HandleInput(ctx context.Context, input string) (*Reply, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("convo: empty input")
	}

	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	m.busy = true
	epoch := m.epoch
	stage := m.stage
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
	}()

	start := time.Now()
	reply, err := m.dispatch(ctx, epoch, stage, input)
	if err == nil && m.metrics != nil {
		m.metrics.RecordTurn(ctx, string(reply.Stage), time.Since(start))
	}
	return reply, err
}

// dispatch routes input by the stage snapshot taken at turn start.
func (m *Machine) dispatch(ctx context.Context, epoch uint64, stage types.Stage, input string) (*Reply, error) {
	switch stage {
	case types.StageAwaitingChoice:
		return m.handleChoice(ctx, epoch, input)
	case types.StageClarifying:
		return m.handleAnswer(ctx, epoch, input)
	default:
		// awaiting_experience, card_ready, and idle are all resting states:
		// the input is fresh narration.
		return m.handleNarration(ctx, epoch, input)
	}
}

// handleNarration runs the detect branch on raw narration.
func (m *Machine) handleNarration(ctx context.Context, epoch uint64, input string) (*Reply, error) {
	m.setStage(epoch, types.StageExtracting)

	det, err := m.client.Detect(ctx, input)
	if err != nil {
		return m.collabFailure(ctx, epoch, types.StageAwaitingExperience, "detect", err)
	}

	switch {
	case det.Count <= 0 || len(det.Experiences) == 0:
		if !m.commit(epoch, func() { m.stage = types.StageAwaitingExperience }) {
			return nil, ErrSuperseded
		}
		return m.reply(msgAskForDetail, types.StageAwaitingExperience), nil

	case det.Count == 1 || len(det.Experiences) == 1:
		exp := det.Experiences[0]
		return m.extractAndClarify(ctx, epoch, input, exp.Index, 1)

	default:
		if !m.commit(epoch, func() {
			m.stage = types.StageAwaitingChoice
			m.choices = det.Experiences
			m.pendingText = input
		}) {
			return nil, ErrSuperseded
		}
		r := m.reply(choicePrompt(det.Experiences), types.StageAwaitingChoice)
		r.Choices = det.Experiences
		return r, nil
	}
}

// handleChoice resolves a disambiguation reply against the presented list.
func (m *Machine) handleChoice(ctx context.Context, epoch uint64, input string) (*Reply, error) {
	m.mu.Lock()
	choices := m.choices
	pending := m.pendingText
	m.mu.Unlock()

	labels := make([]string, len(choices))
	for i, c := range choices {
		labels[i] = c.Label
	}
	sel, ok := parseChoice(input, labels)
	if !ok {
		// Invalid or out-of-range: re-prompt without changing stage.
		r := m.reply(msgRepeatChoice+"\n"+choicePrompt(choices), types.StageAwaitingChoice)
		r.Choices = choices
		return r, nil
	}

	return m.extractAndClarify(ctx, epoch, pending, choices[sel-1].Index, len(choices))
}

// extractAndClarify extracts one experience and immediately attempts the first
// clarify round, landing in clarifying or finalizing straight away.
func (m *Machine) extractAndClarify(ctx context.Context, epoch uint64, rawText string, index, count int) (*Reply, error) {
	m.setStage(epoch, types.StageExtracting)

	ext, err := m.client.ExtractSingle(ctx, rawText, index, count)
	if err != nil {
		return m.collabFailure(ctx, epoch, types.StageAwaitingExperience, "extract", err)
	}
	if len(ext.CardFamilies) == 0 {
		slog.Warn("extraction produced no card families")
		if !m.commit(epoch, func() { m.resetCard(types.StageAwaitingExperience) }) {
			return nil, ErrSuperseded
		}
		return m.reply(msgAskForDetail, types.StageAwaitingExperience), nil
	}

	family := ext.CardFamilies[0]
	if !m.commit(epoch, func() {
		m.family = family.Clone()
		m.choices = nil
		m.pendingText = ""
		m.history = nil
		m.asked = nil
		m.lastTarget = ""
	}) {
		return nil, ErrSuperseded
	}

	return m.clarifyRound(ctx, epoch, rawText, "")
}

// handleAnswer feeds the user's answer to the pending clarifying question
// into the next clarify round.
func (m *Machine) handleAnswer(ctx context.Context, epoch uint64, input string) (*Reply, error) {
	var lastTarget string
	if !m.commit(epoch, func() {
		lastTarget = m.lastTarget
		answer := types.ClarifyEntry{
			Role: types.RoleUser,
			Kind: types.KindClarifyAnswer,
			Text: input,
		}
		if i := strings.IndexByte(lastTarget, '.'); i > 0 {
			answer.TargetType = lastTarget[:i]
			answer.TargetField = lastTarget[i+1:]
		}
		m.history = append(m.history, answer)
	}) {
		return nil, ErrSuperseded
	}

	return m.clarifyRound(ctx, epoch, input, lastTarget)
}

// clarifyRound performs one clarify collaborator call and applies its verdict:
// another question keeps the stage at clarifying, a stop/filled signal (or an
// empty verdict) finalizes the card.
func (m *Machine) clarifyRound(ctx context.Context, epoch uint64, rawText, lastTarget string) (*Reply, error) {
	m.mu.Lock()
	req := collab.ClarifyRequest{
		RawText:             rawText,
		CardType:            cardType(m.family),
		ConversationHistory: append([]types.ClarifyEntry(nil), m.history...),
		CardFamily:          m.family.Clone(),
		AskedHistory:        append([]string(nil), m.asked...),
		LastQuestionTarget:  lastTarget,
	}
	if m.family != nil {
		req.CurrentCard = m.family.Parent.Clone()
	}
	m.mu.Unlock()

	resp, err := m.client.Clarify(ctx, req)
	if err != nil {
		// Stay in clarifying so the user's progress on this card survives a
		// transient collaborator failure.
		return m.collabFailure(ctx, epoch, types.StageClarifying, "clarify", err)
	}

	if resp.ClarifyingQuestion != "" && !resp.ShouldStop {
		question := types.ClarifyEntry{
			Role:            types.RoleAssistant,
			Kind:            types.KindClarifyQuestion,
			TargetType:      resp.TargetType,
			TargetField:     resp.TargetField,
			TargetChildType: resp.TargetChildType,
			Text:            resp.ClarifyingQuestion,
		}
		if !m.commit(epoch, func() {
			m.stage = types.StageClarifying
			m.history = append(m.history, question)
			if resp.AskedHistoryEntry != "" {
				m.asked = append(m.asked, resp.AskedHistoryEntry)
			}
			m.lastTarget = questionTarget(resp)
			m.mergeCanonical(resp.CanonicalFamily)
		}) {
			return nil, ErrSuperseded
		}
		return m.reply(resp.ClarifyingQuestion, types.StageClarifying), nil
	}

	// Stop/filled signal, or no question at all: the card is settled.
	return m.finalize(ctx, epoch, resp)
}

// finalize merges the closing clarify verdict, issues the best-effort
// finalize call, and returns the card-ready reply. The machine itself rests
// at awaiting_experience so the next input starts a fresh card.
func (m *Machine) finalize(ctx context.Context, epoch uint64, resp *collab.ClarifyResponse) (*Reply, error) {
	var card *types.CardFamily
	if !m.commit(epoch, func() {
		if resp != nil {
			m.mergeCanonical(resp.CanonicalFamily)
			if len(resp.Filled) > 0 {
				if m.family == nil {
					m.family = &types.CardFamily{}
				}
				if m.family.Parent == nil {
					m.family.Parent = types.CardFields{}
				}
				for k, v := range resp.Filled {
					m.family.Parent[k] = v
				}
			}
		}
		card = m.family.Clone()
		m.resetCard(types.StageAwaitingExperience)
	}) {
		return nil, ErrSuperseded
	}

	cardID := uuid.NewString()
	if err := m.client.Finalize(ctx, cardID); err != nil {
		// Non-fatal: the card stays recoverable as a draft.
		slog.Warn("finalize call failed", "card_id", cardID, "error", err)
	}

	r := m.reply(msgCardReady, types.StageCardReady)
	r.Card = card
	return r, nil
}

// collabFailure logs a collaborator error, settles the machine in a safe
// stage, and returns an apologetic reply instead of an error.
func (m *Machine) collabFailure(ctx context.Context, epoch uint64, safe types.Stage, op string, err error) (*Reply, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	slog.Error("collaborator call failed", "op", op, "error", err)
	if !m.commit(epoch, func() { m.stage = safe }) {
		return nil, ErrSuperseded
	}
	return m.reply(msgApology, safe), nil
}

// commit applies fn under the lock iff the turn's epoch is still current.
// Returns false when the turn was superseded.
func (m *Machine) commit(epoch uint64, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return false
	}
	fn()
	return true
}

// setStage is a commit that only moves the stage; superseded turns find out
// at the next commit, so the return value is deliberately ignored here.
func (m *Machine) setStage(epoch uint64, s types.Stage) {
	m.commit(epoch, func() { m.stage = s })
}

// resetCard clears all per-card state and sets the given stage.
// Caller holds m.mu (via commit).
func (m *Machine) resetCard(s types.Stage) {
	m.stage = s
	m.family = nil
	m.history = nil
	m.asked = nil
	m.lastTarget = ""
	m.choices = nil
	m.pendingText = ""
}

// mergeCanonical replaces the local family with the collaborator's canonical
// snapshot. Server state wins; the collaborator is the source of truth for
// field correctness. Caller holds m.mu (via commit).
func (m *Machine) mergeCanonical(canonical *types.CardFamily) {
	if canonical != nil {
		m.family = canonical.Clone()
	}
}

// reply builds a Reply with a fresh id.
func (m *Machine) reply(text string, stage types.Stage) *Reply {
	return &Reply{ID: uuid.NewString(), Text: text, Stage: stage}
}

// choicePrompt renders the disambiguation list as a numbered prompt.
func choicePrompt(choices []collab.DetectedExperience) string {
	var b strings.Builder
	b.WriteString("I heard more than one experience. Which one should we capture first?")
	for i, c := range choices {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c.Label)
		if c.Suggested {
			b.WriteString(" (suggested)")
		}
	}
	return b.String()
}

// questionTarget renders the clarify target as "type.field" for echo-back.
func questionTarget(resp *collab.ClarifyResponse) string {
	if resp.TargetField == "" {
		return ""
	}
	if resp.TargetType == "" {
		return resp.TargetField
	}
	return resp.TargetType + "." + resp.TargetField
}

// cardType extracts the parent card's type field when the collaborator set
// one, for echo-back in clarify requests.
func cardType(family *types.CardFamily) string {
	if family == nil || family.Parent == nil {
		return ""
	}
	if t, ok := family.Parent["type"].(string); ok {
		return t
	}
	return ""
}
