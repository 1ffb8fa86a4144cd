// Package collab is the HTTP client for the language-model-backed
// conversation collaborators. The collaborators are opaque endpoints: this
// client marshals requests, checks statuses, and decodes responses, and never
// interprets the extraction semantics itself.
//
// Endpoints: POST /detect-experiences, POST /extract-single, POST /clarify,
// POST /finalize.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voicecard-io/voicecard/internal/observe"
	"github.com/voicecard-io/voicecard/pkg/types"
)

// ErrCollaborator indicates a detect/extract/clarify call failed. The
// conversation machine surfaces it as an apologetic assistant message and
// resets to a safe stage.
var ErrCollaborator = errors.New("collab: collaborator call failed")

// defaultTimeout bounds a single collaborator call when the config does not
// override it.
const defaultTimeout = 30 * time.Second

// DetectedExperience is one candidate produced when raw narration contains
// more than one distinct experience. Lives for a single disambiguation round.
type DetectedExperience struct {
	Index     int    `json:"index"`
	Label     string `json:"label"`
	Suggested bool   `json:"suggested,omitempty"`
}

// DetectRequest asks how many distinct experiences a narration contains.
type DetectRequest struct {
	RawText string `json:"raw_text"`
}

// DetectResponse lists the detected experience candidates.
type DetectResponse struct {
	Count       int                  `json:"count"`
	Experiences []DetectedExperience `json:"experiences"`
}

// ExtractRequest asks for structured extraction of one experience out of a
// narration that contains ExperienceCount of them.
type ExtractRequest struct {
	RawText         string `json:"raw_text"`
	ExperienceIndex int    `json:"experience_index"`
	ExperienceCount int    `json:"experience_count"`
}

// ExtractResponse carries the extracted card families.
type ExtractResponse struct {
	CardFamilies []types.CardFamily `json:"card_families"`
}

// ClarifyRequest carries the full clarification context for one round.
type ClarifyRequest struct {
	RawText             string               `json:"raw_text"`
	CurrentCard         types.CardFields     `json:"current_card"`
	CardType            string               `json:"card_type"`
	ConversationHistory []types.ClarifyEntry `json:"conversation_history"`
	CardFamily          *types.CardFamily    `json:"card_family,omitempty"`
	AskedHistory        []string             `json:"asked_history,omitempty"`
	LastQuestionTarget  string               `json:"last_question_target,omitempty"`
}

// ClarifyResponse is the collaborator's verdict for one clarify round: either
// another question, a stop/filled signal, or neither (treated as finalize).
type ClarifyResponse struct {
	ClarifyingQuestion string            `json:"clarifying_question,omitempty"`
	Filled             types.CardFields  `json:"filled,omitempty"`
	ShouldStop         bool              `json:"should_stop,omitempty"`
	TargetType         string            `json:"target_type,omitempty"`
	TargetField        string            `json:"target_field,omitempty"`
	TargetChildType    string            `json:"target_child_type,omitempty"`
	AskedHistoryEntry  string            `json:"asked_history_entry,omitempty"`
	CanonicalFamily    *types.CardFamily `json:"canonical_family,omitempty"`
}

// finalizeRequest is the body of the best-effort finalize call.
type finalizeRequest struct {
	CardID string `json:"card_id"`
}

// Option is a functional option for configuring the [Client].
type Option func(*Client)

// WithTimeout sets the per-call timeout. Default is 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics attaches observability instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client calls the conversation collaborators. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *observe.Metrics
}

// New creates a collaborator client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("collab: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Detect asks the collaborator how many distinct experiences rawText contains.
func (c *Client) Detect(ctx context.Context, rawText string) (*DetectResponse, error) {
	var resp DetectResponse
	if err := c.post(ctx, "detect", "/detect-experiences", DetectRequest{RawText: rawText}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExtractSingle extracts the structured card family for one experience.
func (c *Client) ExtractSingle(ctx context.Context, rawText string, index, count int) (*ExtractResponse, error) {
	req := ExtractRequest{
		RawText:         rawText,
		ExperienceIndex: index,
		ExperienceCount: count,
	}
	var resp ExtractResponse
	if err := c.post(ctx, "extract", "/extract-single", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Clarify runs one clarification round.
func (c *Client) Clarify(ctx context.Context, req ClarifyRequest) (*ClarifyResponse, error) {
	var resp ClarifyResponse
	if err := c.post(ctx, "clarify", "/clarify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Finalize notifies the collaborator that the card is settled. Best-effort:
// callers log and ignore the returned error, the card stays recoverable.
func (c *Client) Finalize(ctx context.Context, cardID string) error {
	var ack json.RawMessage
	return c.post(ctx, "finalize", "/finalize", finalizeRequest{CardID: cardID}, &ack)
}

// post performs one JSON round-trip and records its metrics.
func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	start := time.Now()
	err := c.doPost(ctx, path, body, out)
	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordCollaboratorCall(ctx, op, status, time.Since(start))
	}
	return err
}

func (c *Client) doPost(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("collab: encode %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("collab: build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCollaborator, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little of the body for the error message, then discard.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: %s: status %d: %s", ErrCollaborator, path, resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", ErrCollaborator, path, err)
	}
	return nil
}
