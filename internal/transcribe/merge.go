package transcribe

import (
	"strings"
	"sync"
)

// State tracks the accumulated transcript for one recording turn.
//
// Committed holds text already folded into the pending message; Live holds
// the latest full-utterance text reported by the transcription service.
// The service may resend partial or corrected transcripts; Apply merges them
// with longest-common-prefix delta extraction so words already committed are
// never duplicated and committed words are never dropped.
//
// State is safe for concurrent use.
type State struct {
	mu        sync.Mutex
	committed string
	live      string
}

// Apply merges a transcript message into the state.
//
// Three cases, matching what streaming transcription services emit:
//
//  1. text repeats the committed prefix (cumulative resend) — only the tail
//     beyond the committed text becomes the new live utterance.
//  2. text shares a prefix with the current live utterance (within-utterance
//     growth or correction) — live is replaced wholesale.
//  3. text is disjoint — the finished live utterance is folded into committed
//     and text starts a fresh one.
func (s *State) Apply(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.committed != "" {
		if p := commonPrefixLen(s.committed, text); p == len(s.committed) {
			s.live = strings.TrimLeft(text[p:], " ")
			return
		}
	}
	if s.live == "" || commonPrefixLen(s.live, text) > 0 {
		s.live = text
		return
	}
	s.commitLiveLocked()
	s.live = text
}

// CommitLive folds the live utterance into the committed text. Called when a
// turn is submitted or when the service moves on to a new utterance.
func (s *State) CommitLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitLiveLocked()
}

func (s *State) commitLiveLocked() {
	if s.live == "" {
		return
	}
	if s.committed == "" {
		s.committed = s.live
	} else {
		s.committed += " " + s.live
	}
	s.live = ""
}

// Snapshot returns the full transcript so far: committed text followed by the
// live utterance.
func (s *State) Snapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.committed == "":
		return s.live
	case s.live == "":
		return s.committed
	default:
		return s.committed + " " + s.live
	}
}

// Committed returns only the committed portion of the transcript.
func (s *State) Committed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// Reset clears both committed and live text, ready for a new turn.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = ""
	s.live = ""
}

// commonPrefixLen returns the length in bytes of the longest common prefix of
// a and b. Transcripts are compared byte-wise; the service emits UTF-8 and a
// prefix boundary inside a rune only occurs when the texts genuinely diverge
// there.
func commonPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
