// Package voicecmd detects spoken control commands in user transcriptions so
// a coaching session can be steered hands-free mid-exercise. Matching is
// tolerant of speech-to-text noise: each known command is compared against
// the transcript using Double Metaphone phonetic codes first, with a
// Jaro-Winkler similarity fallback for near-miss spellings.
package voicecmd

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Command is a recognised spoken control action.
type Command int

const (
	// CmdNone means no command was detected.
	CmdNone Command = iota

	// CmdPause pauses coaching feedback without ending the session.
	CmdPause

	// CmdResume resumes coaching feedback after a pause.
	CmdResume

	// CmdStop ends the session.
	CmdStop

	// CmdRepeat asks the assistant to repeat its last instruction.
	CmdRepeat
)

func (c Command) String() string {
	switch c {
	case CmdPause:
		return "pause"
	case CmdResume:
		return "resume"
	case CmdStop:
		return "stop"
	case CmdRepeat:
		return "repeat"
	default:
		return "none"
	}
}

// phrase binds one spoken form to its command.
type phrase struct {
	text string
	cmd  Command
}

func defaultPhrases() []phrase {
	return []phrase{
		{"pause coaching", CmdPause},
		{"hold on", CmdPause},
		{"resume coaching", CmdResume},
		{"keep going", CmdResume},
		{"stop session", CmdStop},
		{"end session", CmdStop},
		{"repeat that", CmdRepeat},
		{"say that again", CmdRepeat},
	}
}

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Filter].
type Option func(*Filter)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched phrase to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(f *Filter) { f.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic overlap is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(f *Filter) { f.fuzzyThreshold = threshold }
}

// WithPhrases replaces the built-in phrase set. Each entry maps one spoken
// form to a command; multiple forms may map to the same command.
func WithPhrases(phrases map[string]Command) Option {
	return func(f *Filter) {
		f.phrases = f.phrases[:0]
		for text, cmd := range phrases {
			f.phrases = append(f.phrases, phrase{text: text, cmd: cmd})
		}
	}
}

// Match is one detected command occurrence.
type Match struct {
	// Command is the recognised action.
	Command Command

	// Phrase is the canonical spoken form that matched.
	Phrase string

	// Confidence is the Jaro-Winkler similarity of the match, 0–1.
	Confidence float64
}

// Filter detects control commands in transcription text. Read-only after
// construction; safe for concurrent use.
type Filter struct {
	phrases           []phrase
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Filter with the built-in phrase set.
func New(opts ...Option) *Filter {
	f := &Filter{
		phrases:           defaultPhrases(),
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Detect scans a transcript for the best-matching command phrase. The
// transcript is compared n-gram by n-gram so a command embedded in a longer
// utterance ("okay please pause coaching now") is still found. Returns
// (zero Match, false) when nothing clears the thresholds.
func (f *Filter) Detect(transcript string) (Match, bool) {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(transcript)))
	if len(tokens) == 0 {
		return Match{}, false
	}

	var best Match
	for _, p := range f.phrases {
		plen := len(strings.Fields(p.text))
		for i := 0; i+plen <= len(tokens); i++ {
			gram := strings.Join(tokens[i:i+plen], " ")
			score, ok := f.score(gram, p.text)
			if ok && score > best.Confidence {
				best = Match{Command: p.cmd, Phrase: p.text, Confidence: score}
			}
		}
	}
	if best.Command == CmdNone {
		return Match{}, false
	}
	return best, true
}

// score compares one n-gram against one phrase. Phonetic overlap lowers the
// similarity bar; without it, only near-exact spellings pass.
func (f *Filter) score(gram, phraseText string) (float64, bool) {
	similarity := matchr.JaroWinkler(gram, phraseText, true)

	threshold := f.fuzzyThreshold
	if codesOverlap(gram, phraseText) {
		threshold = f.phoneticThreshold
	}
	if similarity < threshold {
		return 0, false
	}
	return similarity, true
}

// codesOverlap reports whether any word of a shares a Double Metaphone code
// with any word of b.
func codesOverlap(a, b string) bool {
	codes := make(map[string]struct{})
	for _, w := range strings.Fields(a) {
		primary, secondary := matchr.DoubleMetaphone(w)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	for _, w := range strings.Fields(b) {
		primary, secondary := matchr.DoubleMetaphone(w)
		if primary != "" {
			if _, ok := codes[primary]; ok {
				return true
			}
		}
		if secondary != "" {
			if _, ok := codes[secondary]; ok {
				return true
			}
		}
	}
	return false
}
