package keyword

import (
	"sort"
	"strings"
	"sync"
)

// Suggestion is a dictionary term close to a misspelled query term.
type Suggestion struct {
	Term      string  `json:"term"`
	Distance  int     `json:"distance"`
	Frequency int     `json:"frequency"`
	Score     float64 `json:"score"`
}

// SpellChecker suggests corrections for record viewer queries that find nothing,
// using the vocabulary of the indexed records.
type SpellChecker struct {
	dictionary     TermDictionary
	maxDistance    int
	minFreq        int
	maxSuggestions int

	mu       sync.RWMutex
	terms    []string
	termSet  map[string]struct{}
	valid    bool
	docCount uint64
}

// docCounter is implemented by dictionaries that can report their size; the
// vocabulary is reloaded whenever it changes.
type docCounter interface {
	DocCount() (uint64, error)
}

// SpellCheckerOption is a functional option for configuring SpellChecker.
type SpellCheckerOption func(*SpellChecker)

// WithMaxDistance sets the maximum edit distance for suggestions.
func WithMaxDistance(d int) SpellCheckerOption {
	return func(s *SpellChecker) {
		if d > 0 {
			s.maxDistance = d
		}
	}
}

// WithMinFrequency sets the minimum number of records a suggested term must appear in.
func WithMinFrequency(f int) SpellCheckerOption {
	return func(s *SpellChecker) {
		if f >= 0 {
			s.minFreq = f
		}
	}
}

// WithMaxSuggestions sets the maximum number of suggestions returned per term.
func WithMaxSuggestions(n int) SpellCheckerOption {
	return func(s *SpellChecker) {
		if n > 0 {
			s.maxSuggestions = n
		}
	}
}

// NewSpellChecker creates a SpellChecker over dict.
func NewSpellChecker(dict TermDictionary, opts ...SpellCheckerOption) *SpellChecker {
	s := &SpellChecker{
		dictionary:     dict,
		maxDistance:    2,
		minFreq:        1,
		maxSuggestions: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invalidate drops the cached vocabulary; the next lookup reloads it.
func (s *SpellChecker) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

func (s *SpellChecker) load() error {
	var count uint64
	counter, counted := s.dictionary.(docCounter)
	if counted {
		n, err := counter.DocCount()
		if err != nil {
			return err
		}
		count = n
	}
	s.mu.RLock()
	valid := s.valid && (!counted || count == s.docCount)
	s.mu.RUnlock()
	if valid {
		return nil
	}

	terms, err := s.dictionary.GetAllTerms()
	if err != nil {
		return err
	}
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[strings.ToLower(t)] = struct{}{}
	}
	s.mu.Lock()
	s.terms, s.termSet, s.valid, s.docCount = terms, set, true, count
	s.mu.Unlock()
	return nil
}

// Suggest returns dictionary terms within the edit distance of term, best first.
func (s *SpellChecker) Suggest(term string) ([]Suggestion, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	term = strings.ToLower(term)

	s.mu.RLock()
	terms := s.terms
	s.mu.RUnlock()

	var out []Suggestion
	for _, dictTerm := range terms {
		candidate := strings.ToLower(dictTerm)
		if candidate == term {
			continue
		}
		lenDiff := len(candidate) - len(term)
		if lenDiff < 0 {
			lenDiff = -lenDiff
		}
		if lenDiff > s.maxDistance {
			continue
		}
		distance := LevenshteinDistance(term, candidate)
		if distance > s.maxDistance {
			continue
		}
		freq, err := s.dictionary.GetTermFrequency(dictTerm)
		if err != nil || freq < s.minFreq {
			continue
		}
		out = append(out, Suggestion{
			Term:      dictTerm,
			Distance:  distance,
			Frequency: freq,
			Score:     float64(freq) / float64(distance+1),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Term < out[j].Term
	})
	if len(out) > s.maxSuggestions {
		out = out[:s.maxSuggestions]
	}
	return out, nil
}

// Correct replaces each unknown term of query with its best suggestion. The boolean
// is false when nothing changed.
func (s *SpellChecker) Correct(query string) (string, bool, error) {
	if err := s.load(); err != nil {
		return "", false, err
	}
	terms := tokenizeQuery(query)
	corrected := make([]string, 0, len(terms))
	changed := false
	for _, term := range terms {
		s.mu.RLock()
		_, known := s.termSet[term]
		s.mu.RUnlock()
		if known {
			corrected = append(corrected, term)
			continue
		}
		suggestions, err := s.Suggest(term)
		if err != nil {
			return "", false, err
		}
		if len(suggestions) == 0 {
			corrected = append(corrected, term)
			continue
		}
		corrected = append(corrected, suggestions[0].Term)
		changed = true
	}
	if !changed {
		return query, false, nil
	}
	return strings.Join(corrected, " "), true, nil
}
