package utils

import (
	"log/slog"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tiktoken encoding used for budgets.
const DefaultEncoding = "o200k_base"

// MaxChunksPerGroup bounds how many chunks are sent to the model together.
const MaxChunksPerGroup = 4

// TokenCounter counts model tokens in a string.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with a tiktoken encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateCounter approximates token counts without a vocabulary: one token per
// CJK rune and one per four other runes.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	var cjk, other int
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else {
			other++
		}
	}
	return cjk + (other+3)/4
}

var (
	defaultCounterOnce sync.Once
	defaultCounter     TokenCounter
)

// NewTokenCounter loads the named tiktoken encoding, falling back to
// EstimateCounter when the vocabulary cannot be loaded.
func NewTokenCounter(encoding string) TokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, estimating token counts", "encoding", encoding, "error", err)
		return EstimateCounter{}
	}
	return &TiktokenCounter{enc: enc}
}

// DefaultTokenCounter returns a process-wide counter for DefaultEncoding.
func DefaultTokenCounter() TokenCounter {
	defaultCounterOnce.Do(func() {
		defaultCounter = NewTokenCounter(DefaultEncoding)
	})
	return defaultCounter
}

// GroupChunks packs chunk indices into groups whose token total stays under
// budget, then splits every group into runs of at most perGroup chunks. A chunk
// larger than the budget forms a group of its own.
func GroupChunks(chunks []string, counter TokenCounter, budget int, perGroup int) [][]int {
	if perGroup <= 0 {
		perGroup = MaxChunksPerGroup
	}
	var out [][]int
	flush := func(idx []int) {
		for b := 0; b < len(idx); b += perGroup {
			end := min(b+perGroup, len(idx))
			out = append(out, append([]int(nil), idx[b:end]...))
		}
	}

	var cur []int
	cnt := 0
	for i, c := range chunks {
		n := counter.Count(c)
		if len(cur) > 0 && cnt+n >= budget {
			flush(cur)
			cur, cnt = nil, 0
		}
		cur = append(cur, i)
		cnt += n
	}
	if len(cur) > 0 {
		flush(cur)
	}
	return out
}

// TruncateTokens cuts text to roughly max tokens.
func TruncateTokens(counter TokenCounter, text string, max int) string {
	if max <= 0 || counter.Count(text) <= max {
		return text
	}
	if tc, ok := counter.(*TiktokenCounter); ok {
		ids := tc.enc.Encode(text, nil, nil)
		return tc.enc.Decode(ids[:max])
	}
	lo, hi := 0, utf8.RuneCountInString(text)
	runes := []rune(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.Count(string(runes[:mid])) <= max {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
