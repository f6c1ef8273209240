package tokenizer

import (
	"fmt"
	"strings"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"toolchat/internal/domain"
)

// CharsPerToken is the divisor used by CharEstimator.
const CharsPerToken = 4

// CharEstimator approximates token counts as ceil(length/4), where length is
// measured in UTF-16 code units. It never fails and is monotonic in length.
type CharEstimator struct{}

// CountTokens returns ceil(len(text)/CharsPerToken).
func (CharEstimator) CountTokens(text string) (int, error) {
	return Estimate(text), nil
}

// Estimate is the error-free form of CharEstimator.CountTokens.
func Estimate(text string) int {
	n := utf16Len(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// TikToken wraps tiktoken-go to implement domain.Tokenizer.
type TikToken struct {
	encoding *tiktoken.Tiktoken
}

// NewTikToken creates a new TikToken tokenizer with the given encoding name.
// Common encodings: "cl100k_base" (GPT-4/3.5), "o200k_base" (GPT-4o).
// Returns an error if the encoding is not recognized.
func NewTikToken(encodingName string) (*TikToken, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: unknown encoding %q: %w", encodingName, err)
	}
	return &TikToken{encoding: enc}, nil
}

// CountTokens returns the number of tokens in the given text.
func (t *TikToken) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	tokens := t.encoding.Encode(text, nil, nil)
	return len(tokens), nil
}

// New returns the tokenizer named by the context.tokenizer config value.
// "" and "chars" select CharEstimator; anything else is a tiktoken encoding.
func New(name string) (domain.Tokenizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "chars":
		return CharEstimator{}, nil
	default:
		return NewTikToken(name)
	}
}
