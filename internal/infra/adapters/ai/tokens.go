package ai

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"health-triage/internal/domain/ports/adapter"
)

var _ adapter.TokenCounter = (*TiktokenCounter)(nil)

// TiktokenCounter estimates tokens with the cl100k_base encoding. When the
// encoding cannot be loaded it falls back to roughly four runes per token.
type TiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewTokenCounter() *TiktokenCounter { return &TiktokenCounter{} }

func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	n := utf8.RuneCountInString(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
