package budget

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// Counter measures the token cost of a piece of context text.
type Counter interface {
	Count(text string) int
}

// NewCounter returns a tiktoken-backed counter for the configured
// encoding, falling back to a character estimate when the encoding
// cannot be loaded (e.g. offline). Selection is deterministic for a
// given counter.
func NewCounter(encoding string, charsPerToken int) Counter {
	if encoding != "" {
		enc, err := tiktoken.GetEncoding(encoding)
		if err == nil {
			return &tiktokenCounter{enc: enc}
		}
		log.Warn().Err(err).Str("encoding", encoding).Msg("tiktoken unavailable, using character estimate")
	}
	return &charCounter{charsPerToken: charsPerToken}
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

type charCounter struct {
	charsPerToken int
}

func (c *charCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + c.charsPerToken - 1) / c.charsPerToken
}
