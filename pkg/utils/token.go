package utils

import (
	nanoid "github.com/jaevor/go-nanoid"
)

// ShareTokenLength is the length of recording share tokens (URL-safe alphabet, ~143 bits).
const ShareTokenLength = 24

var shareTokenGen = func() func() string {
	gen, err := nanoid.Standard(ShareTokenLength)
	if err != nil {
		panic(err)
	}
	return gen
}()

// NewShareToken returns an opaque, non-sequential token for public recording links.
func NewShareToken() string {
	return shareTokenGen()
}
