package stream

import (
	"context"
	"time"
	"unicode"
)

// SplitWords cuts text into word-sized pieces that concatenate back to the
// input. Each piece is a run of non-space characters followed by its trailing spaces.
func SplitWords(text string) []string {
	var words []string
	start := 0
	inSpace := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if inSpace && !space {
			words = append(words, text[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(text) {
		words = append(words, text[start:])
	}
	return words
}

// Pace forwards text through emit in word pieces, sleeping delay between them.
// With chunking disabled the text is emitted in one piece.
func Pace(ctx context.Context, text string, chunking bool, delay time.Duration, emit func(string)) error {
	if !chunking {
		if text != "" {
			emit(text)
		}
		return nil
	}
	for i, w := range SplitWords(text) {
		if i > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		emit(w)
	}
	return nil
}
