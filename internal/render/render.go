// Package render projects message parts into display blocks.
package render

import (
	"strings"

	"aichat-backend/internal/model"
)

type BlockKind string

const (
	BlockText  BlockKind = "text"
	BlockTool  BlockKind = "tool"
	BlockImage BlockKind = "image"
)

// TextSeparator joins consecutive text parts inside one bubble.
const TextSeparator = "\n\n"

// Block is one renderable unit. Text blocks carry Text; tool blocks carry the
// originating part; image blocks carry Image.
type Block struct {
	Kind  BlockKind
	Text  string
	Part  model.Part
	Image string
}

// Project groups consecutive text parts into one block and gives every other
// part a block of its own, flushing pending text first. Block order follows
// part order. Empty text parts are kept inside their group so no part is lost.
func Project(parts []model.Part) []Block {
	var (
		blocks  []Block
		pending []string
	)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		blocks = append(blocks, Block{Kind: BlockText, Text: strings.Join(pending, TextSeparator)})
		pending = nil
	}

	for _, p := range parts {
		switch p.Type {
		case model.PartText:
			pending = append(pending, p.Text)
		case model.PartImage:
			flush()
			blocks = append(blocks, Block{Kind: BlockImage, Image: p.Image, Part: p})
		default:
			flush()
			blocks = append(blocks, Block{Kind: BlockTool, Part: p})
		}
	}
	flush()
	return blocks
}

// VisibleResponses returns the candidates of a multi-model message that should be shown.
func VisibleResponses(msg model.Message) []model.ModelResponse {
	var out []model.ModelResponse
	for _, r := range msg.MultiModelResponses {
		if r.Show {
			out = append(out, r)
		}
	}
	return out
}
