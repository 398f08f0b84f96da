package rag

import "strings"

// SystemInstruction tells the model to stay inside the grounding block.
const SystemInstruction = `You are the course assistant for this learning platform. Answer the question using only the information in the DOCUMENTS section.
If the DOCUMENTS section is empty or does not contain enough information to answer, say so explicitly and explain that you can only answer questions about the available course material. Never invent an answer.`

// Prompt is the two-part input sent to the generation model.
type Prompt struct {
	// System carries the instruction and the grounding block.
	System string
	// User is the raw user query, sent as a separate turn.
	User string
}

// GroundingBlock joins retrieved passages one per line. No passages yields
// the empty string.
func GroundingBlock(contents []string) string {
	return strings.Join(contents, "\n")
}

// BuildPrompt assembles a Prompt. It has no side effects.
func BuildPrompt(instruction, groundingBlock, query string) Prompt {
	return Prompt{
		System: instruction + "\n\nDOCUMENTS:\n" + groundingBlock,
		User:   query,
	}
}
