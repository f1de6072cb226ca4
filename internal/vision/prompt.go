package vision

import "fmt"

const systemPrompt = `You are a visual indexing engine for a home camera. You receive a few stills taken from one short video clip. List the physical objects, places, people, and readable text that someone might later search for ("where did I leave my keys?"). Your output must be ONLY a single valid JSON object of the form {"keywords": ["..."]}. Do not include any other text, prose, or markdown.

Rules:
- Use short lower-case noun phrases ("red mug", "car keys", "kitchen counter").
- Prefer specific objects over generic scene words.
- Include at most %d keywords.`

// DefaultMaxKeywords caps the keywords requested from the model.
const DefaultMaxKeywords = 15

func buildSystemPrompt(maxKeywords int) string {
	if maxKeywords <= 0 {
		maxKeywords = DefaultMaxKeywords
	}
	return fmt.Sprintf(systemPrompt, maxKeywords)
}

func userPrompt(n int) string {
	if n == 1 {
		return "Here is 1 still from the clip."
	}
	return fmt.Sprintf("Here are %d stills from the clip, in time order.", n)
}
