package summarize

import (
	"fmt"
	"strings"

	"github.com/longyee25564126/QuizCraft/internal/document"
)

const mapSystemPrompt = `You are a study assistant summarizing lecture material.
Work only from the provided excerpts. Never use outside knowledge and never
invent facts. Respond with JSON only.`

const mapFormat = `{
  "sections": [
    {
      "title": "short section title",
      "body": "2-4 sentence summary of one theme",
      "citations": ["chunk id", "..."],
      "keypoints": ["one-line fact", "..."]
    }
  ]
}`

func mapUserPrompt(chunks []document.Chunk) string {
	var b strings.Builder
	b.WriteString("Summarize the lecture excerpts below into 1-3 thematic sections.\n")
	b.WriteString("Every section must cite the ids of the excerpts it draws from.\n")
	b.WriteString("Return JSON in exactly this shape:\n")
	b.WriteString(mapFormat)
	b.WriteString("\n\nExcerpts:\n")
	for _, c := range chunks {
		fmt.Fprintf(&b, "[%s] (pages %d-%d)\n%s\n\n", c.ID, c.PageStart, c.PageEnd, c.Text)
	}
	return b.String()
}

const reduceSystemPrompt = `You are a study assistant combining draft summaries
into one coherent study summary. Work only from the drafts. Keep every cited
chunk id exactly as written. Respond with JSON only.`

func reduceFormat(minSections, maxSections, minKeypoints, maxKeypoints, overviewMin, overviewMax int) string {
	return fmt.Sprintf(`{
  "overview": "%d-%d character overview of the whole document",
  "sections": [
    {
      "title": "section title",
      "body": "merged section text",
      "citations": ["chunk id", "..."]
    }
  ],
  "keypoints": ["one-line fact", "..."]
}
Produce %d-%d sections and %d-%d keypoints.`,
		overviewMin, overviewMax, minSections, maxSections, minKeypoints, maxKeypoints)
}

func reduceUserPrompt(drafts []draftSection, minSections, maxSections, minKeypoints, maxKeypoints, overviewMin, overviewMax int) string {
	var b strings.Builder
	b.WriteString("Merge the draft sections below into one final summary.\n")
	b.WriteString("Deduplicate overlapping themes and keep citations attached to the\n")
	b.WriteString("content they support. Cite only ids that appear in the drafts.\n")
	b.WriteString("Return JSON in exactly this shape:\n")
	b.WriteString(reduceFormat(minSections, maxSections, minKeypoints, maxKeypoints, overviewMin, overviewMax))
	b.WriteString("\n\nDrafts:\n")
	for i, d := range drafts {
		fmt.Fprintf(&b, "Draft %d: %s\n%s\nCitations: %s\n", i+1, d.Title, d.Body, strings.Join(d.Citations, ", "))
		if len(d.Keypoints) > 0 {
			fmt.Fprintf(&b, "Keypoints: %s\n", strings.Join(d.Keypoints, "; "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

const correctiveInstruction = "Your previous reply was not valid JSON in the requested shape. Respond again with only the JSON object, no prose, no code fences."
