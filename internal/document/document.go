// Package document holds the shared data model for a single study-pack run:
// pages as delivered by the parsers, the addressable evidence chunks cut from
// them, and the cited summary/quiz structures produced by the generators.
package document

import (
	"fmt"
	"strings"
)

// Page is one page of cleaned source text. Numbers are 1-based and contiguous;
// a page may carry empty text (e.g. a blank scan), in which case it yields no
// chunks and is reported as skipped.
type Page struct {
	Number int      `json:"page"`
	Text   string   `json:"text"`
	Lines  []string `json:"-"`
}

// Chunk is a token-bounded, page-addressable unit of source text. Every
// citation resolves to a chunk. Chunks are immutable once created and their
// IDs are deterministic for a given (document, chunking config) pair.
type Chunk struct {
	ID         string `json:"id"`
	PageStart  int    `json:"page_start"`
	PageEnd    int    `json:"page_end"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
}

// ChunkID builds the canonical chunk identifier for a page and 1-based
// sequence number within that page.
func ChunkID(page, seq int) string {
	return fmt.Sprintf("p%d_c%d", page, seq)
}

// Citation points at a chunk of the current run.
type Citation struct {
	Page    int    `json:"page"`
	ChunkID string `json:"chunk_id"`
}

// Tag renders the citation in the literal export format "p{page}:{chunk_id}".
func (c Citation) Tag() string {
	return fmt.Sprintf("p%d:%s", c.Page, c.ChunkID)
}

// SelectionMode records how a chunk subset was chosen.
type SelectionMode string

const (
	SelectAll        SelectionMode = "all"
	SelectScope      SelectionMode = "scope"
	SelectSimilarity SelectionMode = "similarity"
)

// SelectionResult is an ordered, duplicate-free subset of the run's chunks.
// Scores is populated only for similarity-based selection and is parallel to
// Chunks.
type SelectionResult struct {
	Chunks []Chunk       `json:"chunks"`
	Scores []float64     `json:"scores,omitempty"`
	Mode   SelectionMode `json:"mode"`
}

// TokenCount sums the token counts of the selected chunks.
func (s SelectionResult) TokenCount() int {
	total := 0
	for _, c := range s.Chunks {
		total += c.TokenCount
	}
	return total
}

// Lookup returns the selected chunks indexed by ID.
func (s SelectionResult) Lookup() map[string]Chunk {
	m := make(map[string]Chunk, len(s.Chunks))
	for _, c := range s.Chunks {
		m[c.ID] = c
	}
	return m
}

// SummarySection is one titled section of the final summary. Citations must
// reference chunk IDs that exist in the selection the section was produced
// from.
type SummarySection struct {
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Citations []Citation `json:"citations"`
	Keypoints []string   `json:"keypoints,omitempty"`
}

// Summary is the reduced output of the map-reduce summarizer.
type Summary struct {
	Overview  string           `json:"overview"`
	Sections  []SummarySection `json:"sections"`
	Keypoints []string         `json:"keypoints"`
}

// QuestionType enumerates the supported quiz question types.
type QuestionType string

const (
	TrueFalse      QuestionType = "true_false"
	MultipleChoice QuestionType = "multiple_choice"
	ShortAnswer    QuestionType = "short_answer"
	Calculation    QuestionType = "calculation"
)

// ParseQuestionType maps a loose string onto a QuestionType, accepting the
// short aliases used in configuration and model output.
func ParseQuestionType(s string) (QuestionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true_false", "tf":
		return TrueFalse, true
	case "multiple_choice", "mcq":
		return MultipleChoice, true
	case "short_answer", "short":
		return ShortAnswer, true
	case "calculation", "calc":
		return Calculation, true
	}
	return "", false
}

// VerificationStatus is the verifier's per-question state.
type VerificationStatus string

const (
	StatusUnverified VerificationStatus = "unverified"
	StatusVerified   VerificationStatus = "verified"
	StatusRewritten  VerificationStatus = "rewritten"
	StatusRejected   VerificationStatus = "rejected"
)

// Question is a single generated quiz item bound to its evidence chunks.
// Evidence is never empty for a question admitted to the final quiz.
type Question struct {
	ID          string             `json:"id"`
	Type        QuestionType       `json:"type"`
	Stem        string             `json:"stem"`
	Options     []string           `json:"options,omitempty"`
	Answer      string             `json:"answer"`
	Explanation string             `json:"explanation"`
	Evidence    []Citation         `json:"evidence"`
	Status      VerificationStatus `json:"verification_status"`
}

// TypeSubstitution records that a requested question type was infeasible for
// the material and was swapped for the nearest available type.
type TypeSubstitution struct {
	Requested QuestionType `json:"requested"`
	Used      QuestionType `json:"used"`
	Reason    string       `json:"reason"`
}

// QuizSet is the ordered final quiz. Shortfall is the number of requested
// questions that could not be verified and were dropped; it is always
// reported to the caller.
type QuizSet struct {
	Questions     []Question         `json:"questions"`
	Requested     int                `json:"requested"`
	Shortfall     int                `json:"shortfall"`
	Substitutions []TypeSubstitution `json:"substitutions,omitempty"`
}

// StudyPack is the final structured result handed to export writers and the
// quiz runner.
type StudyPack struct {
	Title        string  `json:"title"`
	Summary      Summary `json:"summary"`
	Quiz         QuizSet `json:"quiz"`
	SkippedPages []int   `json:"skipped_pages,omitempty"`
}
