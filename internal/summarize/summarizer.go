// Package summarize produces the cited study summary with a map-reduce
// flow: chunk batches are summarized independently, then one reduce call
// merges the drafts without ever re-reading source text.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/longyee25564126/QuizCraft/internal/document"
	"github.com/longyee25564126/QuizCraft/internal/llm"
)

// ErrAllBatchesFailed reports that no map batch produced a draft, so
// there is nothing for the reduce step to work from.
var ErrAllBatchesFailed = errors.New("summarize: all map batches failed")

type Config struct {
	BatchTokens      int
	MinSections      int
	MaxSections      int
	MinKeypoints     int
	MaxKeypoints     int
	OverviewMinChars int
	OverviewMaxChars int
	Temperature      float32
	ChatTimeout      time.Duration
	ReduceTimeout    time.Duration
	MapConcurrency   int
}

func DefaultConfig() Config {
	return Config{
		BatchTokens:      3000,
		MinSections:      3,
		MaxSections:      6,
		MinKeypoints:     5,
		MaxKeypoints:     8,
		OverviewMinChars: 100,
		OverviewMaxChars: 300,
		Temperature:      0.2,
		ChatTimeout:      60 * time.Second,
		ReduceTimeout:    180 * time.Second,
		MapConcurrency:   3,
	}
}

type draftSection struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Citations []string `json:"citations"`
	Keypoints []string `json:"keypoints"`
}

type mapResponse struct {
	Sections []draftSection `json:"sections"`
}

type reducedSection struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Citations []string `json:"citations"`
}

type reduceResponse struct {
	Overview  string           `json:"overview"`
	Sections  []reducedSection `json:"sections"`
	Keypoints []string         `json:"keypoints"`
}

type Summarizer struct {
	client llm.Client
	cfg    Config
	logger *slog.Logger
}

func New(client llm.Client, cfg Config, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MapConcurrency < 1 {
		cfg.MapConcurrency = 1
	}
	return &Summarizer{client: client, cfg: cfg, logger: logger}
}

// Summarize runs the full map-reduce flow over the selected chunks.
// Individual batch failures are tolerated; the run fails only when no
// batch yields a draft.
func (s *Summarizer) Summarize(ctx context.Context, sel document.SelectionResult) (document.Summary, error) {
	batches := batchChunks(sel.Chunks, s.cfg.BatchTokens)
	if len(batches) == 0 {
		return document.Summary{}, ErrAllBatchesFailed
	}

	drafts, failed := s.mapBatches(ctx, batches)
	if len(drafts) == 0 {
		return document.Summary{}, ErrAllBatchesFailed
	}
	if failed > 0 {
		s.logger.Warn("some summary batches failed",
			"failed", failed, "total", len(batches))
	}

	return s.reduce(ctx, drafts, sel)
}

// batchChunks groups chunks in document order so each batch stays under
// the token budget. An oversized single chunk gets its own batch.
func batchChunks(chunks []document.Chunk, budget int) [][]document.Chunk {
	if budget < 1 {
		budget = 1
	}
	var batches [][]document.Chunk
	var current []document.Chunk
	tokens := 0
	for _, c := range chunks {
		if len(current) > 0 && tokens+c.TokenCount > budget {
			batches = append(batches, current)
			current = nil
			tokens = 0
		}
		current = append(current, c)
		tokens += c.TokenCount
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func (s *Summarizer) mapBatches(ctx context.Context, batches [][]document.Chunk) ([]draftSection, int) {
	results := make([][]draftSection, len(batches))
	var mu sync.Mutex
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MapConcurrency)
	for i, batch := range batches {
		g.Go(func() error {
			sections, err := s.mapOne(gctx, batch)
			if err != nil {
				s.logger.Warn("summary batch failed", "batch", i, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				// Lost coverage for one batch is recoverable.
				return nil
			}
			results[i] = sections
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, len(batches)
	}

	// Flatten in batch order so drafts follow the document.
	var drafts []draftSection
	for _, sections := range results {
		drafts = append(drafts, sections...)
	}
	return drafts, failed
}

// mapOne summarizes one batch, retrying transient failures and giving a
// malformed response one corrective retry.
func (s *Summarizer) mapOne(ctx context.Context, batch []document.Chunk) ([]draftSection, error) {
	var resp mapResponse
	messages := []llm.Message{
		{Role: "system", Content: mapSystemPrompt},
		{Role: "user", Content: mapUserPrompt(batch)},
	}

	err := llm.WithRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.ChatTimeout)
		defer cancel()
		return llm.ChatJSON(callCtx, s.client, llm.ChatRequest{
			Messages:    messages,
			Temperature: s.cfg.Temperature,
		}, &resp)
	})

	var malformed *llm.MalformedError
	if errors.As(err, &malformed) {
		retryMessages := append(messages, llm.Message{Role: "user", Content: correctiveInstruction})
		err = llm.WithRetry(ctx, func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.ChatTimeout)
			defer cancel()
			return llm.ChatJSON(callCtx, s.client, llm.ChatRequest{
				Messages:    retryMessages,
				Temperature: s.cfg.Temperature,
			}, &resp)
		})
	}
	if err != nil {
		return nil, err
	}
	if len(resp.Sections) == 0 {
		return nil, fmt.Errorf("batch produced no sections")
	}

	valid := make(map[string]bool, len(batch))
	for _, c := range batch {
		valid[c.ID] = true
	}
	for i := range resp.Sections {
		resp.Sections[i].Citations = filterIDs(resp.Sections[i].Citations, valid)
		if len(resp.Sections[i].Citations) == 0 {
			resp.Sections[i].Citations = backfillFromChunks(resp.Sections[i].Body, batch)
		}
	}
	return resp.Sections, nil
}

func (s *Summarizer) reduce(ctx context.Context, drafts []draftSection, sel document.SelectionResult) (document.Summary, error) {
	prompt := reduceUserPrompt(drafts,
		s.cfg.MinSections, s.cfg.MaxSections,
		s.cfg.MinKeypoints, s.cfg.MaxKeypoints,
		s.cfg.OverviewMinChars, s.cfg.OverviewMaxChars)
	messages := []llm.Message{
		{Role: "system", Content: reduceSystemPrompt},
		{Role: "user", Content: prompt},
	}

	resp, err := s.reduceCall(ctx, messages)
	if err != nil || !s.withinBounds(resp, len(drafts)) {
		if err != nil {
			s.logger.Warn("reduce call failed, regenerating once", "error", err)
		} else {
			s.logger.Warn("reduce output out of bounds, regenerating once")
		}
		retryMessages := append(messages, llm.Message{Role: "user", Content: correctiveInstruction})
		resp, err = s.reduceCall(ctx, retryMessages)
	}
	if err != nil || !s.withinBounds(resp, len(drafts)) {
		s.logger.Warn("reduce unusable, assembling summary from drafts", "error", err)
		return s.fromDrafts(drafts, sel), nil
	}

	return s.finalize(resp, drafts, sel), nil
}

func (s *Summarizer) reduceCall(ctx context.Context, messages []llm.Message) (reduceResponse, error) {
	var resp reduceResponse
	err := llm.WithRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.ReduceTimeout)
		defer cancel()
		return llm.ChatJSON(callCtx, s.client, llm.ChatRequest{
			Messages:    messages,
			Temperature: s.cfg.Temperature,
		}, &resp)
	})
	return resp, err
}

// withinBounds accepts output whose structure can still be normalized:
// overlong lists get truncated later, but too few sections or keypoints
// or a bad overview means the model must try again.
func (s *Summarizer) withinBounds(resp reduceResponse, draftCount int) bool {
	minSections := min(s.cfg.MinSections, draftCount)
	if len(resp.Sections) < minSections {
		return false
	}
	overview := strings.TrimSpace(resp.Overview)
	if len(overview) < s.cfg.OverviewMinChars {
		return false
	}
	if len(resp.Keypoints) < s.cfg.MinKeypoints && len(resp.Keypoints) < draftKeypointFloor(draftCount) {
		return false
	}
	return true
}

// draftKeypointFloor relaxes the keypoint minimum for very small inputs
// where the material cannot support the configured floor.
func draftKeypointFloor(draftCount int) int {
	if draftCount < 2 {
		return 2
	}
	return draftCount
}

// finalize normalizes the reduce output and resolves citations against
// the selection. Sections over the cap are dropped from the tail;
// overlong overviews and keypoint lists are truncated.
func (s *Summarizer) finalize(resp reduceResponse, drafts []draftSection, sel document.SelectionResult) document.Summary {
	lookup := sel.Lookup()

	sections := resp.Sections
	if len(sections) > s.cfg.MaxSections {
		sections = sections[:s.cfg.MaxSections]
	}

	out := document.Summary{
		Overview:  clampOverview(resp.Overview, s.cfg.OverviewMaxChars),
		Keypoints: resp.Keypoints,
	}
	if len(out.Keypoints) > s.cfg.MaxKeypoints {
		out.Keypoints = out.Keypoints[:s.cfg.MaxKeypoints]
	}

	for _, sec := range sections {
		citations := resolveCitations(sec.Citations, lookup)
		if len(citations) == 0 {
			citations = resolveCitations(backfillFromDrafts(sec.Body, drafts, lookup), lookup)
		}
		if len(citations) == 0 {
			// A section that cannot be grounded in the source does not
			// belong in an evidence-backed summary.
			s.logger.Warn("dropping uncitable section", "title", sec.Title)
			continue
		}
		out.Sections = append(out.Sections, document.SummarySection{
			Title:     strings.TrimSpace(sec.Title),
			Body:      strings.TrimSpace(sec.Body),
			Citations: citations,
		})
	}
	return out
}

// fromDrafts assembles a best-effort summary directly from the map
// drafts when the reduce step cannot produce usable output.
func (s *Summarizer) fromDrafts(drafts []draftSection, sel document.SelectionResult) document.Summary {
	lookup := sel.Lookup()
	var out document.Summary

	var overview strings.Builder
	for _, d := range drafts {
		if overview.Len() >= s.cfg.OverviewMinChars {
			break
		}
		if overview.Len() > 0 {
			overview.WriteString(" ")
		}
		overview.WriteString(firstSentence(d.Body))
	}
	out.Overview = clampOverview(overview.String(), s.cfg.OverviewMaxChars)

	for _, d := range drafts {
		if len(out.Sections) >= s.cfg.MaxSections {
			break
		}
		citations := resolveCitations(d.Citations, lookup)
		if len(citations) == 0 {
			continue
		}
		out.Sections = append(out.Sections, document.SummarySection{
			Title:     strings.TrimSpace(d.Title),
			Body:      strings.TrimSpace(d.Body),
			Citations: citations,
		})
	}

	seen := make(map[string]bool)
	for _, d := range drafts {
		for _, kp := range d.Keypoints {
			kp = strings.TrimSpace(kp)
			if kp == "" || seen[kp] {
				continue
			}
			seen[kp] = true
			out.Keypoints = append(out.Keypoints, kp)
			if len(out.Keypoints) >= s.cfg.MaxKeypoints {
				return out
			}
		}
	}
	return out
}

func clampOverview(overview string, maxChars int) string {
	overview = strings.TrimSpace(overview)
	if maxChars > 0 && len(overview) > maxChars {
		cut := overview[:maxChars]
		if idx := strings.LastIndexByte(cut, ' '); idx > maxChars/2 {
			cut = cut[:idx]
		}
		overview = strings.TrimRight(cut, " ,;:") + "."
	}
	return overview
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return text[:i+1]
		}
	}
	return text
}

func filterIDs(ids []string, valid map[string]bool) []string {
	var out []string
	seen := make(map[string]bool)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if valid[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func resolveCitations(ids []string, lookup map[string]document.Chunk) []document.Citation {
	var out []document.Citation
	seen := make(map[string]bool)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		chunk, ok := lookup[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, document.Citation{Page: chunk.PageStart, ChunkID: id})
	}
	return out
}

// backfillFromChunks attributes an uncited body to the batch chunks that
// share vocabulary with it, keeping the attribution conservative.
func backfillFromChunks(body string, chunks []document.Chunk) []string {
	terms := significantTerms(body)
	var out []string
	for _, c := range chunks {
		if overlapCount(terms, significantTerms(c.Text)) > 0 {
			out = append(out, c.ID)
		}
	}
	return out
}

// backfillFromDrafts recovers citations for a reduced section by finding
// the draft whose text overlaps it most, then keeps only the citations
// whose chunk text still shares vocabulary with the section body.
func backfillFromDrafts(body string, drafts []draftSection, lookup map[string]document.Chunk) []string {
	terms := significantTerms(body)
	best := -1
	bestScore := 0
	for i, d := range drafts {
		score := overlapCount(terms, significantTerms(d.Body))
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 {
		return nil
	}

	var out []string
	for _, id := range drafts[best].Citations {
		chunk, ok := lookup[id]
		if ok && overlapCount(terms, significantTerms(chunk.Text)) > 0 {
			out = append(out, id)
		}
	}
	return out
}

func significantTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()[]{}\"'")
		if len(w) > 3 {
			terms[w] = true
		}
	}
	return terms
}

func overlapCount(a, b map[string]bool) int {
	n := 0
	for t := range a {
		if b[t] {
			n++
		}
	}
	return n
}
