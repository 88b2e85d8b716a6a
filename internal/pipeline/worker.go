package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/longyee25564126/QuizCraft/internal/chunker"
	"github.com/longyee25564126/QuizCraft/internal/config"
	"github.com/longyee25564126/QuizCraft/internal/document"
	"github.com/longyee25564126/QuizCraft/internal/embedcache"
	"github.com/longyee25564126/QuizCraft/internal/index"
	"github.com/longyee25564126/QuizCraft/internal/llm"
	"github.com/longyee25564126/QuizCraft/internal/parser"
	"github.com/longyee25564126/QuizCraft/internal/quiz"
	"github.com/longyee25564126/QuizCraft/internal/summarize"
)

const embedConcurrency = 4

// Worker runs the full study-pack build for one job at a time.
type Worker struct {
	client llm.Client
	cache  embedcache.Store
	cfg    config.Config
	log    *slog.Logger
}

func NewWorker(client llm.Client, cache embedcache.Store, cfg config.Config, log *slog.Logger) *Worker {
	return &Worker{client: client, cache: cache, cfg: cfg, log: log}
}

// Process walks a job through every pipeline stage. Stage failures that
// still leave usable output mark the job partial; a job fails outright
// only when there is nothing to build from.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filename", job.Filename)
	opts := job.Options()

	// Stage 1: parse into cleaned pages.
	job.SetStatus(StatusParsing, "parsing")
	pages, err := w.parse(job)
	if err != nil {
		log.Error("parse failed", "error", err)
		job.AddError(fmt.Sprintf("parse: %s", err))
		job.SetStatus(StatusFailed, "parsing")
		return
	}
	job.ReleaseFileData()

	// Stage 2: chunk. Zero chunks means nothing downstream can work.
	job.SetStatus(StatusChunking, "chunking")
	chunkCfg := w.chunkConfig(opts)
	chunks, skipped := chunker.ChunkPages(pages, chunkCfg)
	job.SetCounts(len(pages), len(chunks), 0)
	for _, page := range skipped {
		job.AddError(fmt.Sprintf("page %d skipped: no extractable text", page))
	}
	if len(chunks) == 0 {
		log.Error("no chunks produced")
		job.AddError("no extractable content")
		job.SetStatus(StatusFailed, "chunking")
		return
	}
	log.Info("chunked document", "pages", len(pages), "chunks", len(chunks), "skipped_pages", len(skipped))

	// Stage 3: narrow scope, then select.
	scoped, narrowed := index.ScopeFilter(chunks, opts.PageFrom, opts.PageTo, opts.Chapter)
	if narrowed {
		log.Info("scope filter applied", "chunks", len(scoped))
	}

	sel, err := w.selectChunks(ctx, job, pages, scoped)
	if err != nil {
		log.Error("selection failed", "error", err)
		job.AddError(fmt.Sprintf("select: %s", err))
		job.SetStatus(StatusFailed, "selecting")
		return
	}
	job.SetCounts(0, 0, len(sel.Chunks))
	log.Info("chunks selected", "mode", sel.Mode, "selected", len(sel.Chunks))

	// Stage 4: map-reduce summary.
	job.SetStatus(StatusSummarizing, "summarizing")
	summarizer := summarize.New(w.client, w.summarizeConfig(), w.log)
	summary, err := summarizer.Summarize(ctx, sel)
	if err != nil {
		log.Error("summarize failed", "error", err)
		job.AddError(fmt.Sprintf("summarize: %s", err))
		job.SetStatus(StatusFailed, "summarizing")
		return
	}

	// Stage 5: quiz generation.
	job.SetStatus(StatusGenerating, "generating")
	quizCfg := w.quizConfig(opts)
	generator := quiz.NewGenerator(w.client, quizCfg, w.log)
	questions, substitutions, err := generator.Generate(ctx, sel)
	if err != nil {
		log.Error("question generation failed", "error", err)
		job.AddError(fmt.Sprintf("generate: %s", err))
		job.SetStatus(StatusFailed, "generating")
		return
	}

	// Stage 6: verify and assemble.
	job.SetStatus(StatusVerifying, "verifying")
	verifier := quiz.NewVerifier(w.client, quizCfg, w.log)
	quizSet := verifier.Verify(ctx, questions, sel, substitutions)
	job.SetQuizCounts(quizSet.Requested, len(quizSet.Questions))
	log.Info("quiz verified",
		"requested", quizSet.Requested,
		"verified", len(quizSet.Questions),
		"shortfall", quizSet.Shortfall)

	title := job.Title
	if title == "" {
		title = parser.Title(job.Filename)
	}
	job.SetResult(&document.StudyPack{
		Title:        title,
		Summary:      summary,
		Quiz:         quizSet,
		SkippedPages: skipped,
	})

	if quizSet.Shortfall > 0 || len(skipped) > 0 {
		job.SetStatus(StatusPartial, "done")
		return
	}
	job.SetStatus(StatusCompleted, "done")
}

func (w *Worker) parse(job *Job) ([]document.Page, error) {
	p, err := parser.ForFile(job.Filename)
	if err != nil {
		return nil, err
	}
	pages, err := p.Parse(bytes.NewReader(job.FileData()), job.Filename)
	if err != nil {
		return nil, err
	}
	return parser.Clean(pages, 0), nil
}

// selectChunks decides between taking everything and similarity-based
// narrowing. Short documents keep all their chunks; long ones are
// embedded and ranked against the document title.
func (w *Worker) selectChunks(ctx context.Context, job *Job, pages []document.Page, chunks []document.Chunk) (document.SelectionResult, error) {
	useSelector := len(pages) >= w.cfg.LongDocThresholdPages || len(chunks) > w.cfg.MaxChunks
	if !useSelector {
		return index.SelectAll(chunks), nil
	}

	job.SetStatus(StatusEmbedding, "embedding")
	ix, err := index.Build(ctx, w.client, w.cache, chunks, embedConcurrency)
	if err != nil {
		return document.SelectionResult{}, err
	}

	job.SetStatus(StatusSelecting, "selecting")
	query := job.Title
	if query == "" {
		query = parser.Title(job.Filename)
	}
	queryVec, err := index.EmbedQuery(ctx, w.client, w.cache, query)
	if err != nil {
		return document.SelectionResult{}, err
	}

	topK := w.cfg.TopKChunks
	if topK > w.cfg.MaxChunks {
		topK = w.cfg.MaxChunks
	}
	selector := index.SimilaritySelector{
		TopK: topK,
		// Selection is capped at four map batches of material.
		BudgetTokens: 4 * w.cfg.SummaryBudgetTokens,
		MinScore:     w.cfg.MinSimilarity,
	}
	return selector.Select(ix, queryVec), nil
}

func (w *Worker) chunkConfig(opts Options) chunker.Config {
	cfg := chunker.Config{
		ChunkTokens:    w.cfg.ChunkTokens,
		OverlapTokens:  w.cfg.OverlapTokens,
		MinChunkTokens: w.cfg.MinChunkTokens,
	}
	if opts.ChunkTokens > 0 {
		cfg.ChunkTokens = opts.ChunkTokens
	}
	if opts.OverlapTokens > 0 && opts.OverlapTokens < cfg.ChunkTokens {
		cfg.OverlapTokens = opts.OverlapTokens
	}
	return cfg
}

func (w *Worker) summarizeConfig() summarize.Config {
	cfg := summarize.DefaultConfig()
	cfg.BatchTokens = w.cfg.SummaryBudgetTokens
	cfg.OverviewMinChars = w.cfg.OverviewMinChars
	cfg.OverviewMaxChars = w.cfg.OverviewMaxChars
	cfg.ChatTimeout = w.cfg.ChatTimeout
	cfg.ReduceTimeout = w.cfg.ReduceTimeout
	return cfg
}

func (w *Worker) quizConfig(opts Options) quiz.Config {
	cfg := quiz.DefaultConfig()
	cfg.Count = w.cfg.QuestionCount
	cfg.EvidenceBudgetTokens = w.cfg.EvidenceBudgetTokens
	cfg.RewriteRetries = w.cfg.RewriteRetries
	cfg.ChatTimeout = w.cfg.ChatTimeout

	types := make([]document.QuestionType, 0, len(w.cfg.QuestionTypes))
	for _, raw := range w.cfg.QuestionTypes {
		if qt, ok := document.ParseQuestionType(raw); ok {
			types = append(types, qt)
		}
	}
	if len(types) > 0 {
		cfg.Types = types
	}

	if opts.QuestionCount > 0 {
		cfg.Count = opts.QuestionCount
	}
	if len(opts.QuestionTypes) > 0 {
		cfg.Types = opts.QuestionTypes
	}
	return cfg
}
