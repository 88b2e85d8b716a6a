package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/longyee25564126/QuizCraft/internal/document"
)

// JobStatus represents the state of a study-pack job.
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusParsing     JobStatus = "parsing"
	StatusChunking    JobStatus = "chunking"
	StatusEmbedding   JobStatus = "embedding"
	StatusSelecting   JobStatus = "selecting"
	StatusSummarizing JobStatus = "summarizing"
	StatusGenerating  JobStatus = "generating"
	StatusVerifying   JobStatus = "verifying"
	StatusCompleted   JobStatus = "completed"
	StatusPartial     JobStatus = "partial"
	StatusFailed      JobStatus = "failed"
)

// Options are per-job overrides of the configured defaults. Zero values
// mean "use the configured default".
type Options struct {
	QuestionCount int
	QuestionTypes []document.QuestionType
	PageFrom      int
	PageTo        int
	Chapter       string
	ChunkTokens   int
	OverlapTokens int
}

// Job tracks the state of a single study-pack build.
type Job struct {
	mu sync.Mutex

	ID       string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename"`
	Title    string    `json:"title"`

	Progress Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	opts     Options
	fileData []byte
	result   *document.StudyPack
	errors   []string
}

// Progress tracks processing progress through the pipeline stages.
type Progress struct {
	Pages              int      `json:"pages"`
	Chunks             int      `json:"chunks"`
	SelectedChunks     int      `json:"selected_chunks"`
	QuestionsRequested int      `json:"questions_requested"`
	QuestionsVerified  int      `json:"questions_verified"`
	Errors             []string `json:"errors"`
}

func NewJob(filename, title string, opts Options, fileData []byte) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Phase:     "queued",
		Filename:  filename,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		opts:      opts,
		fileData:  fileData,
	}
}

// lastUpdate reads UpdatedAt under the job's own lock. Workers update
// jobs concurrently with the store's cleanup sweep.
func (j *Job) lastUpdate() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.UpdatedAt
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records a non-fatal error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetCounts records page/chunk/selection sizes as stages complete.
func (j *Job) SetCounts(pages, chunks, selected int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if pages > 0 {
		j.Progress.Pages = pages
	}
	if chunks > 0 {
		j.Progress.Chunks = chunks
	}
	if selected > 0 {
		j.Progress.SelectedChunks = selected
	}
	j.UpdatedAt = time.Now()
}

// SetQuizCounts records quiz progress.
func (j *Job) SetQuizCounts(requested, verified int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.QuestionsRequested = requested
	j.Progress.QuestionsVerified = verified
	j.UpdatedAt = time.Now()
}

// SetResult attaches the finished study pack.
func (j *Job) SetResult(pack *document.StudyPack) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = pack
	j.UpdatedAt = time.Now()
}

// Result returns the finished study pack, or nil while running.
func (j *Job) Result() *document.StudyPack {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Options returns the per-job overrides.
func (j *Job) Options() Options {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.opts
}

// FileData returns the raw upload bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// ReleaseFileData drops the upload bytes once parsing is done.
func (j *Job) ReleaseFileData() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = nil
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID       string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename"`
	Title    string    `json:"title"`
	Progress Progress  `json:"progress"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := j.Progress.Errors
	if errs == nil {
		errs = []string{}
	}
	return JobSnapshot{
		ID:       j.ID,
		Status:   j.Status,
		Phase:    j.Phase,
		Filename: j.Filename,
		Title:    j.Title,
		Progress: Progress{
			Pages:              j.Progress.Pages,
			Chunks:             j.Progress.Chunks,
			SelectedChunks:     j.Progress.SelectedChunks,
			QuestionsRequested: j.Progress.QuestionsRequested,
			QuestionsVerified:  j.Progress.QuestionsVerified,
			Errors:             errs,
		},
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.lastUpdate()) > s.ttl {
			delete(s.jobs, id)
		}
	}
}
