package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/longyee25564126/QuizCraft/internal/document"
	"github.com/longyee25564126/QuizCraft/internal/parser"
	"github.com/longyee25564126/QuizCraft/internal/pipeline"
)

func (s *Server) handleCreateStudyPack(w http.ResponseWriter, r *http.Request) {
	// Limit total request size, with headroom for form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !parser.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	opts, err := parseOptions(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := pipeline.NewJob(filename, r.FormValue("title"), opts, data)
	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"job_id": job.ID,
		"status": string(pipeline.StatusQueued),
	})
}

// parseOptions reads the optional form overrides for a job.
func parseOptions(r *http.Request) (pipeline.Options, error) {
	var opts pipeline.Options

	if v := r.FormValue("question_count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 50 {
			return opts, fmt.Errorf("question_count must be an integer between 1 and 50")
		}
		opts.QuestionCount = n
	}

	if v := r.FormValue("question_types"); v != "" {
		for _, raw := range strings.Split(v, ",") {
			qt, ok := document.ParseQuestionType(raw)
			if !ok {
				return opts, fmt.Errorf("unknown question type: %s", strings.TrimSpace(raw))
			}
			opts.QuestionTypes = append(opts.QuestionTypes, qt)
		}
	}

	// pages accepts "from-to" or a single page number.
	if v := r.FormValue("pages"); v != "" {
		from, to, err := parsePageRange(v)
		if err != nil {
			return opts, err
		}
		opts.PageFrom, opts.PageTo = from, to
	}

	opts.Chapter = r.FormValue("chapter")

	if v := r.FormValue("chunk_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.ChunkTokens = n
		}
	}
	if v := r.FormValue("overlap"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.OverlapTokens = n
		}
	}

	return opts, nil
}

func parsePageRange(v string) (int, int, error) {
	parts := strings.SplitN(v, "-", 2)
	from, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || from < 1 {
		return 0, 0, fmt.Errorf("pages must be a page number or from-to range")
	}
	if len(parts) == 1 {
		return from, from, nil
	}
	to, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || to < from {
		return 0, 0, fmt.Errorf("pages range end must be >= start")
	}
	return from, to, nil
}

func (s *Server) handleStudyPackStatus(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job.Snapshot())
}

func (s *Server) handleStudyPackResult(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}

	snap := job.Snapshot()
	switch snap.Status {
	case pipeline.StatusCompleted, pipeline.StatusPartial:
	case pipeline.StatusFailed:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"job_id": snap.ID,
			"status": snap.Status,
			"errors": snap.Progress.Errors,
		})
		return
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"job_id": snap.ID,
			"status": snap.Status,
			"error":  "job still running",
		})
		return
	}

	pack := job.Result()
	if pack == nil {
		jsonError(w, "result unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":     snap.ID,
		"status":     snap.Status,
		"study_pack": pack,
	})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// sanitizeFilename strips any path components from an uploaded name.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	if name == "" || name == "." || name == "/" {
		name = "upload"
	}
	return name
}
