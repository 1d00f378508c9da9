package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phyntra/backend/internal/conversation"
	"github.com/phyntra/backend/internal/extraction"
	"github.com/phyntra/backend/internal/models"
	"github.com/phyntra/backend/internal/observability"
	"github.com/rs/zerolog"
)

// Status represents the upload batch status.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	// StatusError means every file in the batch failed.
	StatusError Status = "error"
)

var (
	// ErrBusy is returned when the session already has a batch in flight.
	ErrBusy = errors.New("an upload is already in progress for this session")
	// ErrNoFiles is returned for an empty batch.
	ErrNoFiles = errors.New("no files to upload")
)

// FileResult is the outcome of one file of a batch.
type FileResult struct {
	FileID string `json:"fileId,omitempty"`
	Name   string `json:"name"`
	Done   bool   `json:"done"`
	Error  string `json:"error,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// Job is one uploadFiles call running in the background.
type Job struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"sessionId"`
	Status      Status       `json:"status"`
	Current     int          `json:"current"` // 1-based file in flight, 0 when finished
	Total       int          `json:"total"`
	Succeeded   int          `json:"succeeded"`
	Failed      int          `json:"failed"`
	Progress    float64      `json:"progress"`
	Files       []FileResult `json:"files"`
	CreatedAt   time.Time    `json:"createdAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// Conversation is the part of the controller a job drives.
type Conversation interface {
	UploadFiles(ctx context.Context, files []models.UploadFile, progress conversation.ProgressFunc)
	Processing() bool
}

// Store defines the interface needed from storage layer.
type Store interface {
	SetStatus(id, status string) error
}

// Manager runs upload batches, at most one per session at a time.
type Manager struct {
	jobs   map[string]*Job
	active map[string]string // session id -> job id
	mu     sync.RWMutex
	store  Store
	log    zerolog.Logger
	wg     sync.WaitGroup
}

// NewManager creates a new upload batch manager. store may be nil.
func NewManager(store Store, log zerolog.Logger) *Manager {
	return &Manager{
		jobs:   make(map[string]*Job),
		active: make(map[string]string),
		store:  store,
		log:    log.With().Str("component", "upload").Logger(),
	}
}

// StartJob begins uploading files through conv in the background.
func (m *Manager) StartJob(sessionID string, conv Conversation, files []models.UploadFile) (*Job, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	m.mu.Lock()
	if _, busy := m.active[sessionID]; busy || conv.Processing() {
		m.mu.Unlock()
		return nil, ErrBusy
	}

	job := &Job{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Status:    StatusProcessing,
		Current:   1,
		Total:     len(files),
		Files:     make([]FileResult, len(files)),
		CreatedAt: time.Now(),
	}
	for i, f := range files {
		job.Files[i] = FileResult{FileID: f.ID, Name: f.Name}
	}
	m.jobs[job.ID] = job
	m.active[sessionID] = job.ID
	snapshot := job.snapshot()
	m.mu.Unlock()

	m.wg.Add(1)
	go m.processJob(job, conv, files)

	return snapshot, nil
}

// GetJob retrieves a copy of a job by ID.
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return job.snapshot(), true
}

// ActiveJob returns the batch in flight for a session, if any.
func (m *Manager) ActiveJob(sessionID string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.active[sessionID]
	if !ok {
		return nil, false
	}
	return m.jobs[id].snapshot(), true
}

// HasActiveJob reports whether a batch is still running for the session.
func (m *Manager) HasActiveJob(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[sessionID]
	return ok
}

// Wait blocks until every started job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) processJob(job *Job, conv Conversation, files []models.UploadFile) {
	defer m.wg.Done()
	log := m.log.With().Str("job_id", job.ID).Str("session_id", job.SessionID).Logger()
	log.Info().Int("files", len(files)).Msg("starting upload batch")

	m.setFileStatus(files, "processing")

	// The batch must outlive the request that started it.
	conv.UploadFiles(context.Background(), files, func(index, total int, err error) {
		m.recordResult(job, index, total, err)
		if files[index].ID != "" && m.store != nil {
			status := "processed"
			if err != nil {
				status = "error"
			}
			if serr := m.store.SetStatus(files[index].ID, status); serr != nil {
				log.Warn().Err(serr).Str("file_id", files[index].ID).Msg("failed to update file status")
			}
		}
	})

	m.markJobComplete(job)
	log.Info().Int("succeeded", job.Succeeded).Int("failed", job.Failed).Msg("upload batch complete")
}

func (m *Manager) setFileStatus(files []models.UploadFile, status string) {
	if m.store == nil {
		return
	}
	for _, f := range files {
		if f.ID == "" {
			continue
		}
		if err := m.store.SetStatus(f.ID, status); err != nil {
			m.log.Warn().Err(err).Str("file_id", f.ID).Msg("failed to update file status")
		}
	}
}

// recordResult updates job progress (thread-safe).
func (m *Manager) recordResult(job *Job, index, total int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &job.Files[index]
	result.Done = true
	if err != nil {
		job.Failed++
		result.Error = err.Error()
		result.Kind = string(extraction.KindService)
		var uerr *extraction.UploadError
		if errors.As(err, &uerr) {
			result.Kind = string(uerr.Kind)
		}
	} else {
		job.Succeeded++
	}

	done := job.Succeeded + job.Failed
	job.Progress = float64(done) / float64(total) * 100
	if done < total {
		job.Current = done + 1
	}
}

// markJobComplete marks job as finished (thread-safe).
func (m *Manager) markJobComplete(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = StatusComplete
	if job.Succeeded == 0 {
		job.Status = StatusError
	}
	job.Current = 0
	job.Progress = 100
	now := time.Now()
	job.CompletedAt = &now
	delete(m.active, job.SessionID)
	observability.UploadJobsTotal.WithLabelValues(string(job.Status)).Inc()
}

// CleanupOldJobs removes finished jobs older than the specified duration.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, job := range m.jobs {
		if job.Status == StatusComplete || job.Status == StatusError {
			if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
				delete(m.jobs, id)
				removed++
			}
		}
	}
	return removed
}

func (j *Job) snapshot() *Job {
	c := *j
	c.Files = make([]FileResult, len(j.Files))
	copy(c.Files, j.Files)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
