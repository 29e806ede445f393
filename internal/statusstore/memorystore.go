package statusstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/queue"
)

// MemoryStore is an in-process Store, used by pipeline and kernel tests in
// place of a running SurrealDB instance.
type MemoryStore struct {
	mu           sync.Mutex
	jobs         map[string]*models.Job // keyed by owner_id/job_id
	timelines    map[string][]models.TimelineEvent
	seenEvents   map[string]struct{}
	index        map[string]models.DocumentIndexRow
	memory       map[string]models.MemorySnapshot
	deadLetters  []queue.DeadLetterEntry
	featureFlags map[string]map[string]struct{} // owner_id -> feature_key set
}

// NewMemoryStore returns an empty Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:         make(map[string]*models.Job),
		timelines:    make(map[string][]models.TimelineEvent),
		seenEvents:   make(map[string]struct{}),
		index:        make(map[string]models.DocumentIndexRow),
		memory:       make(map[string]models.MemorySnapshot),
		featureFlags: make(map[string]map[string]struct{}),
	}
}

func jobKey(ownerID, jobID string) string { return ownerID + "/" + jobID }

func (s *MemoryStore) CreateJob(ctx context.Context, job models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := jobKey(job.OwnerID, job.JobID)
	if _, exists := s.jobs[key]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, job.JobID)
	}
	cp := job
	s.jobs[key] = &cp
	return nil
}

func (s *MemoryStore) RecordEvent(ctx context.Context, event models.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity := event.EventIdentity()
	if _, seen := s.seenEvents[identity]; seen {
		return nil
	}
	s.seenEvents[identity] = struct{}{}

	key := jobKey(event.OwnerID, event.JobID)
	job, ok := s.jobs[key]
	if !ok {
		return fmt.Errorf("%w: job %s", ErrNotFound, event.JobID)
	}

	job.Stage = event.Stage
	job.UpdatedTS = event.TS
	if event.Cycle > 0 {
		job.CyclesCompleted = event.Cycle
	}
	if event.Message != "" {
		job.Message = event.Message
	}
	if event.Artifact != "" {
		job.Artifact = event.Artifact
	}
	switch event.Phase {
	case models.PhaseFailed:
		job.HasError = true
		job.LastError = event.Message
	case models.PhaseDone:
		job.HasError = false
	}

	events := s.timelines[key]
	events = append(events, event)
	sort.SliceStable(events, func(i, j int) bool { return events[i].TS.Before(events[j].TS) })
	s.timelines[key] = events

	s.index[key] = models.DocumentIndexRow{
		OwnerID:         job.OwnerID,
		JobID:           job.JobID,
		Title:           job.Title,
		Audience:        job.Audience,
		Stage:           job.Stage,
		Message:         job.Message,
		UpdatedTS:       job.UpdatedTS,
		Artifact:        job.Artifact,
		CyclesRequested: job.CyclesRequested,
		CyclesCompleted: job.CyclesCompleted,
		HasError:        job.HasError,
		LastError:       job.LastError,
		SchemaVersion:   job.SchemaVersion,
	}
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, ownerID, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobKey(ownerID, jobID)]
	if !ok {
		for _, other := range s.jobs {
			if other.JobID == jobID {
				return nil, fmt.Errorf("%w: job %s", ErrNotAuthorized, jobID)
			}
		}
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if job.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: job %s", ErrNotAuthorized, jobID)
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) GetTimeline(ctx context.Context, ownerID, jobID string) ([]models.TimelineEvent, error) {
	if _, err := s.GetJob(ctx, ownerID, jobID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.timelines[jobKey(ownerID, jobID)]
	out := make([]models.TimelineEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, ownerID string) ([]models.DocumentIndexRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DocumentIndexRow
	for _, row := range s.index {
		if row.OwnerID == ownerID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedTS.After(out[j].UpdatedTS) })
	return out, nil
}

func (s *MemoryStore) GetIncompleteJobs(ctx context.Context) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, job := range s.jobs {
		if !isTerminal(job) {
			out = append(out, *job)
		}
	}
	return out, nil
}

// isTerminal reports whether a job has been cancelled or has reached the
// finalize stage with no error recorded. A job dead-lettered at any other
// stage counts as incomplete.
func isTerminal(job *models.Job) bool {
	if job.Cancelled {
		return true
	}
	return job.Stage == models.StageFinalize && !job.HasError
}

func (s *MemoryStore) SetCancelled(ctx context.Context, ownerID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobKey(ownerID, jobID)]
	if !ok {
		return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if job.OwnerID != ownerID {
		return fmt.Errorf("%w: job %s", ErrNotAuthorized, jobID)
	}
	job.Cancelled = true
	return nil
}

func (s *MemoryStore) GetMemory(ctx context.Context, ownerID, jobID string) (models.MemorySnapshot, error) {
	if _, err := s.GetJob(ctx, ownerID, jobID); err != nil {
		return models.MemorySnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory[jobKey(ownerID, jobID)], nil
}

func (s *MemoryStore) CompareAndSwapMemory(ctx context.Context, ownerID, jobID string, expectedVersion int, next models.MemorySnapshot) error {
	if _, err := s.GetJob(ctx, ownerID, jobID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := jobKey(ownerID, jobID)
	current := s.memory[key]
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: job %s have %d want %d", ErrVersionConflict, jobID, current.Version, expectedVersion)
	}
	next.Version = expectedVersion + 1
	s.memory[key] = next
	if job, ok := s.jobs[key]; ok {
		job.MemoryVersion = next.Version
	}
	return nil
}

func (s *MemoryStore) IncrementDiagramsRendered(ctx context.Context, ownerID, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobKey(ownerID, jobID)]
	if !ok {
		return 0, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	job.DiagramsRendered++
	return job.DiagramsRendered, nil
}

func (s *MemoryStore) RecordDeadLetter(ctx context.Context, entry queue.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.deadLetters {
		if existing.Queue == entry.Queue && string(existing.Message.Body) == string(entry.Message.Body) && existing.DeliveryCount == entry.DeliveryCount {
			return nil
		}
	}
	s.deadLetters = append(s.deadLetters, entry)
	return nil
}

// DeadLetters exposes the store's persisted dead letters for test assertions
// and the operator CLI's inspect command.
func (s *MemoryStore) DeadLetters() []queue.DeadLetterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]queue.DeadLetterEntry, len(s.deadLetters))
	copy(out, s.deadLetters)
	return out
}

func (s *MemoryStore) IsFeatureAllowed(ctx context.Context, featureKey, ownerID string) (bool, error) {
	if featureKey == "" || ownerID == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.featureFlags[ownerID][featureKey]
	return ok, nil
}

func (s *MemoryStore) ListFeatures(ctx context.Context, ownerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for key := range s.featureFlags[ownerID] {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) GrantFeature(ctx context.Context, featureKey, ownerID string) error {
	if featureKey == "" || ownerID == "" {
		return fmt.Errorf("statusstore: grant feature requires feature_key and owner_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.featureFlags[ownerID] == nil {
		s.featureFlags[ownerID] = make(map[string]struct{})
	}
	s.featureFlags[ownerID][featureKey] = struct{}{}
	return nil
}

var _ Store = (*MemoryStore)(nil)
