package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"campaigncore/internal/blob"
)

// Checkpointer persists job records so unfinished jobs survive a restart.
type Checkpointer interface {
	Save(ctx context.Context, job Job) error
	Load(ctx context.Context, id string) (Job, error)
	List(ctx context.Context) ([]Job, error)
	Delete(ctx context.Context, id string) error
}

// DefaultCheckpointPrefix is the key prefix used by BlobCheckpointer.
const DefaultCheckpointPrefix = "jobs/"

// BlobCheckpointer stores each job as JSON at <prefix><id>.json.
type BlobCheckpointer struct {
	store  blob.Store
	prefix string
}

// NewBlobCheckpointer returns a checkpointer writing under DefaultCheckpointPrefix.
func NewBlobCheckpointer(store blob.Store) *BlobCheckpointer {
	return &BlobCheckpointer{store: store, prefix: DefaultCheckpointPrefix}
}

func (c *BlobCheckpointer) key(id string) string {
	return c.prefix + id + ".json"
}

// Save writes the job record, replacing the previous checkpoint.
func (c *BlobCheckpointer) Save(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	_, err = c.store.Put(ctx, c.key(job.ID), bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"kind": job.Kind, "status": string(job.Status)},
	})
	return err
}

// Load reads a job record. A missing checkpoint yields ErrUnknownJob.
func (c *BlobCheckpointer) Load(ctx context.Context, id string) (Job, error) {
	_, rc, err := c.store.Get(ctx, c.key(id))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return Job{}, fmt.Errorf("%w %s", ErrUnknownJob, id)
		}
		return Job{}, err
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return Job{}, err
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

// List loads every checkpointed job ordered by creation time.
func (c *BlobCheckpointer) List(ctx context.Context) ([]Job, error) {
	infos, err := c.store.List(ctx, c.prefix)
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(infos))
	for _, info := range infos {
		name := path.Base(info.Key)
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		job, err := c.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sortJobs(jobs)
	return jobs, nil
}

// Delete removes a checkpoint; missing checkpoints are ignored.
func (c *BlobCheckpointer) Delete(ctx context.Context, id string) error {
	_, err := c.store.Delete(ctx, c.key(id))
	return err
}

// MemoryCheckpointer keeps checkpoints in process memory.
type MemoryCheckpointer struct {
	mu   sync.Mutex
	jobs map[string]Job
}

// NewMemoryCheckpointer returns an empty MemoryCheckpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{jobs: make(map[string]Job)}
}

// Save stores a copy of the job.
func (c *MemoryCheckpointer) Save(_ context.Context, job Job) error {
	c.mu.Lock()
	c.jobs[job.ID] = job.copy()
	c.mu.Unlock()
	return nil
}

// Load returns a copy of the stored job.
func (c *MemoryCheckpointer) Load(_ context.Context, id string) (Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w %s", ErrUnknownJob, id)
	}
	return job.copy(), nil
}

// List returns copies of all stored jobs ordered by creation time.
func (c *MemoryCheckpointer) List(_ context.Context) ([]Job, error) {
	c.mu.Lock()
	jobs := make([]Job, 0, len(c.jobs))
	for _, job := range c.jobs {
		jobs = append(jobs, job.copy())
	}
	c.mu.Unlock()
	sortJobs(jobs)
	return jobs, nil
}

// Delete removes the stored job.
func (c *MemoryCheckpointer) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	delete(c.jobs, id)
	c.mu.Unlock()
	return nil
}

func sortJobs(jobs []Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
