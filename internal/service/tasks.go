// Package service exposes task and user operations composed from the HTTP
// adapter and the query cache.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/and161185/taskflow/internal/cache"
	"github.com/and161185/taskflow/internal/model"
)

// Doer is the part of the HTTP adapter the services use.
type Doer interface {
	GetJSON(ctx context.Context, path string, query url.Values, out any) error
	PostJSON(ctx context.Context, path string, in, out any) error
	PutJSON(ctx context.Context, path string, in, out any) error
	Delete(ctx context.Context, path string) error
}

// Cache keys. Filtered lists append their canonical query to KeyTasks, so
// prefix invalidation on KeyTasks reaches them all.
const (
	KeyTasks = "tasks"
	KeyUsers = "users"
)

// TaskKey is the cache identity of a single task.
func TaskKey(id int64) string { return fmt.Sprintf("task:%d", id) }

// ListParams filters and paginates the task collection.
type ListParams struct {
	Status   model.TaskStatus
	Priority model.TaskPriority
	Page     int
	PerPage  int
}

func (p ListParams) query() url.Values {
	q := url.Values{}
	if p.Status != "" {
		q.Set("status", string(p.Status))
	}
	if p.Priority != "" {
		q.Set("priority", string(p.Priority))
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(p.PerPage))
	}
	return q
}

// ListKey is the cache identity of a filtered list; the zero params collapse
// to the aggregate KeyTasks.
func ListKey(p ListParams) string {
	q := p.query()
	if len(q) == 0 {
		return KeyTasks
	}
	return KeyTasks + "?" + q.Encode()
}

// Tasks provides cached reads and invalidating writes over /api/tasks.
type Tasks struct {
	api   Doer
	cache *cache.Cache
	log   *zap.Logger
}

// NewTasks constructs the task service.
func NewTasks(api Doer, c *cache.Cache, log *zap.Logger) *Tasks {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tasks{api: api, cache: c, log: log}
}

// List returns one page of tasks, served from cache when fresh.
func (t *Tasks) List(ctx context.Context, p ListParams) (model.TaskPage, error) {
	if p.Status != "" && !p.Status.Valid() {
		return model.TaskPage{}, fmt.Errorf("validation: unknown status %q", p.Status)
	}
	if p.Priority != "" && !p.Priority.Valid() {
		return model.TaskPage{}, fmt.Errorf("validation: unknown priority %q", p.Priority)
	}
	return cache.Get(ctx, t.cache, ListKey(p), func(ctx context.Context) (model.TaskPage, error) {
		var page model.TaskPage
		err := t.api.GetJSON(ctx, "/api/tasks", p.query(), &page)
		return page, err
	})
}

// Get returns a single task by id.
func (t *Tasks) Get(ctx context.Context, id int64) (model.Task, error) {
	if id <= 0 {
		return model.Task{}, errors.New("validation: empty id")
	}
	return cache.Get(ctx, t.cache, TaskKey(id), func(ctx context.Context) (model.Task, error) {
		var task model.Task
		err := t.api.GetJSON(ctx, fmt.Sprintf("/api/tasks/%d", id), nil, &task)
		return task, err
	})
}

// Create posts a new task. On success the task list goes stale so the next
// read refetches; on failure nothing is invalidated.
func (t *Tasks) Create(ctx context.Context, in model.TaskCreate) (model.Task, error) {
	if in.Title == "" {
		return model.Task{}, errors.New("validation: empty title")
	}
	if in.Status != "" && !in.Status.Valid() {
		return model.Task{}, fmt.Errorf("validation: unknown status %q", in.Status)
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return model.Task{}, fmt.Errorf("validation: unknown priority %q", in.Priority)
	}
	var created model.Task
	err := t.cache.Mutate(ctx, func(ctx context.Context) error {
		return t.api.PostJSON(ctx, "/api/tasks", in, &created)
	}, KeyTasks+"*")
	if err != nil {
		return model.Task{}, err
	}
	t.log.Info("task created", zap.Int64("id", created.ID))
	return created, nil
}

// Update puts the changed fields; both the list and the item entry go stale.
func (t *Tasks) Update(ctx context.Context, id int64, in model.TaskUpdate) (model.Task, error) {
	if id <= 0 {
		return model.Task{}, errors.New("validation: empty id")
	}
	if in.Status != nil && !in.Status.Valid() {
		return model.Task{}, fmt.Errorf("validation: unknown status %q", *in.Status)
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return model.Task{}, fmt.Errorf("validation: unknown priority %q", *in.Priority)
	}
	var updated model.Task
	err := t.cache.Mutate(ctx, func(ctx context.Context) error {
		return t.api.PutJSON(ctx, fmt.Sprintf("/api/tasks/%d", id), in, &updated)
	}, KeyTasks+"*", TaskKey(id))
	if err != nil {
		return model.Task{}, err
	}
	return updated, nil
}

// Delete removes a task; both the list and the item entry go stale.
func (t *Tasks) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("validation: empty id")
	}
	err := t.cache.Mutate(ctx, func(ctx context.Context) error {
		return t.api.Delete(ctx, fmt.Sprintf("/api/tasks/%d", id))
	}, KeyTasks+"*", TaskKey(id))
	if err != nil {
		return err
	}
	t.log.Info("task deleted", zap.Int64("id", id))
	return nil
}
