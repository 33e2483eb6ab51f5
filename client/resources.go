package client

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// ResourceService handles CRUD and lifecycle operations for one resource type.
type ResourceService struct {
	c      *Client
	plural string
}

func (s *ResourceService) path(id string) string {
	p := "/api/v1/" + s.plural
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

// List returns one page of records visible to the caller.
func (s *ResourceService) List(ctx context.Context, opts *ListOptions) (*ListResult, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Scope != "" {
			params.Set("scope", opts.Scope)
		}
		if opts.Status != "" {
			params.Set("status", opts.Status)
		}
		if opts.From != nil {
			params.Set("from", opts.From.Format(time.RFC3339))
		}
		if opts.To != nil {
			params.Set("to", opts.To.Format(time.RFC3339))
		}
		if opts.Search != "" {
			params.Set("search", opts.Search)
		}
		if opts.Archived {
			params.Set("archived", "true")
		}
		if opts.Page > 0 {
			params.Set("page", strconv.Itoa(opts.Page))
		}
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
	}
	var res ListResult
	if err := s.c.get(ctx, s.path(""), params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Get returns a single record by ID.
func (s *ResourceService) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := s.c.get(ctx, s.path(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create creates a new record owned by the caller.
func (s *ResourceService) Create(ctx context.Context, m *Mutation) (*Record, error) {
	var rec Record
	if err := s.c.post(ctx, s.path(""), nil, m, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update applies m to the record. Set m.Version to fail with a version
// conflict if someone else wrote first.
func (s *ResourceService) Update(ctx context.Context, id string, m *Mutation) (*Record, error) {
	var rec Record
	if err := s.c.patch(ctx, s.path(id), m, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Archive soft-deletes a record. version may be nil.
func (s *ResourceService) Archive(ctx context.Context, id string, version *int) (*Record, error) {
	var rec Record
	if err := s.c.post(ctx, s.path(id)+"/archive", ifMatch(version), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Restore brings an archived record back. version may be nil.
func (s *ResourceService) Restore(ctx context.Context, id string, version *int) (*Record, error) {
	var rec Record
	if err := s.c.post(ctx, s.path(id)+"/restore", ifMatch(version), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes a record permanently and returns its last state. version may be nil.
func (s *ResourceService) Delete(ctx context.Context, id string, version *int) (*Record, error) {
	var rec Record
	if err := s.c.del(ctx, s.path(id), ifMatch(version), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateWithRetry applies m at the record's current version, refetching and
// retrying up to attempts times when another writer wins the race.
func (s *ResourceService) UpdateWithRetry(ctx context.Context, id string, m Mutation, attempts int) (*Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	for i := 0; ; i++ {
		v := rec.Version
		m.Version = &v

		updated, err := s.Update(ctx, id, &m)
		if err == nil {
			return updated, nil
		}

		if !IsVersionConflict(err) || i+1 >= attempts {
			return nil, err
		}

		if rec, err = s.Get(ctx, id); err != nil {
			return nil, err
		}
	}
}
