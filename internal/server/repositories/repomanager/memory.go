package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/dbx"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
	"github.com/dmitrijs2005/gophmove/internal/server/repositories/entries"
	"github.com/dmitrijs2005/gophmove/internal/server/repositories/files"
	"github.com/dmitrijs2005/gophmove/internal/server/repositories/requests"
	"github.com/dmitrijs2005/gophmove/internal/server/repositories/users"
)

// InMemoryRepositoryManager keeps all data in process memory. The DBTX
// arguments are ignored, so writes made inside a rolled back transaction
// are not undone. It backs tests and throwaway local runs.
type InMemoryRepositoryManager struct {
	mu       sync.Mutex
	users    map[string]*models.User
	entries  map[string]*models.Entry
	files    map[string]*models.File
	requests map[string]*models.MigrationRequest
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		users:    make(map[string]*models.User),
		entries:  make(map[string]*models.Entry),
		files:    make(map[string]*models.File),
		requests: make(map[string]*models.MigrationRequest),
	}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *InMemoryRepositoryManager) Users(dbx.DBTX) users.Repository       { return memUsers{m} }
func (m *InMemoryRepositoryManager) Entries(dbx.DBTX) entries.Repository   { return memEntries{m} }
func (m *InMemoryRepositoryManager) Files(dbx.DBTX) files.Repository       { return memFiles{m} }
func (m *InMemoryRepositoryManager) Requests(dbx.DBTX) requests.Repository { return memRequests{m} }

type memUsers struct{ m *InMemoryRepositoryManager }

func (r memUsers) Create(_ context.Context, user *models.User) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.users[user.ID]; ok {
		return nil, fmt.Errorf("user %s: %w", user.ID, common.ErrAlreadyExists)
	}
	for _, u := range r.m.users {
		if u.UserName == user.UserName {
			return nil, fmt.Errorf("user %s: %w", user.UserName, common.ErrAlreadyExists)
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	cp := *user
	r.m.users[user.ID] = &cp
	return user, nil
}

func (r memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if u, ok := r.m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, common.ErrorNotFound
}

func (r memUsers) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if u.UserName == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memUsers) SetMigratedTo(_ context.Context, id string, domain string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.MigratedTo = domain
	return nil
}

type memEntries struct{ m *InMemoryRepositoryManager }

func (r memEntries) Insert(_ context.Context, entry *models.Entry) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.entries[entry.ID]; ok {
		return fmt.Errorf("entry %s: %w", entry.ID, common.ErrAlreadyExists)
	}
	cp := *entry
	r.m.entries[entry.ID] = &cp
	return nil
}

func (r memEntries) ListByUser(_ context.Context, userID string) ([]*models.Entry, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Entry
	for _, e := range r.m.entries {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version < out[j].Version
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type memFiles struct{ m *InMemoryRepositoryManager }

func (r memFiles) Insert(_ context.Context, file *models.File) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.files[file.EntryID]; ok {
		return fmt.Errorf("file %s: %w", file.EntryID, common.ErrAlreadyExists)
	}
	cp := *file
	r.m.files[file.EntryID] = &cp
	return nil
}

func (r memFiles) ListByUser(_ context.Context, userID string) ([]*models.File, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.File
	for _, f := range r.m.files {
		if f.UserID == userID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out, nil
}

func (r memFiles) MarkUploaded(_ context.Context, entryID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	f, ok := r.m.files[entryID]
	if !ok {
		return fmt.Errorf("file %s: %w", entryID, common.ErrorNotFound)
	}
	f.UploadStatus = models.UploadCompleted
	return nil
}

type memRequests struct{ m *InMemoryRepositoryManager }

func (r memRequests) Create(_ context.Context, req *models.MigrationRequest) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.requests[req.ID]; ok {
		return fmt.Errorf("migration request: %w", common.ErrAlreadyExists)
	}
	for _, existing := range r.m.requests {
		if existing.Direction == req.Direction && existing.Token == req.Token {
			return fmt.Errorf("migration request: %w", common.ErrAlreadyExists)
		}
	}
	req.UpdatedAt = req.CreatedAt
	cp := *req
	r.m.requests[req.ID] = &cp
	return nil
}

func (r memRequests) GetByID(_ context.Context, id string) (*models.MigrationRequest, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if req, ok := r.m.requests[id]; ok {
		cp := *req
		return &cp, nil
	}
	return nil, common.ErrorNotFound
}

func (r memRequests) FindByToken(_ context.Context, direction models.Direction, token string) (*models.MigrationRequest, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, req := range r.m.requests {
		if req.Direction == direction && req.Token == token {
			cp := *req
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memRequests) List(_ context.Context, filter models.RequestFilter) ([]*models.MigrationRequest, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.MigrationRequest
	for _, req := range r.m.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.Direction != "" && req.Direction != filter.Direction {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memRequests) UpdateStatus(_ context.Context, upd models.StatusUpdate) error {
	if !upd.From.CanTransitionTo(upd.To) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidState, upd.From, upd.To)
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	req, ok := r.m.requests[upd.ID]
	if !ok || req.Status != upd.From {
		return fmt.Errorf("%w: request %s is no longer %s", common.ErrInvalidState, upd.ID, upd.From)
	}
	req.Status = upd.To
	if upd.AcceptedBy != "" {
		req.AcceptedBy = upd.AcceptedBy
	}
	if upd.RejectionReason != "" {
		req.RejectionReason = upd.RejectionReason
	}
	if upd.ErrorMessage != "" {
		req.ErrorMessage = upd.ErrorMessage
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		req.CompletedAt = &t
	}
	req.UpdatedAt = upd.UpdatedAt
	return nil
}

func (r memRequests) FailInterrupted(_ context.Context, now time.Time, message string) ([]string, error) {
	return r.failWhere(now, message, func(req *models.MigrationRequest) bool {
		return req.Direction == models.DirectionIncoming && req.Status == models.StatusTransferring
	}), nil
}

func (r memRequests) FailExpired(_ context.Context, now time.Time, message string) ([]string, error) {
	return r.failWhere(now, message, func(req *models.MigrationRequest) bool {
		if req.TokenExpiresAt.After(now) {
			return false
		}
		switch req.Status {
		case models.StatusPending, models.StatusAccepted:
			return true
		case models.StatusTransferring:
			return req.Direction == models.DirectionOutgoing
		}
		return false
	}), nil
}

func (r memRequests) failWhere(now time.Time, message string, match func(*models.MigrationRequest) bool) []string {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var ids []string
	for id, req := range r.m.requests {
		if match(req) {
			req.Status = models.StatusFailed
			req.ErrorMessage = message
			req.UpdatedAt = now
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
