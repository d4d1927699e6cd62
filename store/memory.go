package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krishkalaria12/snap-edit/models"
)

// Memory is an EditStore held in process memory. The server falls back to it
// when no database is configured; rows do not survive a restart.
type Memory struct {
	mu   sync.Mutex
	rows map[string]models.EditedPhoto
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[string]models.EditedPhoto), now: time.Now}
}

func (m *Memory) Create(_ context.Context, userID, photoID, prompt string) (*models.EditedPhoto, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	row := models.EditedPhoto{
		ID:              uuid.NewString(),
		UserID:          userID,
		OriginalPhotoID: photoID,
		Prompt:          prompt,
		Status:          models.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.rows[row.ID] = row
	return &row, nil
}

func (m *Memory) Get(_ context.Context, id, userID string) (*models.EditedPhoto, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.UserID != userID {
		return nil, wrap("get", ErrNotFound)
	}
	return &row, nil
}

func (m *Memory) mutate(op, id, userID string, fn func(*models.EditedPhoto)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.UserID != userID {
		return wrap(op, ErrNotFound)
	}
	fn(&row)
	row.UpdatedAt = m.now()
	m.rows[id] = row
	return nil
}

func (m *Memory) MarkRetrying(_ context.Context, id, userID string) error {
	return m.mutate("mark retrying", id, userID, func(r *models.EditedPhoto) {
		r.Status = models.StatusPending
		r.ErrorMessage = nil
		r.EditedImageURL = nil
	})
}

func (m *Memory) MarkComplete(_ context.Context, id, userID, resultURL string) error {
	return m.mutate("mark complete", id, userID, func(r *models.EditedPhoto) {
		r.Status = models.StatusComplete
		r.EditedImageURL = &resultURL
		r.ErrorMessage = nil
	})
}

func (m *Memory) MarkFailed(_ context.Context, id, userID, message string) error {
	return m.mutate("mark failed", id, userID, func(r *models.EditedPhoto) {
		r.Status = models.StatusFailed
		r.ErrorMessage = &message
		r.EditedImageURL = nil
	})
}

func (m *Memory) latestByNaturalKey(userID, photoID, prompt string) (models.EditedPhoto, bool) {
	var (
		found  models.EditedPhoto
		exists bool
	)
	for _, r := range m.rows {
		if r.UserID != userID || r.OriginalPhotoID != photoID || r.Prompt != prompt {
			continue
		}
		if !exists || r.CreatedAt.After(found.CreatedAt) {
			found, exists = r, true
		}
	}
	return found, exists
}

func (m *Memory) UpsertByNaturalKey(_ context.Context, userID, photoID, prompt, resultURL string) (*models.EditedPhoto, error) {
	m.mu.Lock()
	row, ok := m.latestByNaturalKey(userID, photoID, prompt)
	if !ok {
		now := m.now()
		row = models.EditedPhoto{
			ID:              uuid.NewString(),
			UserID:          userID,
			OriginalPhotoID: photoID,
			Prompt:          prompt,
			CreatedAt:       now,
		}
	}
	row.Status = models.StatusComplete
	row.EditedImageURL = &resultURL
	row.ErrorMessage = nil
	row.UpdatedAt = m.now()
	m.rows[row.ID] = row
	m.mu.Unlock()
	return &row, nil
}

func (m *Memory) MarkFailedByNaturalKey(_ context.Context, userID, photoID, prompt, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rows {
		if r.UserID != userID || r.OriginalPhotoID != photoID || r.Prompt != prompt || r.Status == models.StatusComplete {
			continue
		}
		msg := message
		r.Status = models.StatusFailed
		r.ErrorMessage = &msg
		r.UpdatedAt = m.now()
		m.rows[id] = r
	}
	return nil
}

func (m *Memory) List(_ context.Context, userID, photoID string) ([]models.EditedPhoto, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.EditedPhoto, 0)
	for _, r := range m.rows {
		if r.UserID == userID && r.OriginalPhotoID == photoID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Delete(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok && r.UserID == userID {
		delete(m.rows, id)
	}
	return nil
}
