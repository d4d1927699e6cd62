// Package session keeps the client-side view of every edit of one photo and
// drives submit, retry and delete against the API.
//
// The list held here is a projection that can always be rebuilt with Load;
// the durable records behind the API are the source of truth.
package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krishkalaria12/snap-edit/auth"
	"github.com/krishkalaria12/snap-edit/editor"
	"github.com/krishkalaria12/snap-edit/models"
	log "github.com/sirupsen/logrus"
)

const DefaultMaxRetries = 3

var (
	ErrEmptyInstructions = errors.New("please enter editing instructions")
	ErrNoCredits         = errors.New("no credits available. Please add credits to your account")
	ErrBusy              = errors.New("another edit is still processing")
	ErrMaxRetries        = errors.New("maximum retry attempts reached. Please try again later")
	ErrNotRetryable      = errors.New("edit already completed")
	ErrUnknownEdit       = errors.New("edit not found")
	// ErrDeleted is returned when an edit was deleted while its request was in flight.
	ErrDeleted = errors.New("edit was deleted while processing")
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

type Photo struct {
	ID  string
	URL string
}

// EditingPhoto is one tile of the edit list.
type EditingPhoto struct {
	ID             string
	Instructions   string
	Status         Status
	EditedImageURL string
	Error          string
	CreatedAt      time.Time

	// temporary is true until the server has assigned the durable id.
	temporary bool
}

// Snapshot is the state delivered to subscribers after every change.
type Snapshot struct {
	Edits         []EditingPhoto
	Processing    bool
	RetryAttempts int
}

type Records interface {
	ListEdits(ctx context.Context, photoID string) ([]models.EditedPhoto, error)
	DeleteEdit(ctx context.Context, id string) error
}

type Editor interface {
	Edit(ctx context.Context, req editor.Request) (*editor.Response, error)
}

type CreditGate interface {
	UseCredit(ctx context.Context) (bool, error)
}

type Manager struct {
	session    auth.Session
	photo      Photo
	records    Records
	editor     Editor
	credits    CreditGate
	maxRetries int
	now        func() time.Time

	mu            sync.Mutex
	edits         []EditingPhoto
	processing    bool
	retryAttempts int
	deleted       map[string]bool
	aliases       map[string]string // temporary id -> durable id
	subs          map[chan Snapshot]struct{}
}

type Option func(*Manager)

func WithMaxRetries(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxRetries = n
		}
	}
}

func New(sess auth.Session, photo Photo, records Records, ed Editor, credits CreditGate, opts ...Option) *Manager {
	m := &Manager{
		session:    sess,
		photo:      photo,
		records:    records,
		editor:     ed,
		credits:    credits,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
		deleted:    make(map[string]bool),
		aliases:    make(map[string]string),
		subs:       make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func project(row models.EditedPhoto) EditingPhoto {
	e := EditingPhoto{
		ID:           row.ID,
		Instructions: row.Prompt,
		CreatedAt:    row.CreatedAt,
	}
	switch row.Status {
	case models.StatusComplete:
		e.Status = StatusComplete
	case models.StatusFailed:
		e.Status = StatusFailed
	default:
		e.Status = StatusProcessing
	}
	if row.EditedImageURL != nil {
		e.EditedImageURL = *row.EditedImageURL
	}
	if row.ErrorMessage != nil {
		e.Error = *row.ErrorMessage
	}
	return e
}

// Load replaces the list with the durable records of the photo.
func (m *Manager) Load(ctx context.Context) error {
	rows, err := m.records.ListEdits(ctx, m.photo.ID)
	if err != nil {
		return err
	}

	edits := make([]EditingPhoto, 0, len(rows))
	for _, row := range rows {
		edits = append(edits, project(row))
	}

	m.mu.Lock()
	m.edits = edits
	m.sortLocked()
	m.publishLocked()
	m.mu.Unlock()
	return nil
}

// Submit spends a credit and runs a new edit. The returned item is the final
// state of the edit; on failure the error is returned as well.
func (m *Manager) Submit(ctx context.Context, instructions string) (EditingPhoto, error) {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return EditingPhoto{}, ErrEmptyInstructions
	}

	if err := m.begin(); err != nil {
		return EditingPhoto{}, err
	}

	granted, err := m.credits.UseCredit(ctx)
	if err != nil || !granted {
		m.finish()
		if err != nil {
			return EditingPhoto{}, err
		}
		return EditingPhoto{}, ErrNoCredits
	}

	item := EditingPhoto{
		ID:           "temp-" + uuid.NewString(),
		Instructions: instructions,
		Status:       StatusProcessing,
		temporary:    true,
	}
	m.mu.Lock()
	item.CreatedAt = m.now()
	m.edits = append([]EditingPhoto{item}, m.edits...)
	m.sortLocked()
	m.publishLocked()
	m.mu.Unlock()

	return m.run(ctx, item.ID, editor.Request{
		ImageURL:     m.photo.URL,
		Instructions: instructions,
		UserID:       m.session.UserID,
		PhotoID:      m.photo.ID,
	})
}

// Retry runs a failed edit again. Retries are capped per manager, not per edit,
// and the counter resets after any successful edit.
func (m *Manager) Retry(ctx context.Context, id string) (EditingPhoto, error) {
	m.mu.Lock()
	id = m.resolveLocked(id)
	i := m.indexLocked(id)
	switch {
	case i < 0:
		m.mu.Unlock()
		return EditingPhoto{}, ErrUnknownEdit
	case m.edits[i].Status == StatusComplete:
		m.mu.Unlock()
		return EditingPhoto{}, ErrNotRetryable
	case m.retryAttempts >= m.maxRetries:
		m.mu.Unlock()
		return EditingPhoto{}, ErrMaxRetries
	case m.processing:
		m.mu.Unlock()
		return EditingPhoto{}, ErrBusy
	}

	m.retryAttempts++
	m.processing = true
	m.edits[i].Status = StatusProcessing
	m.edits[i].Error = ""
	item := m.edits[i]
	m.publishLocked()
	m.mu.Unlock()

	req := editor.Request{
		ImageURL:     m.photo.URL,
		Instructions: item.Instructions,
		UserID:       m.session.UserID,
		PhotoID:      m.photo.ID,
	}
	if !item.temporary {
		req.EditID = item.ID
	}
	return m.run(ctx, item.ID, req)
}

// Delete removes the edit remotely and locally. Deleting an unknown or already
// deleted id is not an error. A temporary id that has since been replaced by
// the server's id deletes the durable edit.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	id = m.resolveLocked(id)
	i := m.indexLocked(id)
	temporary := i >= 0 && m.edits[i].temporary
	m.mu.Unlock()

	if !temporary {
		if err := m.records.DeleteEdit(ctx, id); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.deleted[id] = true
	if i := m.indexLocked(id); i >= 0 {
		m.edits = append(m.edits[:i], m.edits[i+1:]...)
		m.publishLocked()
	}
	m.mu.Unlock()
	return nil
}

// run performs the editor call for the list item localID and applies the result.
func (m *Manager) run(ctx context.Context, localID string, req editor.Request) (EditingPhoto, error) {
	res, err := m.editor.Edit(ctx, req)

	m.mu.Lock()
	m.processing = false
	if err == nil {
		m.retryAttempts = 0
	}

	i := m.indexLocked(localID)
	if m.deleted[localID] || i < 0 {
		m.publishLocked()
		m.mu.Unlock()
		m.dropLate(ctx, localID, res, err)
		return EditingPhoto{}, ErrDeleted
	}
	defer m.mu.Unlock()

	if err != nil {
		if id := failedEditID(err); id != "" {
			m.adoptIDLocked(i, id)
		}
		m.edits[i].Status = StatusFailed
		m.edits[i].Error = err.Error()
		item := m.edits[i]
		m.publishLocked()
		return item, err
	}

	if res.EditID != "" {
		m.adoptIDLocked(i, res.EditID)
	}
	m.edits[i].Status = StatusComplete
	m.edits[i].EditedImageURL = res.EditedImageURL
	m.edits[i].Error = ""
	item := m.edits[i]
	m.publishLocked()
	return item, nil
}

// dropLate discards the result of an edit deleted while in flight. A record
// the server created for a temporary item is removed as well.
func (m *Manager) dropLate(ctx context.Context, localID string, res *editor.Response, err error) {
	logger := log.WithField("edit_id", localID)
	logger.Debug("Dropping result of deleted edit")

	serverID := failedEditID(err)
	if err == nil && res != nil {
		serverID = res.EditID
	}
	if serverID == "" || serverID == localID {
		return
	}
	if derr := m.records.DeleteEdit(ctx, serverID); derr != nil {
		logger.WithError(derr).Warn("Could not remove record of deleted edit")
	}
}

func failedEditID(err error) string {
	var failed interface{ FailedEditID() string }
	if errors.As(err, &failed) {
		return failed.FailedEditID()
	}
	return ""
}

func (m *Manager) adoptIDLocked(i int, id string) {
	if old := m.edits[i].ID; old != id {
		m.aliases[old] = id
	}
	m.edits[i].ID = id
	m.edits[i].temporary = false
}

func (m *Manager) resolveLocked(id string) string {
	if durable, ok := m.aliases[id]; ok {
		return durable
	}
	return id
}

func (m *Manager) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processing {
		return ErrBusy
	}
	m.processing = true
	m.publishLocked()
	return nil
}

func (m *Manager) finish() {
	m.mu.Lock()
	m.processing = false
	m.publishLocked()
	m.mu.Unlock()
}

func (m *Manager) indexLocked(id string) int {
	for i := range m.edits {
		if m.edits[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) sortLocked() {
	sort.SliceStable(m.edits, func(a, b int) bool {
		return m.edits[a].CreatedAt.After(m.edits[b].CreatedAt)
	})
}

// Edits returns a copy of the list, newest first.
func (m *Manager) Edits() []EditingPhoto {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EditingPhoto(nil), m.edits...)
}

func (m *Manager) IsProcessing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processing
}

func (m *Manager) RetryAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryAttempts
}

func (m *Manager) MaxRetries() int { return m.maxRetries }

// Subscribe returns a channel that always holds the latest snapshot. Slow
// readers skip intermediate states. Call cancel to stop delivery.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	ch <- m.snapshotLocked()
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			close(ch)
			m.mu.Unlock()
		})
	}
	return ch, cancel
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		Edits:         append([]EditingPhoto(nil), m.edits...),
		Processing:    m.processing,
		RetryAttempts: m.retryAttempts,
	}
}

func (m *Manager) publishLocked() {
	if len(m.subs) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
