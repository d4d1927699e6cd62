// Package editor runs one edit request end to end: it records the request,
// invokes the transformation pipeline and finalises the record.
package editor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/krishkalaria12/snap-edit/metrics"
	"github.com/krishkalaria12/snap-edit/store"
	"github.com/krishkalaria12/snap-edit/transform"
	log "github.com/sirupsen/logrus"
)

const DefaultTimeout = 2 * time.Minute

type Request struct {
	ImageURL     string
	Instructions string
	UserID       string
	PhotoID      string
	// EditID is set when the caller retries an existing record.
	EditID string
}

func (r Request) persistable() bool {
	return r.UserID != "" && r.PhotoID != ""
}

type Response struct {
	Success        bool   `json:"success"`
	EditedImageURL string `json:"editedImageUrl"`
	OriginalPrompt string `json:"originalPrompt,omitempty"`
	EditID         string `json:"editId,omitempty"`
}

type Orchestrator struct {
	transformer transform.Transformer
	configErr   error
	records     store.EditStore
	timeout     time.Duration
}

type Option func(*Orchestrator)

// WithTimeout bounds the whole transformation, retries included.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithConfigError makes every request fail with a ConfigurationError wrapping err.
// Used when the pipeline could not be built at startup.
func WithConfigError(err error) Option {
	return func(o *Orchestrator) { o.configErr = err }
}

// New returns an orchestrator. records may be nil, in which case nothing is persisted.
func New(t transform.Transformer, records store.EditStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{transformer: t, records: records, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Edit validates req, records it, transforms the photo and finalises the record.
func (o *Orchestrator) Edit(ctx context.Context, req Request) (*Response, error) {
	req.ImageURL = strings.TrimSpace(req.ImageURL)
	if req.ImageURL == "" || strings.TrimSpace(req.Instructions) == "" {
		return nil, &ValidationError{Message: "Image URL and prompt are required"}
	}
	if o.configErr != nil {
		return nil, &ConfigurationError{Err: o.configErr}
	}
	if o.transformer == nil {
		return nil, &ConfigurationError{Err: transform.ErrMissingCredentials}
	}

	logger := log.WithFields(log.Fields{
		"user_id":  req.UserID,
		"photo_id": req.PhotoID,
		"edit_id":  req.EditID,
		"pipeline": o.transformer.Name(),
	})

	editID, err := o.begin(ctx, req, logger)
	if err != nil {
		return nil, err
	}
	if editID != "" {
		logger = logger.WithField("edit_id", editID)
	}

	logger.Infof("Processing image edit with prompt: %s", req.Instructions)

	tctx, cancel := context.WithTimeout(ctx, o.timeout)
	res, err := o.transformer.Transform(tctx, transform.Input{ImageURL: req.ImageURL, Instructions: req.Instructions})
	cancel()

	if err != nil {
		logger.WithError(err).Error("API operation failed after retries")
		metrics.EditOutcomes.WithLabelValues("failed").Inc()
		o.recordFailure(ctx, req, editID, err.Error(), logger)
		return nil, &ProcessingError{
			Message: processingFailedMessage,
			Details: err.Error(),
			EditID:  editID,
			Err:     err,
		}
	}

	metrics.EditOutcomes.WithLabelValues("complete").Inc()
	editID = o.recordSuccess(ctx, req, editID, res.URL, logger)

	return &Response{
		Success:        true,
		EditedImageURL: res.URL,
		OriginalPrompt: req.Instructions,
		EditID:         editID,
	}, nil
}

// begin creates the pending row for a fresh request or resets a retried one.
// A failed create is logged and the request continues without an id.
func (o *Orchestrator) begin(ctx context.Context, req Request, logger *log.Entry) (string, error) {
	if o.records == nil || req.UserID == "" {
		return "", nil
	}

	if req.EditID != "" {
		err := o.records.MarkRetrying(ctx, req.EditID, req.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return "", &NotFoundError{EditID: req.EditID}
		}
		if err != nil {
			logger.WithError(err).Error("Could not reset edit record for retry")
			return "", &ProcessingError{
				Message: retryResetFailedMessage,
				Details: err.Error(),
				EditID:  req.EditID,
				Err:     err,
			}
		}
		return req.EditID, nil
	}

	if !req.persistable() {
		return "", nil
	}
	row, err := o.records.Create(ctx, req.UserID, req.PhotoID, req.Instructions)
	if err != nil {
		logger.WithError(err).Warn("Could not create edit record, falling back to natural key")
		return "", nil
	}
	return row.ID, nil
}

func (o *Orchestrator) recordSuccess(ctx context.Context, req Request, editID, url string, logger *log.Entry) string {
	if o.records == nil || req.UserID == "" {
		return editID
	}

	if editID != "" {
		err := o.records.MarkComplete(ctx, editID, req.UserID, url)
		switch {
		case errors.Is(err, store.ErrNotFound):
			logger.Warn("Edit record was deleted while processing, result not stored")
		case err != nil:
			logger.WithError(err).Error("Error updating edited photo data")
		}
		return editID
	}

	if !req.persistable() {
		return ""
	}
	row, err := o.records.UpsertByNaturalKey(ctx, req.UserID, req.PhotoID, req.Instructions, url)
	if err != nil {
		logger.WithError(err).Error("Error storing edited photo data")
		return ""
	}
	return row.ID
}

func (o *Orchestrator) recordFailure(ctx context.Context, req Request, editID, message string, logger *log.Entry) {
	if o.records == nil || req.UserID == "" {
		return
	}

	var err error
	switch {
	case editID != "":
		err = o.records.MarkFailed(ctx, editID, req.UserID, message)
	case req.persistable():
		err = o.records.MarkFailedByNaturalKey(ctx, req.UserID, req.PhotoID, req.Instructions, message)
	default:
		return
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.WithError(err).Error("Error storing failed edit record")
	}
}
