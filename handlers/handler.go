package handler

import (
	"context"

	"github.com/krishkalaria12/snap-edit/credits"
	"github.com/krishkalaria12/snap-edit/editor"
	"github.com/krishkalaria12/snap-edit/store"
)

// Editor runs one edit request. *editor.Orchestrator implements it.
type Editor interface {
	Edit(ctx context.Context, req editor.Request) (*editor.Response, error)
}

type Handler struct {
	Editor  Editor
	Records store.EditStore
	Credits credits.Gate

	// AuthConfigured means callers must hold a token to have edits persisted
	// under their user id.
	AuthConfigured bool
}

func New(e Editor, records store.EditStore, gate credits.Gate, authConfigured bool) *Handler {
	return &Handler{Editor: e, Records: records, Credits: gate, AuthConfigured: authConfigured}
}
