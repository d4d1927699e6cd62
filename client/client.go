// Package client calls the snap-edit HTTP API on behalf of an authenticated session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/krishkalaria12/snap-edit/auth"
	"github.com/krishkalaria12/snap-edit/editor"
	"github.com/krishkalaria12/snap-edit/models"
	"github.com/tidwall/gjson"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
	EditID     string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// FailedEditID is the durable id of the edit that failed, if the server kept one.
func (e *APIError) FailedEditID() string { return e.EditID }

type Client struct {
	baseURL string
	session auth.Session
	http    *http.Client
}

// New returns a client for the API at baseURL acting as sess. httpClient may be nil.
func New(baseURL string, sess auth.Session, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), session: sess, http: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (gjson.Result, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return gjson.Result{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.session.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	res := gjson.ParseBytes(raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    res.Get("error").String(),
			Details:    res.Get("details").String(),
			EditID:     res.Get("editId").String(),
		}
		if apiErr.Message == "" {
			apiErr.Message = res.Get("message").String()
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return gjson.Result{}, apiErr
	}
	return res, nil
}

type editBody struct {
	ImageURL string `json:"imageUrl"`
	Prompt   string `json:"prompt"`
	UserID   string `json:"userId,omitempty"`
	PhotoID  string `json:"photoId,omitempty"`
	EditID   string `json:"editId,omitempty"`
}

// Edit calls POST /api/edit-image. userId is sent only when req carries one;
// the server checks it against the token.
func (c *Client) Edit(ctx context.Context, req editor.Request) (*editor.Response, error) {
	res, err := c.do(ctx, http.MethodPost, "/api/edit-image", editBody{
		ImageURL: req.ImageURL,
		Prompt:   req.Instructions,
		UserID:   req.UserID,
		PhotoID:  req.PhotoID,
		EditID:   req.EditID,
	})
	if err != nil {
		return nil, err
	}

	var out editor.Response
	if err := json.Unmarshal([]byte(res.Raw), &out); err != nil {
		return nil, fmt.Errorf("decoding edit response: %w", err)
	}
	if !out.Success || out.EditedImageURL == "" {
		return nil, fmt.Errorf("edit response has no editedImageUrl")
	}
	return &out, nil
}

// ListEdits returns the session user's edits of photoID, newest first.
func (c *Client) ListEdits(ctx context.Context, photoID string) ([]models.EditedPhoto, error) {
	res, err := c.do(ctx, http.MethodGet, "/api/photos/"+url.PathEscape(photoID)+"/edits", nil)
	if err != nil {
		return nil, err
	}
	var rows []models.EditedPhoto
	data := res.Get("data")
	if !data.Exists() || data.Type == gjson.Null {
		return rows, nil
	}
	if err := json.Unmarshal([]byte(data.Raw), &rows); err != nil {
		return nil, fmt.Errorf("decoding edits: %w", err)
	}
	return rows, nil
}

func (c *Client) DeleteEdit(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/edits/"+url.PathEscape(id), nil)
	return err
}

// UseCredit spends one credit of the session user.
func (c *Client) UseCredit(ctx context.Context) (bool, error) {
	res, err := c.do(ctx, http.MethodPost, "/api/credits/use", nil)
	if err != nil {
		return false, err
	}
	return res.Get("data.granted").Bool(), nil
}

func (c *Client) Credits(ctx context.Context) (int, error) {
	res, err := c.do(ctx, http.MethodGet, "/api/credits", nil)
	if err != nil {
		return 0, err
	}
	return int(res.Get("data.credits").Int()), nil
}
