package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/krishkalaria12/snap-edit/imageprep"
	"github.com/tidwall/gjson"
)

const providerOpenAI = "OpenAI"

// OpenAI talks to the OpenAI REST API.
type OpenAI struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func (o *OpenAI) do(req *http.Request) (gjson.Result, error) {
	req.Header.Set("Authorization", "Bearer "+o.APIKey)
	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return gjson.Result{}, req.Context().Err()
		}
		return gjson.Result{}, &ProviderError{Provider: providerOpenAI, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, &ProviderError{Provider: providerOpenAI, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return gjson.Result{}, &ProviderError{Provider: providerOpenAI, StatusCode: resp.StatusCode, Message: msg}
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &ResponseShapeError{Provider: providerOpenAI, Missing: "JSON body"}
	}
	return gjson.ParseBytes(body), nil
}

func (o *OpenAI) url(path string) string {
	return strings.TrimRight(o.BaseURL, "/") + path
}

// OpenAIEditor sends the prepared photo to the image edits endpoint.
type OpenAIEditor struct {
	API   *OpenAI
	Model string
}

func (e *OpenAIEditor) Edit(ctx context.Context, img imageprep.Prepared, instructions string) (Image, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"model":  e.Model,
		"prompt": instructions,
		"n":      "1",
		"size":   "1024x1024",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return Image{}, err
		}
	}
	fw, err := w.CreateFormFile("image", "image.png")
	if err != nil {
		return Image{}, err
	}
	if _, err := fw.Write(img.Data); err != nil {
		return Image{}, err
	}
	if err := w.Close(); err != nil {
		return Image{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.API.url("/images/edits"), &buf)
	if err != nil {
		return Image{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	res, err := e.API.do(req)
	if err != nil {
		return Image{}, err
	}

	if u := res.Get("data.0.url").String(); u != "" {
		return Image{URL: u}, nil
	}
	if b64 := res.Get("data.0.b64_json").String(); b64 != "" {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return Image{}, &ResponseShapeError{Provider: providerOpenAI, Missing: "decodable data.0.b64_json"}
		}
		return Image{Data: data, MIMEType: imageprep.OutputMIMEType}, nil
	}
	return Image{}, &ResponseShapeError{Provider: providerOpenAI, Missing: "data.0.url"}
}

// OpenAIDescriber describes the photo with a chat completions vision model.
type OpenAIDescriber struct {
	API   *OpenAI
	Model string
}

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

func (d *OpenAIDescriber) Describe(ctx context.Context, img imageprep.Prepared) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", img.MIMEType, base64.StdEncoding.EncodeToString(img.Data))
	payload, err := json.Marshal(chatRequest{
		Model: d.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: describePrompt},
				{Type: "image_url", ImageURL: &chatImageURL{URL: dataURL}},
			},
		}},
		MaxTokens: 300,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.API.url("/chat/completions"), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := d.API.do(req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(res.Get("choices.0.message.content").String())
	if text == "" {
		return "", &ResponseShapeError{Provider: providerOpenAI, Missing: "choices.0.message.content"}
	}
	return text, nil
}
