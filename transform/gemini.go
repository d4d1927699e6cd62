package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/krishkalaria12/snap-edit/imageprep"
	"google.golang.org/genai"
)

const providerGemini = "Gemini"

// ContentGenerator is the part of *genai.Models the Gemini stages use.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGeminiClient opens a Gemini API client for key.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return client, nil
}

// GeminiEditor edits the prepared photo directly with an image model.
type GeminiEditor struct {
	Models ContentGenerator
	Model  string
}

func (g *GeminiEditor) Edit(ctx context.Context, img imageprep.Prepared, instructions string) (Image, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(instructions),
			{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}},
		}, genai.RoleUser),
	}

	res, err := g.Models.GenerateContent(ctx, g.Model, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		return Image{}, geminiError(err)
	}
	return inlineImage(res)
}

// GeminiGenerator produces a new image from a text prompt.
type GeminiGenerator struct {
	Models ContentGenerator
	Model  string
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (Image, error) {
	res, err := g.Models.GenerateContent(ctx, g.Model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:        genai.Ptr[float32](0.9),
		TopK:               genai.Ptr[float32](40),
		TopP:               genai.Ptr[float32](0.95),
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		return Image{}, geminiError(err)
	}
	return inlineImage(res)
}

// GeminiDescriber asks a vision model to describe the people in the photo.
type GeminiDescriber struct {
	Models ContentGenerator
	Model  string
}

func (g *GeminiDescriber) Describe(ctx context.Context, img imageprep.Prepared) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(describePrompt),
			{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}},
		}, genai.RoleUser),
	}

	res, err := g.Models.GenerateContent(ctx, g.Model, contents, nil)
	if err != nil {
		return "", geminiError(err)
	}
	text := strings.TrimSpace(res.Text())
	if text == "" {
		return "", &ResponseShapeError{Provider: providerGemini, Missing: "description text"}
	}
	return text, nil
}

func inlineImage(res *genai.GenerateContentResponse) (Image, error) {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return Image{}, &ResponseShapeError{Provider: providerGemini, Missing: "candidates"}
	}
	for _, part := range res.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			mimeType := part.InlineData.MIMEType
			if mimeType == "" {
				mimeType = imageprep.OutputMIMEType
			}
			return Image{Data: part.InlineData.Data, MIMEType: mimeType}, nil
		}
	}
	return Image{}, &ResponseShapeError{Provider: providerGemini, Missing: "image data"}
}

func geminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: providerGemini, StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &ProviderError{Provider: providerGemini, StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return &ProviderError{Provider: providerGemini, Message: err.Error()}
}
