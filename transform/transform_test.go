package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/krishkalaria12/snap-edit/config"
	"github.com/krishkalaria12/snap-edit/imageprep"
	"github.com/krishkalaria12/snap-edit/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"google.golang.org/genai"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func imageServer(t *testing.T, hits *int32) *httptest.Server {
	data := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type generateCall struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

type fakeModels struct {
	mu        sync.Mutex
	calls     []generateCall
	responses []*genai.GenerateContentResponse
	errs      []error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.calls)
	f.calls = append(f.calls, generateCall{model: model, contents: contents, config: cfg})
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func imageResponse(data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "here you go"},
			{InlineData: &genai.Blob{MIMEType: "image/png", Data: data}},
		}},
	}}}
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
	}}}
}

type fakeObjects struct {
	mu    sync.Mutex
	puts  int
	names []string
	fail  int
}

func (f *fakeObjects) Put(_ context.Context, name, contentType string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.puts <= f.fail {
		return "", errors.New("storage unavailable")
	}
	f.names = append(f.names, name)
	return "https://storage.googleapis.com/bucket/edits/" + name, nil
}

func instantRetry() *retry.Executor { return retry.New(3, 0) }

func testLoader(ttlCache bool) *SourceLoader {
	p, _ := imageprep.New(imageprep.ModeRGBA, 100)
	if ttlCache {
		return NewSourceLoader(&Fetcher{}, p, instantRetry(), time.Minute)
	}
	return NewSourceLoader(&Fetcher{}, p, instantRetry(), 0)
}

func TestFetchNon2xxCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no such object"))
	}))
	defer srv.Close()

	_, err := (&Fetcher{}).Fetch(context.Background(), srv.URL)
	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, http.StatusNotFound, ferr.StatusCode)
	assert.Equal(t, "Failed to fetch image: Status 404, Response: no such object", err.Error())
}

func TestFetchRejectsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	_, err := (&Fetcher{}).Fetch(context.Background(), srv.URL)
	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Contains(t, ferr.Body, "not an image")
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := (&Fetcher{}).Fetch(context.Background(), url)
	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Zero(t, ferr.StatusCode)
}

func TestSourceLoaderRetriesThenCaches(t *testing.T) {
	var hits int32
	data := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	l := testLoader(true)
	got, err := l.Load(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, got.Normalized)
	assert.Equal(t, "image/png", got.MIMEType)

	_, err = l.Load(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestSourceLoaderWithoutTTLFetchesEveryTime(t *testing.T) {
	var hits int32
	srv := imageServer(t, &hits)
	l := testLoader(false)

	for i := 0; i < 2; i++ {
		_, err := l.Load(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestSourceLoaderCacheIsBounded(t *testing.T) {
	var hits int32
	srv := imageServer(t, &hits)
	l := testLoader(true)
	l.maxItems = 1

	_, err := l.Load(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	_, err = l.Load(context.Background(), srv.URL+"/b.png")
	require.NoError(t, err)
	assert.Equal(t, 1, l.cache.ItemCount())

	_, err = l.Load(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	_, err = l.Load(context.Background(), srv.URL+"/b.png")
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestSourceLoaderExhausts(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testLoader(false).Load(context.Background(), srv.URL)
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	var ferr *FetchError
	assert.ErrorAs(t, err, &ferr)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestGeminiSingleStageUploadsInlineImage(t *testing.T) {
	srv := imageServer(t, nil)
	models := &fakeModels{responses: []*genai.GenerateContentResponse{imageResponse([]byte("edited"))}}
	objects := &fakeObjects{}

	s := NewSingleStage(config.PipelineGemini, testLoader(false), &GeminiEditor{Models: models, Model: "img-model"}, instantRetry(), objects)
	res, err := s.Transform(context.Background(), Input{ImageURL: srv.URL, Instructions: "make it sepia"})
	require.NoError(t, err)

	assert.Contains(t, res.URL, "https://storage.googleapis.com/bucket/edits/")
	require.Len(t, models.calls, 1)
	call := models.calls[0]
	assert.Equal(t, "img-model", call.model)
	parts := call.contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "make it sepia", parts[0].Text)
	assert.Equal(t, "image/png", parts[1].InlineData.MIMEType)
}

func TestGeminiProviderErrorsAreRetriedThenExhausted(t *testing.T) {
	srv := imageServer(t, nil)
	apiErr := genai.APIError{Code: 500, Message: "Internal error encountered."}
	models := &fakeModels{
		errs:      []error{apiErr, apiErr, apiErr},
		responses: []*genai.GenerateContentResponse{imageResponse([]byte("x"))},
	}

	s := NewSingleStage(config.PipelineGemini, testLoader(false), &GeminiEditor{Models: models}, instantRetry(), &fakeObjects{})
	_, err := s.Transform(context.Background(), Input{ImageURL: srv.URL, Instructions: "x"})

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 500, perr.StatusCode)
	assert.Equal(t, "Internal error encountered.", perr.Message)
	assert.Len(t, models.calls, 3)
}

func TestGeminiMissingImageIsNotRetried(t *testing.T) {
	srv := imageServer(t, nil)
	models := &fakeModels{responses: []*genai.GenerateContentResponse{textResponse("I can't do that")}}

	s := NewSingleStage(config.PipelineGemini, testLoader(false), &GeminiEditor{Models: models}, instantRetry(), &fakeObjects{})
	_, err := s.Transform(context.Background(), Input{ImageURL: srv.URL, Instructions: "x"})

	var shape *ResponseShapeError
	require.ErrorAs(t, err, &shape)
	assert.Len(t, models.calls, 1)
}

func TestUploadIsRetried(t *testing.T) {
	srv := imageServer(t, nil)
	models := &fakeModels{responses: []*genai.GenerateContentResponse{imageResponse([]byte("edited"))}}
	objects := &fakeObjects{fail: 1}

	s := NewSingleStage(config.PipelineGemini, testLoader(false), &GeminiEditor{Models: models}, instantRetry(), objects)
	_, err := s.Transform(context.Background(), Input{ImageURL: srv.URL, Instructions: "x"})
	require.NoError(t, err)
	assert.Equal(t, 2, objects.puts)
	assert.Len(t, models.calls, 1)
}

func TestDescribeGenerateBuildsPromptFromDescription(t *testing.T) {
	srv := imageServer(t, nil)
	vision := &fakeModels{responses: []*genai.GenerateContentResponse{textResponse("two people on a beach")}}
	gen := &fakeModels{responses: []*genai.GenerateContentResponse{imageResponse([]byte("new"))}}

	dg := &DescribeGenerate{
		Loader:    testLoader(false),
		Describer: &GeminiDescriber{Models: vision, Model: "vision"},
		Generator: &GeminiGenerator{Models: gen, Model: "gen"},
		Retry:     instantRetry(),
		Objects:   &fakeObjects{},
	}
	res, err := dg.Transform(context.Background(), Input{ImageURL: srv.URL, Instructions: "at sunset"})
	require.NoError(t, err)
	assert.Equal(t, "two people on a beach", res.Description)

	require.Len(t, gen.calls, 1)
	prompt := gen.calls[0].contents[0].Parts[0].Text
	assert.Equal(t, `Based on this description: "two people on a beach", generate a new unique image that is different from the original but maintains the same style and quality. at sunset`, prompt)
	assert.Equal(t, describePrompt, vision.calls[0].contents[0].Parts[0].Text)
}

func TestDescribeGenerateWithoutDescriber(t *testing.T) {
	var hits int32
	srv := imageServer(t, &hits)
	gen := &fakeModels{responses: []*genai.GenerateContentResponse{imageResponse([]byte("new"))}}

	dg := &DescribeGenerate{
		Loader:    testLoader(false),
		Generator: &GeminiGenerator{Models: gen},
		Retry:     instantRetry(),
		Objects:   &fakeObjects{},
	}
	_, err := dg.Transform(context.Background(), Input{ImageURL: srv.URL, Instructions: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, "a cat", gen.calls[0].contents[0].Parts[0].Text)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestOpenAIEditorSendsMultipart(t *testing.T) {
	srv := imageServer(t, nil)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/edits", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(10<<20))
		assert.Equal(t, "dall-e-2", r.FormValue("model"))
		assert.Equal(t, "watercolor", r.FormValue("prompt"))
		assert.Equal(t, "1024x1024", r.FormValue("size"))
		assert.Equal(t, "1", r.FormValue("n"))
		if f, _, err := r.FormFile("image"); assert.NoError(t, err) {
			body, _ := io.ReadAll(f)
			assert.NotEmpty(t, body)
		}
		_, _ = w.Write([]byte(`{"created":1,"data":[{"url":"https://oai/out.png"}]}`))
	}))
	defer api.Close()

	editor := &OpenAIEditor{API: &OpenAI{BaseURL: api.URL + "/v1", APIKey: "sk-test"}, Model: "dall-e-2"}
	s := NewSingleStage(config.PipelineOpenAI, testLoader(false), editor, instantRetry(), nil)
	res, err := s.Transform(context.Background(), Input{ImageURL: srv.URL, Instructions: "watercolor"})
	require.NoError(t, err)
	assert.Equal(t, "https://oai/out.png", res.URL)
}

func TestOpenAIEditorUploadsBase64Result(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"b64_json":"` + base64.StdEncoding.EncodeToString([]byte("png")) + `"}]}`))
	}))
	defer api.Close()

	editor := &OpenAIEditor{API: &OpenAI{BaseURL: api.URL, APIKey: "k"}}
	img, err := editor.Edit(context.Background(), imageprep.Prepared{Data: []byte("x"), MIMEType: "image/png"}, "p")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), img.Data)
	assert.Empty(t, img.URL)
}

func TestOpenAIErrorMessageIsVerbatim(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached for images","type":"requests"}}`))
	}))
	defer api.Close()

	editor := &OpenAIEditor{API: &OpenAI{BaseURL: api.URL, APIKey: "k"}}
	_, err := editor.Edit(context.Background(), imageprep.Prepared{Data: []byte("x")}, "p")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	assert.Equal(t, "Rate limit reached for images", perr.Message)
}

func TestOpenAIDescriber(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "gpt-4o", gjson.GetBytes(body, "model").String())
		assert.Equal(t, describePrompt, gjson.GetBytes(body, "messages.0.content.0.text").String())
		assert.Contains(t, gjson.GetBytes(body, "messages.0.content.1.image_url.url").String(), "data:image/png;base64,")
		assert.EqualValues(t, 300, gjson.GetBytes(body, "max_tokens").Int())
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"a woman in a red coat"}}]}`))
	}))
	defer api.Close()

	d := &OpenAIDescriber{API: &OpenAI{BaseURL: api.URL, APIKey: "k"}, Model: "gpt-4o"}
	text, err := d.Describe(context.Background(), imageprep.Prepared{Data: []byte("x"), MIMEType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, "a woman in a red coat", text)
}

func TestOpenAIDescriberMissingContent(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer api.Close()

	d := &OpenAIDescriber{API: &OpenAI{BaseURL: api.URL, APIKey: "k"}}
	_, err := d.Describe(context.Background(), imageprep.Prepared{})
	var shape *ResponseShapeError
	assert.ErrorAs(t, err, &shape)
}

func TestNewReportsMissingConfiguration(t *testing.T) {
	cfg, err := config.FromEnv(func(string) (string, bool) { return "", false })
	require.NoError(t, err)

	_, err = New(context.Background(), cfg, Deps{Objects: &fakeObjects{}})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = New(context.Background(), cfg, Deps{})
	assert.ErrorIs(t, err, ErrMissingStorage)

	cfg.Provider.Pipeline = config.PipelineOpenAI
	_, err = New(context.Background(), cfg, Deps{})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	cfg.Provider.OpenAIAPIKey = "sk"
	tr, err := New(context.Background(), cfg, Deps{})
	require.NoError(t, err)
	assert.Equal(t, config.PipelineOpenAI, tr.Name())
}

func TestNewDescribeGenerateSelectsDescriber(t *testing.T) {
	cfg, err := config.FromEnv(func(k string) (string, bool) {
		env := map[string]string{"EDIT_PIPELINE": "describe-generate", "DESCRIBE_PROVIDER": "openai", "OPENAI_API_KEY": "sk"}
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)

	tr, err := New(context.Background(), cfg, Deps{Objects: &fakeObjects{}, Gemini: &fakeModels{}})
	require.NoError(t, err)
	dg, ok := tr.(*DescribeGenerate)
	require.True(t, ok)
	assert.IsType(t, &OpenAIDescriber{}, dg.Describer)
}
