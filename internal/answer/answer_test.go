package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
)

func result(repo, path string, start, end int, score float32, content string) vectorstore.SearchResult {
	return vectorstore.SearchResult{
		CatalogEntry: vectorstore.CatalogEntry{
			RepoID:    repo,
			Path:      path,
			StartLine: start,
			EndLine:   end,
			Content:   content,
		},
		Score: score,
	}
}

var sampleChunks = []vectorstore.SearchResult{
	result("api", "auth/login.py", 1, 20, 0.9, "def login(user):\n    return check(user)"),
	result("api", "routes.py", 10, 30, 0.7, "@app.route('/login')"),
}

// fakeModel is an llms.Model with a scripted reply.
type fakeModel struct {
	mu       sync.Mutex
	reply    string
	err      error
	calls    int
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.messages = messages
	m.opts = llms.CallOptions{}
	for _, o := range options {
		o(&m.opts)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestExtractCitations(t *testing.T) {
	t.Run("matches reference inside chunk range", func(t *testing.T) {
		got := ExtractCitations("Login lives in auth/login.py:5-8 and is routed elsewhere.", sampleChunks)
		require.Len(t, got, 1)
		assert.Equal(t, "api", got[0].RepoID)
		assert.Equal(t, "auth/login.py", got[0].Path)
		assert.Equal(t, 5, got[0].Start)
		assert.Equal(t, 8, got[0].End)
		assert.InDelta(t, 0.9, got[0].Score, 1e-6)
	})

	t.Run("end past chunk is clamped", func(t *testing.T) {
		got := ExtractCitations("see auth/login.py:18-60", sampleChunks)
		require.Len(t, got, 1)
		assert.Equal(t, 18, got[0].Start)
		assert.Equal(t, 20, got[0].End)
	})

	t.Run("start outside every chunk is dropped", func(t *testing.T) {
		got := ExtractCitations("see auth/login.py:40-45 and routes.py:12-14", sampleChunks)
		require.Len(t, got, 1)
		assert.Equal(t, "routes.py", got[0].Path)
	})

	t.Run("no references cites every chunk", func(t *testing.T) {
		got := ExtractCitations("It is handled by the login function.", sampleChunks)
		require.Len(t, got, 2)
		assert.Equal(t, 1, got[0].Start)
		assert.Equal(t, 20, got[0].End)
		assert.Equal(t, "routes.py", got[1].Path)
	})

	t.Run("no chunks", func(t *testing.T) {
		assert.Empty(t, ExtractCitations("auth/login.py:1-2", nil))
	})
}

func TestCleanAnswer(t *testing.T) {
	assert.Equal(t, "Login is in auth/login.py:5-8 .", CleanAnswer("  Login is in auth/login.py:5-8 [1].\n"))
	assert.Equal(t, "no markers", CleanAnswer("no markers"))
	assert.Equal(t, "keep [a] text", CleanAnswer("keep [a] text[12]"))
}

func TestValidate(t *testing.T) {
	cits := []Citation{{Path: "auth/login.py", Start: 5, End: 8}}
	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{"cited", "See auth/login.py:5-8.", true},
		{"different range", "See auth/login.py:5-9.", false},
		{"uncertain", "I'm not confident about this.", true},
		{"uncertain mixed case", "Relevant code was NOT FOUND.", true},
		{"empty", "   ", false},
		{"uncited claim", "Login uses bcrypt.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.answer, cits))
		})
	}
	assert.True(t, Validate("I don't know.", nil))
	assert.False(t, Validate("See auth/login.py:5-8.", nil))
}

func TestMockAnswerer(t *testing.T) {
	ctx := context.Background()
	m := NewMockAnswerer()
	assert.Equal(t, ModeMock, m.Mode())

	tests := []struct {
		question string
		prefix   string
		count    string
	}{
		{"How does LOGIN work?", "Authentication is implemented", "in 2 files"},
		{"Which endpoint lists users?", "Routing is handled", "across 2 files"},
		{"Where is the user model?", "Database models are defined", "found 2 relevant files"},
		{"What does main do?", "I found relevant code", "from 2 files"},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			res, err := m.Generate(ctx, tt.question, sampleChunks)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(res.Answer, tt.prefix), res.Answer)
			assert.Contains(t, res.Answer, tt.count)
			assert.Len(t, res.Citations, 2)
			assert.Equal(t, ModeMock, res.Mode)
		})
	}

	long := []vectorstore.SearchResult{result("r", "a.go", 1, 3, 0.5, strings.Repeat("é", 150))}
	res, err := m.Generate(ctx, "q", long)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 100)+"...", res.Citations[0].Content)

	res, err = m.Generate(ctx, "q", nil)
	require.NoError(t, err)
	assert.Equal(t, NoResultsAnswer, res.Answer)
	assert.Empty(t, res.Citations)
}

func TestLLMAnswerer_Generate(t *testing.T) {
	model := &fakeModel{reply: "The login handler [1] is auth/login.py:2-4 and it is routed from routes.py:10-12."}
	a := NewLLMAnswererWithModel(model, LLMConfig{})

	res, err := a.Generate(context.Background(), "How does login work?", sampleChunks)
	require.NoError(t, err)
	assert.Equal(t, ModeLLM, res.Mode)
	assert.NotContains(t, res.Answer, "[1]")
	require.Len(t, res.Citations, 2)
	assert.Equal(t, "auth/login.py:2-4", res.Citations[0].Ref())
	assert.Equal(t, "routes.py:10-12", res.Citations[1].Ref())
	assert.True(t, Validate(res.Answer, res.Citations))

	require.Len(t, model.messages, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[1].Role)
	prompt, ok := model.messages[1].Parts[0].(llms.TextContent)
	require.True(t, ok)
	assert.Contains(t, prompt.Text, "Question: How does login work?")
	assert.Contains(t, prompt.Text, "--- auth/login.py:1-20")
	assert.InDelta(t, 0.1, model.opts.Temperature, 1e-9)
	assert.Equal(t, 1000, model.opts.MaxTokens)
	assert.Equal(t, "gpt-4o-mini", a.Model())
}

func TestLLMAnswerer_Errors(t *testing.T) {
	ctx := context.Background()

	a := NewLLMAnswererWithModel(&fakeModel{err: errors.New("boom")}, LLMConfig{})
	_, err := a.Generate(ctx, "q", sampleChunks)
	assert.ErrorIs(t, err, ErrAnswerFailed)

	a = NewLLMAnswererWithModel(&fakeModel{reply: "   "}, LLMConfig{})
	_, err = a.Generate(ctx, "q", sampleChunks)
	assert.ErrorIs(t, err, ErrAnswerFailed)

	_, err = NewLLMAnswerer(LLMConfig{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestFallback_TransientErrorFallsBackPerCall(t *testing.T) {
	model := &fakeModel{err: errors.New("connection reset by peer")}
	f := NewFallbackWith(NewLLMAnswererWithModel(model, LLMConfig{}), Config{}, zap.NewNop())
	assert.Equal(t, ModeLLM, f.Mode())

	res, err := f.Generate(context.Background(), "login?", sampleChunks)
	require.NoError(t, err)
	assert.Equal(t, ModeMock, res.Mode)
	assert.Equal(t, ModeLLM, f.Mode(), "transient errors do not downgrade")

	model.err = nil
	model.reply = "See auth/login.py:1-5."
	res, err = f.Generate(context.Background(), "login?", sampleChunks)
	require.NoError(t, err)
	assert.Equal(t, ModeLLM, res.Mode)
	assert.Equal(t, 2, model.calls)
}

func TestFallback_QuotaDowngradesPermanently(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	model := &fakeModel{err: errors.New("API returned unexpected status code: 429: insufficient_quota")}
	f := NewFallbackWith(NewLLMAnswererWithModel(model, LLMConfig{}), Config{}, zap.New(core))

	for range 3 {
		res, err := f.Generate(context.Background(), "q", sampleChunks)
		require.NoError(t, err)
		assert.Equal(t, ModeMock, res.Mode)
	}
	assert.Equal(t, 1, model.calls)
	assert.Equal(t, ModeMock, f.Mode())

	info := f.Info()
	assert.True(t, info.Degraded)
	assert.Contains(t, info.Reason, "insufficient_quota")
	assert.Equal(t, 1, logs.FilterMessageSnippet("switching to mock").Len())
}

func TestFallback_CancelledContext(t *testing.T) {
	model := &fakeModel{err: context.Canceled}
	f := NewFallbackWith(NewLLMAnswererWithModel(model, LLMConfig{}), Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Generate(ctx, "q", sampleChunks)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFallback_Modes(t *testing.T) {
	f, err := NewFallback(Config{Mode: ModeMock, LLM: LLMConfig{APIKey: "sk-test"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeMock, f.Mode())

	f, err = NewFallback(Config{Mode: ModeAuto}, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeMock, f.Mode(), "auto without a key uses the mock")

	core, logs := observer.New(zapcore.WarnLevel)
	f, err = NewFallback(Config{Mode: ModeLLM}, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, ModeMock, f.Mode())
	assert.Equal(t, 1, logs.Len())

	f, err = NewFallback(Config{Mode: ModeAuto, LLM: LLMConfig{APIKey: "sk-test"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeLLM, f.Mode())
	assert.Equal(t, 1000, f.Info().MaxTokens)

	_, err = NewFallback(Config{Mode: "gpt"}, nil)
	assert.Error(t, err)
}
