package domain

import "context"

// ChatRepository is the persistence port for sessions, messages and file
// metadata (C2). Implementations must serialize writes per session and
// surface storage failures as *Error{Kind: KindStorageError} and missing
// rows as *Error{Kind: KindNotFound}.
type ChatRepository interface {
	CreateSession(ctx context.Context, owner, title string) (Session, error)
	GetSession(ctx context.Context, sid string) (Session, error)
	DeleteSession(ctx context.Context, sid string) (bool, error)

	AddMessage(ctx context.Context, sid string, role Role, content string) (Message, error)
	ListMessages(ctx context.Context, sid string) ([]Message, error)

	CreateFile(ctx context.Context, filename, path string) (FileDocument, error)
	ListFiles(ctx context.Context) ([]FileDocument, error)
	GetFile(ctx context.Context, fid string) (FileDocument, error)
	UpdateFileStatus(ctx context.Context, fid string, status FileStatus, errMsg string, totalChunks *int) error

	AddSections(ctx context.Context, fid string, sections []FileSection) error
	ListSections(ctx context.Context, fid string) ([]FileSection, error)

	CreateUser(ctx context.Context, user User) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

// VectorStore is the chunk storage and search port (C3). Dimension is fixed
// at EmbeddingDim; implementations must reject other lengths with
// *Error{Kind: KindDimensionMismatch}.
type VectorStore interface {
	UpsertChunks(ctx context.Context, fid string, chunks []Chunk) (int, error)
	Search(ctx context.Context, fid string, queryVec []float32, k int) ([]ScoredChunk, error)
	DeleteByFile(ctx context.Context, fid string) (int, error)
	CountChunks(ctx context.Context, fid string) (int, error)
}

// Embedder is the text-to-vector port (C4).
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMOptions controls a single chat_completion call.
type LLMOptions struct {
	MaxOutputTokens int
	Temperature     float32
	UseCache        bool
}

// LLMTokenReport is the approximate token accounting returned alongside a reply.
type LLMTokenReport struct {
	SystemTokens  int
	HistoryTokens int
	UserTokens    int
}

// LLMMessage is a single chat message sent to an LLM adapter.
type LLMMessage struct {
	Role    Role
	Content string
}

// LLM is the chat-completion port (C5). Implementations raise
// *Error{Kind: KindLLMUnavailable} on retriable failures (timeout, 5xx,
// rate-limit) and anything else on hard failures.
type LLM interface {
	ChatCompletion(ctx context.Context, systemPrompt string, messages []LLMMessage, opts LLMOptions) (string, LLMTokenReport, error)
}

// WebSearchTool is the optional external search port (C7). Implementations
// never return an error to the caller: upstream failures and rate limiting
// both degrade to an empty slice.
type WebSearchTool interface {
	Search(ctx context.Context, query string, maxResults int) []WebResult
}

// Guardian is the safety-classification port (C8).
type Guardian interface {
	Evaluate(ctx context.Context, userMessage string, contextSnippets []string) GuardianVerdict
}

// SectionExtractor is the out-of-scope PDF-extraction boundary (C14). A real
// deployment's extraction pipeline lives outside this module; this port
// exists so the indexing pipeline has something concrete to call.
type SectionExtractor interface {
	ExtractSections(ctx context.Context, path string) ([]FileSection, error)
}
