// Package orchestrator implements the C10 ChatService: the composition
// root that turns a single user message into a persisted, routed LLM
// reply. The turn algorithm follows the teacher's handlePostMessage in
// internal/server/server.go (guardian → persist user message → build
// prompt → call LLM → persist assistant message → return), generalized
// with RAG/web-search context injection, prompt caching, and
// primary/fallback LLM routing.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fabfab/ragsentry/internal/domain"
	"github.com/fabfab/ragsentry/internal/metrics"
	"github.com/fabfab/ragsentry/internal/promptcache"
)

// searchTriggerWords are phrases hinting the user wants information the
// model's training data likely doesn't have (recent events, live docs).
var searchTriggerWords = []string{
	"latest", "current version", "today", "this week", "recently released",
	"changelog", "release notes", "news",
}

// Config bundles the orchestrator's tunables, all sourced from
// config.Config at wiring time.
type Config struct {
	RAGTopK             int
	RAGCtxChars         int
	MaxHistoryMessages  int
	PrimaryTokenBudget  int
	MaxOutputTokens     int
	Temperature         float32
	WebSearchEnabled    bool
	WebSearchMaxResults int
	TurnDeadline        time.Duration
}

// Service is the C10 orchestrator.
type Service struct {
	repo      domain.ChatRepository
	vectors   domain.VectorStore
	embedder  domain.Embedder
	primary   domain.LLM
	fallback  domain.LLM
	guardian  domain.Guardian
	websearch domain.WebSearchTool
	cache     *promptcache.Cache
	metrics   *metrics.Recorder
	cfg       Config
}

// New constructs a Service.
func New(repo domain.ChatRepository, vectors domain.VectorStore, embedder domain.Embedder, primary, fallback domain.LLM, guardian domain.Guardian, websearch domain.WebSearchTool, cache *promptcache.Cache, recorder *metrics.Recorder, cfg Config) *Service {
	return &Service{
		repo:      repo,
		vectors:   vectors,
		embedder:  embedder,
		primary:   primary,
		fallback:  fallback,
		guardian:  guardian,
		websearch: websearch,
		cache:     cache,
		metrics:   recorder,
		cfg:       cfg,
	}
}

// Result is what HandleMessage returns on success.
type Result struct {
	SessionID          string
	Reply              string
	UsedFallback       bool
	UsedRAG            bool
	UsedWebSearch      bool
	AssistantPersisted bool
	Tokens             domain.LLMTokenReport
}

// HandleMessage implements the full turn algorithm from spec.md §4.9. sid
// may be empty to request a new session.
func (s *Service) HandleMessage(ctx context.Context, sid, owner, userText, agentRole, fid string) (Result, error) {
	if s.cfg.TurnDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TurnDeadline)
		defer cancel()
	}

	// Step 1: guardian gate. No persistence happens before this passes.
	verdict := s.guardian.Evaluate(ctx, userText, nil)
	if !verdict.Allowed {
		return Result{}, &domain.MessageBlockedError{Verdict: verdict}
	}

	// Step 2: session resolve.
	session, err := s.resolveSession(ctx, sid, owner)
	if err != nil {
		return Result{}, err
	}

	// Step 3: persist user message. A failure here fails the turn before
	// any LLM call, per spec.md §4.9's propagation policy.
	if _, err := s.repo.AddMessage(ctx, session.ID, domain.RoleUser, userText); err != nil {
		return Result{}, fmt.Errorf("persist user message: %w", err)
	}

	// Step 4: RAG decision.
	contextBlocks, usedRAG, err := s.buildRAGContext(ctx, fid, userText)
	if err != nil {
		log.Printf("orchestrator: rag context build failed for sid=%s fid=%s: %v", session.ID, fid, err)
	}

	// Step 5: web-search decision, independent of RAG.
	var usedWebSearch bool
	if s.cfg.WebSearchEnabled && s.websearch != nil && shouldSearch(userText) {
		maxResults := s.cfg.WebSearchMaxResults
		if maxResults <= 0 {
			maxResults = 3
		}
		results := s.websearch.Search(ctx, userText, maxResults)
		if len(results) > 0 {
			contextBlocks = append(contextBlocks, formatWebResults(results))
			usedWebSearch = true
		}
	}

	dynamicContext := usedRAG || usedWebSearch

	// Guardian must also see injected content: a malicious excerpt can
	// carry instructions the user never typed.
	if dynamicContext {
		if v := s.guardian.Evaluate(ctx, userText, contextBlocks); !v.Allowed {
			return Result{SessionID: session.ID}, &domain.MessageBlockedError{Verdict: v}
		}
	}

	// Step 6: prompt assembly.
	systemPrompt, useCache := s.assemblePrompt(session.ID, agentRole, dynamicContext, contextBlocks)

	// Step 7: message history.
	history, err := s.repo.ListMessages(ctx, session.ID)
	if err != nil {
		return Result{}, fmt.Errorf("load history: %w", err)
	}
	llmMessages := toLLMMessages(history, useCache, s.historyLimit())

	// Step 8: LLM selection.
	estimatedTokens := estimateTokens(systemPrompt) + estimateTokens(userText)
	useFallback := dynamicContext || estimatedTokens > s.cfg.PrimaryTokenBudget

	opts := domain.LLMOptions{
		MaxOutputTokens: s.cfg.MaxOutputTokens,
		Temperature:     s.cfg.Temperature,
		UseCache:        useCache,
	}

	// Step 9: call, with one retry/fallback on LLMUnavailable.
	reply, report, usedFallback, err := s.call(ctx, useFallback, systemPrompt, llmMessages, opts)
	if err != nil {
		return Result{SessionID: session.ID}, err
	}
	if s.metrics != nil {
		s.metrics.Record(session.ID, report, useCache)
	}

	// Step 10: persist assistant message. A failure here is logged but the
	// reply is still returned, per spec.md §4.9.
	assistantPersisted := true
	if _, err := s.repo.AddMessage(ctx, session.ID, domain.RoleAssistant, reply); err != nil {
		log.Printf("orchestrator: failed to persist assistant message for sid=%s: %v", session.ID, err)
		assistantPersisted = false
	}

	return Result{
		SessionID:          session.ID,
		Reply:              reply,
		UsedFallback:       usedFallback,
		UsedRAG:            usedRAG,
		UsedWebSearch:      usedWebSearch,
		AssistantPersisted: assistantPersisted,
		Tokens:             report,
	}, nil
}

// EmbedQuery exposes the embedder for the standalone /embeddings/search
// endpoint, which needs a query vector outside of a chat turn.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.EmbedOne(ctx, text)
}

func (s *Service) resolveSession(ctx context.Context, sid, owner string) (domain.Session, error) {
	if sid == "" {
		return s.repo.CreateSession(ctx, owner, "")
	}
	return s.repo.GetSession(ctx, sid)
}

func (s *Service) buildRAGContext(ctx context.Context, fid, userText string) ([]string, bool, error) {
	if fid == "" {
		return nil, false, nil
	}

	file, err := s.repo.GetFile(ctx, fid)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if file.Status != domain.FileStatusIndexed {
		return nil, false, nil
	}

	qvec, err := s.embedder.EmbedOne(ctx, userText)
	if err != nil {
		return nil, false, fmt.Errorf("embed query: %w", err)
	}

	topK := s.cfg.RAGTopK
	if topK <= 0 {
		topK = 10
	}
	hits, err := s.vectors.Search(ctx, fid, qvec, topK)
	if err != nil {
		return nil, false, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return nil, false, nil
	}

	budget := s.cfg.RAGCtxChars
	if budget <= 0 {
		budget = 12000
	}

	var b strings.Builder
	used := 0
	for _, hit := range hits {
		similarity := 1 - hit.Distance
		line := fmt.Sprintf("[chunk %d, similarity=%.4f] %s\n", hit.Chunk.ChunkIndex, similarity, hit.Chunk.Text)
		if used+len(line) > budget {
			break
		}
		b.WriteString(line)
		used += len(line)
	}
	if b.Len() == 0 {
		return nil, false, nil
	}

	block := fmt.Sprintf("--- EXCERPT (fid=%s) ---\n%s--- END ---", fid, b.String())
	return []string{block}, true, nil
}

func shouldSearch(userText string) bool {
	lower := strings.ToLower(userText)
	for _, kw := range searchTriggerWords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func formatWebResults(results []domain.WebResult) string {
	var b strings.Builder
	b.WriteString("--- EXCERPT (web-search) ---\n")
	for _, r := range results {
		fmt.Fprintf(&b, "[%s] %s\n%s\n\n", r.Source, r.Title, r.Snippet)
	}
	b.WriteString("--- END ---")
	return b.String()
}

func (s *Service) assemblePrompt(sid, agentRole string, dynamicContext bool, contextBlocks []string) (string, bool) {
	if dynamicContext {
		full := promptcache.Lookup(agentRole).FullPrompt
		full += "\n\n" + strings.Join(contextBlocks, "\n\n")
		return full, false
	}
	prompt := s.cache.SystemPrompt(sid, agentRole, false)
	return prompt, true
}

func (s *Service) historyLimit() int {
	if s.cfg.MaxHistoryMessages <= 0 {
		return 5
	}
	return s.cfg.MaxHistoryMessages
}

func toLLMMessages(history []domain.Message, useCache bool, limit int) []domain.LLMMessage {
	if useCache && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]domain.LLMMessage, len(history))
	for i, m := range history {
		out[i] = domain.LLMMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func estimateTokens(text string) int {
	return len(text) / 4
}

func (s *Service) call(ctx context.Context, useFallback bool, systemPrompt string, messages []domain.LLMMessage, opts domain.LLMOptions) (string, domain.LLMTokenReport, bool, error) {
	if useFallback {
		reply, report, err := s.fallback.ChatCompletion(ctx, systemPrompt, messages, opts)
		if err != nil {
			return "", domain.LLMTokenReport{}, true, s.exhausted(err)
		}
		return reply, report, true, nil
	}

	reply, report, err := s.primary.ChatCompletion(ctx, systemPrompt, messages, opts)
	if err == nil {
		return reply, report, false, nil
	}
	if !domain.IsKind(err, domain.KindLLMUnavailable) {
		return "", domain.LLMTokenReport{}, false, err
	}

	log.Printf("orchestrator: primary llm unavailable, retrying with fallback: %v", err)
	reply, report, err = s.fallback.ChatCompletion(ctx, systemPrompt, messages, opts)
	if err != nil {
		return "", domain.LLMTokenReport{}, true, s.exhausted(err)
	}
	return reply, report, true, nil
}

func (s *Service) exhausted(err error) error {
	if domain.IsKind(err, domain.KindLLMUnavailable) {
		return domain.NewError(domain.KindLLMExhausted, "both primary and fallback llm are unavailable", err)
	}
	return err
}
