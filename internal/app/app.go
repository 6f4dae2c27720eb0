package app

import (
	"context"
	"fmt"
	"strings"

	"litground/internal/citation"
	"litground/internal/config"
	"litground/internal/doi"
	"litground/internal/ingest"
	"litground/internal/logger"
	"litground/internal/providers"
	"litground/internal/search"
	"litground/internal/session"
	"litground/internal/storage"
	"litground/internal/vector"

	"github.com/google/uuid"
)

// Stack holds the components shared by the API and the worker.
type Stack struct {
	Config    config.Config
	Log       *logger.Logger
	DB        *storage.DB
	Providers *providers.Manager
	Abstracts vector.Store
	PDFChunks vector.Store
	DOI       *doi.Client
	Citations *citation.Resolver
	Ingester  *ingest.Ingester
	Search    *search.Engine
	Documents *storage.DocumentRepo
	Sessions  *session.Manager
	Venues    []string

	closers []func()
}

// Build connects the configured backends. Postgres is only dialled when a
// store is configured as "postgres".
func Build(ctx context.Context, cfg config.Config, log *logger.Logger) (*Stack, error) {
	if log == nil {
		log = logger.Nop()
	}
	s := &Stack{Config: cfg, Log: log}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}
	s.Providers = pm

	if usesPostgres(cfg) {
		db, err := storage.NewDB(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		s.DB = db
		s.closers = append(s.closers, db.Close)
		if err := db.EnsureSchema(ctx, cfg.EmbedDim); err != nil {
			return nil, err
		}
		s.Documents = storage.NewDocumentRepo(db)
	}

	switch strings.ToLower(cfg.VectorStore) {
	case "memory":
		s.Abstracts = vector.NewMemoryStore(pm)
		s.PDFChunks = vector.NewMemoryStore(pm)
	default:
		s.Abstracts = vector.NewPGStore(s.DB.Pool, vector.CollectionAbstracts, pm)
		s.PDFChunks = vector.NewPGStore(s.DB.Pool, vector.CollectionPDFChunks, pm)
	}

	var cache citation.Store
	switch strings.ToLower(cfg.CitationStore) {
	case "memory":
		cache = citation.NewMemoryStore()
	case "redis":
		rs, err := citation.NewRedisStore(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = rs.Close() })
		cache = rs
	default:
		cache = storage.NewCitationRepo(s.DB)
	}

	var audit session.AuditLog
	var llm providers.LLMProvider = pm
	if s.DB != nil {
		repo := storage.NewLLMAuditRepo(s.DB)
		audit = repo
		llm = auditedLLM{inner: pm, audit: repo, log: log}
	}

	s.DOI = doi.NewClient(doi.Config{
		DOIBaseURL:      cfg.DOIBaseURL,
		CrossrefBaseURL: cfg.CrossrefBaseURL,
		Mailto:          cfg.CrossrefMailto,
		RPS:             cfg.CrossrefRPS,
	})
	s.Citations = citation.NewResolver(cache, s.DOI, llm, log.With("component", "citation"))
	s.Ingester = ingest.New(s.PDFChunks, ingest.PDFExtractor{}, s.Citations, ingest.Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Parallelism:  cfg.IngestParallelism,
	}, log.With("component", "ingest"))
	s.Search = search.NewEngine(s.Abstracts, s.DOI, log.With("component", "search"))

	var chats session.ChatStore
	if strings.EqualFold(cfg.ChatStore, "memory") {
		chats = session.NewMemoryChatStore()
	} else {
		chats = storage.NewChatRepo(s.DB)
	}
	s.Sessions = session.NewManager(session.Deps{
		Chats:     chats,
		Search:    s.Search,
		Ingest:    s.Ingester,
		Citations: s.Citations,
		Completer: pm.Completer(),
		Audit:     audit,
		Log:       log.With("component", "session"),
	}, session.Options{
		Completion: session.CompletionSettings{
			Model:       cfg.CompletionModel,
			Temperature: cfg.CompletionTemperature,
			MaxTokens:   cfg.CompletionMaxTokens,
		},
		MaxReviewItems: cfg.MaxReviewItems,
	})

	venues, err := config.LoadVenues(cfg.VenuesFile)
	if err != nil {
		return nil, err
	}
	s.Venues = venues
	ok = true
	return s, nil
}

func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func usesPostgres(cfg config.Config) bool {
	c := strings.ToLower(cfg.CitationStore)
	return !strings.EqualFold(cfg.VectorStore, "memory") ||
		!strings.EqualFold(cfg.ChatStore, "memory") ||
		(c != "memory" && c != "redis")
}

// auditedLLM records every one-shot generation (citation extraction) in llm_calls.
type auditedLLM struct {
	inner providers.LLMProvider
	audit *storage.LLMAuditRepo
	log   *logger.Logger
}

func (a auditedLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	resp, info, err := a.inner.Generate(ctx, req)
	status, errType := "ok", ""
	if err != nil {
		status, errType = "failed", string(providers.ClassifyError(err))
	}
	name := info.Name
	if name == "" {
		name = "unknown"
	}
	rec := storage.LLMCallRecord{
		CallID:       uuid.NewString(),
		Operation:    req.Operation,
		ProviderName: name,
		Model:        info.Model,
		Status:       status,
		ErrorType:    errType,
	}
	if aerr := a.audit.Insert(context.WithoutCancel(ctx), rec); aerr != nil {
		a.log.Warn("llm audit write failed", "operation", req.Operation, "error", aerr)
	}
	return resp, info, err
}
