// Package harvester implements the ingestion pipeline: per-chat history
// fetching over date windows, entity staging and bulk warehouse loads with
// per-chat progress tracking.
package harvester

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/blockedby/tg-warehouse/internal/logger"
	"github.com/blockedby/tg-warehouse/internal/telegram"
	"github.com/blockedby/tg-warehouse/internal/warehouse"
	"github.com/google/uuid"
)

// Warehouse is the analytical store surface the orchestrator needs.
type Warehouse interface {
	Load(ctx context.Context, table string, records []warehouse.Record) error
	MessageExists(ctx context.Context, msgID int64, chatID string) (bool, error)
	ExistingChatIDs(ctx context.Context) (map[string]struct{}, error)
	ExistingUserIDs(ctx context.Context) (map[string]struct{}, error)
	MaxMessageDate(ctx context.Context) (*time.Time, error)
}

// ProgressStore tracks per-chat ingestion progress.
type ProgressStore interface {
	EnsureExists(ctx context.Context, chatID, username string) error
	GetAll(ctx context.Context) (map[string]warehouse.ChatConfig, error)
	MarkProcessed(ctx context.Context, chatID string, dates []time.Time) error
}

// ChatHarvestedEvent is emitted after each chat finishes its window.
type ChatHarvestedEvent struct {
	RunID       uuid.UUID `json:"run_id"`
	ChatID      string    `json:"chat_id"`
	Handle      string    `json:"handle"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Messages    int       `json:"messages"`
	FinishedAt  time.Time `json:"finished_at"`
}

// EventPublisher emits harvest events. Publishing is best-effort; failures
// never affect the run outcome.
type EventPublisher interface {
	PublishChatHarvested(ctx context.Context, event ChatHarvestedEvent) error
}

// RunResult summarizes one harvest run.
type RunResult struct {
	RunID  uuid.UUID
	Mode   Mode
	Window Window

	ChatsProcessed int
	ChatsSkipped   int
	MessagesLoaded int
	NewChats       int
	NewUsers       int
	DedupStops     int

	FetchErrors    int
	LoadErrors     int
	ProgressErrors int
}

// Service orchestrates harvest runs.
type Service struct {
	tg       ChatClient
	wh       Warehouse
	progress ProgressStore
	pub      EventPublisher
	tables   warehouse.Tables
	fetcher  *Fetcher
	log      *logger.Logger
	now      func() time.Time
}

// NewService creates the orchestrator. pub may be nil when no event bus is
// configured.
func NewService(tg ChatClient, wh Warehouse, progress ProgressStore, tables warehouse.Tables, pub EventPublisher) *Service {
	return &Service{
		tg:       tg,
		wh:       wh,
		progress: progress,
		pub:      pub,
		tables:   tables,
		fetcher:  NewFetcher(tg, wh),
		log:      logger.Get(),
		now:      time.Now,
	}
}

type chatEntry struct {
	handle string
	chat   *telegram.Chat
}

// Run executes one harvest run.
//
// Per-chat failures (resolution, fetch, load, progress) skip or degrade that
// chat and are tallied in the result; only request validation, snapshot
// queries, window resolution and an empty chat list abort the run.
func (s *Service) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	now := s.now().UTC()
	if err := req.Validate(now); err != nil {
		return nil, err
	}

	result := &RunResult{RunID: uuid.New(), Mode: req.Mode}
	s.log.Info().
		Str("run_id", result.RunID.String()).
		Str("mode", string(req.Mode)).
		Msg("harvester: run started")

	existingChats, err := s.wh.ExistingChatIDs(ctx)
	if err != nil {
		return nil, err
	}
	existingUsers, err := s.wh.ExistingUserIDs(ctx)
	if err != nil {
		return nil, err
	}

	handles, err := s.resolveHandles(ctx, req)
	if err != nil {
		return nil, err
	}

	chats := s.ensureConfigs(ctx, handles, result)

	window, err := s.resolveWindow(ctx, req, now)
	if err != nil {
		return nil, err
	}
	result.Window = window
	s.log.Info().
		Time("start", window.Start).
		Time("end", window.End).
		Int("chats", len(chats)).
		Msg("harvester: window resolved")

	newChats := make(map[string]warehouse.Record)
	newUsers := make(map[string]warehouse.Record)

	for _, entry := range chats {
		s.harvestChat(ctx, entry, window, req.Mode, result, existingChats, existingUsers, newChats, newUsers)
	}

	s.flushEntities(ctx, newChats, newUsers, result)

	s.log.Info().
		Str("run_id", result.RunID.String()).
		Int("chats", result.ChatsProcessed).
		Int("skipped", result.ChatsSkipped).
		Int("messages", result.MessagesLoaded).
		Int("new_chats", result.NewChats).
		Int("new_users", result.NewUsers).
		Int("fetch_errors", result.FetchErrors).
		Int("load_errors", result.LoadErrors).
		Int("progress_errors", result.ProgressErrors).
		Msg("harvester: run complete")
	return result, nil
}

// resolveHandles returns the configured chat handles, falling back to every
// chat already registered in the progress store.
func (s *Service) resolveHandles(ctx context.Context, req RunRequest) ([]string, error) {
	if len(req.Chats) > 0 {
		return req.Chats, nil
	}

	configs, err := s.progress.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	handles := make([]string, 0, len(configs))
	for handle := range configs {
		handles = append(handles, handle)
	}
	sort.Strings(handles)

	if len(handles) == 0 {
		return nil, ErrNoChats
	}
	return handles, nil
}

// resolveWindow maps the run mode to a concrete date window.
func (s *Service) resolveWindow(ctx context.Context, req RunRequest, now time.Time) (Window, error) {
	switch req.Mode {
	case ModeBackload:
		start, end, err := req.backloadBounds()
		if err != nil {
			return Window{}, err
		}
		return backloadWindow(start, end), nil
	case ModeRecent:
		maxDate, err := s.wh.MaxMessageDate(ctx)
		if err != nil {
			return Window{}, err
		}
		return recentWindow(now, maxDate), nil
	default:
		return dailyWindow(now), nil
	}
}

// ensureConfigs resolves each handle and registers its progress row.
// A chat that cannot be resolved or registered is skipped for this run.
func (s *Service) ensureConfigs(ctx context.Context, handles []string, result *RunResult) []chatEntry {
	entries := make([]chatEntry, 0, len(handles))
	for _, handle := range handles {
		chat, err := s.tg.ResolveChat(ctx, handle)
		if err != nil {
			s.log.Error().Err(err).Str("chat", handle).Msg("harvester: chat resolution failed, skipping")
			result.ChatsSkipped++
			continue
		}

		chatID := strconv.FormatInt(chat.ID, 10)
		if err := s.progress.EnsureExists(ctx, chatID, handle); err != nil {
			s.log.Error().Err(err).Str("chat", handle).Msg("harvester: progress registration failed, skipping")
			result.ChatsSkipped++
			result.ProgressErrors++
			continue
		}

		entries = append(entries, chatEntry{handle: handle, chat: chat})
	}
	return entries
}

// harvestChat fetches and loads one chat's window, stages its new entities
// and records progress.
func (s *Service) harvestChat(
	ctx context.Context,
	entry chatEntry,
	window Window,
	mode Mode,
	result *RunResult,
	existingChats, existingUsers map[string]struct{},
	newChats, newUsers map[string]warehouse.Record,
) {
	chatID := strconv.FormatInt(entry.chat.ID, 10)

	if _, ok := existingChats[chatID]; !ok {
		if _, staged := newChats[chatID]; !staged {
			newChats[chatID] = chatRecord(entry.chat, s.now().UTC())
		}
	}

	loaded := 0
	var processed []time.Time

	for _, unit := range window.Split(mode) {
		res := s.fetcher.FetchWindow(ctx, entry.chat, unit.Start, unit.End)
		if res.Err != nil {
			result.FetchErrors++
		}
		if res.DedupHit {
			result.DedupStops++
		}

		for uid, rec := range res.Users {
			uidStr := strconv.FormatInt(uid, 10)
			if _, ok := existingUsers[uidStr]; ok {
				continue
			}
			// first profile fetched in the run wins
			if _, ok := newUsers[uidStr]; ok {
				continue
			}
			newUsers[uidStr] = rec
		}

		if len(res.Messages) > 0 {
			if err := s.wh.Load(ctx, s.tables.ChatHistory, res.Messages); err != nil {
				s.log.Error().Err(err).
					Str("chat", entry.handle).
					Int("rows", len(res.Messages)).
					Msg("harvester: history load failed")
				result.LoadErrors++
			} else {
				loaded += len(res.Messages)
				result.MessagesLoaded += len(res.Messages)
			}
		}

		// the day is marked processed even when the fetch degraded or
		// the load failed; re-runs recover via the dedup walk
		processed = append(processed, unit.Dates()...)
	}

	if err := s.progress.MarkProcessed(ctx, chatID, processed); err != nil {
		s.log.Error().Err(err).Str("chat", entry.handle).Msg("harvester: progress update failed")
		result.ProgressErrors++
	}
	result.ChatsProcessed++

	s.log.Info().
		Str("chat", entry.handle).
		Int("messages", loaded).
		Msg("harvester: chat complete")

	s.publishChatHarvested(ctx, result.RunID, entry, chatID, window, loaded)
}

func (s *Service) publishChatHarvested(ctx context.Context, runID uuid.UUID, entry chatEntry, chatID string, window Window, loaded int) {
	if s.pub == nil {
		return
	}

	event := ChatHarvestedEvent{
		RunID:       runID,
		ChatID:      chatID,
		Handle:      entry.handle,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		Messages:    loaded,
		FinishedAt:  s.now().UTC(),
	}
	if err := s.pub.PublishChatHarvested(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("chat", entry.handle).Msg("harvester: event publish failed")
	}
}

// flushEntities loads the chats and users first seen during this run.
func (s *Service) flushEntities(ctx context.Context, newChats, newUsers map[string]warehouse.Record, result *RunResult) {
	if len(newChats) > 0 {
		if err := s.wh.Load(ctx, s.tables.ChatInfo, recordValues(newChats)); err != nil {
			s.log.Error().Err(err).Int("rows", len(newChats)).Msg("harvester: chat info load failed")
			result.LoadErrors++
		} else {
			result.NewChats = len(newChats)
		}
	}

	if len(newUsers) > 0 {
		if err := s.wh.Load(ctx, s.tables.UserInfo, recordValues(newUsers)); err != nil {
			s.log.Error().Err(err).Int("rows", len(newUsers)).Msg("harvester: user info load failed")
			result.LoadErrors++
		} else {
			result.NewUsers = len(newUsers)
		}
	}
}

// recordValues flattens a staged entity map in deterministic key order.
func recordValues(staged map[string]warehouse.Record) []warehouse.Record {
	keys := make([]string, 0, len(staged))
	for k := range staged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]warehouse.Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, staged[k])
	}
	return out
}
