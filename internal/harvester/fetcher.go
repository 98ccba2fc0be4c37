package harvester

import (
	"context"
	"strconv"
	"time"

	"github.com/blockedby/tg-warehouse/internal/logger"
	"github.com/blockedby/tg-warehouse/internal/telegram"
	"github.com/blockedby/tg-warehouse/internal/warehouse"
)

// MessageIterator yields messages newest-first, nil when exhausted.
type MessageIterator interface {
	Next(ctx context.Context) (*telegram.Message, error)
}

// ChatClient is the remote platform surface the harvester consumes.
type ChatClient interface {
	ResolveChat(ctx context.Context, handle string) (*telegram.Chat, error)
	IterHistory(chat *telegram.Chat, anchor time.Time) MessageIterator
	GetUser(ctx context.Context, userID int64) (*telegram.User, error)
}

// WrapTelegram adapts the concrete telegram client to ChatClient.
func WrapTelegram(c *telegram.Client) ChatClient {
	return telegramAdapter{c}
}

type telegramAdapter struct {
	*telegram.Client
}

func (a telegramAdapter) IterHistory(chat *telegram.Chat, anchor time.Time) MessageIterator {
	return a.Client.IterHistory(chat, anchor)
}

// MessageProber answers whether a message is already warehoused.
type MessageProber interface {
	MessageExists(ctx context.Context, msgID int64, chatID string) (bool, error)
}

// FetchResult is the outcome of fetching one chat window.
type FetchResult struct {
	Messages []warehouse.Record
	Users    map[int64]warehouse.Record

	// DedupHit is set when the walk stopped at an already-warehoused
	// message instead of the window boundary.
	DedupHit bool

	// Err is the platform or probe failure that degraded this fetch to an
	// empty result. The window still counts as processed; Err feeds the
	// run tally.
	Err error
}

// Fetcher pulls one chat's messages for a date window, walking history
// backward from the window end.
type Fetcher struct {
	tg  ChatClient
	wh  MessageProber
	log *logger.Logger
	now func() time.Time
}

// NewFetcher creates a fetcher.
func NewFetcher(tg ChatClient, wh MessageProber) *Fetcher {
	return &Fetcher{
		tg:  tg,
		wh:  wh,
		log: logger.Get(),
		now: time.Now,
	}
}

// FetchWindow collects the chat's messages inside [start, end] together with
// the profiles of their senders.
//
// The walk goes newest-first from the window end. Each message is probed
// against the warehouse; the first hit short-circuits the walk, because
// everything older was loaded by an earlier run. Messages older than the
// window start also end the walk. Any failure degrades the fetch to an empty
// result rather than aborting the run.
func (f *Fetcher) FetchWindow(ctx context.Context, chat *telegram.Chat, start, end time.Time) *FetchResult {
	res := &FetchResult{Users: make(map[int64]warehouse.Record)}
	// equal bounds are an empty window, not a single instant
	if !start.Before(end) {
		return res
	}

	chatID := strconv.FormatInt(chat.ID, 10)
	it := f.tg.IterHistory(chat, end)

	for {
		msg, err := it.Next(ctx)
		if err != nil {
			f.log.Error().Err(err).
				Str("chat", chat.Username).
				Time("start", start).
				Time("end", end).
				Msg("fetcher: history walk failed, degrading to empty window")
			return &FetchResult{Users: make(map[int64]warehouse.Record), Err: err}
		}
		if msg == nil {
			break
		}

		// the anchor is second-granular, so the first page can carry
		// messages just past the window end
		if msg.Date.After(end) {
			continue
		}
		if msg.Date.Before(start) {
			break
		}

		exists, err := f.wh.MessageExists(ctx, int64(msg.ID), chatID)
		if err != nil {
			f.log.Error().Err(err).
				Str("chat", chat.Username).
				Int("message_id", msg.ID).
				Msg("fetcher: dedup probe failed, degrading to empty window")
			return &FetchResult{Users: make(map[int64]warehouse.Record), Err: err}
		}
		if exists {
			f.log.Debug().
				Str("chat", chat.Username).
				Int("message_id", msg.ID).
				Msg("fetcher: hit warehoused message, stopping walk")
			res.DedupHit = true
			break
		}

		res.Messages = append(res.Messages, messageRecord(msg))
		if msg.FromUserID != nil {
			f.stageUser(ctx, res, *msg.FromUserID)
		}
	}

	f.log.Debug().
		Str("chat", chat.Username).
		Time("start", start).
		Time("end", end).
		Int("messages", len(res.Messages)).
		Int("users", len(res.Users)).
		Msg("fetcher: window complete")
	return res
}

// stageUser records the sender's profile once per fetch. A failed lookup
// stages a stub row carrying only the id.
func (f *Fetcher) stageUser(ctx context.Context, res *FetchResult, userID int64) {
	if _, ok := res.Users[userID]; ok {
		return
	}

	user, err := f.tg.GetUser(ctx, userID)
	if err != nil {
		f.log.Warn().Err(err).
			Int64("user_id", userID).
			Msg("fetcher: user lookup failed, staging stub profile")
		user = &telegram.User{ID: userID}
	}
	res.Users[userID] = userRecord(user, f.now().UTC())
}
