package telegram

import (
	"context"
	"time"

	"github.com/blockedby/tg-warehouse/internal/logger"
)

// historyPageSize is the MessagesGetHistory page size (api maximum).
const historyPageSize = 100

// historyPager fetches one page of chat history.
type historyPager interface {
	GetHistoryPage(ctx context.Context, chat *Chat, offsetID int, offsetDate time.Time, limit int) ([]Message, int, error)
}

// HistoryIterator walks a chat's message history strictly backward in time
// (newest first), starting from an anchor date. Each call to IterHistory
// returns a fresh iterator; iteration state is not shared.
type HistoryIterator struct {
	pager historyPager
	chat  *Chat
	log   *logger.Logger

	anchor   time.Time
	offsetID int
	buf      []Message
	pos      int
	done     bool
}

// IterHistory starts a backward walk over chat history anchored at the
// given date. Messages newer than the anchor are not returned.
func (c *Client) IterHistory(chat *Chat, anchor time.Time) *HistoryIterator {
	return &HistoryIterator{
		pager:  c,
		chat:   chat,
		log:    c.log,
		anchor: anchor,
	}
}

// Next returns the next (older) message, or nil, nil when the history is
// exhausted.
func (it *HistoryIterator) Next(ctx context.Context) (*Message, error) {
	for it.pos >= len(it.buf) {
		if it.done {
			return nil, nil
		}
		if err := it.fill(ctx); err != nil {
			return nil, err
		}
	}

	m := it.buf[it.pos]
	it.pos++
	return &m, nil
}

// fill fetches the next page. The anchor date drives the first page only;
// afterwards the last seen message id paginates.
func (it *HistoryIterator) fill(ctx context.Context) error {
	offsetDate := time.Time{}
	if it.offsetID == 0 {
		offsetDate = it.anchor
	}

	messages, rawCount, err := it.pager.GetHistoryPage(ctx, it.chat, it.offsetID, offsetDate, historyPageSize)
	if err != nil {
		return err
	}

	// rawCount counts unparsed entries, so filtered-out stubs don't end
	// the walk early
	if rawCount < historyPageSize {
		it.done = true
	}

	it.buf = messages
	it.pos = 0
	if len(messages) > 0 {
		it.offsetID = messages[len(messages)-1].ID
		return nil
	}

	// a page with no parseable messages leaves no offset to advance from;
	// on a full page that means history remains beyond this point
	if !it.done {
		it.log.Warn().
			Int64("chat_id", it.chat.ID).
			Int("offset_id", it.offsetID).
			Msg("telegram: full page had no parseable messages, ending walk with history remaining")
	}
	it.done = true
	return nil
}
