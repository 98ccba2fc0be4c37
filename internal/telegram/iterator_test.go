package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blockedby/tg-warehouse/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePage struct {
	msgs []Message
	raw  int
	err  error
}

type pageCall struct {
	offsetID   int
	offsetDate time.Time
}

// fakePager replays scripted pages and records how it was called.
type fakePager struct {
	pages []fakePage
	calls []pageCall
}

func (f *fakePager) GetHistoryPage(_ context.Context, _ *Chat, offsetID int, offsetDate time.Time, _ int) ([]Message, int, error) {
	f.calls = append(f.calls, pageCall{offsetID: offsetID, offsetDate: offsetDate})
	if len(f.pages) == 0 {
		return nil, 0, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page.msgs, page.raw, page.err
}

func newTestIterator(pager historyPager, anchor time.Time) *HistoryIterator {
	return &HistoryIterator{
		pager:  pager,
		chat:   testChat(),
		log:    logger.Get(),
		anchor: anchor,
	}
}

func pageOf(ids ...int) []Message {
	msgs := make([]Message, len(ids))
	for i, id := range ids {
		msgs[i] = Message{ID: id, ChatID: 100200300}
	}
	return msgs
}

func drain(t *testing.T, it *HistoryIterator) []int {
	t.Helper()
	var ids []int
	for {
		m, err := it.Next(context.Background())
		require.NoError(t, err)
		if m == nil {
			return ids
		}
		ids = append(ids, m.ID)
	}
}

func TestHistoryIterator_PaginatesByLastSeenID(t *testing.T) {
	anchor := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	pager := &fakePager{pages: []fakePage{
		{msgs: pageOf(300, 299, 298), raw: historyPageSize},
		{msgs: pageOf(200, 199), raw: 2},
	}}

	it := newTestIterator(pager, anchor)
	ids := drain(t, it)

	assert.Equal(t, []int{300, 299, 298, 200, 199}, ids)

	require.Len(t, pager.calls, 2)
	// anchor date drives the first page only
	assert.True(t, pager.calls[0].offsetDate.Equal(anchor))
	assert.Zero(t, pager.calls[0].offsetID)
	assert.True(t, pager.calls[1].offsetDate.IsZero())
	assert.Equal(t, 298, pager.calls[1].offsetID)
}

func TestHistoryIterator_ShortPageEndsWalk(t *testing.T) {
	pager := &fakePager{pages: []fakePage{
		{msgs: pageOf(10, 9), raw: 2},
	}}

	it := newTestIterator(pager, time.Now())
	ids := drain(t, it)

	assert.Equal(t, []int{10, 9}, ids)
	assert.Len(t, pager.calls, 1)

	// exhausted iterator stays exhausted
	m, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestHistoryIterator_ErrorPropagates(t *testing.T) {
	pager := &fakePager{pages: []fakePage{
		{err: errors.New("FLOOD_WAIT_30")},
	}}

	it := newTestIterator(pager, time.Now())
	_, err := it.Next(context.Background())
	assert.Error(t, err)
}

func TestHistoryIterator_FullPageWithoutParseableMessagesEndsWalk(t *testing.T) {
	// a full page of service stubs parses to nothing; without an id to
	// advance from the walk must stop rather than refetch the same page
	pager := &fakePager{pages: []fakePage{
		{msgs: nil, raw: historyPageSize},
	}}

	it := newTestIterator(pager, time.Now())
	ids := drain(t, it)

	assert.Empty(t, ids)
	assert.Len(t, pager.calls, 1)
}
