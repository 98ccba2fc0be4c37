package harvester

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blockedby/tg-warehouse/internal/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testChat = &telegram.Chat{ID: 500, Username: "testchan", Title: "Test Channel"}

func msgAt(id int, date time.Time, sender int64) telegram.Message {
	m := telegram.Message{ID: id, ChatID: testChat.ID, Date: date, Text: "msg"}
	if sender != 0 {
		m.FromUserID = &sender
	}
	return m
}

func TestFetchWindow(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	start := day
	end := day.Add(24*time.Hour - time.Microsecond)

	t.Run("collects window messages and stops at the start boundary", func(t *testing.T) {
		tg := newMockChatClient()
		tg.history[testChat.ID] = []telegram.Message{
			msgAt(103, day.Add(18*time.Hour), 777),
			msgAt(102, day.Add(12*time.Hour), 888),
			msgAt(101, day.Add(6*time.Hour), 777),
			msgAt(50, day.Add(-2*time.Hour), 999), // previous day, ends the walk
		}
		tg.users[777] = &telegram.User{ID: 777, FirstName: "Ada"}
		tg.users[888] = &telegram.User{ID: 888, FirstName: "Grace"}

		wh := newMockWarehouse()
		res := NewFetcher(tg, wh).FetchWindow(ctx, testChat, start, end)

		require.NoError(t, res.Err)
		require.Len(t, res.Messages, 3)
		assert.Equal(t, int64(103), res.Messages[0]["id"])
		assert.Equal(t, int64(101), res.Messages[2]["id"])
		assert.Len(t, res.Users, 2)
		// one profile lookup per distinct sender
		assert.Equal(t, []int64{777, 888}, tg.userCalls)
	})

	t.Run("skips messages past the window end", func(t *testing.T) {
		tg := newMockChatClient()
		tg.history[testChat.ID] = []telegram.Message{
			msgAt(105, day.Add(25*time.Hour), 0), // next day, anchor overshoot
			msgAt(103, day.Add(18*time.Hour), 0),
		}

		res := NewFetcher(tg, newMockWarehouse()).FetchWindow(ctx, testChat, start, end)

		require.NoError(t, res.Err)
		require.Len(t, res.Messages, 1)
		assert.Equal(t, int64(103), res.Messages[0]["id"])
	})

	t.Run("warehoused message short-circuits the walk", func(t *testing.T) {
		tg := newMockChatClient()
		tg.history[testChat.ID] = []telegram.Message{
			msgAt(104, day.Add(20*time.Hour), 0),
			msgAt(103, day.Add(18*time.Hour), 777),
			msgAt(102, day.Add(12*time.Hour), 888),
		}

		wh := newMockWarehouse()
		wh.existingMsgs[msgKey("500", 103)] = struct{}{}

		res := NewFetcher(tg, wh).FetchWindow(ctx, testChat, start, end)

		require.NoError(t, res.Err)
		assert.True(t, res.DedupHit)
		// only the message newer than the warehoused one is returned
		require.Len(t, res.Messages, 1)
		assert.Equal(t, int64(104), res.Messages[0]["id"])
		assert.Empty(t, tg.userCalls)
	})

	t.Run("history failure degrades to empty result", func(t *testing.T) {
		tg := newMockChatClient()
		tg.history[testChat.ID] = []telegram.Message{
			msgAt(103, day.Add(18*time.Hour), 777),
			msgAt(102, day.Add(12*time.Hour), 888),
		}
		tg.iterErr = errors.New("FLOOD_WAIT_30")
		tg.iterErrAt = 1

		res := NewFetcher(tg, newMockWarehouse()).FetchWindow(ctx, testChat, start, end)

		assert.Error(t, res.Err)
		assert.Empty(t, res.Messages)
		assert.Empty(t, res.Users)
	})

	t.Run("probe failure degrades to empty result", func(t *testing.T) {
		tg := newMockChatClient()
		tg.history[testChat.ID] = []telegram.Message{msgAt(103, day.Add(18*time.Hour), 0)}

		wh := newMockWarehouse()
		wh.probeErr = errors.New("connection refused")

		res := NewFetcher(tg, wh).FetchWindow(ctx, testChat, start, end)

		assert.Error(t, res.Err)
		assert.Empty(t, res.Messages)
	})

	t.Run("failed user lookup stages a stub profile", func(t *testing.T) {
		tg := newMockChatClient()
		tg.history[testChat.ID] = []telegram.Message{msgAt(103, day.Add(18*time.Hour), 777)}
		tg.userErr[777] = errors.New("USER_ID_INVALID")

		res := NewFetcher(tg, newMockWarehouse()).FetchWindow(ctx, testChat, start, end)

		require.NoError(t, res.Err)
		require.Len(t, res.Messages, 1)
		require.Contains(t, res.Users, int64(777))
		assert.Equal(t, "777", res.Users[777]["id"])
		assert.Equal(t, "", res.Users[777]["first_name"])
	})

	t.Run("inverted window returns nothing without fetching", func(t *testing.T) {
		tg := newMockChatClient()
		tg.history[testChat.ID] = []telegram.Message{msgAt(103, day.Add(18*time.Hour), 0)}

		res := NewFetcher(tg, newMockWarehouse()).FetchWindow(ctx, testChat, end, start)

		require.NoError(t, res.Err)
		assert.Empty(t, res.Messages)
		assert.Zero(t, tg.iterCalls)
	})

	t.Run("equal bounds are an empty window", func(t *testing.T) {
		ts := day.Add(18 * time.Hour)
		tg := newMockChatClient()
		// a message stamped exactly at the shared bound must not leak through
		tg.history[testChat.ID] = []telegram.Message{msgAt(103, ts, 777)}

		res := NewFetcher(tg, newMockWarehouse()).FetchWindow(ctx, testChat, ts, ts)

		require.NoError(t, res.Err)
		assert.Empty(t, res.Messages)
		assert.Empty(t, res.Users)
		assert.Zero(t, tg.iterCalls)
	})
}
