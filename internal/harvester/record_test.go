package harvester

import (
	"testing"
	"time"

	"github.com/blockedby/tg-warehouse/internal/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRecord(t *testing.T) {
	date := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	edit := date.Add(5 * time.Minute)
	sender := int64(777)

	t.Run("full message", func(t *testing.T) {
		rec := messageRecord(&telegram.Message{
			ID:         101,
			ChatID:     -1001234,
			Date:       date,
			FromUserID: &sender,
			Text:       "hello",
			IsReply:    true,
			ReplyTo:    "reply header",
			Views:      42,
			Reactions:  "👍:5",
			Media:      "photo",
			EditDate:   &edit,
		})

		assert.Equal(t, int64(101), rec["id"])
		assert.Equal(t, "-1001234", rec["chat_id"])
		assert.Equal(t, date, rec["date"])
		assert.Equal(t, "777", rec["from_user"])
		assert.Equal(t, "hello", rec["text"])
		assert.Equal(t, true, rec["is_reply"])
		assert.Equal(t, "reply header", rec["reply_to"])
		assert.Equal(t, 42, rec["views"])
		assert.Equal(t, "👍:5", rec["reactions"])
		assert.Equal(t, "photo", rec["media"])
		assert.Equal(t, edit, rec["edit_date"])
	})

	t.Run("bare message nulls optional fields", func(t *testing.T) {
		rec := messageRecord(&telegram.Message{ID: 5, ChatID: 9, Date: date})

		assert.Nil(t, rec["from_user"])
		assert.Nil(t, rec["reply_to"])
		assert.Nil(t, rec["fwd_from"])
		assert.Nil(t, rec["media"])
		assert.Nil(t, rec["edit_date"])
		assert.Nil(t, rec["action"])
		assert.Equal(t, 0, rec["views"])
		assert.Equal(t, int64(0), rec["via_bot"])
	})

	t.Run("column set is stable across shapes", func(t *testing.T) {
		full := messageRecord(&telegram.Message{ID: 1, ChatID: 1, Date: date, FromUserID: &sender, EditDate: &edit})
		bare := messageRecord(&telegram.Message{ID: 2, ChatID: 1, Date: date})

		require.Equal(t, len(full), len(bare))
		for col := range full {
			_, ok := bare[col]
			assert.True(t, ok, "column %s missing from bare record", col)
		}
	})
}

func TestUserRecord(t *testing.T) {
	loadedAt := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	t.Run("full profile", func(t *testing.T) {
		rec := userRecord(&telegram.User{
			ID:         777,
			FirstName:  "Ada",
			Username:   "ada",
			Bot:        false,
			Verified:   true,
			AccessHash: 987654,
			Bio:        "pioneer",
		}, loadedAt)

		assert.Equal(t, "777", rec["id"])
		assert.Equal(t, "Ada", rec["first_name"])
		assert.Equal(t, true, rec["verified"])
		assert.Equal(t, "987654", rec["access_hash"])
		assert.Equal(t, "pioneer", rec["bio"])
		assert.Equal(t, loadedAt, rec["loaded_at"])
	})

	t.Run("stub profile keeps the full column set", func(t *testing.T) {
		full := userRecord(&telegram.User{ID: 1, FirstName: "A"}, loadedAt)
		stub := userRecord(&telegram.User{ID: 2}, loadedAt)

		assert.Equal(t, "2", stub["id"])
		assert.Equal(t, "", stub["first_name"])
		require.Equal(t, len(full), len(stub))
	})
}

func TestChatRecord(t *testing.T) {
	loadedAt := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	rec := chatRecord(&telegram.Chat{
		ID:           -100500,
		Username:     "testchan",
		Title:        "Test Channel",
		About:        "a channel",
		MembersCount: 1234,
	}, loadedAt)

	assert.Equal(t, "-100500", rec["id"])
	assert.Equal(t, "Test Channel", rec["name"])
	assert.Equal(t, "testchan", rec["username"])
	assert.Equal(t, "a channel", rec["description"])
	assert.Equal(t, 1234, rec["members_count"])
	assert.Equal(t, loadedAt, rec["loaded_at"])
}
