package harvester

import (
	"strconv"
	"time"

	"github.com/blockedby/tg-warehouse/internal/telegram"
	"github.com/blockedby/tg-warehouse/internal/warehouse"
)

// messageRecord flattens a message into a chat_history row.
// Identifiers are stored as strings, absent optional fields become NULL and
// counters stay 0.
func messageRecord(m *telegram.Message) warehouse.Record {
	rec := warehouse.Record{
		"id":          int64(m.ID),
		"chat_id":     strconv.FormatInt(m.ChatID, 10),
		"date":        m.Date,
		"from_user":   nil,
		"text":        m.Text,
		"is_reply":    m.IsReply,
		"reply_to":    nullableString(m.ReplyTo),
		"views":       m.Views,
		"forwards":    m.Forwards,
		"replies":     m.Replies,
		"reactions":   m.Reactions,
		"fwd_from":    nullableString(m.FwdFrom),
		"media":       nullableString(m.Media),
		"mentioned":   m.Mentioned,
		"post_author": m.PostAuthor,
		"edit_date":   nil,
		"via_bot":     m.ViaBotID,
		"grouped_id":  m.GroupedID,
		"action":      nullableString(m.Action),
	}
	if m.FromUserID != nil {
		rec["from_user"] = strconv.FormatInt(*m.FromUserID, 10)
	}
	if m.EditDate != nil {
		rec["edit_date"] = *m.EditDate
	}
	return rec
}

// userRecord flattens a user profile into a user_info row.
// A stub user (only the id set) still produces a valid row, so a failed
// profile lookup never blocks the message load.
func userRecord(u *telegram.User, loadedAt time.Time) warehouse.Record {
	return warehouse.Record{
		"id":          strconv.FormatInt(u.ID, 10),
		"first_name":  u.FirstName,
		"last_name":   u.LastName,
		"username":    u.Username,
		"phone":       u.Phone,
		"bot":         u.Bot,
		"verified":    u.Verified,
		"restricted":  u.Restricted,
		"scam":        u.Scam,
		"fake":        u.Fake,
		"access_hash": strconv.FormatInt(u.AccessHash, 10),
		"bio":         u.Bio,
		"loaded_at":   loadedAt,
	}
}

// chatRecord flattens resolved chat metadata into a chat_info row.
func chatRecord(c *telegram.Chat, loadedAt time.Time) warehouse.Record {
	return warehouse.Record{
		"id":            strconv.FormatInt(c.ID, 10),
		"name":          c.Title,
		"username":      c.Username,
		"description":   c.About,
		"members_count": c.MembersCount,
		"loaded_at":     loadedAt,
	}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
