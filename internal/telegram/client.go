// Package telegram provides the Telegram MTProto client wrapper.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blockedby/tg-warehouse/internal/logger"
	"github.com/celestix/gotgproto"
	"github.com/gotd/td/tg"
)

// Client wraps the gotgproto client and provides high-level telegram
// operations. It uses the Manager to access the underlying protocol client.
type Client struct {
	manager     *Manager
	rateLimiter *RateLimiter
	log         *logger.Logger

	// access hashes learned from api responses, needed for user lookups
	userHashes map[int64]int64
	hashMu     sync.Mutex
}

// NewClient creates a new telegram client wrapper using the Manager.
func NewClient(manager *Manager) *Client {
	return &Client{
		manager:     manager,
		rateLimiter: DefaultRateLimiter(),
		log:         logger.Get(),
		userHashes:  make(map[int64]int64),
	}
}

// Close stops the client via the manager.
func (c *Client) Close() {
	if c.manager != nil {
		c.manager.Stop()
	}
}

// GetStatus returns the current status of the telegram client.
func (c *Client) GetStatus() Status {
	return c.manager.GetStatus()
}

// getProto returns the current protocol client if available.
func (c *Client) getProto() (*gotgproto.Client, error) {
	proto := c.manager.GetClient()
	if proto == nil {
		return nil, fmt.Errorf("telegram client not authorized")
	}
	return proto, nil
}

// API returns the raw tg.Client for direct API calls.
func (c *Client) API() (*tg.Client, error) {
	proto, err := c.getProto()
	if err != nil {
		return nil, err
	}
	return proto.API(), nil
}

// ResolveChat resolves a chat handle to chat metadata.
// handle can be with or without @ prefix.
func (c *Client) ResolveChat(ctx context.Context, handle string) (*Chat, error) {
	handle = strings.TrimPrefix(handle, "@")

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	c.log.Info().Str("handle", handle).Msg("telegram: resolving chat handle")
	api, err := c.API()
	if err != nil {
		return nil, err
	}
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: handle,
	})
	if err != nil {
		if wait := c.checkFloodWait(err); wait > 0 {
			c.log.Warn().Int("wait_seconds", wait).Msg("telegram: FLOOD_WAIT detected, updating rate limiter")
			c.rateLimiter.SetFloodWait(wait)
		}
		return nil, fmt.Errorf("resolve handle %s: %w", handle, err)
	}
	c.rememberUsers(resolved.Users)

	if len(resolved.Chats) == 0 {
		return nil, fmt.Errorf("chat not found: %s", handle)
	}

	ch, ok := resolved.Chats[0].(*tg.Channel)
	if !ok {
		return nil, fmt.Errorf("not a channel or supergroup: %s", handle)
	}

	fullCh, err := api.ChannelsGetFullChannel(ctx, &tg.InputChannel{
		ChannelID:  ch.ID,
		AccessHash: ch.AccessHash,
	})
	if err != nil {
		return nil, fmt.Errorf("get full channel: %w", err)
	}

	chFull, ok := fullCh.FullChat.(*tg.ChannelFull)
	if !ok {
		return nil, fmt.Errorf("unexpected channel type")
	}
	c.rememberUsers(fullCh.Users)

	chat := &Chat{
		ID:         ch.ID,
		AccessHash: ch.AccessHash,
		Username:   handle,
		Title:      ch.Title,
		About:      chFull.About,
	}
	if count, ok := chFull.GetParticipantsCount(); ok {
		chat.MembersCount = count
	}
	return chat, nil
}

// GetHistoryPage fetches one page of chat history, newest first.
// offsetDate anchors the first page (messages at or before that moment);
// offsetID paginates subsequent pages. rawCount is the unparsed message
// count of the page, used by the iterator to detect exhaustion.
func (c *Client) GetHistoryPage(ctx context.Context, chat *Chat, offsetID int, offsetDate time.Time, limit int) (messages []Message, rawCount int, err error) {
	if limit > 100 {
		limit = 100 // telegram api limit
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	// MessagesGetHistory treats offset_date as exclusive; +1s keeps
	// messages stamped exactly at the anchor inside the page.
	var offsetDateUnix int
	if !offsetDate.IsZero() {
		offsetDateUnix = int(offsetDate.Unix()) + 1
	}

	c.log.Debug().
		Int64("chat_id", chat.ID).
		Int("offset_id", offsetID).
		Time("offset_date", offsetDate).
		Msg("telegram: calling MessagesGetHistory")
	api, err := c.API()
	if err != nil {
		return nil, 0, err
	}
	history, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer: &tg.InputPeerChannel{
			ChannelID:  chat.ID,
			AccessHash: chat.AccessHash,
		},
		OffsetID:   offsetID,
		OffsetDate: offsetDateUnix,
		Limit:      limit,
	})
	if err != nil {
		if wait := c.checkFloodWait(err); wait > 0 {
			c.log.Warn().Int("wait_seconds", wait).Msg("telegram: FLOOD_WAIT detected in GetHistoryPage, updating rate limiter")
			c.rateLimiter.SetFloodWait(wait)
		}
		return nil, 0, fmt.Errorf("get history: %w", err)
	}

	return c.extractMessages(history, chat)
}

// GetUser fetches a user profile by id.
// The access hash comes from previously fetched history pages; users never
// seen in a response cannot be looked up.
func (c *Client) GetUser(ctx context.Context, userID int64) (*User, error) {
	c.hashMu.Lock()
	hash, ok := c.userHashes[userID]
	c.hashMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no access hash for user %d", userID)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	api, err := c.API()
	if err != nil {
		return nil, err
	}
	full, err := api.UsersGetFullUser(ctx, &tg.InputUser{
		UserID:     userID,
		AccessHash: hash,
	})
	if err != nil {
		if wait := c.checkFloodWait(err); wait > 0 {
			c.rateLimiter.SetFloodWait(wait)
		}
		return nil, fmt.Errorf("get full user %d: %w", userID, err)
	}

	var raw *tg.User
	for _, u := range full.Users {
		if user, ok := u.(*tg.User); ok && user.ID == userID {
			raw = user
			break
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("user %d missing from response", userID)
	}

	bio, _ := full.FullUser.GetAbout()
	return parseUser(raw, bio), nil
}

// rememberUsers caches access hashes from an api response.
func (c *Client) rememberUsers(users []tg.UserClass) {
	c.hashMu.Lock()
	defer c.hashMu.Unlock()
	for _, u := range users {
		user, ok := u.(*tg.User)
		if !ok {
			continue
		}
		if hash, ok := user.GetAccessHash(); ok {
			c.userHashes[user.ID] = hash
		}
	}
}

// extractMessages converts a telegram history response to our Message type.
func (c *Client) extractMessages(messagesClass tg.MessagesMessagesClass, chat *Chat) ([]Message, int, error) {
	var raw []tg.MessageClass

	switch h := messagesClass.(type) {
	case *tg.MessagesChannelMessages:
		raw = h.Messages
		c.rememberUsers(h.Users)
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
		c.rememberUsers(h.Users)
	case *tg.MessagesMessages:
		raw = h.Messages
		c.rememberUsers(h.Users)
	}

	var messages []Message
	for _, msg := range raw {
		if m := parseMessage(msg, chat); m != nil {
			messages = append(messages, *m)
		}
	}

	return messages, len(raw), nil
}

// parseMessage flattens a single telegram message.
// Regular and service messages are both kept; empty stubs are dropped.
func parseMessage(msg tg.MessageClass, chat *Chat) *Message {
	switch m := msg.(type) {
	case *tg.Message:
		out := &Message{
			ID:        m.ID,
			ChatID:    chat.ID,
			Date:      time.Unix(int64(m.Date), 0).UTC(),
			Text:      m.Message,
			Mentioned: m.Mentioned,
		}
		if peer, ok := m.GetFromID(); ok {
			if user, ok := peer.(*tg.PeerUser); ok {
				id := user.UserID
				out.FromUserID = &id
			}
		}
		if replyTo, ok := m.GetReplyTo(); ok {
			out.IsReply = true
			out.ReplyTo = replyTo.String()
		}
		if v, ok := m.GetViews(); ok {
			out.Views = v
		}
		if v, ok := m.GetForwards(); ok {
			out.Forwards = v
		}
		if r, ok := m.GetReplies(); ok {
			out.Replies = r.Replies
		}
		if r, ok := m.GetReactions(); ok {
			out.Reactions = formatReactions(r)
		}
		if f, ok := m.GetFwdFrom(); ok {
			out.FwdFrom = f.String()
		}
		if media, ok := m.GetMedia(); ok {
			out.Media = media.String()
		}
		if a, ok := m.GetPostAuthor(); ok {
			out.PostAuthor = a
		}
		if e, ok := m.GetEditDate(); ok {
			edited := time.Unix(int64(e), 0).UTC()
			out.EditDate = &edited
		}
		if v, ok := m.GetViaBotID(); ok {
			out.ViaBotID = v
		}
		if g, ok := m.GetGroupedID(); ok {
			out.GroupedID = g
		}
		return out

	case *tg.MessageService:
		out := &Message{
			ID:        m.ID,
			ChatID:    chat.ID,
			Date:      time.Unix(int64(m.Date), 0).UTC(),
			Mentioned: m.Mentioned,
			Action:    m.Action.String(),
		}
		if peer, ok := m.GetFromID(); ok {
			if user, ok := peer.(*tg.PeerUser); ok {
				id := user.UserID
				out.FromUserID = &id
			}
		}
		return out

	default:
		return nil
	}
}

// formatReactions renders message reactions as "emoji:count" pairs.
// Custom emoji reactions have no emoticon, only a document id.
func formatReactions(r tg.MessageReactions) string {
	var parts []string
	for _, rc := range r.Results {
		switch reaction := rc.Reaction.(type) {
		case *tg.ReactionEmoji:
			parts = append(parts, fmt.Sprintf("%s:%d", reaction.Emoticon, rc.Count))
		case *tg.ReactionCustomEmoji:
			parts = append(parts, fmt.Sprintf("CustomEmoji:%d:%d", reaction.DocumentID, rc.Count))
		default:
			parts = append(parts, fmt.Sprintf("UnknownEmoji:%d", rc.Count))
		}
	}
	return strings.Join(parts, ", ")
}

// parseUser flattens a telegram user profile.
func parseUser(u *tg.User, bio string) *User {
	out := &User{
		ID:         u.ID,
		Bot:        u.Bot,
		Verified:   u.Verified,
		Restricted: u.Restricted,
		Scam:       u.Scam,
		Fake:       u.Fake,
		Bio:        bio,
	}
	if v, ok := u.GetAccessHash(); ok {
		out.AccessHash = v
	}
	if v, ok := u.GetFirstName(); ok {
		out.FirstName = v
	}
	if v, ok := u.GetLastName(); ok {
		out.LastName = v
	}
	if v, ok := u.GetUsername(); ok {
		out.Username = v
	}
	if v, ok := u.GetPhone(); ok {
		out.Phone = v
	}
	return out
}

// checkFloodWait checks if error is a FLOOD_WAIT error and returns wait seconds.
func (c *Client) checkFloodWait(err error) int {
	if err == nil {
		return 0
	}

	// check the error string rather than coupling to gotd's FloodWait type,
	// since gotgproto wraps errors in several layers
	str := err.Error()
	if strings.Contains(str, "FLOOD_WAIT_") {
		var seconds int
		parts := strings.Split(str, "FLOOD_WAIT_")
		if len(parts) > 1 {
			numStr := strings.TrimSpace(parts[1])
			_, _ = fmt.Sscanf(numStr, "%d", &seconds)
			return seconds
		}
	}
	return 0
}
