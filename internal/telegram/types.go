package telegram

import (
	"time"
)

// Message is a flattened telegram message.
// Complex nested platform objects (reply headers, forward headers, media,
// reactions, service actions) are collapsed to opaque strings because the
// warehouse schema is flat. Counters default to 0 when telegram omits them.
type Message struct {
	ID         int        // message id (unique within chat)
	ChatID     int64      // chat id
	Date       time.Time  // send timestamp, UTC
	FromUserID *int64     // sender user id (nil for anonymous/channel posts)
	Text       string     // message text content
	IsReply    bool       // whether the message replies to another
	ReplyTo    string     // opaque reply header, "" if none
	Views      int        // view count
	Forwards   int        // forward count
	Replies    int        // reply thread size
	Reactions  string     // "emoji:count" pairs joined with ", "
	FwdFrom    string     // opaque forward header, "" if none
	Media      string     // opaque media descriptor, "" if none
	Mentioned  bool       // whether the account was mentioned
	PostAuthor string     // channel post author signature
	EditDate   *time.Time // last edit timestamp (nil if never edited)
	ViaBotID   int64      // inline bot id, 0 if none
	GroupedID  int64      // album group id, 0 if none
	Action     string     // opaque service action, "" for regular messages
}

// Chat represents resolved chat metadata.
type Chat struct {
	ID           int64  // chat id
	AccessHash   int64  // access hash for api calls
	Username     string // handle (without @)
	Title        string // chat title
	About        string // chat description
	MembersCount int    // participant count, 0 when hidden
}

// User represents a telegram user profile.
type User struct {
	ID         int64
	FirstName  string
	LastName   string
	Username   string
	Phone      string
	Bot        bool
	Verified   bool
	Restricted bool
	Scam       bool
	Fake       bool
	AccessHash int64
	Bio        string
}
