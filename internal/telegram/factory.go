package telegram

import (
	"context"
	"fmt"

	"github.com/blockedby/tg-warehouse/internal/config"
	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"gorm.io/gorm"
)

// NewPersistentClient creates a telegram client that stores its session in
// the database. Session updates (auth key refreshes) are persisted back
// automatically, so subsequent runs reconnect without re-authentication.
//
// When the sessions table is empty and TG_SESSION_STRING is configured, the
// string session seeds the database on first connect.
func NewPersistentClient(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
	var sessionConstructor sessionMaker.SessionConstructor = sessionMaker.SqlSession(db.Dialector)

	var count int64
	if err := db.Table("sessions").Count(&count).Error; err == nil && count == 0 && cfg.TGSessionStr != "" {
		sessionConstructor = sessionMaker.StringSession(cfg.TGSessionStr)
	}

	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(""), // empty = use session
		&gotgproto.ClientOpts{
			Session:          sessionConstructor,
			DisableCopyright: true,
			InMemory:         false,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create telegram client: %w", err)
	}

	return client, nil
}
