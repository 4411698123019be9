package database

import (
	"context"
	"fmt"

	"github.com/CUknot/chatroom_backend/models"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// botUserID is the author id of seeded system messages.
const botUserID = 1

type seedRoom struct {
	room    models.Room
	botName string
	welcome string
}

var defaultRooms = []seedRoom{
	{
		room:    models.Room{ID: 1, Name: "💬 General", Description: "General chat for every topic"},
		botName: "🤖 ChatBot",
		welcome: "Welcome to General! Start a conversation with other people.",
	},
	{
		room:    models.Room{ID: 2, Name: "🎮 Gaming", Description: "Talk about games and gaming"},
		botName: "🤖 GameBot",
		welcome: "Discuss your favourite games here! 🎮",
	},
	{
		room:    models.Room{ID: 3, Name: "💻 Technology", Description: "Technology and programming"},
		botName: "🤖 TechBot",
		welcome: "Share knowledge and talk about the latest tech! 💻",
	},
	{
		room:    models.Room{ID: 4, Name: "🎲 Random", Description: "Random, relaxed chat"},
		botName: "🤖 RandomBot",
		welcome: "A room to chat about anything! 🎲",
	},
	{
		room:    models.Room{ID: 5, Name: "🇮🇩 Indonesian", Description: "Chat in Bahasa Indonesia"},
		botName: "🤖 IndoBot",
		welcome: "Mari berbincang dalam bahasa Indonesia! 🇮🇩",
	},
}

// Seed creates the default public rooms and gives each one a welcome
// message. Running it again leaves existing rooms and messages untouched.
func Seed(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, sr := range defaultRooms {
			room := sr.room
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&room).Error; err != nil {
				return fmt.Errorf("seed room %d: %w", sr.room.ID, err)
			}

			var count int64
			if err := tx.Model(&models.Message{}).Where("room_id = ?", sr.room.ID).Count(&count).Error; err != nil {
				return fmt.Errorf("count messages in room %d: %w", sr.room.ID, err)
			}
			if count > 0 {
				continue
			}

			welcome := models.Message{
				RoomID:   sr.room.ID,
				UserID:   botUserID,
				Username: sr.botName,
				Content:  sr.welcome,
				Type:     models.MessageTypeSystem,
			}
			if err := tx.Create(&welcome).Error; err != nil {
				return fmt.Errorf("seed welcome message in room %d: %w", sr.room.ID, err)
			}
			log.Info().Uint("room_id", sr.room.ID).Str("name", sr.room.Name).Msg("room ready")
		}

		// Explicit ids leave the postgres sequence behind.
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT setval(pg_get_serial_sequence('rooms', 'id'), (SELECT MAX(id) FROM rooms))").Error; err != nil {
				return fmt.Errorf("reset rooms sequence: %w", err)
			}
		}
		return nil
	})
}
