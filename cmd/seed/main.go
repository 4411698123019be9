// Command seed inserts the default public rooms and their welcome messages.
package main

import (
	"context"

	"github.com/CUknot/chatroom_backend/config"
	"github.com/CUknot/chatroom_backend/database"
	"github.com/CUknot/chatroom_backend/logger"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Init(cfg.Env, cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}
	if err := database.Seed(context.Background(), db); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed database")
	}
	log.Info().Msg("Seed complete")
}
