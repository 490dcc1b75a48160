package database

import (
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"boolpress/models"
)

func RunMigrations(db *gorm.DB) error {
	log.Info().Msg("Running database migrations...")

	if err := db.SetupJoinTable(&models.Post{}, "Tags", &models.PostTag{}); err != nil {
		log.Error().Err(err).Msg("Error setting up post_tag join table")
		return err
	}

	err := db.AutoMigrate(
		&models.User{},
		&models.UserDetail{},
		&models.Category{},
		&models.Tag{},
		&models.Post{},
		&models.PostTag{},
	)

	if err != nil {
		log.Error().Err(err).Msg("Error running migrations")
		return err
	}

	log.Info().Msg("Migrations completed successfully")
	return nil
}
