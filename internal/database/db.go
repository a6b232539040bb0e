package database

import (
	"log"

	"dlgate/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var DB *gorm.DB

// Open opens the sqlite database at path and runs migrations. Tests use it
// directly with an in-memory DSN; the server goes through InitDB.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&models.Site{},
		&models.DownloadToken{},
		&models.VerificationAttempt{},
		&models.SystemLog{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func InitDB(dbPath string) error {
	log.Println("Migrating database...")
	var err error
	DB, err = Open(dbPath)
	return err
}
