// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"testing"

	"github.com/CUknot/chatroom_backend/database"
	"github.com/CUknot/chatroom_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a migrated in-memory SQLite database that lives as long as t.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.Open("sqlite", ":memory:", &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

// CreateRoom inserts a room and fails the test on error.
func CreateRoom(t testing.TB, db *gorm.DB, room models.Room) models.Room {
	t.Helper()
	if err := db.Create(&room).Error; err != nil {
		t.Fatalf("failed to create room: %v", err)
	}
	return room
}
