package store

import (
	"database/sql"
	"testing"

	"github.com/dukerupert/crochetcal/internal/database"
	"github.com/dukerupert/crochetcal/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestClient(t *testing.T, cs *ClientStore, name string) *model.Client {
	t.Helper()
	c, err := cs.Create(model.Client{StudentName: name, LessonAddress: "12 Yarn Lane", HourlyRate: 35})
	if err != nil {
		t.Fatalf("create client %q: %v", name, err)
	}
	return c
}
