package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/crochetcal/internal/model"
)

const clientColumns = `id, parent_name, student_name, hourly_rate, lesson_address, city,
	favorite_color, last_row_finished, current_project_name, created_at, updated_at`

type ClientStore struct {
	db *sql.DB
}

func NewClientStore(db *sql.DB) *ClientStore {
	return &ClientStore{db: db}
}

func (s *ClientStore) Create(c model.Client) (*model.Client, error) {
	result, err := s.db.Exec(
		`INSERT INTO clients (parent_name, student_name, hourly_rate, lesson_address, city,
			favorite_color, last_row_finished, current_project_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(c.ParentName), c.StudentName, c.HourlyRate, nullString(c.LessonAddress), nullString(c.City),
		nullString(c.FavoriteColor), nullString(c.LastRowFinished), nullString(c.CurrentProjectName),
	)
	if err != nil {
		return nil, fmt.Errorf("insert client: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(id)
}

func (s *ClientStore) GetByID(id int64) (*model.Client, error) {
	row := s.db.QueryRow(`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get client %d: %w", id, err)
	}
	return c, nil
}

// List returns all clients ordered by student name.
func (s *ClientStore) List() ([]model.Client, error) {
	rows, err := s.db.Query(`SELECT ` + clientColumns + ` FROM clients ORDER BY student_name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var clients []model.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, *c)
	}
	return clients, rows.Err()
}

// Update replaces every editable field. It returns nil, nil when the client
// does not exist.
func (s *ClientStore) Update(id int64, c model.Client) (*model.Client, error) {
	result, err := s.db.Exec(
		`UPDATE clients SET
			parent_name = ?, student_name = ?, hourly_rate = ?, lesson_address = ?, city = ?,
			favorite_color = ?, last_row_finished = ?, current_project_name = ?, updated_at = ?
		 WHERE id = ?`,
		nullString(c.ParentName), c.StudentName, c.HourlyRate, nullString(c.LessonAddress), nullString(c.City),
		nullString(c.FavoriteColor), nullString(c.LastRowFinished), nullString(c.CurrentProjectName),
		time.Now().UTC().Format(timestampLayout), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update client: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetByID(id)
}

// Delete removes a client and all of its lessons. It returns the IDs of the
// removed lessons so callers can cancel pending reminders, and found=false
// when no such client exists.
func (s *ClientStore) Delete(id int64) (lessonIDs []int64, found bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("begin delete client: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id FROM lessons WHERE client_id = ?`, id)
	if err != nil {
		return nil, false, fmt.Errorf("list client lessons: %w", err)
	}
	for rows.Next() {
		var lessonID int64
		if err := rows.Scan(&lessonID); err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("scan lesson id: %w", err)
		}
		lessonIDs = append(lessonIDs, lessonID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	// Not left to ON DELETE CASCADE alone; foreign_keys is a per-connection pragma.
	if _, err := tx.Exec(`DELETE FROM lessons WHERE client_id = ?`, id); err != nil {
		return nil, false, fmt.Errorf("delete client lessons: %w", err)
	}
	result, err := tx.Exec(`DELETE FROM clients WHERE id = ?`, id)
	if err != nil {
		return nil, false, fmt.Errorf("delete client: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, false, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit delete client: %w", err)
	}
	return lessonIDs, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*model.Client, error) {
	var c model.Client
	var parent, address, city, color, lastRow, project sql.NullString
	err := row.Scan(&c.ID, &parent, &c.StudentName, &c.HourlyRate, &address, &city,
		&color, &lastRow, &project, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ParentName = parent.String
	c.LessonAddress = address.String
	c.City = city.String
	c.FavoriteColor = color.String
	c.LastRowFinished = lastRow.String
	c.CurrentProjectName = project.String
	return &c, nil
}
