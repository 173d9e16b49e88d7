package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/crochetcal/internal/model"
)

const lessonSelect = `SELECT l.id, l.client_id, l.date, l.time, l.created_at,
	c.id, c.parent_name, c.student_name, c.hourly_rate, c.lesson_address, c.city,
	c.favorite_color, c.last_row_finished, c.current_project_name, c.created_at, c.updated_at
	FROM lessons l
	JOIN clients c ON c.id = l.client_id`

type LessonStore struct {
	db *sql.DB
}

func NewLessonStore(db *sql.DB) *LessonStore {
	return &LessonStore{db: db}
}

func (s *LessonStore) Create(clientID int64, date, timeOfDay string) (*model.Lesson, error) {
	result, err := s.db.Exec(
		`INSERT INTO lessons (client_id, date, time) VALUES (?, ?, ?)`,
		clientID, date, timeOfDay,
	)
	if err != nil {
		return nil, fmt.Errorf("insert lesson: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(id)
}

// GetByID returns the lesson with its client embedded.
func (s *LessonStore) GetByID(id int64) (*model.Lesson, error) {
	l, err := scanLesson(s.db.QueryRow(lessonSelect+` WHERE l.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lesson %d: %w", id, err)
	}
	return l, nil
}

func (s *LessonStore) List() ([]model.Lesson, error) {
	return s.query(lessonSelect + ` ORDER BY l.date, l.time, l.id`)
}

// ListByDateRange returns lessons whose date falls in [start, end], both
// inclusive and formatted as YYYY-MM-DD.
func (s *LessonStore) ListByDateRange(start, end string) ([]model.Lesson, error) {
	return s.query(lessonSelect+` WHERE l.date >= ? AND l.date <= ? ORDER BY l.date, l.time, l.id`, start, end)
}

// ListDueForReminder returns the lessons the reminder scheduler should
// evaluate for the given window.
func (s *LessonStore) ListDueForReminder(windowStart, windowEnd string) ([]model.Lesson, error) {
	return s.ListByDateRange(windowStart, windowEnd)
}

// Update moves a lesson. It returns nil, nil when the lesson does not exist.
func (s *LessonStore) Update(id, clientID int64, date, timeOfDay string) (*model.Lesson, error) {
	result, err := s.db.Exec(
		`UPDATE lessons SET client_id = ?, date = ?, time = ? WHERE id = ?`,
		clientID, date, timeOfDay, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update lesson: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetByID(id)
}

// Delete reports whether a lesson was removed.
func (s *LessonStore) Delete(id int64) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM lessons WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete lesson: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *LessonStore) query(query string, args ...any) ([]model.Lesson, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lessons: %w", err)
	}
	defer rows.Close()

	var lessons []model.Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		lessons = append(lessons, *l)
	}
	return lessons, rows.Err()
}

func scanLesson(row rowScanner) (*model.Lesson, error) {
	var l model.Lesson
	var c model.Client
	var parent, address, city, color, lastRow, project sql.NullString
	err := row.Scan(&l.ID, &l.ClientID, &l.Date, &l.Time, &l.CreatedAt,
		&c.ID, &parent, &c.StudentName, &c.HourlyRate, &address, &city,
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
	l.Client = &c
	return &l, nil
}
