package model

import "time"

type Client struct {
	ID                 int64     `json:"id"`
	ParentName         string    `json:"parent_name"`
	StudentName        string    `json:"student_name"`
	HourlyRate         float64   `json:"hourly_rate"`
	LessonAddress      string    `json:"lesson_address"`
	City               string    `json:"city"`
	FavoriteColor      string    `json:"favorite_color"`
	LastRowFinished    string    `json:"last_row_finished"`
	CurrentProjectName string    `json:"current_project_name"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
