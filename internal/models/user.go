package models

import "time"

// User — запомненное имя, под которым человек отправляет обращения.
// Пароля и ролей нет.
type User struct {
	Name string `json:"name"`
}

// Session описывает выданный токен сессии.
type Session struct {
	Token     string    `json:"token"`
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionInfo — ответ GET /api/session.
type SessionInfo struct {
	User        *User `json:"user"`
	ReportCount int   `json:"reportCount"`
}
