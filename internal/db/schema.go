package db

import (
	"github.com/suPer8Hu/hackgpt/internal/chat"
	"github.com/suPer8Hu/hackgpt/internal/models"
)

// Schema lists the tables shared by the api and the worker.
func Schema() []any {
	return []any{&models.User{}, &chat.Session{}, &chat.Message{}}
}
