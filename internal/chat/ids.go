package chat

import "github.com/suPer8Hu/hackgpt/internal/common"

// NewSessionID returns a ULID so sessions sort by creation time.
func NewSessionID() (string, error) {
	return common.NewULID()
}
