package models

import "time"

// User is owned by the external identity service; the matching core only
// reads it and edits its booking records.
type User struct {
	ID          string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}
