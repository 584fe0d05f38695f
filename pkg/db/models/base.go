package models

import "github.com/google/uuid"

// ensureID assigns a v4 id when the row has none; postgres defaults are not
// visible to gorm when the primary key is set by the application.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
