package nicknames

import (
	"strings"
	"time"
)

const maxNickLength = 64

// Nickname maps an identity address to a display name.
type Nickname struct {
	Address   string    `gorm:"column:address;primaryKey;size:190;not null"`
	Nick      string    `gorm:"column:nick;size:64;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing nicknames.
func (Nickname) TableName() string {
	return "user_nicknames"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
