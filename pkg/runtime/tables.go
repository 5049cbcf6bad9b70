package runtime

import "time"

// EngineVersion records each engine release that has started against the
// database.
type EngineVersion struct {
	Id        uint64 `gorm:"type:serial"`
	Version   string
	CreatedAt *time.Time
}

func (EngineVersion) TableName() string { return "engine_versions" }
