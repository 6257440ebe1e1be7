package storage

// Migration keeps the version of the custom migrations applied to the schema.
type Migration struct {
	ID        string `gorm:"primarykey"`
	CreatedAt int64
	UpdatedAt int64

	Version int `gorm:"not null;default:0"`
}
