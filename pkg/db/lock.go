package db

import "gorm.io/gorm"

// ForUpdate returns the row-lock suffix for raw SELECTs. SQLite has no row
// locks and rejects the clause; its writers are serialized by the file lock.
func ForUpdate(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	if conn.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}
