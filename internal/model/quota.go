package model

import "time"

// DailyQuota is the per-user, per-UTC-day usage counter for the free tier.
// One row per (user, day); incremented, never decremented, by the pipeline.
type DailyQuota struct {
	UserID    string    `json:"userId" gorm:"primaryKey;size:36"`
	Day       string    `json:"day" gorm:"primaryKey;size:10"`
	UsedCount int       `json:"usedCount"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// QuotaDay formats a timestamp as the UTC calendar-day key.
func QuotaDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
