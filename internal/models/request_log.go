package models

import (
	"time"
)

// Represents one request seen by the admission layer
type RequestLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	Method         string    `json:"method"`
	Path           string    `gorm:"index" json:"path"`
	StatusCode     int       `gorm:"index" json:"status_code"`
	ResponseTimeMs int       `json:"response_time_ms"`
	IPAddress      string    `gorm:"index" json:"ip_address"`
	UserID         string    `json:"user_id,omitempty"`
	UserAgent      string    `json:"user_agent"`
	Admitted       bool      `gorm:"index" json:"admitted"`
	RejectedTier   string    `json:"rejected_tier,omitempty"`
}

func (RequestLog) TableName() string {
	return "request_logs"
}
