package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
)

type RequestLogRepository struct {
	db *storage.Postgres
}

func NewRequestLogRepository(db *storage.Postgres) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

// Inserts multiple request logs (for batch insertion)
func (r *RequestLogRepository) CreateBatch(ctx context.Context, logs []*models.RequestLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

// Counts logs in a time range
func (r *RequestLogRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

// Counts rejected requests grouped by the tier that rejected them
func (r *RequestLogRepository) CountRejectionsByTier(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Select("rejected_tier, COUNT(*) as count").
		Where("admitted = false AND timestamp BETWEEN ? AND ?", from, to).
		Group("rejected_tier").
		Rows()

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make(map[string]int64)
	for rows.Next() {
		var tier string
		var count int64
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, err
		}
		results[tier] = count
	}

	return results, rows.Err()
}

// Returns the client IPs with the most rejected requests
func (r *RequestLogRepository) TopRejectedIPs(ctx context.Context, from, to time.Time, limit int) ([]map[string]interface{}, error) {
	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Select("ip_address, COUNT(*) as count").
		Where("admitted = false AND timestamp BETWEEN ? AND ?", from, to).
		Group("ip_address").
		Order("count DESC").
		Limit(limit).
		Rows()

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]interface{}
	for rows.Next() {
		var ip string
		var count int64
		if err := rows.Scan(&ip, &count); err != nil {
			return nil, err
		}
		results = append(results, map[string]interface{}{
			"ip_address": ip,
			"count":      count,
		})
	}

	return results, rows.Err()
}

// Count logs by status code range (e.g., 4xx, 5xx)
func (r *RequestLogRepository) CountByStatusCodeRange(ctx context.Context, minStatusCode, maxStatusCode int, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("status_code BETWEEN ? AND ? AND timestamp BETWEEN ? AND ?", minStatusCode, maxStatusCode, from, to).
		Count(&count).Error

	return count, err
}

// Calculates average response time
func (r *RequestLogRepository) GetAverageResponseTime(ctx context.Context, from, to time.Time) (float64, error) {
	var avg float64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Select("COALESCE(AVG(response_time_ms), 0)").
		Scan(&avg).Error

	return avg, err
}

// Returns the request count grouped by hour
func (r *RequestLogRepository) GetHourlyStats(ctx context.Context, from, to time.Time) ([]map[string]interface{}, error) {
	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Select("DATE_TRUNC('hour', timestamp) as hour, COUNT(*) as count, COUNT(*) FILTER (WHERE admitted = false) as rejected").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("hour").
		Order("hour ASC").
		Rows()

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]interface{}
	for rows.Next() {
		var hour time.Time
		var count, rejected int64
		if err := rows.Scan(&hour, &count, &rejected); err != nil {
			return nil, err
		}
		results = append(results, map[string]interface{}{
			"hour":     hour,
			"count":    count,
			"rejected": rejected,
		})
	}

	return results, rows.Err()
}

// Deletes logs older than the specified time
func (r *RequestLogRepository) DeleteOldLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.RequestLog{})

	return result.RowsAffected, result.Error
}
