package service

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/repository"
)

type AnalyticsService struct {
	repository *repository.RequestLogRepository
}

func NewAnalyticsService(repo *repository.RequestLogRepository) *AnalyticsService {
	return &AnalyticsService{repository: repo}
}

// Holds admission analytics for a time range
type AdmissionSummary struct {
	TotalRequests    int64                    `json:"total_requests"`
	AvgResponseTime  float64                  `json:"avg_response_time_ms"`
	RejectionsByTier map[string]int64         `json:"rejections_by_tier"`
	ClientErrorRate  float64                  `json:"client_error_rate"`
	ServerErrorRate  float64                  `json:"server_error_rate"`
	TopRejectedIPs   []map[string]interface{} `json:"top_rejected_ips"`
}

// Holds time-series admission data
type TimeSeriesData struct {
	Hour     time.Time `json:"hour"`
	Count    int64     `json:"count"`
	Rejected int64     `json:"rejected"`
}

// Retrieves the admission summary for a time range
func (s *AnalyticsService) GetSummary(ctx context.Context, from, to time.Time) (*AdmissionSummary, error) {
	summary := &AdmissionSummary{}

	totalRequests, err := s.repository.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.TotalRequests = totalRequests

	if totalRequests == 0 {
		summary.RejectionsByTier = map[string]int64{}
		return summary, nil
	}

	avgResponseTime, err := s.repository.GetAverageResponseTime(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.AvgResponseTime = avgResponseTime

	rejections, err := s.repository.CountRejectionsByTier(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.RejectionsByTier = rejections

	clientErrors, err := s.repository.CountByStatusCodeRange(ctx, 400, 499, from, to)
	if err != nil {
		return nil, err
	}

	serverErrors, err := s.repository.CountByStatusCodeRange(ctx, 500, 599, from, to)
	if err != nil {
		return nil, err
	}

	summary.ClientErrorRate = (float64(clientErrors) / float64(totalRequests)) * 100
	summary.ServerErrorRate = (float64(serverErrors) / float64(totalRequests)) * 100

	topRejected, err := s.repository.TopRejectedIPs(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	summary.TopRejectedIPs = topRejected

	return summary, nil
}

// Retrieves hourly time-series data
func (s *AnalyticsService) GetTimeSeriesData(ctx context.Context, from, to time.Time) ([]TimeSeriesData, error) {
	hourlyStats, err := s.repository.GetHourlyStats(ctx, from, to)
	if err != nil {
		return nil, err
	}

	timeSeries := make([]TimeSeriesData, 0, len(hourlyStats))
	for _, stat := range hourlyStats {
		timeSeries = append(timeSeries, TimeSeriesData{
			Hour:     stat["hour"].(time.Time),
			Count:    stat["count"].(int64),
			Rejected: stat["rejected"].(int64),
		})
	}

	return timeSeries, nil
}
