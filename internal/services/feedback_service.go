package services

import (
	"context"
	"fmt"
	"math"

	"github.com/snaprepair/backend/internal/apperrors"
	"github.com/snaprepair/backend/internal/logger"
	"github.com/snaprepair/backend/internal/models"
	"github.com/snaprepair/backend/internal/store"
)

const recentCommentLimit = 10

// FeedbackService aggregates post-resolution ratings for experts
type FeedbackService struct {
	feedback store.FeedbackStore
}

// NewFeedbackService creates a new feedback service
func NewFeedbackService(feedback store.FeedbackStore) *FeedbackService {
	return &FeedbackService{feedback: feedback}
}

// Summary returns the rating distribution, average and latest comments.
func (fs *FeedbackService) Summary(ctx context.Context, actor models.Actor) (*models.FeedbackSummary, error) {
	if !actor.IsExpert() {
		return nil, apperrors.Forbidden("only experts can view feedback insights")
	}

	all, err := fs.feedback.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch all feedback: %w", err)
	}

	summary := summarize(all)
	logger.Debug("Computed feedback summary", map[string]interface{}{
		"count":   summary.Count,
		"average": summary.AverageRating,
	})
	return summary, nil
}

// summarize expects feedback newest first.
func summarize(all []models.Feedback) *models.FeedbackSummary {
	summary := &models.FeedbackSummary{
		Distribution:   make(map[int]int),
		RecentComments: []string{},
	}
	for r := models.MinRating; r <= models.MaxRating; r++ {
		summary.Distribution[r] = 0
	}

	total := 0
	for _, f := range all {
		summary.Count++
		total += f.Rating
		summary.Distribution[f.Rating]++
		if f.Comment != nil && len(summary.RecentComments) < recentCommentLimit {
			summary.RecentComments = append(summary.RecentComments, *f.Comment)
		}
	}
	if summary.Count > 0 {
		avg := float64(total) / float64(summary.Count)
		summary.AverageRating = math.Round(avg*100) / 100
	}
	return summary
}
