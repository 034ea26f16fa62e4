package promotion

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/u9rzm/barinya-bot/internal/apperrors"
	"github.com/u9rzm/barinya-bot/internal/models"
	"github.com/u9rzm/barinya-bot/internal/services/notification"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const broadcastConcurrency = 10

// PromotionInput describes a new promotion
type PromotionInput struct {
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description" binding:"required"`
	ImageURL    *string   `json:"image_url"`
	StartDate   time.Time `json:"start_date" binding:"required"`
	EndDate     time.Time `json:"end_date" binding:"required"`
}

// BroadcastResult counts the recipients of one broadcast
type BroadcastResult struct {
	PromotionID uuid.UUID `json:"promotion_id"`
	Queued      int64     `json:"queued"`
	Failed      int64     `json:"failed"`
	Total       int       `json:"total"`
}

// PromotionService manages promotions and announces them to members
type PromotionService struct {
	db       *gorm.DB
	notifier notification.Notifier
	now      func() time.Time
}

// NewPromotionService creates a new promotion service
func NewPromotionService(db *gorm.DB, notifier notification.Notifier) *PromotionService {
	if notifier == nil {
		notifier = notification.NopNotifier{}
	}
	return &PromotionService{db: db, notifier: notifier, now: time.Now}
}

// CreatePromotion stores a promotion. The end date must not precede the start date.
func (s *PromotionService) CreatePromotion(ctx context.Context, input PromotionInput) (*models.Promotion, error) {
	const op = "promotion.CreatePromotion"

	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return nil, apperrors.InvalidInput(op, "title and description are required")
	}
	if input.StartDate.IsZero() || input.EndDate.IsZero() {
		return nil, apperrors.InvalidInput(op, "start and end dates are required")
	}
	if input.EndDate.Before(input.StartDate) {
		return nil, apperrors.InvalidInput(op, "end date must be after start date")
	}

	promo := models.Promotion{
		Title:       title,
		Description: description,
		ImageURL:    input.ImageURL,
		StartDate:   input.StartDate.UTC(),
		EndDate:     input.EndDate.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&promo).Error; err != nil {
		return nil, apperrors.FromDB(op, fmt.Errorf("error creating promotion: %w", err))
	}

	log.Printf("[Promotions] created %s %q (%s - %s)", promo.ID, promo.Title,
		promo.StartDate.Format(time.DateOnly), promo.EndDate.Format(time.DateOnly))
	return &promo, nil
}

// GetPromotion returns a promotion by ID
func (s *PromotionService) GetPromotion(ctx context.Context, id uuid.UUID) (*models.Promotion, error) {
	const op = "promotion.GetPromotion"

	var promo models.Promotion
	if err := s.db.WithContext(ctx).First(&promo, "id = ?", id).Error; err != nil {
		if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
			return nil, apperrors.NotFound(op, "promotion %s not found", id)
		}
		return nil, apperrors.FromDB(op, err)
	}
	return &promo, nil
}

// GetActivePromotions returns the promotions running now, newest first
func (s *PromotionService) GetActivePromotions(ctx context.Context) ([]models.Promotion, error) {
	now := s.now().UTC()

	var promos []models.Promotion
	if err := s.db.WithContext(ctx).
		Where("start_date <= ? AND end_date >= ?", now, now).
		Order("created_at DESC").
		Find(&promos).Error; err != nil {
		return nil, apperrors.FromDB("promotion.GetActivePromotions", err)
	}
	return promos, nil
}

// ListPromotions returns every promotion, newest first
func (s *PromotionService) ListPromotions(ctx context.Context) ([]models.Promotion, error) {
	var promos []models.Promotion
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&promos).Error; err != nil {
		return nil, apperrors.FromDB("promotion.ListPromotions", err)
	}
	return promos, nil
}

// DeletePromotion removes a promotion
func (s *PromotionService) DeletePromotion(ctx context.Context, id uuid.UUID) error {
	const op = "promotion.DeletePromotion"

	result := s.db.WithContext(ctx).Delete(&models.Promotion{}, "id = ?", id)
	if result.Error != nil {
		return apperrors.FromDB(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound(op, "promotion %s not found", id)
	}
	return nil
}

// BroadcastPromotion hands one promotion message per active member to the
// notifier. A promotion that has already ended cannot be broadcast. Failures
// for single recipients are counted and logged, not returned.
func (s *PromotionService) BroadcastPromotion(ctx context.Context, id uuid.UUID) (*BroadcastResult, error) {
	const op = "promotion.BroadcastPromotion"

	promo, err := s.GetPromotion(ctx, id)
	if err != nil {
		return nil, err
	}
	if promo.EndDate.Before(s.now().UTC()) {
		return nil, apperrors.InvalidState(op, "promotion %s ended on %s", id, promo.EndDate.Format(time.DateOnly))
	}

	var recipients []models.User
	if err := s.db.WithContext(ctx).
		Select("id", "telegram_id").
		Where("is_active = ?", true).
		Find(&recipients).Error; err != nil {
		return nil, apperrors.FromDB(op, err)
	}

	log.Printf("[Promotions] broadcasting %s to %d active users", promo.ID, len(recipients))

	result := &BroadcastResult{PromotionID: promo.ID, Total: len(recipients)}
	var queued, failed int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastConcurrency)
	for _, u := range recipients {
		u := u
		g.Go(func() error {
			note := notification.Promotion(u.ID, u.TelegramID, promo.ID, promo.Title, promo.Description, promo.StartDate, promo.EndDate)
			if err := s.notifier.Notify(gctx, note); err != nil {
				log.Printf("[Promotions] failed to notify telegram user %d: %v", u.TelegramID, err)
				atomic.AddInt64(&failed, 1)
				return nil
			}
			atomic.AddInt64(&queued, 1)
			return nil
		})
	}
	_ = g.Wait()

	result.Queued = queued
	result.Failed = failed

	now := s.now().UTC()
	if err := s.db.WithContext(ctx).Model(promo).Update("broadcasted_at", now).Error; err != nil {
		log.Printf("[Promotions] failed to record broadcast of %s: %v", promo.ID, err)
	}

	log.Printf("[Promotions] broadcast of %s finished: %d queued, %d failed, %d total",
		promo.ID, result.Queued, result.Failed, result.Total)
	return result, nil
}
