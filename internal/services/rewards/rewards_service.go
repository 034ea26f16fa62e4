// Package rewards runs the reward pass that turns a pending order into
// loyalty state: spend, points, tier and referral commission all change in
// one database transaction, or none of them do.
package rewards

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/u9rzm/barinya-bot/internal/apperrors"
	"github.com/u9rzm/barinya-bot/internal/config"
	"github.com/u9rzm/barinya-bot/internal/models"
	"github.com/u9rzm/barinya-bot/internal/queue"
	"github.com/u9rzm/barinya-bot/internal/services/ledger"
	"github.com/u9rzm/barinya-bot/internal/services/notification"
	"github.com/u9rzm/barinya-bot/internal/services/referral"
	"github.com/u9rzm/barinya-bot/internal/services/tier"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const tracerName = "github.com/u9rzm/barinya-bot/internal/services/rewards"

var hundred = decimal.NewFromInt(100)

// TierSummary identifies a tier in a reward result
type TierSummary struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	PointsRate decimal.Decimal `json:"points_rate"`
}

// RewardResult describes what one reward pass changed
type RewardResult struct {
	OrderID      uuid.UUID            `json:"order_id"`
	UserID       uuid.UUID            `json:"user_id"`
	OrderTotal   decimal.Decimal      `json:"order_total"`
	PointsEarned decimal.Decimal      `json:"points_earned"`
	NewBalance   decimal.Decimal      `json:"new_balance"`
	PreviousTier TierSummary          `json:"previous_tier"`
	NewTier      TierSummary          `json:"new_tier"`
	TierChanged  bool                 `json:"tier_changed"`
	Commission   *referral.Commission `json:"commission,omitempty"`
	Attempts     int                  `json:"attempts"`
}

// Option configures a RewardService
type Option func(*RewardService)

// WithNotifier sets where post-commit notifications go
func WithNotifier(n notification.Notifier) Option {
	return func(s *RewardService) { s.notifier = n }
}

// WithClock overrides the time source used for completed_at
func WithClock(now func() time.Time) Option {
	return func(s *RewardService) { s.now = now }
}

// WithSleeper overrides how the service waits between retries
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *RewardService) { s.sleep = sleep }
}

// RewardService processes order rewards
type RewardService struct {
	db          *gorm.DB
	ledgerSvc   *ledger.LedgerService
	tierSvc     *tier.TierService
	referralSvc *referral.ReferralService
	notifier    notification.Notifier

	maxAttempts int
	backoff     queue.Backoff

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	tracer trace.Tracer
}

// NewRewardService creates a new reward service
func NewRewardService(
	db *gorm.DB,
	ledgerSvc *ledger.LedgerService,
	tierSvc *tier.TierService,
	referralSvc *referral.ReferralService,
	cfg config.RewardsConfig,
	opts ...Option,
) *RewardService {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	s := &RewardService{
		db:          db,
		ledgerSvc:   ledgerSvc,
		tierSvc:     tierSvc,
		referralSvc: referralSvc,
		notifier:    notification.NopNotifier{},
		maxAttempts: maxAttempts,
		backoff: queue.Backoff{
			InitialInterval: cfg.InitialInterval,
			Multiplier:      cfg.Multiplier,
			MaxInterval:     cfg.MaxInterval,
		},
		now:    func() time.Time { return time.Now().UTC() },
		sleep:  sleepContext,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// passOutcome is a committed pass plus the notifications it produced
type passOutcome struct {
	result        *RewardResult
	notifications []notification.Notification
}

// ProcessOrderRewards completes a pending order and applies its rewards.
// Only storage failures are retried; the whole pass is re-run each time.
func (s *RewardService) ProcessOrderRewards(ctx context.Context, orderID uuid.UUID) (*RewardResult, error) {
	ctx, span := s.tracer.Start(ctx, "rewards.ProcessOrderRewards",
		trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer span.End()

	var (
		outcome *passOutcome
		err     error
	)
	for attempt := 1; ; attempt++ {
		outcome, err = s.processOnce(ctx, orderID)
		if err == nil {
			outcome.result.Attempts = attempt
			break
		}

		if !apperrors.IsRetryable(err) || attempt >= s.maxAttempts {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if apperrors.IsRetryable(err) {
				log.Printf("[Rewards] order %s failed after %d attempts: %v", orderID, attempt, err)
			}
			return nil, err
		}

		delay := s.backoff.Duration(attempt)
		log.Printf("[Rewards] order %s attempt %d/%d failed: %v; retrying in %v", orderID, attempt, s.maxAttempts, err, delay)
		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("rewards: retry of order %s aborted: %w", orderID, err)
		}
	}

	result := outcome.result
	span.SetAttributes(
		attribute.String("user.id", result.UserID.String()),
		attribute.String("points.earned", result.PointsEarned.String()),
		attribute.Bool("tier.changed", result.TierChanged),
		attribute.Int("attempts", result.Attempts),
	)
	log.Printf("[Rewards] order %s completed: user %s earned %s points (tier %s -> %s)",
		orderID, result.UserID, result.PointsEarned, result.PreviousTier.Name, result.NewTier.Name)

	s.dispatch(ctx, outcome.notifications)
	return result, nil
}

func (s *RewardService) processOnce(ctx context.Context, orderID uuid.UUID) (*passOutcome, error) {
	const op = "rewards.ProcessOrderRewards"

	var outcome *passOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, "id = ?", orderID).Error; err != nil {
			if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
				return apperrors.NotFound(op, "order %s not found", orderID)
			}
			return apperrors.FromDB(op, err)
		}
		if order.Status != models.OrderStatusPending {
			return apperrors.InvalidState(op, "order %s is %s, expected %s", orderID, order.Status, models.OrderStatusPending)
		}

		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", order.UserID).Error; err != nil {
			if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
				return apperrors.NotFound(op, "user %s for order %s not found", order.UserID, orderID)
			}
			return apperrors.FromDB(op, err)
		}

		previousTier, err := s.currentTier(tx, &user)
		if err != nil {
			return err
		}

		newSpend := user.CumulativeSpend.Add(order.TotalAmount)
		if err := tx.Model(&user).Update("cumulative_spend", newSpend).Error; err != nil {
			return apperrors.FromDB(op, fmt.Errorf("error updating cumulative spend: %w", err))
		}

		// Points use the rate of the tier held before this order counted.
		points := order.TotalAmount.Mul(previousTier.PointsRate).Div(hundred).Round(2)
		if points.IsPositive() {
			reason := fmt.Sprintf("Order %s reward (%s%% of %s)", orderID, previousTier.PointsRate, order.TotalAmount)
			if _, err := s.ledgerSvc.AddPointsWithTx(tx, user.ID, points, models.CategoryOrderReward, reason, &order.ID); err != nil {
				return err
			}
		}

		changed, newTier, err := s.tierSvc.RecalculateAndApplyWithTx(tx, user.ID)
		if err != nil {
			return err
		}

		commission, err := s.referralSvc.DistributeCommission(tx, user.ID, order.ID, order.TotalAmount)
		if err != nil {
			return err
		}

		completedAt := s.now()
		if err := tx.Model(&order).Updates(map[string]interface{}{
			"status":       models.OrderStatusCompleted,
			"completed_at": completedAt,
		}).Error; err != nil {
			return apperrors.FromDB(op, fmt.Errorf("error completing order: %w", err))
		}

		result := &RewardResult{
			OrderID:      order.ID,
			UserID:       user.ID,
			OrderTotal:   order.TotalAmount,
			PointsEarned: points,
			NewBalance:   user.PointsBalance.Add(points),
			PreviousTier: summarize(previousTier),
			NewTier:      summarize(newTier),
			TierChanged:  changed,
			Commission:   commission,
		}

		notes, err := s.buildNotifications(tx, &user, result, previousTier, newTier)
		if err != nil {
			return err
		}
		outcome = &passOutcome{result: result, notifications: notes}
		return nil
	})
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}
	return outcome, nil
}

// currentTier loads the user's tier, classifying afresh if it has gone missing
func (s *RewardService) currentTier(tx *gorm.DB, user *models.User) (*models.Tier, error) {
	var t models.Tier
	err := tx.First(&t, "id = ?", user.TierID).Error
	if err == nil {
		return &t, nil
	}
	if !apperrors.IsNotFound(apperrors.FromDB("rewards.currentTier", err)) {
		return nil, apperrors.FromDB("rewards.currentTier", err)
	}
	return s.tierSvc.ClassifyWithTx(tx, user.CumulativeSpend)
}

func (s *RewardService) buildNotifications(tx *gorm.DB, user *models.User, result *RewardResult, previousTier, newTier *models.Tier) ([]notification.Notification, error) {
	var notes []notification.Notification

	if result.PointsEarned.IsPositive() {
		notes = append(notes, notification.PointsEarned(user.ID, user.TelegramID, result.OrderID, result.PointsEarned, result.NewBalance))
	}
	if result.TierChanged && newTier.Threshold.GreaterThan(previousTier.Threshold) {
		notes = append(notes, notification.LevelUp(user.ID, user.TelegramID, newTier.Name, newTier.PointsRate))
	}
	if c := result.Commission; c != nil {
		var referrer models.User
		if err := tx.Select("id", "telegram_id").First(&referrer, "id = ?", c.ReferrerID).Error; err != nil {
			return nil, apperrors.FromDB("rewards.buildNotifications", err)
		}
		notes = append(notes, notification.ReferralReward(referrer.ID, referrer.TelegramID, c.Amount, displayName(user)))
	}
	return notes, nil
}

// dispatch hands notifications to the notifier; failures are only logged
func (s *RewardService) dispatch(ctx context.Context, notes []notification.Notification) {
	for _, n := range notes {
		if err := s.notifier.Notify(ctx, n); err != nil {
			log.Printf("[Rewards] failed to dispatch %s notification for user %s: %v", n.Kind, n.UserID, err)
		}
	}
}

func summarize(t *models.Tier) TierSummary {
	if t == nil {
		return TierSummary{}
	}
	return TierSummary{ID: t.ID, Name: t.Name, PointsRate: t.PointsRate}
}

func displayName(u *models.User) string {
	switch {
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return "@" + u.Username
	default:
		return fmt.Sprintf("user %d", u.TelegramID)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
