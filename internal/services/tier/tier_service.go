package tier

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/u9rzm/barinya-bot/internal/apperrors"
	"github.com/u9rzm/barinya-bot/internal/config"
	"github.com/u9rzm/barinya-bot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TierService classifies users into loyalty tiers and manages the tier ladder
type TierService struct {
	db *gorm.DB
}

// NewTierService creates a new tier service
func NewTierService(db *gorm.DB) *TierService {
	return &TierService{db: db}
}

// TierInput describes a new tier
type TierInput struct {
	Name       string          `json:"name" binding:"required"`
	Threshold  decimal.Decimal `json:"threshold"`
	PointsRate decimal.Decimal `json:"points_rate"`
	SortOrder  int             `json:"sort_order"`
}

// TierUpdate holds the fields to change on a tier; nil fields are left alone
type TierUpdate struct {
	Name       *string          `json:"name"`
	Threshold  *decimal.Decimal `json:"threshold"`
	PointsRate *decimal.Decimal `json:"points_rate"`
	SortOrder  *int             `json:"sort_order"`
}

// Classify returns the tier for a cumulative spend
func (s *TierService) Classify(ctx context.Context, spend decimal.Decimal) (*models.Tier, error) {
	return s.ClassifyWithTx(s.db.WithContext(ctx), spend)
}

// ClassifyWithTx returns the tier for a cumulative spend using an existing transaction.
// It picks the highest threshold not above spend, falling back to the lowest tier.
func (s *TierService) ClassifyWithTx(tx *gorm.DB, spend decimal.Decimal) (*models.Tier, error) {
	var tiers []models.Tier
	if err := tx.Order("threshold DESC").Find(&tiers).Error; err != nil {
		return nil, apperrors.FromDB("tier.Classify", err)
	}
	if len(tiers) == 0 {
		return nil, apperrors.Configuration("tier.Classify", "no loyalty tiers configured")
	}

	for i := range tiers {
		if tiers[i].Threshold.LessThanOrEqual(spend) {
			return &tiers[i], nil
		}
	}
	return &tiers[len(tiers)-1], nil
}

// RecalculateAndApply moves the user to the tier matching their cumulative spend
func (s *TierService) RecalculateAndApply(ctx context.Context, userID uuid.UUID) (bool, *models.Tier, error) {
	var (
		changed bool
		tier    *models.Tier
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		changed, tier, err = s.RecalculateAndApplyWithTx(tx, userID)
		return err
	})
	return changed, tier, err
}

// RecalculateAndApplyWithTx is RecalculateAndApply inside an existing transaction.
// Calling it twice without a spend change is a no-op.
func (s *TierService) RecalculateAndApplyWithTx(tx *gorm.DB, userID uuid.UUID) (bool, *models.Tier, error) {
	const op = "tier.RecalculateAndApply"

	var user models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error; err != nil {
		if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
			return false, nil, apperrors.NotFound(op, "user %s not found", userID)
		}
		return false, nil, apperrors.FromDB(op, err)
	}

	tier, err := s.ClassifyWithTx(tx, user.CumulativeSpend)
	if err != nil {
		return false, nil, err
	}
	if tier.ID == user.TierID {
		return false, tier, nil
	}

	if err := tx.Model(&user).Update("tier_id", tier.ID).Error; err != nil {
		return false, nil, apperrors.FromDB(op, fmt.Errorf("error updating tier: %w", err))
	}
	return true, tier, nil
}

// RecalculateAll re-applies classification to every user, returning how many moved
func (s *TierService) RecalculateAll(ctx context.Context) (int, error) {
	var ids []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&models.User{}).Pluck("id", &ids).Error; err != nil {
		return 0, apperrors.FromDB("tier.RecalculateAll", err)
	}

	moved := 0
	for _, id := range ids {
		changed, _, err := s.RecalculateAndApply(ctx, id)
		if err != nil {
			return moved, err
		}
		if changed {
			moved++
		}
	}
	return moved, nil
}

// ListTiers returns all tiers by ascending threshold
func (s *TierService) ListTiers(ctx context.Context) ([]models.Tier, error) {
	var tiers []models.Tier
	if err := s.db.WithContext(ctx).Order("threshold ASC").Find(&tiers).Error; err != nil {
		return nil, apperrors.FromDB("tier.ListTiers", err)
	}
	return tiers, nil
}

// GetTier returns a tier by ID
func (s *TierService) GetTier(ctx context.Context, id uuid.UUID) (*models.Tier, error) {
	var tier models.Tier
	if err := s.db.WithContext(ctx).First(&tier, "id = ?", id).Error; err != nil {
		if apperrors.IsNotFound(apperrors.FromDB("tier.GetTier", err)) {
			return nil, apperrors.NotFound("tier.GetTier", "tier %s not found", id)
		}
		return nil, apperrors.FromDB("tier.GetTier", err)
	}
	return &tier, nil
}

// CreateTier adds a tier to the ladder. Thresholds must be distinct.
func (s *TierService) CreateTier(ctx context.Context, input TierInput) (*models.Tier, error) {
	const op = "tier.CreateTier"

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.InvalidInput(op, "name is required")
	}
	if err := validateValues(op, input.Threshold, input.PointsRate); err != nil {
		return nil, err
	}

	tier := models.Tier{
		Name:       name,
		Slug:       slug.Make(name),
		Threshold:  input.Threshold,
		PointsRate: input.PointsRate,
		SortOrder:  input.SortOrder,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkUnique(tx, op, uuid.Nil, tier.Slug, tier.Threshold); err != nil {
			return err
		}
		if err := tx.Create(&tier).Error; err != nil {
			return apperrors.FromDB(op, fmt.Errorf("error creating tier: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Tiers] created tier %s (threshold %s, rate %s%%)", tier.Slug, tier.Threshold, tier.PointsRate)
	return &tier, nil
}

// UpdateTier changes a tier in place
func (s *TierService) UpdateTier(ctx context.Context, id uuid.UUID, update TierUpdate) (*models.Tier, error) {
	const op = "tier.UpdateTier"

	var tier models.Tier
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&tier, "id = ?", id).Error; err != nil {
			if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
				return apperrors.NotFound(op, "tier %s not found", id)
			}
			return apperrors.FromDB(op, err)
		}

		wasBase := tier.Threshold.IsZero()

		if update.Name != nil {
			name := strings.TrimSpace(*update.Name)
			if name == "" {
				return apperrors.InvalidInput(op, "name must not be empty")
			}
			tier.Name = name
			tier.Slug = slug.Make(name)
		}
		if update.Threshold != nil {
			tier.Threshold = *update.Threshold
		}
		if update.PointsRate != nil {
			tier.PointsRate = *update.PointsRate
		}
		if update.SortOrder != nil {
			tier.SortOrder = *update.SortOrder
		}

		if err := validateValues(op, tier.Threshold, tier.PointsRate); err != nil {
			return err
		}
		if wasBase && !tier.Threshold.IsZero() {
			base, err := hasOtherBaseTier(tx, op, tier.ID)
			if err != nil {
				return err
			}
			if !base {
				return apperrors.InvalidState(op, "tier %s is the only tier starting at 0", tier.Slug)
			}
		}
		if err := s.checkUnique(tx, op, tier.ID, tier.Slug, tier.Threshold); err != nil {
			return err
		}
		if err := tx.Save(&tier).Error; err != nil {
			return apperrors.FromDB(op, fmt.Errorf("error updating tier: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tier, nil
}

// DeleteTier removes a tier. It returns false, without error, when the tier
// does not exist, users still belong to it, or it is the only tier starting at 0.
func (s *TierService) DeleteTier(ctx context.Context, id uuid.UUID) (bool, error) {
	const op = "tier.DeleteTier"

	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tier models.Tier
		if err := tx.First(&tier, "id = ?", id).Error; err != nil {
			if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
				return nil
			}
			return apperrors.FromDB(op, err)
		}

		var members int64
		if err := tx.Model(&models.User{}).Where("tier_id = ?", id).Count(&members).Error; err != nil {
			return apperrors.FromDB(op, err)
		}
		if members > 0 {
			log.Printf("[Tiers] refusing to delete tier %s: %d users assigned", tier.Slug, members)
			return nil
		}
		if tier.Threshold.IsZero() {
			base, err := hasOtherBaseTier(tx, op, tier.ID)
			if err != nil {
				return err
			}
			if !base {
				log.Printf("[Tiers] refusing to delete tier %s: it is the only tier starting at 0", tier.Slug)
				return nil
			}
		}

		if err := tx.Delete(&tier).Error; err != nil {
			return apperrors.FromDB(op, fmt.Errorf("error deleting tier: %w", err))
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// ReorderTiers sets the display order of the given tiers
func (s *TierService) ReorderTiers(ctx context.Context, order map[uuid.UUID]int) error {
	const op = "tier.ReorderTiers"

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, pos := range order {
			res := tx.Model(&models.Tier{}).Where("id = ?", id).Update("sort_order", pos)
			if res.Error != nil {
				return apperrors.FromDB(op, res.Error)
			}
			if res.RowsAffected == 0 {
				return apperrors.NotFound(op, "tier %s not found", id)
			}
		}
		return nil
	})
}

// EnsureConfigured verifies the ladder can classify any spend: at least one
// tier exists and one starts at zero.
func (s *TierService) EnsureConfigured(ctx context.Context) error {
	const op = "tier.EnsureConfigured"

	tiers, err := s.ListTiers(ctx)
	if err != nil {
		return err
	}
	if len(tiers) == 0 {
		return apperrors.Configuration(op, "no loyalty tiers configured")
	}
	if !tiers[0].Threshold.IsZero() {
		return apperrors.Configuration(op, "lowest tier %q starts at %s, expected 0", tiers[0].Slug, tiers[0].Threshold)
	}
	return nil
}

// SeedFromFile upserts tiers from a TOML or YAML file, keyed by slug.
// It returns the number of tiers written.
func (s *TierService) SeedFromFile(ctx context.Context, path string) (int, error) {
	const op = "tier.SeedFromFile"

	seeds, err := config.LoadTierSeeds(path)
	if err != nil {
		return 0, apperrors.InvalidInput(op, "%v", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, seed := range seeds {
			tier := models.Tier{
				Name:       seed.Name,
				Slug:       slug.Make(seed.Name),
				Threshold:  decimal.NewFromFloat(seed.Threshold),
				PointsRate: decimal.NewFromFloat(seed.PointsRate),
				SortOrder:  seed.SortOrder,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "slug"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "threshold", "points_rate", "sort_order", "updated_at"}),
			}).Create(&tier).Error
			if err != nil {
				return apperrors.FromDB(op, fmt.Errorf("error upserting tier %s: %w", tier.Slug, err))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Printf("[Tiers] seeded %d tiers from %s", len(seeds), path)
	return len(seeds), nil
}

// hasOtherBaseTier reports whether a tier other than self starts at 0
func hasOtherBaseTier(tx *gorm.DB, op string, self uuid.UUID) (bool, error) {
	var tiers []models.Tier
	if err := tx.Where("id <> ?", self).Find(&tiers).Error; err != nil {
		return false, apperrors.FromDB(op, err)
	}
	for _, t := range tiers {
		if t.Threshold.IsZero() {
			return true, nil
		}
	}
	return false, nil
}

func validateValues(op string, threshold, rate decimal.Decimal) error {
	if threshold.IsNegative() {
		return apperrors.InvalidInput(op, "threshold must not be negative")
	}
	if rate.IsNegative() {
		return apperrors.InvalidInput(op, "points rate must not be negative")
	}
	if rate.GreaterThan(decimal.NewFromInt(100)) {
		return apperrors.InvalidInput(op, "points rate must not exceed 100")
	}
	return nil
}

// checkUnique rejects a slug or threshold already used by another tier
func (s *TierService) checkUnique(tx *gorm.DB, op string, self uuid.UUID, tierSlug string, threshold decimal.Decimal) error {
	var existing []models.Tier
	if err := tx.Find(&existing).Error; err != nil {
		return apperrors.FromDB(op, err)
	}
	for _, t := range existing {
		if t.ID == self {
			continue
		}
		if t.Slug == tierSlug {
			return apperrors.InvalidInput(op, "tier %q already exists", tierSlug)
		}
		if t.Threshold.Equal(threshold) {
			return apperrors.InvalidInput(op, "threshold %s is already used by tier %q", threshold, t.Slug)
		}
	}
	return nil
}
