package user

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/u9rzm/barinya-bot/internal/apperrors"
	"github.com/u9rzm/barinya-bot/internal/models"
	"github.com/u9rzm/barinya-bot/internal/services/referral"
	"github.com/u9rzm/barinya-bot/internal/services/tier"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const minWalletLength = 10

// CreateUserInput describes a new member coming from Telegram
type CreateUserInput struct {
	TelegramID   int64  `json:"telegram_id" binding:"required"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	ReferralCode string `json:"referral_code"`
}

// UserService handles member accounts
type UserService struct {
	db          *gorm.DB
	tierSvc     *tier.TierService
	referralSvc *referral.ReferralService
}

// NewUserService creates a new user service
func NewUserService(db *gorm.DB, tierSvc *tier.TierService, referralSvc *referral.ReferralService) *UserService {
	return &UserService{db: db, tierSvc: tierSvc, referralSvc: referralSvc}
}

// CreateUser registers a member on the lowest tier with a fresh referral code.
// A referral code in the input links the new member to its owner in the same
// transaction; an unusable code fails the whole registration.
func (s *UserService) CreateUser(ctx context.Context, input CreateUserInput) (*models.User, error) {
	const op = "user.CreateUser"

	if input.TelegramID <= 0 {
		return nil, apperrors.InvalidInput(op, "telegram id must be positive")
	}

	var userID uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("telegram_id = ?", input.TelegramID).Count(&count).Error; err != nil {
			return apperrors.FromDB(op, err)
		}
		if count > 0 {
			return apperrors.InvalidState(op, "telegram user %d is already registered", input.TelegramID)
		}

		lowest, err := s.tierSvc.ClassifyWithTx(tx, decimal.Zero)
		if err != nil {
			return err
		}

		code, err := referral.GenerateUniqueCode(tx)
		if err != nil {
			return err
		}

		user := &models.User{
			TelegramID:   input.TelegramID,
			Username:     strings.TrimPrefix(strings.TrimSpace(input.Username), "@"),
			FirstName:    strings.TrimSpace(input.FirstName),
			LastName:     strings.TrimSpace(input.LastName),
			IsActive:     true,
			TierID:       lowest.ID,
			ReferralCode: code,
		}
		if err := tx.Create(user).Error; err != nil {
			return apperrors.FromDB(op, fmt.Errorf("error creating user: %w", err))
		}

		if strings.TrimSpace(input.ReferralCode) != "" {
			if err := s.referralSvc.RegisterReferralWithTx(tx, user.ID, input.ReferralCode); err != nil {
				return err
			}
		}

		userID = user.ID
		return nil
	})
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}

	log.Printf("[Users] registered telegram user %d as %s", input.TelegramID, userID)
	return s.GetUser(ctx, userID)
}

// FindOrCreate returns the member for input.TelegramID, registering it first
// when unknown. The bool reports whether a new member was created.
func (s *UserService) FindOrCreate(ctx context.Context, input CreateUserInput) (*models.User, bool, error) {
	existing, err := s.GetUserByTelegramID(ctx, input.TelegramID)
	if err == nil {
		return existing, false, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, false, err
	}

	created, err := s.CreateUser(ctx, input)
	if errors.Is(err, apperrors.ErrInvalidState) {
		// Lost a registration race; the winner's row is now visible.
		existing, getErr := s.GetUserByTelegramID(ctx, input.TelegramID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// GetUser returns a member with its tier
func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "user.GetUser"

	var user models.User
	if err := s.db.WithContext(ctx).Preload("Tier").First(&user, "id = ?", id).Error; err != nil {
		if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
			return nil, apperrors.NotFound(op, "user %s not found", id)
		}
		return nil, apperrors.FromDB(op, err)
	}
	return &user, nil
}

// GetUserByTelegramID returns a member by Telegram account id
func (s *UserService) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	const op = "user.GetUserByTelegramID"

	var user models.User
	if err := s.db.WithContext(ctx).Preload("Tier").First(&user, "telegram_id = ?", telegramID).Error; err != nil {
		if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
			return nil, apperrors.NotFound(op, "telegram user %d not found", telegramID)
		}
		return nil, apperrors.FromDB(op, err)
	}
	return &user, nil
}

// GetUserByWallet returns the member a wallet address is attached to
func (s *UserService) GetUserByWallet(ctx context.Context, address string) (*models.User, error) {
	const op = "user.GetUserByWallet"

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "wallet = ?", strings.TrimSpace(address)).Error; err != nil {
		if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
			return nil, apperrors.NotFound(op, "no user with wallet %s", address)
		}
		return nil, apperrors.FromDB(op, err)
	}
	return &user, nil
}

// AttachWallet sets or replaces the member's wallet address. An address
// already attached to another member is rejected.
func (s *UserService) AttachWallet(ctx context.Context, userID uuid.UUID, address string) (*models.User, error) {
	const op = "user.AttachWallet"

	address = strings.TrimSpace(address)
	if len(address) < minWalletLength {
		return nil, apperrors.InvalidInput(op, "invalid wallet address format")
	}

	var previous *string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error; err != nil {
			if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
				return apperrors.NotFound(op, "user %s not found", userID)
			}
			return apperrors.FromDB(op, err)
		}

		var owners int64
		if err := tx.Model(&models.User{}).Where("wallet = ? AND id <> ?", address, userID).Count(&owners).Error; err != nil {
			return apperrors.FromDB(op, err)
		}
		if owners > 0 {
			return apperrors.InvalidState(op, "wallet %s is already associated with another user", address)
		}

		previous = user.Wallet
		now := time.Now().UTC()
		return apperrors.FromDB(op, tx.Model(&user).Updates(map[string]interface{}{
			"wallet":              address,
			"wallet_connected_at": now,
		}).Error)
	})
	if err != nil {
		return nil, err
	}

	if previous != nil && *previous != "" {
		log.Printf("[Users] updated wallet for user %s: %s -> %s", userID, *previous, address)
	} else {
		log.Printf("[Users] added wallet to user %s: %s", userID, address)
	}
	return s.GetUser(ctx, userID)
}

// DetachWallet removes the member's wallet address
func (s *UserService) DetachWallet(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	const op = "user.DetachWallet"

	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"wallet": nil, "wallet_connected_at": nil})
	if result.Error != nil {
		return nil, apperrors.FromDB(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.NotFound(op, "user %s not found", userID)
	}
	return s.GetUser(ctx, userID)
}

// SetActive enables or disables a member
func (s *UserService) SetActive(ctx context.Context, userID uuid.UUID, active bool) error {
	const op = "user.SetActive"

	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("is_active", active)
	if result.Error != nil {
		return apperrors.FromDB(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound(op, "user %s not found", userID)
	}
	return nil
}

// DeactivateByTelegramID disables the member behind a Telegram account.
// An unknown id is logged and ignored.
func (s *UserService) DeactivateByTelegramID(ctx context.Context, telegramID int64) error {
	const op = "user.DeactivateByTelegramID"

	result := s.db.WithContext(ctx).Model(&models.User{}).Where("telegram_id = ?", telegramID).Update("is_active", false)
	if result.Error != nil {
		return apperrors.FromDB(op, result.Error)
	}
	if result.RowsAffected == 0 {
		log.Printf("[Users] no user with telegram id %d to deactivate", telegramID)
		return nil
	}
	log.Printf("[Users] deactivated telegram user %d after the bot was blocked", telegramID)
	return nil
}

// SetTier assigns a tier by hand. The next spend recalculation reclassifies
// the member from cumulative spend again.
func (s *UserService) SetTier(ctx context.Context, userID, tierID uuid.UUID) (*models.User, error) {
	const op = "user.SetTier"

	var previous uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error; err != nil {
			if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
				return apperrors.NotFound(op, "user %s not found", userID)
			}
			return apperrors.FromDB(op, err)
		}

		var target models.Tier
		if err := tx.First(&target, "id = ?", tierID).Error; err != nil {
			if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
				return apperrors.NotFound(op, "tier %s not found", tierID)
			}
			return apperrors.FromDB(op, err)
		}

		previous = user.TierID
		return apperrors.FromDB(op, tx.Model(&user).Update("tier_id", target.ID).Error)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Users] manually set tier for user %s: %s -> %s", userID, previous, tierID)
	return s.GetUser(ctx, userID)
}

// ListUsers returns a page of members, newest first
func (s *UserService) ListUsers(ctx context.Context, page, pageSize int) ([]models.User, int64, error) {
	const op = "user.ListUsers"

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	db := s.db.WithContext(ctx)
	var total int64
	if err := db.Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, apperrors.FromDB(op, err)
	}

	var users []models.User
	if err := db.Preload("Tier").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&users).Error; err != nil {
		return nil, 0, apperrors.FromDB(op, err)
	}
	return users, total, nil
}
