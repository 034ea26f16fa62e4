// Package notification builds and delivers user-facing loyalty messages.
// Delivery is best-effort: a failed send is logged by the caller and never
// undoes the ledger change that triggered it.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies the event a notification reports
type Kind string

const (
	KindPointsEarned   Kind = "points_earned"
	KindLevelUp        Kind = "level_up"
	KindReferralReward Kind = "referral_reward"
	KindPromotion      Kind = "promotion"
)

// ErrRecipientBlocked is returned by a Sender when the user has blocked the bot.
// Delivery stops for that user and the account is deactivated.
var ErrRecipientBlocked = errors.New("recipient blocked the bot")

// Notification is a message addressed to one user
type Notification struct {
	Kind       Kind              `json:"kind"`
	UserID     uuid.UUID         `json:"user_id"`
	TelegramID int64             `json:"telegram_id"`
	Text       string            `json:"text"`
	Data       map[string]string `json:"data,omitempty"`
}

// Sender delivers a notification over a transport such as the Telegram bot API
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Notifier accepts notifications for delivery, possibly asynchronously
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Deactivator disables the account behind a Telegram id
type Deactivator interface {
	DeactivateByTelegramID(ctx context.Context, telegramID int64) error
}

// Deliver sends n and handles a blocked recipient. When the sender reports
// ErrRecipientBlocked the account is deactivated and nil is returned so the
// message is not retried. d may be nil.
func Deliver(ctx context.Context, sender Sender, d Deactivator, n Notification) error {
	err := sender.Send(ctx, n)
	if !errors.Is(err, ErrRecipientBlocked) {
		return err
	}

	log.Printf("[Notify] telegram user %d blocked the bot", n.TelegramID)
	if d == nil {
		return nil
	}
	if err := d.DeactivateByTelegramID(ctx, n.TelegramID); err != nil {
		return fmt.Errorf("failed to deactivate telegram user %d: %w", n.TelegramID, err)
	}
	return nil
}

// LogSender writes notifications to the standard logger
type LogSender struct{}

// Send logs the notification
func (LogSender) Send(_ context.Context, n Notification) error {
	log.Printf("[Notify] %s -> telegram:%d: %s", n.Kind, n.TelegramID, n.Text)
	return nil
}

// DirectNotifier delivers notifications synchronously through a Sender.
// It is used when no job queue is running.
type DirectNotifier struct {
	Sender      Sender
	Deactivator Deactivator
}

// Notify sends n immediately
func (d DirectNotifier) Notify(ctx context.Context, n Notification) error {
	return Deliver(ctx, d.Sender, d.Deactivator, n)
}

// NopNotifier drops every notification
type NopNotifier struct{}

// Notify does nothing
func (NopNotifier) Notify(context.Context, Notification) error { return nil }

// PointsEarned reports points credited for an order
func PointsEarned(userID uuid.UUID, telegramID int64, orderID uuid.UUID, points, balance decimal.Decimal) Notification {
	return Notification{
		Kind:       KindPointsEarned,
		UserID:     userID,
		TelegramID: telegramID,
		Text: fmt.Sprintf("✨ <b>+%s points</b> for your order.\nBalance: <b>%s</b>",
			points.StringFixed(2), balance.StringFixed(2)),
		Data: map[string]string{
			"order_id": orderID.String(),
			"points":   points.String(),
			"balance":  balance.String(),
		},
	}
}

// LevelUp reports a move to a higher tier
func LevelUp(userID uuid.UUID, telegramID int64, tierName string, pointsRate decimal.Decimal) Notification {
	return Notification{
		Kind:       KindLevelUp,
		UserID:     userID,
		TelegramID: telegramID,
		Text: fmt.Sprintf("🎉 <b>Congratulations!</b>\n\nYou reached the <b>%s</b> level.\nYou now earn <b>%s%%</b> points on every order.",
			tierName, pointsRate.String()),
		Data: map[string]string{
			"tier":        tierName,
			"points_rate": pointsRate.String(),
		},
	}
}

// ReferralReward reports a commission earned through a referee's order
func ReferralReward(userID uuid.UUID, telegramID int64, amount decimal.Decimal, refereeName string) Notification {
	return Notification{
		Kind:       KindReferralReward,
		UserID:     userID,
		TelegramID: telegramID,
		Text: fmt.Sprintf("💰 <b>Referral reward!</b>\n\nYour friend <b>%s</b> placed an order.\nYou received <b>%s</b> loyalty points.",
			refereeName, amount.StringFixed(2)),
		Data: map[string]string{
			"amount":  amount.String(),
			"referee": refereeName,
		},
	}
}

// Promotion announces an offer to one user
func Promotion(userID uuid.UUID, telegramID int64, promotionID uuid.UUID, title, description string, start, end time.Time) Notification {
	return Notification{
		Kind:       KindPromotion,
		UserID:     userID,
		TelegramID: telegramID,
		Text: fmt.Sprintf("🎉 <b>%s</b>\n\n%s\n\n📅 <b>Valid:</b> %s - %s",
			title, description, start.Format("02.01.2006"), end.Format("02.01.2006")),
		Data: map[string]string{
			"promotion_id": promotionID.String(),
			"title":        title,
		},
	}
}
