// Package telegram hosts the Telegram client, routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_rewards_bot/internal/config"
	"tg_rewards_bot/internal/domain"
	"tg_rewards_bot/internal/ledger"
	"tg_rewards_bot/internal/logging"
	"tg_rewards_bot/internal/referral"
)

type botRunner interface {
	Start(ctx context.Context)
}

// messageSender captures the single bot method handlers need to reply, so
// tests can run handlers without a live Telegram connection.
type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"edited_message",
		"callback_query",
	}

	createBot = func(token string, options ...bot.Option) (botRunner, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot instance and the ledger/engine dependencies.
type Client struct {
	bot         botRunner
	logger      *logrus.Entry
	ledger      *ledger.Ledger
	engine      *referral.Engine
	botUsername string
	gameURL     string
}

// Option configures optional Client dependencies.
type Option func(*Client)

// WithLedger wires the account ledger used by the start handler.
func WithLedger(l *ledger.Ledger) Option {
	return func(c *Client) {
		c.ledger = l
	}
}

// WithEngine wires the referral engine used by the start handler.
func WithEngine(e *referral.Engine) Option {
	return func(c *Client) {
		c.engine = e
	}
}

// NewClient initializes the Telegram bot with long polling and the start,
// default, and error handlers.
func NewClient(cfg config.Config, logger *logrus.Entry, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{
		logger:      logger,
		botUsername: cfg.BotUsername,
		gameURL:     cfg.GameURL,
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if client.engine == nil {
		return nil, errors.New("referral engine is required")
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(defaultHandler(logger)),
		bot.WithErrorsHandler(errorHandler(logger)),
		bot.WithMessageTextHandler("/start", bot.MatchTypePrefix, client.startHandler),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	client.bot = tgBot
	return client, nil
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

func (c *Client) startHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	c.handleStart(ctx, b, update)
}

// handleStart registers the sender, attributes the referral carried in the
// start payload, notifies the referrer on success, and replies with the
// welcome message.
func (c *Client) handleStart(ctx context.Context, sender messageSender, update *models.Update) {
	if update == nil || update.Message == nil || update.Message.From == nil {
		return
	}

	msg := update.Message
	userID := strconv.FormatInt(msg.From.ID, 10)
	displayName := msg.From.Username
	if displayName == "" {
		displayName = msg.From.FirstName
	}

	c.ledger.GetOrCreate(userID, displayName, time.Now())

	referred := false
	if payload := startPayload(msg.Text); payload != "" {
		result, err := c.engine.Attribute(userID, payload)
		if err != nil {
			c.logger.WithFields(logging.Fields{
				"event":       "referral_error",
				"user_id":     userID,
				"referrer_id": payload,
			}).WithError(err).Error("referral attribution failed")
		} else {
			referred = result.Outcome == domain.ReferralAttributed
			if result.Notice != nil {
				c.deliverNotice(ctx, sender, result.Notice)
			}
		}
	}

	_, err := sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: msg.Chat.ID,
		Text:   c.welcomeMessage(userID, referred),
	})
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "welcome_send_error",
			"user_id": userID,
			"chat_id": msg.Chat.ID,
		}).WithError(err).Warn("failed to send welcome message")
	}
}

// deliverNotice sends the referral notification to the referrer. Delivery is
// best effort: a failure never rolls back the attribution.
func (c *Client) deliverNotice(ctx context.Context, sender messageSender, notice *domain.ReferralNotice) {
	chatID, err := strconv.ParseInt(notice.ReferrerID, 10, 64)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":       "notice_chat_id_error",
			"referrer_id": notice.ReferrerID,
		}).WithError(err).Warn("referrer id is not a telegram chat id")
		return
	}

	text := fmt.Sprintf("You referred a new player (%s)! You earned %d coins.", notice.NewUserName, notice.Bonus)
	if _, err := sender.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":       "notice_send_error",
			"referrer_id": notice.ReferrerID,
		}).WithError(err).Warn("failed to notify referrer")
	}
}

func (c *Client) welcomeMessage(userID string, referred bool) string {
	referralLink := fmt.Sprintf("https://t.me/%s?start=%s", c.botUsername, userID)

	if referred {
		return fmt.Sprintf("Welcome to Space Runner! 🚀\nYou joined via a referral and earned %d coins!\n\nGame: %s\nReferral Link: %s\n\nRefer friends to earn %d coins (they get %d coins)!",
			domain.ReferredBonus, c.gameURL, referralLink, domain.ReferrerBonus, domain.ReferredBonus)
	}

	return fmt.Sprintf("Welcome to Space Runner! 🚀\nPlay the game, earn coins, and win SM tokens!\n\nGame: %s\nReferral Link: %s\n\nRefer friends to earn %d coins (they get %d coins)!",
		c.gameURL, referralLink, domain.ReferrerBonus, domain.ReferredBonus)
}

// startPayload extracts the referrer id from "/start <payload>" text.
func startPayload(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) < 2 {
		return ""
	}
	if !strings.HasPrefix(fields[0], "/start") {
		return ""
	}

	return fields[1]
}

type updateMeta struct {
	userID     int64
	chatID     int64
	text       string
	updateType string
}

func defaultHandler(logger *logrus.Entry) bot.HandlerFunc {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		if update == nil {
			return
		}

		meta := extractUpdateMeta(update)

		fields := logging.Fields{
			"event":       "telegram_update",
			"update_type": meta.updateType,
		}

		if meta.text != "" {
			fields["text"] = meta.text
		}
		if meta.userID != 0 {
			fields["user_id"] = meta.userID
		}
		if meta.chatID != 0 {
			fields["chat_id"] = meta.chatID
		}

		logger.WithFields(fields).Info("telegram update received")
	}
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     chatID(&update.Message.Chat),
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
	case update.EditedMessage != nil:
		return updateMeta{
			userID:     userID(update.EditedMessage.From),
			chatID:     chatID(&update.EditedMessage.Chat),
			text:       strings.TrimSpace(update.EditedMessage.Text),
			updateType: "edited_message",
		}
	case update.CallbackQuery != nil:
		return updateMeta{
			userID:     userID(&update.CallbackQuery.From),
			chatID:     messageChatID(update.CallbackQuery.Message),
			text:       strings.TrimSpace(update.CallbackQuery.Data),
			updateType: "callback_query",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}

func chatID(chat *models.Chat) int64 {
	if chat == nil {
		return 0
	}

	return chat.ID
}

func messageChatID(msg models.MaybeInaccessibleMessage) int64 {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return chatID(&msg.Message.Chat)
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return chatID(&msg.InaccessibleMessage.Chat)
	default:
		return 0
	}
}
