// Package telegram delivers the booking dialogue over Telegram long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dennisukpong/transport-booking/internal/engine"
	"github.com/dennisukpong/transport-booking/internal/session"
	"github.com/dennisukpong/transport-booking/internal/transport"
)

// handlePrefix marks user handles that belong to Telegram chats.
const handlePrefix = "tg:"

// ErrForeignHandle is returned by Notify for users of another transport.
var ErrForeignHandle = errors.New("not a telegram user handle")

type telegramClient interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	SelfUser() tgbotapi.User
}

type realTelegramClient struct {
	api *tgbotapi.BotAPI
}

func (c *realTelegramClient) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	return c.api.Send(msg)
}

func (c *realTelegramClient) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return c.api.GetUpdatesChan(cfg)
}

func (c *realTelegramClient) StopReceivingUpdates() {
	c.api.StopReceivingUpdates()
}

func (c *realTelegramClient) SelfUser() tgbotapi.User {
	return c.api.Self
}

// MessageHandler answers one inbound message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, userID, text string) (engine.Result, error)
}

// Bot relays chat messages to the dialogue engine and sends back its replies.
type Bot struct {
	tg        telegramClient
	handler   MessageHandler
	throttle  *transport.Throttle
	throttled string
	logger    *zerolog.Logger
}

var (
	mainMenu = tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("Book"),
			tgbotapi.NewKeyboardButton("My bookings"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("Help"),
		),
	)

	reviewMenu = func() tgbotapi.ReplyKeyboardMarkup {
		kb := tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("Yes"),
				tgbotapi.NewKeyboardButton("No"),
			),
		)
		kb.OneTimeKeyboard = true
		return kb
	}()
)

func New(token string, debug bool, handler MessageHandler, throttle *transport.Throttle, throttledReply string, logger *zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = debug
	return newBot(&realTelegramClient{api: api}, handler, throttle, throttledReply, logger)
}

// NewWithTelegramClient allows injecting a mocked Telegram client for tests.
func NewWithTelegramClient(tg telegramClient, handler MessageHandler, throttle *transport.Throttle, throttledReply string, logger *zerolog.Logger) (*Bot, error) {
	return newBot(tg, handler, throttle, throttledReply, logger)
}

func newBot(tg telegramClient, handler MessageHandler, throttle *transport.Throttle, throttledReply string, logger *zerolog.Logger) (*Bot, error) {
	if tg == nil {
		return nil, fmt.Errorf("telegram client is nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("message handler is nil")
	}
	return &Bot{
		tg:        tg,
		handler:   handler,
		throttle:  throttle,
		throttled: throttledReply,
		logger:    logger,
	}, nil
}

// Handle returns the user handle of a Telegram chat.
func Handle(chatID int64) string {
	return handlePrefix + strconv.FormatInt(chatID, 10)
}

// ChatID extracts the chat id from a handle produced by Handle.
func ChatID(handle string) (int64, bool) {
	rest, ok := strings.CutPrefix(handle, handlePrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Start polls updates until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.tg.GetUpdatesChan(u)
	b.logger.Info().Str("username", b.tg.SelfUser().UserName).Msg("Telegram bot authorized")

	for {
		select {
		case <-ctx.Done():
			b.tg.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			requestID := uuid.New().String()
			l := b.logger.With().Str("request_id", requestID).Logger()
			b.handleUpdate(l.WithContext(ctx), &update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	l := zerolog.Ctx(ctx)
	handle := Handle(msg.Chat.ID)
	l.Debug().Str("user_id", handle).Str("text", msg.Text).Msg("Handling message")

	if !b.throttle.Allow(handle) {
		l.Warn().Str("user_id", handle).Msg("Message throttled")
		if b.throttled != "" {
			b.send(ctx, msg.Chat.ID, b.throttled, nil)
		}
		return
	}

	res, err := b.handler.HandleMessage(ctx, handle, msg.Text)
	if err != nil {
		l.Error().Err(err).Str("user_id", handle).Msg("Message handling failed")
	}
	if res.Reply == "" {
		return
	}
	b.send(ctx, msg.Chat.ID, res.Reply, keyboardFor(res.Step))
}

func keyboardFor(step session.Step) interface{} {
	switch step {
	case session.StepWelcome, session.StepMainMenu:
		return mainMenu
	case session.StepReviewBooking:
		return reviewMenu
	}
	return nil
}

// send tries Markdown first and falls back to plain text, since payment URLs
// may contain characters Telegram rejects as broken entities.
func (b *Bot) send(ctx context.Context, chatID int64, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.tg.Send(msg); err == nil {
		return
	}

	msg.ParseMode = ""
	if _, err := b.tg.Send(msg); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

// Notify sends an unsolicited message to a Telegram user handle.
func (b *Bot) Notify(ctx context.Context, userID, text string) error {
	chatID, ok := ChatID(userID)
	if !ok {
		return fmt.Errorf("%s: %w", userID, ErrForeignHandle)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = mainMenu
	if _, err := b.tg.Send(msg); err != nil {
		msg.ParseMode = ""
		if _, err = b.tg.Send(msg); err != nil {
			return fmt.Errorf("notify %s: %w", userID, err)
		}
	}
	return nil
}
