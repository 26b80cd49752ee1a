package delivery

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"triptimer/internal/trips"
	logx "triptimer/pkg/logx"
)

type TelegramConfig struct {
	Token      string
	Timeout    time.Duration
	RatePerSec int
	// APIURL overrides the Bot API endpoint; empty uses the public one.
	APIURL string
}

// Telegram delivers notifications as bot messages. The target endpoint is the
// chat id.
type Telegram struct {
	bot     *tele.Bot
	log     logx.Logger
	limiter *rate.Limiter
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:     b,
		log:     log.With(logx.String("comp", "telegram")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}, nil
}

func (t *Telegram) Send(ctx context.Context, target trips.Target, p Payload) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(target.Endpoint), 10, 64)
	if err != nil {
		return Permanent(fmt.Errorf("telegram: invalid chat id %q", target.Endpoint))
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = t.bot.Send(&tele.Chat{ID: chatID}, renderTelegram(p), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return classifyTelegramErr(err)
	}
	return nil
}

func renderTelegram(p Payload) string {
	var b strings.Builder
	if p.Title != "" {
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(p.Title))
		b.WriteString("</b>\n")
	}
	b.WriteString(html.EscapeString(p.Body))
	return b.String()
}

// classifyTelegramErr treats a chat the bot can no longer reach as a dead target.
func classifyTelegramErr(err error) error {
	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrKickedFromGroup):
		return Permanent(fmt.Errorf("telegram: %w", err))
	}
	return fmt.Errorf("telegram: %w", err)
}
