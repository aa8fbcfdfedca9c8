package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/nadezhda-zhivchikova/erika-advent/internal/delivery"
	"github.com/nadezhda-zhivchikova/erika-advent/internal/domain"
)

func (r *Router) sendText(chatID int64, text string) {
	if _, err := r.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.log.Warn("send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) answerCallback(id string) {
	if _, err := r.bot.Request(tgbotapi.NewCallback(id, "")); err != nil {
		r.log.Warn("answer callback failed", zap.Error(err))
	}
}

func (r *Router) editText(chatID int64, msgID int, text string) {
	if _, err := r.bot.Send(tgbotapi.NewEditMessageText(chatID, msgID, text)); err != nil {
		r.log.Warn("edit failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) editTextAndMarkup(chatID int64, msgID int, text string, kb tgbotapi.InlineKeyboardMarkup) {
	if _, err := r.bot.Send(tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, text, kb)); err != nil {
		r.log.Warn("edit failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// parsePickedDay extracts N from "<prefix>_<N>" callback data.
func parsePickedDay(data string) (int, error) {
	_, dayStr, ok := strings.Cut(data, "_")
	if !ok {
		return 0, fmt.Errorf("malformed callback data %q", data)
	}
	return strconv.Atoi(dayStr)
}

// adventYear picks the December the selection refers to: the current one
// while it lasts, otherwise the next.
func adventYear(today time.Time) int {
	if today.Month() == time.December {
		return today.Year()
	}
	return today.Year() + 1
}

func (r *Router) handleStart(chatID int64) {
	r.clearPending(chatID)
	msg := tgbotapi.NewMessage(chatID, startText)
	msg.ReplyMarkup = startDaysKeyboard()
	if _, err := r.bot.Send(msg); err != nil {
		r.log.Warn("send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) handleStartPick(cbID string, chatID int64, msgID int, data string) {
	r.answerCallback(cbID)

	day, err := parsePickedDay(data)
	if err != nil {
		r.log.Warn("bad start callback", zap.String("data", data), zap.Error(err))
		return
	}

	today := r.clock.Today(time.Now())
	start := time.Date(adventYear(today), time.December, day, 0, 0, 0, 0, time.UTC)
	r.setPending(chatID, start)

	r.editTextAndMarkup(chatID, msgID, fmt.Sprintf(pickEndFmt, r.clock), endDaysKeyboard())
}

func (r *Router) handleEndPick(ctx context.Context, cbID string, chatID int64, msgID int, data string) {
	r.answerCallback(cbID)

	day, err := parsePickedDay(data)
	if err != nil {
		r.log.Warn("bad end callback", zap.String("data", data), zap.Error(err))
		return
	}

	start, ok := r.getPending(chatID)
	if !ok {
		r.sendText(chatID, selectionLostText)
		return
	}
	end := time.Date(start.Year(), time.December, day, 0, 0, 0, 0, time.UTC)

	_, err = r.delivery.CreatePlan(ctx, chatID, start, end)
	switch {
	case errors.Is(err, domain.ErrEndBeforeStart):
		// Keep the pending start, only the end needs re-picking.
		r.editTextAndMarkup(chatID, msgID, endBeforeStartText, endDaysKeyboard())
		return
	case errors.Is(err, domain.ErrWindowFinished):
		r.clearPending(chatID)
		r.editTextAndMarkup(chatID, msgID, windowFinishedText, startDaysKeyboard())
		return
	case err != nil:
		r.log.Error("create plan failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, errorText)
		return
	}

	r.clearPending(chatID)
	r.editText(chatID, msgID, planReadyText)
}

func (r *Router) handleGift(ctx context.Context, chatID int64) {
	status, err := r.delivery.OnDemand(ctx, chatID)
	if err != nil {
		r.log.Error("on-demand delivery failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	if status == delivery.StatusNotConfigured {
		r.sendText(chatID, notConfiguredText)
	}
}

func (r *Router) handleHelp(chatID int64) {
	r.sendText(chatID, helpText)
}

func (r *Router) handleTime(chatID int64) {
	now := time.Now().In(r.clock.Loc).Format("15:04")
	r.sendText(chatID, fmt.Sprintf(timeFmt, now, r.clock.Loc))
}

func (r *Router) handleSubscribers(ctx context.Context, chatID int64) {
	n, err := r.repo.Count(ctx)
	if err != nil {
		r.log.Error("count failed", zap.Error(err))
		r.sendText(chatID, errorText)
		return
	}
	r.sendText(chatID, fmt.Sprintf(subscribersFmt, n))
}

func (r *Router) handleCancel(chatID int64) {
	r.clearPending(chatID)
	r.sendText(chatID, cancelText)
}
