package telegram

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/nadezhda-zhivchikova/erika-advent/internal/delivery"
	"github.com/nadezhda-zhivchikova/erika-advent/internal/domain"
	"github.com/nadezhda-zhivchikova/erika-advent/internal/store"
)

// Sender adapts the bot API to the delivery service's transport interface.
type Sender struct{ bot *tgbotapi.BotAPI }

// NewSender wraps a bot API client.
func NewSender(bot *tgbotapi.BotAPI) *Sender { return &Sender{bot: bot} }

// SendMessage sends a plain text message to the given chat.
func (s *Sender) SendMessage(chatID int64, text string) error {
	_, err := s.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// Router wires Telegram updates to handlers. The only state it holds is
// the in-flight date selection per chat (start picked, end pending);
// everything durable lives behind the delivery service.
type Router struct {
	bot      *tgbotapi.BotAPI
	log      *zap.Logger
	repo     store.Repo
	delivery *delivery.Service
	clock    domain.DeliveryClock

	mu      sync.RWMutex
	pending map[int64]time.Time // chatID -> chosen start date
}

// NewRouter creates a Telegram router.
func NewRouter(bot *tgbotapi.BotAPI, log *zap.Logger, repo store.Repo, svc *delivery.Service, clock domain.DeliveryClock) *Router {
	return &Router{
		bot:      bot,
		log:      log,
		repo:     repo,
		delivery: svc,
		clock:    clock,
		pending:  make(map[int64]time.Time),
	}
}

func (r *Router) setPending(chatID int64, start time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[chatID] = start
}

func (r *Router) getPending(chatID int64) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	start, ok := r.pending[chatID]
	return start, ok
}

func (r *Router) clearPending(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, chatID)
}

// HandleUpdate routes a single update to the appropriate handler. A panic
// in a handler is logged and swallowed; one bad update must not take the
// process down.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler panic", zap.Any("panic", rec))
		}
	}()

	if upd.Message != nil {
		msg := upd.Message
		chatID := msg.Chat.ID
		text := strings.TrimSpace(msg.Text)

		switch {
		case strings.HasPrefix(text, "/start"):
			r.handleStart(chatID)
		case strings.HasPrefix(text, "/gift"):
			r.handleGift(ctx, chatID)
		case strings.HasPrefix(text, "/help"):
			r.handleHelp(chatID)
		case strings.HasPrefix(text, "/time"):
			r.handleTime(chatID)
		// "/suscribers" is a typo alias kept for muscle memory.
		case strings.HasPrefix(text, "/subscribers"), strings.HasPrefix(text, "/suscribers"):
			r.handleSubscribers(ctx, chatID)
		case strings.HasPrefix(text, "/cancel"):
			r.handleCancel(chatID)
		default:
			r.log.Debug("ignoring message", zap.Int64("chat_id", chatID))
		}
		return
	}

	if upd.CallbackQuery != nil {
		cb := upd.CallbackQuery
		if cb.Message == nil {
			return
		}
		data := cb.Data
		chatID := cb.Message.Chat.ID
		msgID := cb.Message.MessageID

		switch {
		case strings.HasPrefix(data, startPickPrefix+"_"):
			r.handleStartPick(cb.ID, chatID, msgID, data)
		case strings.HasPrefix(data, endPickPrefix+"_"):
			r.handleEndPick(ctx, cb.ID, chatID, msgID, data)
		default:
			r.log.Debug("unknown callback", zap.String("data", data))
		}
		return
	}
}
