package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iamwavecut/ngguard/internal/infra"
	"github.com/iamwavecut/ngguard/internal/observability"
)

const (
	UpdateTimeout = 5 * time.Minute
	queueSize     = 64
	pollRetryMin  = time.Second
	pollRetryMax  = 30 * time.Second
)

type (
	UpdateProcessor struct {
		s              Service
		updateHandlers []Handler
		workers        int
	}

	MessageType string
)

const (
	MessageTypeText      MessageType = "text"
	MessageTypeAnimation MessageType = "animation"
	MessageTypeAudio     MessageType = "audio"
	MessageTypeContact   MessageType = "contact"
	MessageTypeDice      MessageType = "dice"
	MessageTypeDocument  MessageType = "document"
	MessageTypeGame      MessageType = "game"
	MessageTypeInvoice   MessageType = "invoice"
	MessageTypeLocation  MessageType = "location"
	MessageTypePhoto     MessageType = "photo"
	MessageTypePoll      MessageType = "poll"
	MessageTypeSticker   MessageType = "sticker"
	MessageTypeStory     MessageType = "story"
	MessageTypeVenue     MessageType = "venue"
	MessageTypeVideo     MessageType = "video"
	MessageTypeVideoNote MessageType = "video_note"
	MessageTypeVoice     MessageType = "voice"
)

var (
	handlersMu         sync.RWMutex
	registeredHandlers = make(map[string]Handler)
)

func RegisterUpdateHandler(title string, handler Handler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	registeredHandlers[title] = handler
}

// NewUpdateProcessor chains the registered handlers named in enabled, in
// that order. Updates of one chat are always handled by the same worker.
func NewUpdateProcessor(s Service, enabled []string, workers int) *UpdateProcessor {
	handlersMu.RLock()
	defer handlersMu.RUnlock()

	enabledHandlers := make([]Handler, 0, len(enabled))
	for _, handlerName := range enabled {
		handler, ok := registeredHandlers[handlerName]
		if !ok || handler == nil {
			log.Warnf("no registered handler: %s", handlerName)
			continue
		}
		enabledHandlers = append(enabledHandlers, handler)
	}
	if workers <= 0 {
		workers = 1
	}

	return &UpdateProcessor{
		s:              s,
		updateHandlers: enabledHandlers,
		workers:        workers,
	}
}

// Run dispatches updates to the workers until the channel is closed or ctx is
// done, then waits for the queued updates to drain.
func (up *UpdateProcessor) Run(ctx context.Context, updates <-chan api.Update) error {
	queues := make([]chan api.Update, up.workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range queues {
		queue := make(chan api.Update, queueSize)
		queues[i] = queue
		id := fmt.Sprintf("update_worker_%d", i)
		g.Go(func() error {
			for u := range queue {
				err := infra.SafeCall(id, func() error {
					return up.Process(gctx, &u)
				})
				if err != nil {
					log.WithFields(log.Fields{"worker": id, "update_id": u.UpdateID}).
						WithField("error", err.Error()).Error("update processing failed")
				}
			}
			return nil
		})
	}

	drain := func() error {
		for _, queue := range queues {
			close(queue)
		}
		return g.Wait()
	}
	for {
		select {
		case <-ctx.Done():
			_ = drain()
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return drain()
			}
			select {
			case queues[shard(&u, up.workers)] <- u:
			case <-ctx.Done():
				_ = drain()
				return ctx.Err()
			}
		}
	}
}

func shard(u *api.Update, workers int) int {
	var key int64
	if chat := updateChat(u); chat != nil {
		key = chat.ID
	} else if user := updateUser(u); user != nil {
		key = user.ID
	}
	if key < 0 {
		key = -key
	}
	return int(key % int64(workers))
}

func (up *UpdateProcessor) Process(ctx context.Context, u *api.Update) (err error) {
	if u == nil {
		return errors.New("update is nil")
	}

	done := observability.StartUpdateProcessing()
	status := "ok"
	defer func() {
		if err != nil {
			status = "error"
		}
		done(status)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entry := log.WithFields(log.Fields{
		"update_id":      u.UpdateID,
		"correlation_id": uuid.New(),
	})

	var updateTime time.Time
	switch {
	case u.Message != nil:
		updateTime = time.Unix(int64(u.Message.Date), 0)
	case u.EditedMessage != nil:
		updateTime = time.Unix(int64(u.EditedMessage.Date), 0)
	case u.ChannelPost != nil:
		updateTime = time.Unix(int64(u.ChannelPost.Date), 0)
	case u.EditedChannelPost != nil:
		updateTime = time.Unix(int64(u.EditedChannelPost.Date), 0)
	default:
		updateTime = time.Now()
	}

	if time.Since(updateTime) > UpdateTimeout {
		entry.WithFields(log.Fields{
			"update_time": updateTime,
			"age":         time.Since(updateTime),
		}).Debug("Skipping outdated update")
		status = "outdated"
		return nil
	}

	chat := updateChat(u)
	user := updateUser(u)
	if chat != nil {
		entry = entry.WithField("chat_id", chat.ID)
	}

	for _, handler := range up.updateHandlers {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		proceed, err := handler.Handle(ctx, u, chat, user)
		if err != nil {
			entry.WithField("error", err.Error()).Debug("handler failed")
			return errors.WithMessage(err, "handling error")
		}
		if !proceed {
			entry.Trace("not proceeding")
			return nil
		}
	}
	return nil
}

func updateChat(u *api.Update) *api.Chat {
	if chat := u.FromChat(); chat != nil {
		return chat
	}
	switch {
	case u.ChatJoinRequest != nil:
		return &u.ChatJoinRequest.Chat
	case u.MyChatMember != nil:
		return &u.MyChatMember.Chat
	case u.ChatMember != nil:
		return &u.ChatMember.Chat
	}
	return nil
}

func updateUser(u *api.Update) *api.User {
	if user := u.SentFrom(); user != nil {
		return user
	}
	switch {
	case u.ChatJoinRequest != nil:
		return &u.ChatJoinRequest.From
	case u.MyChatMember != nil:
		return &u.MyChatMember.From
	case u.ChatMember != nil:
		return &u.ChatMember.From
	}
	return nil
}

// UpdatesSource is the long-poll endpoint of the Bot API.
type UpdatesSource interface {
	GetUpdates(config api.UpdateConfig) ([]api.Update, error)
}

// PollUpdates long-polls source until ctx is done and then closes the
// returned channel. Failed polls are retried with a growing delay.
func PollUpdates(ctx context.Context, source UpdatesSource, config api.UpdateConfig, buffer int) api.UpdatesChannel {
	ch := make(chan api.Update, buffer)
	entry := log.WithField("object", "UpdatePoller")

	go func() {
		defer close(ch)
		retry := pollRetryMin
		for {
			updates, err := getUpdates(ctx, source, config)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				entry.WithFields(log.Fields{"error": err.Error(), "retry_in": retry.String()}).Warn("failed to get updates")
				select {
				case <-ctx.Done():
					return
				case <-time.After(retry):
				}
				retry = min(retry*2, pollRetryMax)
				continue
			}
			retry = pollRetryMin

			for _, update := range updates {
				if update.UpdateID < config.Offset {
					continue
				}
				config.Offset = update.UpdateID + 1
				select {
				case ch <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch
}

// getUpdates abandons an in-flight long poll once ctx is done.
func getUpdates(ctx context.Context, source UpdatesSource, config api.UpdateConfig) ([]api.Update, error) {
	type result struct {
		updates []api.Update
		err     error
	}
	done := make(chan result, 1)
	go func() {
		updates, err := source.GetUpdates(config)
		done <- result{updates: updates, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.updates, r.err
	}
}

func GetFullName(user *api.User) string {
	if user == nil {
		return ""
	}
	fullName := user.FirstName + " " + user.LastName
	fullName = strings.TrimSpace(fullName)
	if len(fullName) == 0 {
		fullName = user.UserName
	}
	return fullName
}

func ExtractContentFromMessage(msg *api.Message) (content string) {
	var markupContent string
	defer func() {
		content = strings.TrimSpace(content)
		markupContent = strings.TrimSpace(markupContent)
		if markupContent != "" {
			content = strings.TrimSpace(content + " " + markupContent)
		}
	}()

	content = strings.TrimSpace(msg.Text + " " + msg.Caption)

	addMessageType := false
	messageType := GetMessageType(msg)
	switch messageType {
	case MessageTypeAnimation:
		addMessageType = true
	case MessageTypeAudio:
		content += fmt.Sprintf(" [%s] %s", messageType, msg.Audio.Title)
	case MessageTypeContact:
		content += fmt.Sprintf(" [%s] %s", messageType, msg.Contact.PhoneNumber)
	case MessageTypeDice:
		content += fmt.Sprintf(" [%s] %s (%d)", messageType, msg.Dice.Emoji, msg.Dice.Value)
	case MessageTypeDocument:
		addMessageType = true
	case MessageTypeGame:
		content += fmt.Sprintf(" [%s] %s %s", messageType, msg.Game.Title, msg.Game.Description)
	case MessageTypeInvoice:
		content += fmt.Sprintf(" [%s] %s %s", messageType, msg.Invoice.Title, msg.Invoice.Description)
	case MessageTypeLocation:
		content += fmt.Sprintf(" [%s] %f,%f", messageType, msg.Location.Latitude, msg.Location.Longitude)
	case MessageTypePoll:
		content += fmt.Sprintf(" [%s] %s", messageType, msg.Poll.Question)
	case MessageTypeStory:
		addMessageType = true
	case MessageTypeVenue:
		content += fmt.Sprintf(" [%s] %s %s", messageType, msg.Venue.Title, msg.Venue.Address)
	case MessageTypeVideo:
		addMessageType = true
	case MessageTypeVideoNote:
		addMessageType = true
	case MessageTypeVoice:
		addMessageType = true
	}
	if addMessageType {
		content += fmt.Sprintf(" [%s]", messageType)
	}

	if msg.ReplyMarkup != nil {
		var buttonTexts []string
		for _, row := range msg.ReplyMarkup.InlineKeyboard {
			for _, button := range row {
				if button.Text != "" {
					buttonTexts = append(buttonTexts, button.Text)
				}
			}
		}
		if len(buttonTexts) > 0 {
			markupContent = strings.Join(buttonTexts, " ")
		}
	}

	return content
}

func GetMessageType(msg *api.Message) MessageType {
	switch {
	case msg.Animation != nil:
		return MessageTypeAnimation
	case msg.Audio != nil:
		return MessageTypeAudio
	case msg.Contact != nil:
		return MessageTypeContact
	case msg.Dice != nil:
		return MessageTypeDice
	case msg.Document != nil:
		return MessageTypeDocument
	case msg.Game != nil:
		return MessageTypeGame
	case msg.Invoice != nil:
		return MessageTypeInvoice
	case msg.Location != nil:
		return MessageTypeLocation
	case msg.Photo != nil:
		return MessageTypePhoto
	case msg.Poll != nil:
		return MessageTypePoll
	case msg.Sticker != nil:
		return MessageTypeSticker
	case msg.Story != nil:
		return MessageTypeStory
	case msg.Venue != nil:
		return MessageTypeVenue
	case msg.Video != nil:
		return MessageTypeVideo
	case msg.VideoNote != nil:
		return MessageTypeVideoNote
	case msg.Voice != nil:
		return MessageTypeVoice
	default:
		return MessageTypeText
	}
}
