package websocket

import (
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"spottrader/internal/bot"
	"spottrader/internal/models"
	"spottrader/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// broadcastBufferSize - ёмкость очереди рассылки
const broadcastBufferSize = 256

// envelope - сериализованное сообщение и его адресат ("" - все клиенты)
type envelope struct {
	owner string
	data  []byte
}

// Hub управляет всеми активными WebSocket соединениями
//
// Состояние фильтра рассылается всем клиентам, уведомления только
// клиентам их владельца. Broadcast не блокирует вызывающего: при
// переполненной очереди сообщение отбрасывается и учитывается в счётчике.
//
// Использование:
// 1. Создать hub: hub := NewHub(origins)
// 2. Запустить в горутине: go hub.Run()
// 3. Отправлять сообщения: hub.BroadcastNotification(n)
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений
	broadcast chan envelope

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once

	// Отброшенные из-за переполнения сообщения
	dropped atomic.Int64

	origins *OriginChecker
	log     *utils.Logger

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex
}

// NewHub создает новый Hub. Пустой список origins или "*" - разрешены все.
func NewHub(allowedOrigins []string) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		origins:    NewOriginChecker(allowedOrigins),
		log:        utils.L().WithComponent("ws_hub"),
	}
}

// Run запускает главный цикл Hub до вызова Stop.
// Должен запускаться в отдельной горутине: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", utils.Owner(client.owner), utils.Int("clients", total))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop останавливает Run и закрывает все соединения
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("client disconnected", utils.Owner(client.owner), utils.Int("clients", total))
}

// deliver копирует список адресатов под коротким RLock и отправляет без блокировки;
// клиенты с переполненным буфером отключаются
func (h *Hub) deliver(msg envelope) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if msg.owner == "" || client.owner == msg.owner {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range targets {
		select {
		case client.send <- msg.data:
		default:
			slow = append(slow, client)
		}
	}

	if len(slow) > 0 {
		for _, client := range slow {
			h.remove(client)
		}
		h.log.Warn("removed slow clients", utils.Int("count", len(slow)))
	}
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки
func (h *Hub) Broadcast(owner string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("failed to marshal broadcast message", utils.Err(err))
		return
	}

	select {
	case h.broadcast <- envelope{owner: owner, data: data}:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastGateState рассылает состояние фильтра всем клиентам
func (h *Hub) BroadcastGateState(state models.GateState) {
	h.Broadcast("", NewGateStateMessage(state, bot.ModeInfo(state.Mode)))
}

// BroadcastNotification отправляет уведомление клиентам владельца
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	if notif == nil {
		return
	}
	h.Broadcast(notif.Owner, NewNotificationMessage(notif))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
