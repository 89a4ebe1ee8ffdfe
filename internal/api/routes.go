package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spottrader/internal/api/handlers"
	"spottrader/internal/api/middleware"
	"spottrader/internal/bot"
	"spottrader/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Router              handlers.IntentHandler
	Positions           handlers.PositionLister
	Pending             handlers.PendingLister
	Prices              handlers.PriceReader
	Balances            bot.BalanceReader
	ExchangeService     handlers.ExchangeServiceInterface
	RuleService         handlers.RuleServiceInterface
	OwnerService        handlers.OwnerServiceInterface
	StatsService        handlers.StatsServiceInterface
	SettingsService     handlers.SettingsServiceInterface
	NotificationService handlers.NotificationServiceInterface
	Hub                 *websocket.Hub

	APIToken       string
	AllowedOrigins []string
	FeeRate        float64
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
//	/api/webhook          POST   сигнал внешней системы (свой секрет, без токена)
//	/api/owners           POST   регистрация владельца
//	/api/owners/me        GET    текущий владелец
//	/api/owners/me/secret PUT    новый секрет вебхука
//	/api/owners/me/paper  PUT    демо или реальная торговля
//	/api/positions        GET    стеки лотов
//	/api/positions/buy    POST   ручная покупка
//	/api/positions/sell   POST   ручная продажа
//	/api/positions/pending GET   отложенные продажи
//	/api/rules            GET/PUT/DELETE
//	/api/exchanges        GET    биржи и статус подключения
//	/api/exchanges/{name}/connect POST
//	/api/exchanges/{name} DELETE
//	/api/exchanges/{name}/balance GET
//	/api/gate             GET    решение фильтра
//	/api/gate/mode        PUT    режим фильтра
//	/api/settings         GET
//	/api/trades           GET
//	/api/trades/summary   GET
//	/api/notifications    GET/DELETE
//	/ws                   WebSocket поток владельца
//	/metrics              Prometheus
//	/health
//
// Middleware применяется в следующем порядке:
// 1. Recovery, Logging - для всех маршрутов
// 2. APIToken - для UI маршрутов и /ws
// CORS оборачивает весь роутер в NewHandler.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)

	// Вебхук вне защищённой группы: аутентификация по секрету в теле
	if deps.Router != nil {
		webhookHandler := handlers.NewWebhookHandler(deps.Router)
		router.HandleFunc("/api/webhook", webhookHandler.Handle).Methods(http.MethodPost)
	}

	auth := middleware.APIToken(deps.APIToken)
	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth)

	if deps.OwnerService != nil {
		h := handlers.NewOwnerHandler(deps.OwnerService)
		api.HandleFunc("/owners", h.Register).Methods(http.MethodPost)
		api.HandleFunc("/owners/me", h.GetOwner).Methods(http.MethodGet)
		api.HandleFunc("/owners/me/secret", h.RotateSecret).Methods(http.MethodPut)
		api.HandleFunc("/owners/me/paper", h.SetPaperMode).Methods(http.MethodPut)
	}

	if deps.Positions != nil && deps.Router != nil {
		h := handlers.NewPositionHandler(deps.Positions, deps.Pending, deps.Router, deps.Prices, deps.FeeRate)
		api.HandleFunc("/positions", h.GetPositions).Methods(http.MethodGet)
		api.HandleFunc("/positions/buy", h.Buy).Methods(http.MethodPost)
		api.HandleFunc("/positions/sell", h.Sell).Methods(http.MethodPost)
		api.HandleFunc("/positions/pending", h.GetPending).Methods(http.MethodGet)
	}

	if deps.RuleService != nil {
		h := handlers.NewRuleHandler(deps.RuleService)
		api.HandleFunc("/rules", h.GetRules).Methods(http.MethodGet)
		api.HandleFunc("/rules", h.SaveRule).Methods(http.MethodPut)
		api.HandleFunc("/rules", h.DeleteRule).Methods(http.MethodDelete)
	}

	if deps.ExchangeService != nil {
		h := handlers.NewExchangeHandler(deps.ExchangeService, deps.Balances)
		api.HandleFunc("/exchanges", h.GetExchanges).Methods(http.MethodGet)
		api.HandleFunc("/exchanges/{name}/connect", h.ConnectExchange).Methods(http.MethodPost)
		api.HandleFunc("/exchanges/{name}", h.DisconnectExchange).Methods(http.MethodDelete)
		api.HandleFunc("/exchanges/{name}/balance", h.GetExchangeBalance).Methods(http.MethodGet)
	}

	if deps.SettingsService != nil {
		h := handlers.NewSettingsHandler(deps.SettingsService)
		api.HandleFunc("/gate", h.GetGate).Methods(http.MethodGet)
		api.HandleFunc("/gate/mode", h.SetGateMode).Methods(http.MethodPut)
		api.HandleFunc("/settings", h.GetSettings).Methods(http.MethodGet)
	}

	if deps.StatsService != nil {
		h := handlers.NewStatsHandler(deps.StatsService)
		api.HandleFunc("/trades", h.GetTrades).Methods(http.MethodGet)
		api.HandleFunc("/trades/summary", h.GetSummary).Methods(http.MethodGet)
	}

	if deps.NotificationService != nil {
		h := handlers.NewNotificationHandler(deps.NotificationService)
		api.HandleFunc("/notifications", h.GetNotifications).Methods(http.MethodGet)
		api.HandleFunc("/notifications", h.ClearNotifications).Methods(http.MethodDelete)
	}

	if deps.Hub != nil {
		hub := deps.Hub
		ws := auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		}))
		router.Handle("/ws", ws).Methods(http.MethodGet)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	return router
}

// NewHandler - роутер, обёрнутый в CORS. Preflight OPTIONS обрабатывается
// до маршрутизации: mux не вызывает middleware для несовпавших методов.
func NewHandler(deps *Dependencies) http.Handler {
	return middleware.CORS(deps.AllowedOrigins)(SetupRoutes(deps))
}
