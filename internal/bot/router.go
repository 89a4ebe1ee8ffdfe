package bot

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"spottrader/internal/config"
	"spottrader/internal/exchange"
	"spottrader/internal/models"
	"spottrader/pkg/crypto"
	"spottrader/pkg/utils"
)

// Ошибки маршрутизации намерений (обработчик переводит их в HTTP статусы)
var (
	ErrUnknownOwner  = errors.New("unknown owner")
	ErrUnauthorized  = errors.New("invalid webhook secret")
	ErrInvalidIntent = errors.New("invalid trade intent")
	ErrNoRule        = errors.New("no enabled automation rule")
)

// Источник намерения
const (
	SourceWebhook = "webhook"
	SourceManual  = "manual"
)

// OwnerDirectory - справочник владельцев. Неизвестный владелец - (nil, nil).
type OwnerDirectory interface {
	GetOwner(id string) (*models.Owner, error)
}

// RuleStore - правила автоматической покупки. Нет правила - (nil, nil).
type RuleStore interface {
	Get(owner, exchangeName, symbol string) (*models.AutomationRule, error)
}

// BalanceReader читает свободный баланс валюты на бирже владельца
type BalanceReader interface {
	Balance(ctx context.Context, exchangeName string, creds exchange.Credentials, currency string) (float64, error)
}

// ExitRequester - очередь отложенных продаж с точки зрения маршрутизатора
type ExitRequester interface {
	RequestExit(ctx context.Context, key models.DeferredKey, isPaper bool, reason string) (*ExitDecision, error)
	Remove(key models.DeferredKey)
}

// GateReader - текущее решение фильтра
type GateReader interface {
	State() models.GateState
}

// Ledger - учёт позиций с точки зрения маршрутизатора
type Ledger interface {
	GroupCloser
	AddLot(owner, exchangeName, symbol string, fill models.FillResult) (*models.Lot, error)
}

// WebhookIntent - тело входящего вебхука
type WebhookIntent struct {
	Owner      string `json:"owner"`
	Action     string `json:"action"`
	Instrument string `json:"instrument"`
	Exchange   string `json:"exchange,omitempty"`
	Secret     string `json:"secret"`
}

// IntentResult - ответ на намерение
type IntentResult struct {
	OK       bool               `json:"ok"`
	Action   string             `json:"action,omitempty"`
	Blocked  bool               `json:"blocked,omitempty"`
	Deferred bool               `json:"deferred,omitempty"`
	Outcome  string             `json:"outcome,omitempty"`
	Fill     *models.FillResult `json:"fill,omitempty"`
	Pnl      *float64           `json:"pnl,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

// intent - проверенное намерение
type intent struct {
	owner     *models.Owner
	action    string
	exchange  string
	symbol    string
	amount    float64 // только для ручной покупки
	automated bool
	source    string
}

func (in *intent) key() models.DeferredKey {
	return models.DeferredKey{Owner: in.owner.ID, Exchange: in.exchange, Symbol: in.symbol}
}

// IntentRouter - синхронная обработка намерений (вебхук и ручные действия).
//
// Автоматический BUY проходит через фильтр и правило владельца;
// SELL после недавнего BUY по тому же ключу ждёт окончания окна debounce.
type IntentRouter struct {
	owners   OwnerDirectory
	rules    RuleStore
	creds    CredentialProvider
	balances BalanceReader
	orders   OrderPlacer
	ledger   Ledger
	exits    ExitRequester
	gate     GateReader
	notifier Notifier
	cfg      config.TradingConfig

	// Общий секрет вебхука для владельцев без собственного
	globalSecret string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	log   *utils.Logger

	mu      sync.Mutex
	lastBuy map[models.DeferredKey]time.Time
}

// RouterDeps - зависимости маршрутизатора
type RouterDeps struct {
	Owners       OwnerDirectory
	Rules        RuleStore
	Credentials  CredentialProvider
	Balances     BalanceReader
	Orders       OrderPlacer
	Ledger       Ledger
	Exits        ExitRequester
	Gate         GateReader
	Notifier     Notifier
	GlobalSecret string
}

// NewIntentRouter создаёт маршрутизатор
func NewIntentRouter(deps RouterDeps, cfg config.TradingConfig) *IntentRouter {
	return &IntentRouter{
		owners:       deps.Owners,
		rules:        deps.Rules,
		creds:        deps.Credentials,
		balances:     deps.Balances,
		orders:       deps.Orders,
		ledger:       deps.Ledger,
		exits:        deps.Exits,
		gate:         deps.Gate,
		notifier:     deps.Notifier,
		cfg:          cfg,
		globalSecret: deps.GlobalSecret,
		now:          time.Now,
		sleep:        sleepCtx,
		log:          utils.L().WithComponent("router"),
		lastBuy:      make(map[models.DeferredKey]time.Time),
	}
}

// HandleWebhook проверяет владельца и секрет, затем исполняет намерение как автоматическое
func (r *IntentRouter) HandleWebhook(ctx context.Context, w WebhookIntent) (*IntentResult, error) {
	owner, err := r.lookupOwner(w.Owner)
	if err != nil {
		return nil, err
	}
	if !r.secretMatches(owner, w.Secret) {
		RecordIntent(SourceWebhook, strings.ToUpper(w.Action), "unauthorized")
		return nil, ErrUnauthorized
	}

	in, err := r.parse(owner, w.Action, w.Instrument, w.Exchange)
	if err != nil {
		RecordIntent(SourceWebhook, strings.ToUpper(w.Action), "invalid")
		return nil, err
	}
	in.automated = true
	in.source = SourceWebhook
	return r.dispatch(ctx, in)
}

// ManualBuy - покупка из UI на сумму amount в котируемой валюте
func (r *IntentRouter) ManualBuy(ctx context.Context, ownerID, exchangeName, symbol string, amount float64) (*IntentResult, error) {
	owner, err := r.lookupOwner(ownerID)
	if err != nil {
		return nil, err
	}
	in, err := r.parse(owner, models.ActionBuy, symbol, exchangeName)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	in.amount = amount
	in.source = SourceManual
	return r.dispatch(ctx, in)
}

// ManualSell - продажа всей группы из UI, без откладывания
func (r *IntentRouter) ManualSell(ctx context.Context, ownerID, exchangeName, symbol string) (*IntentResult, error) {
	owner, err := r.lookupOwner(ownerID)
	if err != nil {
		return nil, err
	}
	in, err := r.parse(owner, models.ActionSell, symbol, exchangeName)
	if err != nil {
		return nil, err
	}
	in.source = SourceManual
	return r.dispatch(ctx, in)
}

func (r *IntentRouter) lookupOwner(id string) (*models.Owner, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidIntent)
	}
	owner, err := r.owners.GetOwner(id)
	if err != nil {
		return nil, fmt.Errorf("lookup owner: %w", err)
	}
	if owner == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOwner, id)
	}
	return owner, nil
}

// secretMatches - секрет совпадает с bcrypt хэшем владельца или с общим секретом
func (r *IntentRouter) secretMatches(owner *models.Owner, secret string) bool {
	if secret == "" {
		return false
	}
	if owner.WebhookSecretHash != "" && crypto.SecretMatches(secret, owner.WebhookSecretHash) {
		return true
	}
	return r.globalSecret != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(r.globalSecret)) == 1
}

func (r *IntentRouter) parse(owner *models.Owner, action, symbol, exchangeName string) (*intent, error) {
	action, err := utils.NormalizeAction(action)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	symbol, err = utils.NormalizeSymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	exchangeName = strings.ToLower(strings.TrimSpace(exchangeName))
	if exchangeName == "" {
		exchangeName = r.cfg.DefaultExchange
	}
	if !exchange.IsSupported(exchangeName) {
		return nil, fmt.Errorf("%w: unsupported exchange %q", ErrInvalidIntent, exchangeName)
	}
	return &intent{owner: owner, action: action, exchange: exchangeName, symbol: symbol}, nil
}

func (r *IntentRouter) dispatch(ctx context.Context, in *intent) (*IntentResult, error) {
	var (
		res *IntentResult
		err error
	)
	if in.action == models.ActionBuy {
		res, err = r.buy(ctx, in)
	} else {
		res, err = r.sell(ctx, in)
	}

	outcome := "error"
	switch {
	case err != nil:
	case res.Blocked:
		outcome = "blocked"
	case res.Deferred:
		outcome = "deferred"
	case res.OK:
		outcome = "ok"
	default:
		outcome = "failed"
	}
	RecordIntent(in.source, in.action, outcome)
	return res, err
}

func (r *IntentRouter) credentials(in *intent) (exchange.Credentials, error) {
	if in.owner.PaperMode {
		return exchange.Credentials{}, nil
	}
	return r.creds.GetCredentials(in.owner.ID, in.exchange)
}

func (r *IntentRouter) buy(ctx context.Context, in *intent) (*IntentResult, error) {
	log := r.log.With(utils.Owner(in.owner.ID), utils.Exchange(in.exchange), utils.Symbol(in.symbol))

	if in.automated {
		if state := r.gate.State(); !state.Allow {
			log.Info("automated buy blocked by gate", utils.Reason(state.Reason))
			r.notify(in.owner.ID, models.NotificationTypeBlocked, models.SeverityWarn,
				fmt.Sprintf("Покупка %s заблокирована фильтром: %s", in.symbol, state.Reason), nil)
			return &IntentResult{OK: false, Action: in.action, Blocked: true, Reason: state.Reason}, nil
		}
	}

	creds, err := r.credentials(in)
	if err != nil {
		return r.failed(in, fmt.Sprintf("credentials: %v", err)), nil
	}

	amount := in.amount
	if in.automated {
		if amount, err = r.ruleAmount(ctx, in, creds); err != nil {
			if errors.Is(err, ErrNoRule) {
				return &IntentResult{OK: false, Action: in.action, Reason: err.Error()}, nil
			}
			return r.failed(in, err.Error()), nil
		}
	}

	fill := r.orders.PlaceOrder(ctx, OrderRequest{
		Exchange:    in.exchange,
		Action:      models.ActionBuy,
		Symbol:      in.symbol,
		Amount:      amount,
		IsPaper:     in.owner.PaperMode,
		Credentials: creds,
	})
	if !fill.OK {
		return r.failed(in, fill.Reason), nil
	}

	if _, err := r.ledger.AddLot(in.owner.ID, in.exchange, in.symbol, fill); err != nil {
		// Ордер исполнен на бирже, но лот не записан: нужна ручная сверка
		log.Error("filled buy not recorded", utils.OrderID(fill.OrderID), utils.Err(err))
		r.notify(in.owner.ID, models.NotificationTypeError, models.SeverityError,
			fmt.Sprintf("Покупка %s исполнена (ордер %s), но не записана в учёт", in.symbol, fill.OrderID), nil)
		return nil, fmt.Errorf("record lot: %w", err)
	}

	r.mu.Lock()
	r.lastBuy[in.key()] = r.now()
	r.mu.Unlock()

	r.notify(in.owner.ID, models.NotificationTypeFill, models.SeverityInfo,
		fmt.Sprintf("Куплено %.8f %s по %.4f на %s", fill.Quantity, in.symbol, fill.Price, in.exchange),
		map[string]interface{}{
			"exchange": in.exchange,
			"symbol":   in.symbol,
			"price":    fill.Price,
			"quantity": fill.Quantity,
			"paper":    fill.IsPaper,
		})
	return &IntentResult{OK: true, Action: in.action, Fill: &fill}, nil
}

// ruleAmount - сумма покупки по правилу владельца
func (r *IntentRouter) ruleAmount(ctx context.Context, in *intent, creds exchange.Credentials) (float64, error) {
	rule, err := r.rules.Get(in.owner.ID, in.exchange, in.symbol)
	if err != nil {
		return 0, fmt.Errorf("load rule: %w", err)
	}
	if rule == nil || !rule.Enabled {
		return 0, fmt.Errorf("%w for %s on %s", ErrNoRule, in.symbol, in.exchange)
	}
	if !rule.UsesFullBalance() {
		return rule.Amount, nil
	}

	if in.owner.PaperMode {
		return r.cfg.PaperBalance, nil
	}
	_, quote, _ := utils.ParseSymbol(in.symbol)
	balance, err := r.balances.Balance(ctx, in.exchange, creds, quote)
	if err != nil {
		return 0, fmt.Errorf("read %s balance: %w", quote, err)
	}
	if balance <= 0 {
		return 0, fmt.Errorf("no %s balance", quote)
	}
	return balance, nil
}

// waitDebounce ждёт окончания окна после последнего BUY по ключу
func (r *IntentRouter) waitDebounce(ctx context.Context, key models.DeferredKey) error {
	r.mu.Lock()
	last, ok := r.lastBuy[key]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	remaining := r.cfg.DebounceWindow - r.now().Sub(last)
	if remaining <= 0 {
		return nil
	}
	r.log.Debug("sell debounced after recent buy",
		utils.Owner(key.Owner), utils.Symbol(key.Symbol), utils.Dur("wait", remaining))
	return r.sleep(ctx, remaining)
}

func (r *IntentRouter) sell(ctx context.Context, in *intent) (*IntentResult, error) {
	key := in.key()
	if err := r.waitDebounce(ctx, key); err != nil {
		return nil, err
	}

	if in.automated {
		decision, err := r.exits.RequestExit(ctx, key, in.owner.PaperMode, "webhook sell")
		if err != nil {
			return r.closeFailed(in, err), nil
		}
		res := &IntentResult{OK: true, Action: in.action, Outcome: decision.Outcome}
		switch decision.Outcome {
		case ExitDeferred, ExitAlreadyQueued:
			res.Deferred = true
		default:
			fillCloseResult(res, decision.Close)
		}
		return res, nil
	}

	groupKey := models.LotGroupKey{Owner: key.Owner, Exchange: key.Exchange, Symbol: key.Symbol, IsPaper: in.owner.PaperMode}
	closed, err := r.ledger.CloseGroup(ctx, groupKey, TriggerManual)
	if err != nil {
		return r.closeFailed(in, err), nil
	}
	if closed.Closed {
		RecordExit(TriggerManual)
	}
	r.exits.Remove(key)

	res := &IntentResult{OK: true, Action: in.action, Outcome: ExitInstant}
	fillCloseResult(res, closed)
	return res, nil
}

func fillCloseResult(res *IntentResult, closed *CloseResult) {
	if closed == nil {
		return
	}
	if !closed.Closed {
		res.OK = false
		res.Reason = closed.Reason
		return
	}
	pnl := closed.NetPnl
	res.Pnl = &pnl
	res.Fill = closed.Fill
}

func (r *IntentRouter) failed(in *intent, reason string) *IntentResult {
	r.log.Warn("intent failed", utils.Owner(in.owner.ID), utils.Exchange(in.exchange),
		utils.Symbol(in.symbol), utils.Action(in.action), utils.Reason(reason))
	r.notify(in.owner.ID, models.NotificationTypeError, models.SeverityError,
		fmt.Sprintf("%s %s на %s: %s", in.action, in.symbol, in.exchange, reason), nil)
	return &IntentResult{OK: false, Action: in.action, Reason: reason}
}

// closeFailed - учёт уже уведомил владельца об ошибке продажи
func (r *IntentRouter) closeFailed(in *intent, err error) *IntentResult {
	r.log.Warn("sell failed", utils.Owner(in.owner.ID), utils.Exchange(in.exchange),
		utils.Symbol(in.symbol), utils.Err(err))
	return &IntentResult{OK: false, Action: in.action, Reason: err.Error()}
}

func (r *IntentRouter) notify(owner, notifType, severity, message string, meta map[string]interface{}) {
	if r.notifier != nil {
		r.notifier.Notify(owner, notifType, severity, message, meta)
	}
}
