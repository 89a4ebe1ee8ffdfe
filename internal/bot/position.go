package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spottrader/internal/exchange"
	"spottrader/internal/models"
	"spottrader/pkg/utils"
)

// ReasonNothingToClose - группа пуста или уже закрывается другим вызовом
const ReasonNothingToClose = "nothing to close"

var (
	// ErrCloseFailed - ордер продажи группы не исполнен, лоты не тронуты
	ErrCloseFailed = errors.New("close order failed")
	// ErrInvalidFill - из неуспешного или пустого исполнения нельзя создать лот
	ErrInvalidFill = errors.New("fill cannot open a lot")
)

// LotStore - хранилище открытых лотов
type LotStore interface {
	Create(lot *models.Lot) error
	GetByOwner(owner string) ([]*models.Lot, error)
	GetByOwnerSymbol(owner, symbol string) ([]*models.Lot, error)
	GetByGroup(key models.LotGroupKey) ([]*models.Lot, error)
	GetAll() ([]*models.Lot, error)
	DeleteByIDs(ids []int64) (int64, error)
}

// TradeStore - журнал закрытых сделок (только добавление)
type TradeStore interface {
	Create(trade *models.ClosedTrade) error
}

// OrderPlacer исполняет рыночные ордера
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req OrderRequest) models.FillResult
}

// CredentialProvider выдаёт расшифрованные ключи владельца для биржи
type CredentialProvider interface {
	GetCredentials(owner, exchangeName string) (exchange.Credentials, error)
}

// CloseResult - итог закрытия группы лотов
type CloseResult struct {
	Closed    bool               `json:"closed"`
	Reason    string             `json:"reason,omitempty"`
	Quantity  float64            `json:"quantity"`
	Gross     float64            `json:"gross"`
	TotalFees float64            `json:"total_fees"` // продажа + покупки, в котируемой валюте
	NetPnl    float64            `json:"net_pnl"`
	LotCount  int                `json:"lot_count"`
	Fill      *models.FillResult `json:"fill,omitempty"`
}

// PositionLedger - учёт открытых лотов и закрытие стеков.
//
// Лоты только добавляются; объединение в позицию происходит при чтении
// и при закрытии. Закрытие продаёт всю группу целиком.
type PositionLedger struct {
	lots     LotStore
	trades   TradeStore
	orders   OrderPlacer
	creds    CredentialProvider
	market   PriceSource
	notifier Notifier
	now      func() time.Time
	log      *utils.Logger

	// Группы, закрываемые прямо сейчас
	closingMu sync.Mutex
	closing   map[models.LotGroupKey]struct{}
	// Проданные лоты, которые не удалось удалить из хранилища
	sold map[int64]struct{}
}

// NewPositionLedger создаёт учёт позиций
func NewPositionLedger(lots LotStore, trades TradeStore, orders OrderPlacer, creds CredentialProvider, market PriceSource, notifier Notifier) *PositionLedger {
	return &PositionLedger{
		lots:     lots,
		trades:   trades,
		orders:   orders,
		creds:    creds,
		market:   market,
		notifier: notifier,
		now:      time.Now,
		log:      utils.L().WithComponent("ledger"),
		closing:  make(map[models.LotGroupKey]struct{}),
		sold:     make(map[int64]struct{}),
	}
}

// AddLot сохраняет новый лот по успешному BUY. Никогда не сливает с существующими.
func (l *PositionLedger) AddLot(owner, exchangeName, symbol string, fill models.FillResult) (*models.Lot, error) {
	if !fill.OK || fill.Quantity <= 0 || fill.Price <= 0 {
		return nil, ErrInvalidFill
	}
	symbol, err := utils.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	notional := fill.Gross
	if notional <= 0 {
		notional = fill.Price * fill.Quantity
	}

	lot := &models.Lot{
		Owner:          owner,
		Exchange:       exchangeName,
		Symbol:         symbol,
		Quantity:       fill.Quantity,
		EntryPrice:     fill.Price,
		EntryNotional:  notional,
		BuyFeeQuote:    fill.FeeQuote,
		BuyFeeBase:     fill.FeeBase,
		BuyFeeCurrency: fill.FeeCurrency,
		OrderID:        fill.OrderID,
		IsPaper:        fill.IsPaper,
		CreatedAt:      l.now(),
	}
	if err := l.lots.Create(lot); err != nil {
		return nil, fmt.Errorf("save lot: %w", err)
	}
	return lot, nil
}

// ListLots возвращает лоты владельца, symbol == "" - все инструменты
func (l *PositionLedger) ListLots(owner, symbol string) ([]*models.Lot, error) {
	if symbol == "" {
		return l.lots.GetByOwner(owner)
	}
	symbol, err := utils.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return l.lots.GetByOwnerSymbol(owner, symbol)
}

// Positions возвращает стеки активных лотов владельца
func (l *PositionLedger) Positions(owner string) ([]*models.StackedPosition, error) {
	lots, err := l.lots.GetByOwner(owner)
	if err != nil {
		return nil, err
	}
	return StackLots(l.unsold(activeLots(lots))), nil
}

// AllPositions возвращает стеки активных лотов всех владельцев
func (l *PositionLedger) AllPositions() ([]*models.StackedPosition, error) {
	lots, err := l.lots.GetAll()
	if err != nil {
		return nil, err
	}
	return StackLots(l.unsold(activeLots(lots))), nil
}

// unsold отбрасывает лоты, уже проданные, но оставшиеся в хранилище
func (l *PositionLedger) unsold(lots []*models.Lot) []*models.Lot {
	l.closingMu.Lock()
	defer l.closingMu.Unlock()
	if len(l.sold) == 0 {
		return lots
	}
	kept := lots[:0:0]
	for _, lot := range lots {
		if _, ok := l.sold[lot.ID]; !ok {
			kept = append(kept, lot)
		}
	}
	return kept
}

func (l *PositionLedger) markSold(ids []int64) {
	l.closingMu.Lock()
	for _, id := range ids {
		l.sold[id] = struct{}{}
	}
	l.closingMu.Unlock()
}

func activeLots(lots []*models.Lot) []*models.Lot {
	active := make([]*models.Lot, 0, len(lots))
	for _, lot := range lots {
		if lot.IsActive() {
			active = append(active, lot)
		}
	}
	return active
}

// StackLots объединяет лоты по (owner, exchange, symbol, paper).
//
// Количество и стоимость - суммы по всем членам; средняя цена входа -
// средневзвешенная по членам с положительными ценой и количеством.
// Результат отсортирован по времени открытия.
func StackLots(lots []*models.Lot) []*models.StackedPosition {
	type acc struct {
		pos      *models.StackedPosition
		qty      decimal.Decimal
		notional decimal.Decimal
		fees     decimal.Decimal
		wSum     decimal.Decimal
		wQty     decimal.Decimal
	}

	groups := make(map[models.LotGroupKey]*acc)
	order := make([]models.LotGroupKey, 0)

	for _, lot := range lots {
		key := lot.GroupKey()
		a, ok := groups[key]
		if !ok {
			a = &acc{pos: &models.StackedPosition{Key: key, OpenedAt: lot.CreatedAt, LastBuyAt: lot.CreatedAt}}
			groups[key] = a
			order = append(order, key)
		}

		qty := decimal.NewFromFloat(lot.Quantity)
		a.qty = a.qty.Add(qty)
		a.notional = a.notional.Add(decimal.NewFromFloat(lot.EntryNotional))
		a.fees = a.fees.Add(decimal.NewFromFloat(lot.BuyFeeQuote))
		if lot.EntryPrice > 0 && lot.Quantity > 0 {
			a.wSum = a.wSum.Add(decimal.NewFromFloat(lot.EntryPrice).Mul(qty))
			a.wQty = a.wQty.Add(qty)
		}

		a.pos.LotCount++
		a.pos.Lots = append(a.pos.Lots, lot)
		if lot.CreatedAt.Before(a.pos.OpenedAt) {
			a.pos.OpenedAt = lot.CreatedAt
		}
		if lot.CreatedAt.After(a.pos.LastBuyAt) {
			a.pos.LastBuyAt = lot.CreatedAt
		}
	}

	result := make([]*models.StackedPosition, 0, len(order))
	for _, key := range order {
		a := groups[key]
		a.pos.Quantity = a.qty.InexactFloat64()
		a.pos.EntryNotional = a.notional.InexactFloat64()
		a.pos.BuyFeesQuote = a.fees.InexactFloat64()
		if a.wQty.IsPositive() {
			a.pos.AvgEntryPrice = a.wSum.Div(a.wQty).InexactFloat64()
		}
		result = append(result, a.pos)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].OpenedAt.Before(result[j].OpenedAt)
	})
	return result
}

// buyCosts - сумма стоимостей и комиссий покупок в котируемой валюте.
// feePrice переводит валюту комиссии в котируемую, 0 - комиссия не учитывается.
func buyCosts(lots []*models.Lot, feePrice func(currency string) float64) (notional, fees decimal.Decimal) {
	prices := make(map[string]decimal.Decimal)
	for _, lot := range lots {
		notional = notional.Add(decimal.NewFromFloat(lot.EntryNotional))
		fees = fees.Add(decimal.NewFromFloat(lot.BuyFeeQuote))
		if lot.BuyFeeBase > 0 && lot.BuyFeeCurrency != "" {
			price, ok := prices[lot.BuyFeeCurrency]
			if !ok {
				price = decimal.NewFromFloat(feePrice(lot.BuyFeeCurrency))
				prices[lot.BuyFeeCurrency] = price
			}
			fees = fees.Add(decimal.NewFromFloat(lot.BuyFeeBase).Mul(price))
		}
	}
	return notional, fees
}

// RealizedPnl - чистый результат закрытия:
// (выручка - комиссия продажи) - (сумма стоимостей + сумма комиссий покупок).
func RealizedPnl(gross, sellFeeQuote decimal.Decimal, lots []*models.Lot, feePrice func(currency string) float64) (net, totalFees decimal.Decimal) {
	notional, buyFees := buyCosts(lots, feePrice)
	net = gross.Sub(sellFeeQuote).Sub(notional).Sub(buyFees)
	totalFees = sellFeeQuote.Add(buyFees)
	return net, totalFees
}

// tryLock помечает группу как закрываемую, false - уже закрывается
func (l *PositionLedger) tryLock(key models.LotGroupKey) bool {
	l.closingMu.Lock()
	defer l.closingMu.Unlock()
	if _, busy := l.closing[key]; busy {
		return false
	}
	l.closing[key] = struct{}{}
	return true
}

func (l *PositionLedger) unlock(key models.LotGroupKey) {
	l.closingMu.Lock()
	delete(l.closing, key)
	l.closingMu.Unlock()
}

// CloseGroup продаёт всю группу лотов и фиксирует результат.
//
// Пустая группа (или группа, которую прямо сейчас закрывает другой вызов) -
// Closed=false с ReasonNothingToClose, не ошибка. Ошибка ордера оставляет
// лоты на месте. После исполненной продажи ошибка не возвращается: сбой
// удаления лотов или записи сделки логируется, проданные лоты больше не
// попадают в позиции этого процесса.
func (l *PositionLedger) CloseGroup(ctx context.Context, key models.LotGroupKey, trigger string) (*CloseResult, error) {
	if !l.tryLock(key) {
		return &CloseResult{Closed: false, Reason: ReasonNothingToClose}, nil
	}
	defer l.unlock(key)

	log := l.log.With(utils.Owner(key.Owner), utils.Exchange(key.Exchange), utils.Symbol(key.Symbol))

	all, err := l.lots.GetByGroup(key)
	if err != nil {
		return nil, fmt.Errorf("load lots: %w", err)
	}
	lots := l.unsold(activeLots(all))
	if len(lots) == 0 {
		return &CloseResult{Closed: false, Reason: ReasonNothingToClose}, nil
	}

	stacks := StackLots(lots)
	qty := stacks[0].Quantity

	var creds exchange.Credentials
	if !key.IsPaper {
		if creds, err = l.creds.GetCredentials(key.Owner, key.Exchange); err != nil {
			return nil, fmt.Errorf("credentials: %w", err)
		}
	}

	fill := l.orders.PlaceOrder(ctx, OrderRequest{
		Exchange:    key.Exchange,
		Action:      models.ActionSell,
		Symbol:      key.Symbol,
		Amount:      qty,
		IsPaper:     key.IsPaper,
		Credentials: creds,
	})
	if !fill.OK {
		l.notify(key.Owner, models.NotificationTypeError, models.SeverityError,
			fmt.Sprintf("Продажа %s на %s не исполнена: %s", key.Symbol, key.Exchange, fill.Reason),
			map[string]interface{}{"trigger": trigger})
		return nil, fmt.Errorf("%w: %s", ErrCloseFailed, fill.Reason)
	}

	_, quote, _ := utils.ParseSymbol(key.Symbol)
	feePrice := func(currency string) float64 {
		if l.market == nil {
			return 0
		}
		return l.market.FeePriceInQuote(ctx, key.Exchange, currency, quote)
	}

	sellFee := decimal.NewFromFloat(fill.FeeQuote)
	if fill.FeeBase > 0 && fill.FeeCurrency != "" {
		sellFee = sellFee.Add(decimal.NewFromFloat(fill.FeeBase).Mul(decimal.NewFromFloat(feePrice(fill.FeeCurrency))))
	}
	gross := decimal.NewFromFloat(fill.Gross)
	net, totalFees := RealizedPnl(gross, sellFee, lots, feePrice)

	result := &CloseResult{
		Closed:    true,
		Quantity:  fill.Quantity,
		Gross:     gross.InexactFloat64(),
		TotalFees: totalFees.InexactFloat64(),
		NetPnl:    net.Round(8).InexactFloat64(),
		LotCount:  len(lots),
		Fill:      &fill,
	}

	ids := make([]int64, 0, len(lots))
	for _, lot := range lots {
		ids = append(ids, lot.ID)
	}
	if _, err := l.lots.DeleteByIDs(ids); err != nil {
		l.markSold(ids)
		log.Error("lots sold but not deleted", utils.OrderID(fill.OrderID), utils.Err(err))
		l.notify(key.Owner, models.NotificationTypeError, models.SeverityError,
			fmt.Sprintf("Продажа %s на %s исполнена, но лоты не удалены: %v", key.Symbol, key.Exchange, err),
			map[string]interface{}{"trigger": trigger, "order_id": fill.OrderID})
	}

	trade := &models.ClosedTrade{
		Owner:     key.Owner,
		Exchange:  key.Exchange,
		Symbol:    key.Symbol,
		Action:    models.ActionSell,
		Amount:    result.Gross,
		NetPnl:    result.NetPnl,
		IsPaper:   key.IsPaper,
		CreatedAt: l.now(),
	}
	if err := l.trades.Create(trade); err != nil {
		log.Error("closed trade not recorded", utils.OrderID(fill.OrderID), utils.Err(err))
	}

	RecordClose(key.Exchange, result.NetPnl)
	log.Info("group closed", utils.String("trigger", trigger), utils.Quantity(result.Quantity),
		utils.Float64("gross", result.Gross), utils.PNL(result.NetPnl), utils.Int("lots", result.LotCount))
	l.notify(key.Owner, models.NotificationTypeClose, models.SeverityInfo,
		fmt.Sprintf("Продано %s на %s: выручка %.4f, P&L %.4f", key.Symbol, key.Exchange, result.Gross, result.NetPnl),
		map[string]interface{}{
			"trigger":  trigger,
			"exchange": key.Exchange,
			"symbol":   key.Symbol,
			"net_pnl":  result.NetPnl,
			"paper":    key.IsPaper,
		})
	return result, nil
}

func (l *PositionLedger) notify(owner, notifType, severity, message string, meta map[string]interface{}) {
	if l.notifier != nil {
		l.notifier.Notify(owner, notifType, severity, message, meta)
	}
}
