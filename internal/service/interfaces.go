package service

import (
	"time"

	"spottrader/internal/models"
	"spottrader/internal/repository"
)

// OwnerRepositoryInterface определяет интерфейс репозитория владельцев
type OwnerRepositoryInterface interface {
	GetOwner(id string) (*models.Owner, error)
	Create(owner *models.Owner) error
	UpdateSecretHash(id, hash string) error
	SetPaperMode(id string, paper bool) error
}

// ExchangeRepositoryInterface определяет интерфейс репозитория бирж
type ExchangeRepositoryInterface interface {
	Upsert(account *models.ExchangeAccount) error
	Get(owner, exchange string) (*models.ExchangeAccount, error)
	GetByOwner(owner string) ([]*models.ExchangeAccount, error)
	Delete(owner, exchange string) error
	UpdateLastError(owner, exchange, errMsg string) error
}

// RuleRepositoryInterface определяет интерфейс репозитория правил
type RuleRepositoryInterface interface {
	Get(owner, exchange, symbol string) (*models.AutomationRule, error)
	GetByOwner(owner string) ([]*models.AutomationRule, error)
	Upsert(rule *models.AutomationRule) error
	Delete(owner, exchange, symbol string) error
}

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(notif *models.Notification) error
	GetRecent(owner string, limit int) ([]*models.Notification, error)
	DeleteByOwner(owner string) error
	KeepRecent(keepCount int) (int64, error)
}

// SettingsRepositoryInterface определяет интерфейс репозитория настроек
type SettingsRepositoryInterface interface {
	Get() (*models.Settings, error)
	UpdateGateMode(mode models.GateMode) error
}

// TradeRepositoryInterface определяет интерфейс репозитория сделок
type TradeRepositoryInterface interface {
	GetByOwner(owner string, limit int) ([]*models.ClosedTrade, error)
	Summary(owner string, since time.Time) (*models.TradeSummary, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ OwnerRepositoryInterface = (*repository.OwnerRepository)(nil)
var _ ExchangeRepositoryInterface = (*repository.ExchangeRepository)(nil)
var _ RuleRepositoryInterface = (*repository.RuleRepository)(nil)
var _ NotificationRepositoryInterface = (*repository.NotificationRepository)(nil)
var _ SettingsRepositoryInterface = (*repository.SettingsRepository)(nil)
var _ TradeRepositoryInterface = (*repository.TradeRepository)(nil)
