package service

import (
	"errors"
	"strings"

	"spottrader/internal/exchange"
	"spottrader/internal/models"
	"spottrader/internal/repository"
	"spottrader/pkg/utils"
)

// Ошибки сервиса правил
var (
	ErrInvalidRuleAmount = errors.New("amount must be positive or -1 for full balance")
	ErrRuleNotFound      = errors.New("automation rule not found")
)

// RuleService - правила автоматической покупки по вебхуку
type RuleService struct {
	ruleRepo RuleRepositoryInterface
}

// NewRuleService создает новый экземпляр RuleService
func NewRuleService(ruleRepo RuleRepositoryInterface) *RuleService {
	return &RuleService{ruleRepo: ruleRepo}
}

// Get возвращает правило или (nil, nil), если его нет
func (s *RuleService) Get(owner, exchangeName, symbol string) (*models.AutomationRule, error) {
	normalized, err := utils.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return s.ruleRepo.Get(owner, strings.ToLower(exchangeName), normalized)
}

// List возвращает все правила владельца
func (s *RuleService) List(owner string) ([]*models.AutomationRule, error) {
	return s.ruleRepo.GetByOwner(owner)
}

// Save создаёт или обновляет правило.
// amount - сумма покупки в котируемой валюте либо models.AmountFullBalance.
func (s *RuleService) Save(owner, exchangeName, symbol string, amount float64, enabled bool) (*models.AutomationRule, error) {
	exchangeName = strings.ToLower(strings.TrimSpace(exchangeName))
	if !exchange.IsSupported(exchangeName) {
		return nil, ErrExchangeNotSupported
	}
	normalized, err := utils.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if amount != models.AmountFullBalance && amount <= 0 {
		return nil, ErrInvalidRuleAmount
	}

	rule := &models.AutomationRule{
		Owner:    owner,
		Exchange: exchangeName,
		Symbol:   normalized,
		Amount:   amount,
		Enabled:  enabled,
	}
	if err := s.ruleRepo.Upsert(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// Delete удаляет правило
func (s *RuleService) Delete(owner, exchangeName, symbol string) error {
	normalized, err := utils.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if err := s.ruleRepo.Delete(owner, strings.ToLower(exchangeName), normalized); err != nil {
		if errors.Is(err, repository.ErrRuleNotFound) {
			return ErrRuleNotFound
		}
		return err
	}
	return nil
}
