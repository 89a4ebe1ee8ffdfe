package service

import (
	"spottrader/internal/bot"
	"spottrader/internal/models"
	"spottrader/pkg/utils"
)

// GateController - управление режимом сигнального фильтра
type GateController interface {
	SetMode(mode string) error
	Mode() models.GateMode
	State() models.GateState
}

// SettingsService предоставляет бизнес-логику для глобальных настроек.
//
// Режим фильтра хранится в БД и переживает перезапуск; фильтр в памяти
// переключается только после успешного сохранения.
type SettingsService struct {
	settingsRepo SettingsRepositoryInterface
	gate         GateController
	log          *utils.Logger
}

// NewSettingsService создает новый экземпляр SettingsService
func NewSettingsService(settingsRepo SettingsRepositoryInterface, gate GateController) *SettingsService {
	return &SettingsService{
		settingsRepo: settingsRepo,
		gate:         gate,
		log:          utils.L().WithComponent("settings_service"),
	}
}

// GetSettings возвращает текущие глобальные настройки.
//
// Если записи в БД нет, создается запись с дефолтными значениями.
func (s *SettingsService) GetSettings() (*models.Settings, error) {
	return s.settingsRepo.Get()
}

// GateState возвращает последнее решение фильтра
func (s *SettingsService) GateState() models.GateState {
	return s.gate.State()
}

// SetGateMode проверяет, сохраняет и применяет режим фильтра.
// После смены режима фильтр запрещает входы до следующей оценки.
func (s *SettingsService) SetGateMode(mode string) (models.GateState, error) {
	parsed, err := bot.ParseMode(mode)
	if err != nil {
		return models.GateState{}, err
	}
	if err := s.settingsRepo.UpdateGateMode(parsed); err != nil {
		return models.GateState{}, err
	}
	if err := s.gate.SetMode(string(parsed)); err != nil {
		return models.GateState{}, err
	}

	s.log.Info("gate mode changed", utils.Mode(string(parsed)))
	return s.gate.State(), nil
}

// RestoreGateMode применяет сохранённый режим при старте.
// Неизвестный сохранённый режим игнорируется: остаётся режим из конфигурации.
func (s *SettingsService) RestoreGateMode() error {
	settings, err := s.settingsRepo.Get()
	if err != nil {
		return err
	}
	if settings.GateMode == s.gate.Mode() {
		return nil
	}
	if err := s.gate.SetMode(string(settings.GateMode)); err != nil {
		s.log.Warn("stored gate mode ignored", utils.Mode(string(settings.GateMode)), utils.Err(err))
		return nil
	}
	s.log.Info("gate mode restored", utils.Mode(string(settings.GateMode)))
	return nil
}
