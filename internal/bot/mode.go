package bot

import (
	"errors"
	"fmt"
	"strings"

	"spottrader/internal/config"
	"spottrader/internal/models"
)

// ErrUnknownMode - режим не входит в closed set профилей
var ErrUnknownMode = errors.New("unknown gate mode")

// ValidModes - допустимые режимы фильтра в порядке от строгого к мягкому
var ValidModes = []models.GateMode{
	models.GateModeConservative,
	models.GateModeNormal,
	models.GateModeAggressive,
}

// ParseMode приводит строку к режиму фильтра
func ParseMode(s string) (models.GateMode, error) {
	mode := models.GateMode(strings.ToLower(strings.TrimSpace(s)))
	for _, m := range ValidModes {
		if m == mode {
			return mode, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// ModeInfo возвращает описание режима для UI
func ModeInfo(m models.GateMode) string {
	switch m {
	case models.GateModeConservative:
		return "Консервативный: вход только при сильном тренде, короткое удержание"
	case models.GateModeNormal:
		return "Обычный: сбалансированные пороги RSI и импульса"
	case models.GateModeAggressive:
		return "Агрессивный: мягкие пороги, больше входов"
	default:
		return "Неизвестный режим"
	}
}

// profileFor возвращает пороги режима; отсутствующий в конфиге режим
// берётся из значений по умолчанию
func profileFor(profiles map[string]config.ModeProfile, m models.GateMode) config.ModeProfile {
	if p, ok := profiles[string(m)]; ok {
		return p
	}
	return config.DefaultModeProfiles()[string(m)]
}
