package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StrategyFile - содержимое YAML файла стратегии. Все поля необязательны,
// заданные значения перекрывают переменные окружения.
//
//	gate:
//	  mode: conservative
//	modes:
//	  conservative: {rsi_floor: 58, min_momentum: 1.2, max_hold: 45m}
//	profit:
//	  target_pct: 2
//	  stop_pct: -4
type StrategyFile struct {
	Gate struct {
		Mode     string `yaml:"mode"`
		Exchange string `yaml:"exchange"`
		Symbol   string `yaml:"symbol"`
	} `yaml:"gate"`

	Modes map[string]ModeProfile `yaml:"modes"`

	Profit struct {
		TargetPct *float64       `yaml:"target_pct"`
		StopPct   *float64       `yaml:"stop_pct"`
		MaxHold   *time.Duration `yaml:"max_hold"`
		MinHold   *time.Duration `yaml:"min_hold"`
		FeeRate   *float64       `yaml:"fee_rate"`
	} `yaml:"profit"`
}

// ApplyStrategyFile читает YAML файл стратегии и накладывает его на конфигурацию
func (c *Config) ApplyStrategyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read strategy file: %w", err)
	}
	return c.ApplyStrategy(data)
}

// ApplyStrategy накладывает YAML стратегии на конфигурацию
func (c *Config) ApplyStrategy(data []byte) error {
	var sf StrategyFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parse strategy file: %w", err)
	}

	if sf.Gate.Mode != "" {
		c.Gate.Mode = strings.ToLower(sf.Gate.Mode)
	}
	if sf.Gate.Exchange != "" {
		c.Gate.Exchange = strings.ToLower(sf.Gate.Exchange)
	}
	if sf.Gate.Symbol != "" {
		c.Gate.Symbol = sf.Gate.Symbol
	}

	if c.Gate.Modes == nil {
		c.Gate.Modes = DefaultModeProfiles()
	}
	for name, profile := range sf.Modes {
		name = strings.ToLower(name)
		base, ok := c.Gate.Modes[name]
		if !ok {
			return fmt.Errorf("strategy file: unknown mode %q", name)
		}
		// Нулевые поля оставляют значение по умолчанию
		if profile.RSIFloor > 0 {
			base.RSIFloor = profile.RSIFloor
		}
		if profile.MinMomentum > 0 {
			base.MinMomentum = profile.MinMomentum
		}
		if profile.MaxHold > 0 {
			base.MaxHold = profile.MaxHold
		}
		if base.RSIFloor > 100 {
			return fmt.Errorf("strategy file: mode %q rsi_floor must be <= 100", name)
		}
		c.Gate.Modes[name] = base
	}

	if sf.Profit.TargetPct != nil {
		c.Profit.TargetPct = *sf.Profit.TargetPct
	}
	if sf.Profit.StopPct != nil {
		c.Profit.StopPct = *sf.Profit.StopPct
	}
	if sf.Profit.MaxHold != nil {
		c.Profit.MaxHold = *sf.Profit.MaxHold
	}
	if sf.Profit.MinHold != nil {
		c.Profit.MinHold = *sf.Profit.MinHold
	}
	if sf.Profit.FeeRate != nil {
		c.Profit.FeeRate = *sf.Profit.FeeRate
	}
	return nil
}
