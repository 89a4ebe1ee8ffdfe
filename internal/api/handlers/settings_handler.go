package handlers

import (
	"errors"
	"net/http"

	"spottrader/internal/bot"
	"spottrader/internal/models"
)

// SettingsServiceInterface - глобальные настройки и режим фильтра
type SettingsServiceInterface interface {
	GetSettings() (*models.Settings, error)
	GateState() models.GateState
	SetGateMode(mode string) (models.GateState, error)
}

// SettingsHandler отвечает за глобальные настройки и фильтр входов
//
// Endpoints:
// - GET /api/settings - сохранённые настройки
// - GET /api/gate - текущее решение фильтра
// - PUT /api/gate/mode - смена режима фильтра
type SettingsHandler struct {
	settingsService SettingsServiceInterface
}

// NewSettingsHandler создает новый SettingsHandler
func NewSettingsHandler(settingsService SettingsServiceInterface) *SettingsHandler {
	return &SettingsHandler{settingsService: settingsService}
}

// GateResponse - состояние фильтра с описанием режима
type GateResponse struct {
	models.GateState
	Description string            `json:"description"`
	Modes       []models.GateMode `json:"modes"`
}

// SetModeRequest - тело PUT /api/gate/mode
type SetModeRequest struct {
	Mode string `json:"mode"`
}

// GetSettings возвращает настройки
//
// GET /api/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settingsService.GetSettings()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get settings: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, settings)
}

// GetGate возвращает текущее решение фильтра
//
// GET /api/gate
func (h *SettingsHandler) GetGate(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, gateResponse(h.settingsService.GateState()))
}

// SetGateMode меняет режим фильтра. До следующего тика входы запрещены.
//
// PUT /api/gate/mode
//
// HTTP коды:
// - 200 OK: режим изменён
// - 400 Bad Request: неизвестный режим
// - 500 Internal Server Error: не удалось сохранить
func (h *SettingsHandler) SetGateMode(w http.ResponseWriter, r *http.Request) {
	var req SetModeRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithErrorCode(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	state, err := h.settingsService.SetGateMode(req.Mode)
	if err != nil {
		if errors.Is(err, bot.ErrUnknownMode) {
			respondWithErrorCode(w, http.StatusBadRequest, "unknown_mode", err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to set gate mode: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, gateResponse(state))
}

func gateResponse(state models.GateState) GateResponse {
	return GateResponse{
		GateState:   state,
		Description: bot.ModeInfo(state.Mode),
		Modes:       bot.ValidModes,
	}
}
