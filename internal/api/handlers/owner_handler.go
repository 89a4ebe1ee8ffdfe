package handlers

import (
	"errors"
	"net/http"

	"spottrader/internal/models"
	"spottrader/internal/repository"
	"spottrader/internal/service"
)

// OwnerServiceInterface - регистрация владельцев
type OwnerServiceInterface interface {
	Register(id, secret string, paper bool) (*models.Owner, error)
	GetOwner(id string) (*models.Owner, error)
	RotateSecret(id, secret string) error
	SetPaperMode(id string, paper bool) error
}

// OwnerHandler отвечает за владельцев
//
// Endpoints:
// - POST /api/owners - регистрация
// - GET /api/owners/me - текущий владелец (по заголовку)
// - PUT /api/owners/me/secret - новый секрет вебхука
// - PUT /api/owners/me/paper - демо или реальная торговля
type OwnerHandler struct {
	ownerService OwnerServiceInterface
}

// NewOwnerHandler создает новый OwnerHandler
func NewOwnerHandler(ownerService OwnerServiceInterface) *OwnerHandler {
	return &OwnerHandler{ownerService: ownerService}
}

// RegisterOwnerRequest - тело POST /api/owners
type RegisterOwnerRequest struct {
	ID        string `json:"id"`
	Secret    string `json:"secret,omitempty"`
	PaperMode bool   `json:"paper_mode"`
}

// RotateSecretRequest - тело PUT /api/owners/me/secret
type RotateSecretRequest struct {
	Secret string `json:"secret"`
}

// PaperModeRequest - тело PUT /api/owners/me/paper
type PaperModeRequest struct {
	PaperMode bool `json:"paper_mode"`
}

// Register регистрирует владельца
//
// POST /api/owners
//
// HTTP коды:
// - 201 Created
// - 400 Bad Request: некорректный id или короткий секрет
// - 409 Conflict: владелец уже есть
func (h *OwnerHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterOwnerRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithErrorCode(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	owner, err := h.ownerService.Register(req.ID, req.Secret, req.PaperMode)
	if err != nil {
		respondWithError(w, ownerErrorStatus(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusCreated, owner)
}

// GetOwner возвращает владельца из заголовка
//
// GET /api/owners/me
func (h *OwnerHandler) GetOwner(w http.ResponseWriter, r *http.Request) {
	id, ok := requireOwner(w, r)
	if !ok {
		return
	}
	owner, err := h.ownerService.GetOwner(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get owner: "+err.Error())
		return
	}
	if owner == nil {
		respondWithError(w, http.StatusNotFound, service.ErrOwnerNotFound.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, owner)
}

// RotateSecret заменяет секрет вебхука
//
// PUT /api/owners/me/secret
func (h *OwnerHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	id, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req RotateSecretRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithErrorCode(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := h.ownerService.RotateSecret(id, req.Secret); err != nil {
		respondWithError(w, ownerErrorStatus(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Webhook secret updated"})
}

// SetPaperMode переключает демо-режим
//
// PUT /api/owners/me/paper
func (h *OwnerHandler) SetPaperMode(w http.ResponseWriter, r *http.Request) {
	id, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req PaperModeRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithErrorCode(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := h.ownerService.SetPaperMode(id, req.PaperMode); err != nil {
		respondWithError(w, ownerErrorStatus(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Paper mode updated", Data: req})
}

func ownerErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidOwnerID), errors.Is(err, service.ErrWeakSecret):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrOwnerNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrOwnerExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
