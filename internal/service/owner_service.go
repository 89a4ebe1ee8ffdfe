package service

import (
	"errors"
	"regexp"
	"strings"

	"spottrader/internal/models"
	"spottrader/internal/repository"
	"spottrader/pkg/crypto"
	"spottrader/pkg/utils"
)

// Ошибки сервиса владельцев
var (
	ErrInvalidOwnerID = errors.New("owner id must be 1-64 characters of [A-Za-z0-9_-]")
	ErrWeakSecret     = errors.New("webhook secret must be at least 8 characters")
	ErrOwnerNotFound  = errors.New("owner not found")
)

var ownerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// minSecretLength - минимальная длина секрета вебхука
const minSecretLength = 8

// OwnerService - регистрация владельцев и их секретов вебхука.
// Секрет хранится только в виде bcrypt-хеша.
type OwnerService struct {
	ownerRepo OwnerRepositoryInterface
	log       *utils.Logger
}

// NewOwnerService создает новый экземпляр OwnerService
func NewOwnerService(ownerRepo OwnerRepositoryInterface) *OwnerService {
	return &OwnerService{
		ownerRepo: ownerRepo,
		log:       utils.L().WithComponent("owner_service"),
	}
}

// Register создаёт владельца. Пустой секрет - вебхук проверяется общим секретом.
func (s *OwnerService) Register(id, secret string, paper bool) (*models.Owner, error) {
	id = strings.TrimSpace(id)
	if !ownerIDPattern.MatchString(id) {
		return nil, ErrInvalidOwnerID
	}

	owner := &models.Owner{ID: id, PaperMode: paper}
	if secret != "" {
		hash, err := hashSecret(secret)
		if err != nil {
			return nil, err
		}
		owner.WebhookSecretHash = hash
	}

	if err := s.ownerRepo.Create(owner); err != nil {
		return nil, err
	}

	s.log.Info("owner registered", utils.Owner(id), utils.Bool("paper", paper))
	return owner, nil
}

// GetOwner возвращает владельца или (nil, nil), если он неизвестен
func (s *OwnerService) GetOwner(id string) (*models.Owner, error) {
	return s.ownerRepo.GetOwner(id)
}

// RotateSecret заменяет секрет вебхука владельца
func (s *OwnerService) RotateSecret(id, secret string) error {
	hash, err := hashSecret(secret)
	if err != nil {
		return err
	}
	return mapOwnerErr(s.ownerRepo.UpdateSecretHash(id, hash))
}

// SetPaperMode переключает владельца между демо и реальной торговлей
func (s *OwnerService) SetPaperMode(id string, paper bool) error {
	if err := mapOwnerErr(s.ownerRepo.SetPaperMode(id, paper)); err != nil {
		return err
	}
	s.log.Info("paper mode changed", utils.Owner(id), utils.Bool("paper", paper))
	return nil
}

func hashSecret(secret string) (string, error) {
	if len(secret) < minSecretLength {
		return "", ErrWeakSecret
	}
	return crypto.HashSecret(secret)
}

func mapOwnerErr(err error) error {
	if errors.Is(err, repository.ErrOwnerNotFound) {
		return ErrOwnerNotFound
	}
	return err
}
