package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"spottrader/internal/exchange"
	"spottrader/internal/models"
	"spottrader/internal/repository"
	"spottrader/pkg/crypto"
	"spottrader/pkg/utils"
)

// Ошибки сервиса
var (
	ErrExchangeNotSupported = errors.New("exchange is not supported")
	ErrExchangeNotConnected = errors.New("exchange is not connected")
	ErrInvalidCredentials   = errors.New("invalid API credentials")
	ErrPassphraseRequired   = errors.New("passphrase is required for this exchange")
	ErrCredentialsCorrupted = errors.New("stored credentials cannot be decrypted")
)

// probeCurrency - валюта проверочного запроса баланса при подключении
const probeCurrency = "USDT"

// ClientFactory создаёт клиента биржи с ключами
type ClientFactory func(name string, creds exchange.Credentials) (exchange.Exchange, error)

// ExchangeService - ключи владельцев для бирж.
//
// Ключи проверяются запросом баланса, хранятся зашифрованными (AES-256-GCM)
// и расшифровываются только при выдаче торговому ядру.
type ExchangeService struct {
	exchangeRepo  ExchangeRepositoryInterface
	encryptionKey []byte
	newClient     ClientFactory
	log           *utils.Logger

	// Кэш расшифрованных ключей: owner|exchange
	cache   map[string]exchange.Credentials
	cacheMu sync.RWMutex
}

// NewExchangeService создает новый экземпляр сервиса
func NewExchangeService(exchangeRepo ExchangeRepositoryInterface, encryptionKey string, newClient ClientFactory) *ExchangeService {
	if newClient == nil {
		newClient = exchange.NewClient
	}
	return &ExchangeService{
		exchangeRepo:  exchangeRepo,
		encryptionKey: []byte(encryptionKey),
		newClient:     newClient,
		log:           utils.L().WithComponent("exchange_service"),
		cache:         make(map[string]exchange.Credentials),
	}
}

func credsKey(owner, name string) string {
	return owner + "|" + strings.ToLower(name)
}

// ConnectExchange проверяет ключи и сохраняет их в зашифрованном виде.
// Повторное подключение заменяет прежние ключи.
func (s *ExchangeService) ConnectExchange(ctx context.Context, owner, name, apiKey, secretKey, passphrase string) (*models.ExchangeAccount, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !exchange.IsSupported(name) {
		return nil, ErrExchangeNotSupported
	}
	if apiKey == "" || secretKey == "" {
		return nil, ErrInvalidCredentials
	}
	if exchange.RequiresPassphrase(name) && passphrase == "" {
		return nil, ErrPassphraseRequired
	}

	creds := exchange.Credentials{APIKey: apiKey, SecretKey: secretKey, Passphrase: passphrase}
	client, err := s.newClient(name, creds)
	if err != nil {
		return nil, err
	}
	if _, err := client.GetBalance(ctx, probeCurrency); err != nil {
		return nil, errors.Join(ErrInvalidCredentials, err)
	}

	account := &models.ExchangeAccount{Owner: owner, Exchange: name}
	if account.APIKey, err = crypto.Encrypt(apiKey, s.encryptionKey); err != nil {
		return nil, err
	}
	if account.SecretKey, err = crypto.Encrypt(secretKey, s.encryptionKey); err != nil {
		return nil, err
	}
	if passphrase != "" {
		if account.Passphrase, err = crypto.Encrypt(passphrase, s.encryptionKey); err != nil {
			return nil, err
		}
	}

	if err := s.exchangeRepo.Upsert(account); err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.cache[credsKey(owner, name)] = creds
	s.cacheMu.Unlock()

	s.log.Info("exchange connected", utils.Owner(owner), utils.Exchange(name))
	return account, nil
}

// DisconnectExchange удаляет ключи владельца
func (s *ExchangeService) DisconnectExchange(owner, name string) error {
	if err := s.exchangeRepo.Delete(owner, name); err != nil {
		if errors.Is(err, repository.ErrExchangeNotFound) {
			return ErrExchangeNotConnected
		}
		return err
	}

	s.cacheMu.Lock()
	delete(s.cache, credsKey(owner, name))
	s.cacheMu.Unlock()

	s.log.Info("exchange disconnected", utils.Owner(owner), utils.Exchange(name))
	return nil
}

// GetAccounts возвращает подключённые биржи владельца (ключи в JSON не попадают)
func (s *ExchangeService) GetAccounts(owner string) ([]*models.ExchangeAccount, error) {
	return s.exchangeRepo.GetByOwner(owner)
}

// GetCredentials возвращает расшифрованные ключи владельца для биржи
func (s *ExchangeService) GetCredentials(owner, name string) (exchange.Credentials, error) {
	key := credsKey(owner, name)

	s.cacheMu.RLock()
	creds, ok := s.cache[key]
	s.cacheMu.RUnlock()
	if ok {
		return creds, nil
	}

	account, err := s.exchangeRepo.Get(owner, name)
	if err != nil {
		if errors.Is(err, repository.ErrExchangeNotFound) {
			return exchange.Credentials{}, fmt.Errorf("%w: %s", ErrExchangeNotConnected, name)
		}
		return exchange.Credentials{}, err
	}

	creds, err = s.decrypt(account)
	if err != nil {
		s.log.Error("failed to decrypt credentials", utils.Owner(owner), utils.Exchange(name), utils.Err(err))
		return exchange.Credentials{}, ErrCredentialsCorrupted
	}

	s.cacheMu.Lock()
	s.cache[key] = creds
	s.cacheMu.Unlock()
	return creds, nil
}

func (s *ExchangeService) decrypt(account *models.ExchangeAccount) (exchange.Credentials, error) {
	var creds exchange.Credentials
	var err error
	if creds.APIKey, err = crypto.Decrypt(account.APIKey, s.encryptionKey); err != nil {
		return creds, err
	}
	if creds.SecretKey, err = crypto.Decrypt(account.SecretKey, s.encryptionKey); err != nil {
		return creds, err
	}
	if account.Passphrase != "" {
		if creds.Passphrase, err = crypto.Decrypt(account.Passphrase, s.encryptionKey); err != nil {
			return creds, err
		}
	}
	return creds, nil
}

// RecordError сохраняет последнюю ошибку биржи для отображения в UI
func (s *ExchangeService) RecordError(owner, name string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := s.exchangeRepo.UpdateLastError(owner, name, msg); err != nil {
		s.log.Warn("failed to store exchange error", utils.Owner(owner), utils.Exchange(name), utils.Err(err))
	}
}
