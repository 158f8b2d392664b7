package apikeys

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/keycrypt"
	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/repository"
	"go.uber.org/zap"
)

const (
	consumerKeyPrefix    = "ck_"
	consumerSecretPrefix = "cs_"
	credentialBytes      = 20 // 40 hex chars
	truncatedLength      = 7
	maxDescriptionLength = 200
)

// Credentials are returned once, on creation. Only the hash of the consumer
// key is stored.
type Credentials struct {
	ID             int64            `json:"id"`
	ConsumerKey    string           `json:"consumer_key"`
	ConsumerSecret string           `json:"consumer_secret"`
	TruncatedKey   string           `json:"truncated_key"`
	Permissions    model.Permission `json:"permissions"`
}

type Service struct {
	repo  repository.APIKeysRepository
	crypt *keycrypt.Crypter
	now   func() time.Time
}

func New(repo repository.APIKeysRepository, crypt *keycrypt.Crypter) *Service {
	return &Service{repo: repo, crypt: crypt, now: time.Now}
}

// Create issues a new consumer key/secret pair for userID.
func (s *Service) Create(ctx context.Context, userID int64, description string, perm model.Permission, endpoints model.Endpoints) (*Credentials, error) {
	if userID <= 0 {
		return nil, apperr.Invalid("user id is required")
	}
	if perm == "" {
		perm = model.PermRead
	}
	if !perm.Valid() {
		return nil, apperr.Invalid("invalid permissions %q", perm)
	}
	description = strings.TrimSpace(description)
	if len(description) > maxDescriptionLength {
		return nil, apperr.Invalid("description is longer than %d characters", maxDescriptionLength)
	}

	ck, err := keycrypt.RandomHex(credentialBytes)
	if err != nil {
		return nil, fmt.Errorf("consumer key: %w", err)
	}
	cs, err := keycrypt.RandomHex(credentialBytes)
	if err != nil {
		return nil, fmt.Errorf("consumer secret: %w", err)
	}
	ck, cs = consumerKeyPrefix+ck, consumerSecretPrefix+cs

	if endpoints == nil {
		endpoints = model.Endpoints{}
	}
	k := &model.APIKey{
		UserID:         userID,
		Description:    description,
		Permissions:    perm,
		ConsumerKey:    s.crypt.Hash(ck),
		ConsumerSecret: cs,
		TruncatedKey:   ck[len(ck)-truncatedLength:],
		Endpoints:      endpoints,
		CreatedAt:      s.now(),
	}
	id, err := s.repo.Insert(ctx, k)
	if err != nil {
		return nil, fmt.Errorf("insert api key: %w", err)
	}

	logger.Log.Info("api key created",
		zap.Int64("api_key_id", id),
		zap.Int64("user_id", userID),
		zap.String("permissions", string(perm)),
	)
	return &Credentials{
		ID:             id,
		ConsumerKey:    ck,
		ConsumerSecret: cs,
		TruncatedKey:   k.TruncatedKey,
		Permissions:    perm,
	}, nil
}

// Authenticate resolves the API key owning ck and checks cs against it.
func (s *Service) Authenticate(ctx context.Context, ck, cs string) (*model.APIKey, error) {
	ck, cs = strings.TrimSpace(ck), strings.TrimSpace(cs)
	if ck == "" || cs == "" {
		return nil, apperr.New(apperr.CodeUnauthorized, http.StatusUnauthorized, "consumer key and secret are required")
	}

	k, err := s.repo.GetByConsumerKey(ctx, s.crypt.Hash(ck))
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	if k == nil {
		return nil, apperr.New(apperr.CodeUnauthorized, http.StatusUnauthorized, "consumer key is invalid")
	}
	if !keycrypt.Equal(k.ConsumerSecret, cs) {
		return nil, apperr.New(apperr.CodeUnauthorized, http.StatusUnauthorized, "consumer secret is invalid")
	}

	if err := s.repo.TouchLastAccess(ctx, k.ID); err != nil {
		logger.Log.Warn("touch api key failed", zap.Int64("api_key_id", k.ID), zap.Error(err))
	} else {
		now := s.now()
		k.LastAccess = &now
	}
	return k, nil
}

// Allows checks the key's permission for method and whether endpointID is
// enabled for it.
func (s *Service) Allows(k *model.APIKey, method, endpointID string) error {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		if !k.Permissions.CanRead() {
			return apperr.New(apperr.CodeForbidden, http.StatusForbidden, "the API key does not have read permissions")
		}
	default:
		if !k.Permissions.CanWrite() {
			return apperr.New(apperr.CodeForbidden, http.StatusForbidden, "the API key does not have write permissions")
		}
	}
	if !k.Endpoints.Allows(endpointID) {
		return apperr.New(apperr.CodeForbidden, http.StatusForbidden, "the API key may not call %s", endpointID)
	}
	return nil
}

func (s *Service) ListByUser(ctx context.Context, userID int64) ([]model.APIKey, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	n, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("api key #%d could not be found", id)
	}
	return nil
}
