package service

import (
	"context"
	"time"

	config "github.com/postfleet/postfleet/configs"
	"github.com/postfleet/postfleet/internal/models"
	"github.com/postfleet/postfleet/internal/platform"
	"github.com/postfleet/postfleet/internal/repository"
	"github.com/postfleet/postfleet/pkg/utils"
)

// CredentialService resolves and decrypts the token material for one linked
// account right before an adapter call. Failures come back classified so the
// orchestrator can apply its normal retry policy to them.
type CredentialService interface {
	Get(ctx context.Context, accountID int64, platformName string) (*models.Credential, error)
}

type credentialService struct {
	cfg config.Config
	sa  repository.SocialAccountRepository
}

func NewCredentialService(cfg config.Config, sa repository.SocialAccountRepository) CredentialService {
	return &credentialService{
		cfg: cfg,
		sa:  sa,
	}
}

func (s *credentialService) Get(ctx context.Context, accountID int64, platformName string) (*models.Credential, error) {
	acc, err := s.sa.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, platform.Errorf(models.ErrorKindPayloadInvalid, "social account %d not found", accountID)
	}
	if acc.Platform != platformName {
		return nil, platform.Errorf(models.ErrorKindPayloadInvalid,
			"social account %d is a %s account, not %s", accountID, acc.Platform, platformName)
	}

	accessToken, err := utils.Decrypt(acc.AccessToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, platform.Errorf(models.ErrorKindInternal, "decrypting access token: %v", err)
	}

	var refreshToken string
	if acc.RefreshToken != "" {
		refreshToken, err = utils.Decrypt(acc.RefreshToken, []byte(s.cfg.SecretKey))
		if err != nil {
			return nil, platform.Errorf(models.ErrorKindInternal, "decrypting refresh token: %v", err)
		}
	}

	if !acc.TokenExpiresAt.IsZero() && time.Now().After(acc.TokenExpiresAt) {
		return nil, platform.Errorf(models.ErrorKindAuthExpired,
			"access token for account %d expired at %s", accountID, acc.TokenExpiresAt.Format(time.RFC3339))
	}

	return &models.Credential{
		AccountID:    acc.ID,
		Platform:     acc.Platform,
		AccountRef:   acc.AccountRef,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    acc.TokenExpiresAt,
	}, nil
}
