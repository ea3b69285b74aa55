package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cfg "github.com/postpilot/postpilot/configs"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/repository"
	"github.com/postpilot/postpilot/internal/transfer"
	"github.com/postpilot/postpilot/pkg/utils"
)

type ConnectionService interface {
	Store(ctx context.Context, userID int64, cc *transfer.ConnectionCreation) (int64, error)
	List(ctx context.Context, userID int64) ([]*models.PlatformConnection, error)
	Disconnect(ctx context.Context, userID, connectionID int64) error
	Remove(ctx context.Context, userID, connectionID int64) error
}

type connectionService struct {
	cfg cfg.Config
	cr  repository.ConnectionRepository
}

func NewConnectionService(cfg cfg.Config, cr repository.ConnectionRepository) ConnectionService {
	return &connectionService{
		cfg: cfg,
		cr:  cr,
	}
}

// Store saves a finished platform credential for the tenant. The external
// connect flow owns the OAuth dance; this only encrypts and persists its
// result, marking the connection usable by the pipeline.
func (s *connectionService) Store(ctx context.Context, userID int64, cc *transfer.ConnectionCreation) (int64, error) {
	if cc.Platform == "" || cc.Credential == "" {
		err := errors.New("platform and credential are required")
		slog.Info(err.Error())
		return 0, err
	}
	if _, ok := knownPlatforms[cc.Platform]; !ok {
		return 0, fmt.Errorf("unsupported platform %q", cc.Platform)
	}

	expiresAt, err := time.Parse(time.RFC3339, cc.TokenExpiresAt)
	if err != nil {
		err = fmt.Errorf("invalid token expiry format: %w", err)
		slog.Info(err.Error())
		return 0, err
	}

	encrypted, err := utils.Encrypt([]byte(cc.Credential), []byte(s.cfg.SecretKey))
	if err != nil {
		return 0, err
	}

	conn := &models.PlatformConnection{
		UserID:         userID,
		Platform:       cc.Platform,
		AccountRef:     cc.AccountRef,
		AccountName:    cc.AccountName,
		Credential:     encrypted,
		IsConnected:    true,
		TokenExpiresAt: expiresAt,
	}

	id, err := s.cr.Create(ctx, nil, conn)
	if err != nil {
		return 0, fmt.Errorf("error saving connection")
	}
	return id, nil
}

func (s *connectionService) List(ctx context.Context, userID int64) ([]*models.PlatformConnection, error) {
	var err error

	if userID == 0 {
		err = errors.New("user is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	connections, err := s.cr.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting connections")
	}

	return connections, nil
}

func (s *connectionService) Disconnect(ctx context.Context, userID, connectionID int64) error {
	if err := s.checkOwnership(ctx, userID, connectionID); err != nil {
		return err
	}

	if err := s.cr.SetDisconnected(ctx, connectionID); err != nil {
		return fmt.Errorf("error disconnecting account")
	}
	return nil
}

func (s *connectionService) Remove(ctx context.Context, userID, connectionID int64) error {
	if err := s.checkOwnership(ctx, userID, connectionID); err != nil {
		return err
	}

	if err := s.cr.Remove(ctx, connectionID); err != nil {
		return fmt.Errorf("error removing connection")
	}
	return nil
}

func (s *connectionService) checkOwnership(ctx context.Context, userID, connectionID int64) error {
	var err error

	if userID == 0 {
		err = errors.New("user is not valid")
		slog.Info(err.Error())
		return err
	}

	if connectionID == 0 {
		err = errors.New("connection id is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.cr.CheckByUserID(ctx, connectionID, userID)
	if err != nil {
		return err
	}
	if !isValid {
		err = errors.New("connection doesn't exist")
		slog.Info(err.Error())
		return err
	}
	return nil
}
