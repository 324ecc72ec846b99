package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/postfleet/postfleet/internal/models"
	"github.com/postfleet/postfleet/internal/repository"
)

// MediaService stores uploaded media in the bucket and records an asset row.
// Tasks reference assets by their public URL; the publish pipeline never
// touches uploads directly.
type MediaService interface {
	Upload(ctx context.Context, userID int64, file *multipart.FileHeader) (*models.MediaAsset, error)
	Info(ctx context.Context, userID, assetID int64) (*models.MediaAsset, error)
	Remove(ctx context.Context, userID, assetID int64) error
}

type mediaService struct {
	ma repository.MediaAssetRepository
	r2 R2Service
}

func NewMediaService(ma repository.MediaAssetRepository, r2 R2Service) MediaService {
	return &mediaService{
		ma: ma,
		r2: r2,
	}
}

var allowedTypes = map[string]struct{}{
	"mp4": {}, "mov": {}, "jpeg": {}, "png": {}, "jpg": {},
}

func (s *mediaService) Upload(ctx context.Context, userID int64, file *multipart.FileHeader) (*models.MediaAsset, error) {
	fileContent, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	defer fileContent.Close()

	fileBytes, err := io.ReadAll(fileContent)
	if err != nil {
		return nil, fmt.Errorf("error reading file content: %w", err)
	}

	fileType, err := filetype.Match(fileBytes)
	if err != nil || fileType == types.Unknown {
		return nil, fmt.Errorf("unsupported file type: %w", err)
	}
	if _, ok := allowedTypes[fileType.Extension]; !ok {
		return nil, fmt.Errorf("file type %s is not allowed", fileType.Extension)
	}

	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	if err := s.r2.UploadToR2(ctx, id, fileBytes, fileType.MIME.Value); err != nil {
		return nil, fmt.Errorf("error uploading file: %w", err)
	}

	ma := &models.MediaAsset{
		UserID:   userID,
		FileName: id,
		FileType: fileType.MIME.Value,
		FileSize: int64(len(fileBytes)),
		FileURL:  s.r2.PublicURL(id),
	}

	assetID, err := s.ma.Create(ctx, nil, ma)
	if err != nil {
		return nil, err
	}
	ma.ID = assetID

	return ma, nil
}

func (s *mediaService) Info(ctx context.Context, userID, assetID int64) (*models.MediaAsset, error) {
	asset, err := s.ma.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil || asset.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return asset, nil
}

func (s *mediaService) Remove(ctx context.Context, userID, assetID int64) error {
	asset, err := s.ma.GetByID(ctx, assetID)
	if err != nil {
		return err
	}
	if asset == nil || asset.UserID != userID {
		return repository.ErrNotFound
	}

	if err := s.r2.DeleteFromR2(ctx, asset.FileName); err != nil {
		slog.Info(err.Error())
	}

	return s.ma.Remove(ctx, assetID)
}
