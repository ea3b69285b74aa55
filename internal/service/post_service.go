package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/repository"
	"github.com/postpilot/postpilot/internal/transfer"
)

// PostDetail is a post together with its targets and per-platform attempt
// results, enough for a client to explain exactly which platforms succeeded
// or failed and why.
type PostDetail struct {
	Post     *models.ScheduledPost    `json:"post"`
	Targets  []string                 `json:"targets"`
	Attempts []*models.PublishAttempt `json:"attempts"`
}

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, time.Duration, error)
	List(ctx context.Context, userID int64) ([]*models.ScheduledPost, error)
	PostInfo(ctx context.Context, postID, userID int64) (*PostDetail, error)
	Retry(ctx context.Context, userID, postID int64) error
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	db    *sql.DB
	pr    repository.PostRepository
	tr    repository.TargetRepository
	ar    repository.AttemptRepository
	cr    repository.ConnectionRepository
	ma    repository.MediaAssetRepository
	pm    repository.PostMediaRepository
	media MediaService
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	tr repository.TargetRepository,
	ar repository.AttemptRepository,
	cr repository.ConnectionRepository,
	ma repository.MediaAssetRepository,
	pm repository.PostMediaRepository,
	media MediaService) PostService {
	return &postService{
		db:    db,
		pr:    pr,
		tr:    tr,
		ar:    ar,
		cr:    cr,
		ma:    ma,
		pm:    pm,
		media: media,
	}
}

var knownPlatforms = map[string]struct{}{
	models.PlatformFacebook:       {},
	models.PlatformInstagram:      {},
	models.PlatformGoogleBusiness: {},
	models.PlatformWebhook:        {},
}

func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, time.Duration, error) {
	if pc == nil {
		err := errors.New("post creation data is nil")
		slog.Error(err.Error())
		return 0, 0, err
	}
	if pc.Caption == "" {
		err := errors.New("caption cannot be empty")
		slog.Info(err.Error())
		return 0, 0, err
	}

	scheduledAt, err := time.Parse("2006-01-02T15:04", pc.ScheduledTime)
	if err != nil {
		err = fmt.Errorf("invalid scheduled time format: %w", err)
		slog.Error(err.Error())
		return 0, 0, err
	}

	var platforms []string
	if err := json.Unmarshal([]byte(pc.Platforms), &platforms); err != nil {
		err = fmt.Errorf("invalid platforms format: %w", err)
		slog.Error(err.Error())
		return 0, 0, err
	}
	if len(platforms) == 0 {
		err := errors.New("no target platforms selected")
		slog.Error(err.Error())
		return 0, 0, err
	}

	// Deduplicate while keeping the submitted order; a post never holds the
	// same target twice.
	seen := make(map[string]struct{}, len(platforms))
	targets := platforms[:0]
	for _, platform := range platforms {
		if _, ok := knownPlatforms[platform]; !ok {
			return 0, 0, fmt.Errorf("unsupported platform %q", platform)
		}
		if _, ok := seen[platform]; ok {
			continue
		}
		seen[platform] = struct{}{}
		targets = append(targets, platform)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post := models.ScheduledPost{
		UserID:      userID,
		Caption:     pc.Caption,
		Title:       pc.Title,
		ScheduledAt: scheduledAt,
		Status:      models.PostStatusPending,
	}

	postID, err := s.pr.Create(ctx, tx, &post)
	if err != nil {
		return 0, 0, fmt.Errorf("error creating post: %w", err)
	}

	if err = s.saveTargets(ctx, tx, userID, postID, targets); err != nil {
		return 0, 0, fmt.Errorf("error processing targets: %w", err)
	}

	if err = s.processFiles(ctx, tx, userID, postID, files); err != nil {
		return 0, 0, fmt.Errorf("error processing files: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	delay := time.Until(scheduledAt)
	if delay < 0 {
		delay = 0
	}

	return postID, delay, nil
}

func (s *postService) saveTargets(ctx context.Context, tx *sql.Tx, userID, postID int64, platforms []string) error {
	for _, platform := range platforms {
		conn, err := s.cr.GetByUserAndPlatform(ctx, userID, platform)
		if err != nil {
			return fmt.Errorf("error checking connection for %s: %w", platform, err)
		}
		if conn == nil || !conn.IsConnected {
			return fmt.Errorf("platform %s is not connected", platform)
		}

		target := models.PostTarget{
			PostID:   postID,
			Platform: platform,
		}
		if err := s.tr.Create(ctx, tx, &target); err != nil {
			return fmt.Errorf("error saving target %s: %w", platform, err)
		}
	}
	return nil
}

func (s *postService) processFiles(ctx context.Context, tx *sql.Tx, userID, postID int64, files []*multipart.FileHeader) error {
	allowedTypes := map[string]struct{}{
		"jpeg": {}, "jpg": {}, "png": {}, "gif": {},
	}

	for i, file := range files {
		fileContent, err := file.Open()
		if err != nil {
			return fmt.Errorf("error opening file: %w", err)
		}
		defer fileContent.Close()

		fileBytes, err := io.ReadAll(fileContent)
		if err != nil {
			return fmt.Errorf("error reading file content: %w", err)
		}

		fileType, err := filetype.Match(fileBytes)
		if err != nil || fileType == types.Unknown {
			return fmt.Errorf("unsupported file type: %w", err)
		}
		if _, ok := allowedTypes[fileType.Extension]; !ok {
			return fmt.Errorf("file type %s is not allowed", fileType.Extension)
		}

		assetID, err := s.saveFile(ctx, tx, userID, fileType.MIME.Value, fileBytes)
		if err != nil {
			return fmt.Errorf("error uploading file: %w", err)
		}

		postMedia := models.PostMedia{
			PostID:       postID,
			AssetID:      assetID,
			DisplayOrder: i,
		}
		if err := s.pm.Create(ctx, tx, &postMedia); err != nil {
			return fmt.Errorf("error saving media file: %w", err)
		}
	}
	return nil
}

func (s *postService) saveFile(ctx context.Context, tx *sql.Tx, userID int64, fileType string, file []byte) (int64, error) {
	key, err := gonanoid.New()
	if err != nil {
		slog.Error(err.Error())
		return 0, err
	}

	fileURL, err := s.media.Upload(ctx, key, file, fileType)
	if err != nil {
		slog.Error(err.Error())
		return 0, err
	}

	ma := models.MediaAsset{
		UserID:   userID,
		FileName: key,
		FileType: fileType,
		FileSize: int64(len(file)),
		FileURL:  fileURL,
	}

	return s.ma.Create(ctx, tx, &ma)
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*PostDetail, error) {
	var err error

	if userID == 0 {
		err = errors.New("user is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	if postID == 0 {
		err = errors.New("post id is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !isValid {
		err = errors.New("post doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error getting post info")
	}

	targets, err := s.tr.ListByPostID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error getting post targets")
	}

	attempts, err := s.ar.ListByPostID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error getting publish attempts")
	}

	return &PostDetail{
		Post:     post,
		Targets:  targets,
		Attempts: attempts,
	}, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.ScheduledPost, error) {
	posts, err := s.pr.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting posts")
	}
	return posts, nil
}

// Retry re-arms a terminal post back to pending so the next run picks it up.
// Failed attempts are cleared so those targets run again with a fresh retry
// budget; targets that already succeeded keep their rows and are not
// re-published.
func (s *postService) Retry(ctx context.Context, userID, postID int64) error {
	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}
	if !isValid {
		err = errors.New("post doesn't exist")
		slog.Info(err.Error())
		return err
	}

	reset, err := s.pr.ResetForRetry(ctx, postID)
	if err != nil {
		return fmt.Errorf("error re-arming post")
	}
	if !reset {
		return errors.New("post is not in a retryable state")
	}

	if err := s.ar.ClearFailures(ctx, postID); err != nil {
		return fmt.Errorf("error clearing failed attempts")
	}
	return nil
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	var err error

	if userID == 0 {
		err = errors.New("user is not valid")
		slog.Info(err.Error())
		return err
	}

	if postID == 0 {
		err = errors.New("post id is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}
	if !isValid {
		err = errors.New("post doesn't exist")
		slog.Info(err.Error())
		return err
	}

	if err := s.pr.Remove(ctx, postID); err != nil {
		return fmt.Errorf("error removing post")
	}

	return nil
}
