package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/postfleet/postfleet/internal/models"
	"github.com/postfleet/postfleet/internal/transfer"
	"github.com/postfleet/postfleet/internal/uploader"
)

const (
	tiktokCreatorInfoURL = "https://open.tiktokapis.com/v2/post/publish/creator_info/query/"
	tiktokVideoInitURL   = "https://open.tiktokapis.com/v2/post/publish/video/init/"
	tiktokContentInitURL = "https://open.tiktokapis.com/v2/post/publish/content/init/"
	tiktokStatusFetchURL = "https://open.tiktokapis.com/v2/post/publish/status/fetch/"

	// TikTok accepts chunks between 5 MB and 64 MB.
	tiktokChunkSize = int64(10 << 20)
)

type TiktokAdapter struct {
	client *http.Client
}

func NewTiktokAdapter() *TiktokAdapter {
	return &TiktokAdapter{client: &http.Client{}}
}

func (a *TiktokAdapter) Platform() string {
	return Tiktok
}

func (a *TiktokAdapter) CheckAuth(ctx context.Context, cred *models.Credential) error {
	var result transfer.TiktokInitResponse
	resp, err := a.postJSON(ctx, tiktokCreatorInfoURL, cred.AccessToken, nil, &result)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return ClassifyResponse(resp, result.Error.Message)
	}
	if result.Error.Code != "" && result.Error.Code != "ok" {
		return tiktokError(result.Error)
	}
	return nil
}

func (a *TiktokAdapter) Publish(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*Outcome, error) {
	if task.ContentType == models.ContentTypeVideo {
		return a.publishVideo(ctx, task, cred)
	}
	return a.publishPhotos(ctx, task, cred)
}

func (a *TiktokAdapter) publishVideo(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*Outcome, error) {
	src := uploader.NewURLSource(task.VideoURL)
	size, err := src.Size(ctx)
	if err != nil {
		return nil, ClassifyRequestError(err)
	}

	chunkSize := tiktokChunkSize
	if size < chunkSize {
		chunkSize = size
	}
	totalChunks := int((size + chunkSize - 1) / chunkSize)

	initReq := transfer.TiktokVideoInitRequest{
		PostInfo: transfer.TiktokVideoPostInfo{
			Title:                 task.Caption,
			PrivacyLevel:          "PUBLIC_TO_EVERYONE",
			VideoCoverTimestampMs: 1000,
		},
		SourceInfo: transfer.TiktokVideoSourceInfo{
			Source:          "FILE_UPLOAD",
			VideoSize:       size,
			ChunkSize:       chunkSize,
			TotalChunkCount: totalChunks,
		},
	}

	var initRes transfer.TiktokInitResponse
	resp, err := a.postJSON(ctx, tiktokVideoInitURL, cred.AccessToken, initReq, &initRes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ClassifyResponse(resp, initRes.Error.Message)
	}
	if initRes.Error.Code != "" && initRes.Error.Code != "ok" {
		return nil, tiktokError(initRes.Error)
	}

	err = uploader.Upload(ctx, src, chunkSize, func(chunk []byte, index int, totalSize int64) error {
		start := int64(index) * chunkSize
		end := start + int64(len(chunk)) - 1
		return a.putChunk(ctx, initRes.Data.UploadURL, chunk, start, end, totalSize)
	})
	if err != nil {
		return nil, AsError(err)
	}

	return &Outcome{Handle: &AsyncHandle{SessionID: initRes.Data.PublishID}}, nil
}

func (a *TiktokAdapter) publishPhotos(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*Outcome, error) {
	if len(task.ImageURLs) == 0 {
		return nil, Errorf(models.ErrorKindPayloadInvalid, "no images attached to task %s", task.ID)
	}

	initReq := transfer.TiktokPhotoInitRequest{
		PostInfo: transfer.TiktokPhotoPostInfo{
			Title:        task.Caption,
			PrivacyLevel: "PUBLIC_TO_EVERYONE",
			AutoAddMusic: true,
		},
		SourceInfo: transfer.TiktokPhotoSourceInfo{
			Source:      "PULL_FROM_URL",
			PhotoImages: task.ImageURLs,
		},
		PostMode:  "DIRECT_POST",
		MediaType: "PHOTO",
	}

	var initRes transfer.TiktokInitResponse
	resp, err := a.postJSON(ctx, tiktokContentInitURL, cred.AccessToken, initReq, &initRes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ClassifyResponse(resp, initRes.Error.Message)
	}
	if initRes.Error.Code != "" && initRes.Error.Code != "ok" {
		return nil, tiktokError(initRes.Error)
	}

	return &Outcome{Handle: &AsyncHandle{SessionID: initRes.Data.PublishID}}, nil
}

func (a *TiktokAdapter) CheckStatus(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*Status, error) {
	if task.UploadSessionID == "" {
		return nil, Errorf(models.ErrorKindInternal, "task %s has no publish id to poll", task.ID)
	}

	var result transfer.TiktokStatusResponse
	resp, err := a.postJSON(ctx, tiktokStatusFetchURL, cred.AccessToken, transfer.TiktokStatusRequest{PublishID: task.UploadSessionID}, &result)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ClassifyResponse(resp, result.Error.Message)
	}
	if result.Error.Code != "" && result.Error.Code != "ok" {
		return nil, tiktokError(result.Error)
	}

	switch result.Data.Status {
	case "PUBLISH_COMPLETE":
		res := &Result{ExternalID: task.UploadSessionID}
		if len(result.Data.PubliclyAvailablePostID) > 0 {
			res.ExternalID = strconv.FormatInt(result.Data.PubliclyAvailablePostID[0], 10)
			res.ExternalURL = fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", cred.AccountRef, res.ExternalID)
		}
		return &Status{Done: true, Result: res}, nil
	case "FAILED":
		return &Status{Done: true, Err: Errorf(models.ErrorKindPayloadInvalid, "tiktok rejected the post: %s", result.Data.FailReason)}, nil
	default:
		// PROCESSING_UPLOAD, PROCESSING_DOWNLOAD, SEND_TO_USER_INBOX ...
		return &Status{Done: false}, nil
	}
}

func (a *TiktokAdapter) putChunk(ctx context.Context, uploadURL string, chunk []byte, start, end, total int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(chunk))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "video/mp4")
	req.Header.Set("Content-Length", strconv.Itoa(len(chunk)))
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))

	resp, err := a.client.Do(req)
	if err != nil {
		return ClassifyRequestError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusPartialContent {
		body, _ := io.ReadAll(resp.Body)
		return ClassifyResponse(resp, string(body))
	}
	return nil
}

func (a *TiktokAdapter) postJSON(ctx context.Context, url, accessToken string, payload, out interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, Errorf(models.ErrorKindInternal, "marshalling request: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, Errorf(models.ErrorKindInternal, "creating request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, ClassifyRequestError(err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp, Errorf(models.ErrorKindInternal, "decoding response: %v", err)
		}
	}
	return resp, nil
}

func tiktokError(e transfer.TiktokError) *Error {
	switch e.Code {
	case "access_token_invalid", "scope_not_authorized", "scope_permission_missed":
		return &Error{Kind: models.ErrorKindAuthExpired, Message: e.Message}
	case "rate_limit_exceeded", "spam_risk_too_many_posts", "spam_risk_user_banned_from_posting":
		return &Error{Kind: models.ErrorKindRateLimited, Message: e.Message, RetryAfter: time.Minute}
	case "invalid_params", "url_ownership_unverified", "privacy_level_option_mismatch",
		"picture_size_check_failed", "video_format_check_failed", "duration_check_failed", "frame_rate_check_failed":
		return &Error{Kind: models.ErrorKindPayloadInvalid, Message: e.Message}
	case "internal_error":
		return &Error{Kind: models.ErrorKindTransientNetwork, Message: e.Message}
	default:
		return &Error{Kind: models.ErrorKindInternal, Message: fmt.Sprintf("tiktok error %s: %s", e.Code, e.Message)}
	}
}
