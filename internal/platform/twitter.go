package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/postfleet/postfleet/internal/models"
	"github.com/postfleet/postfleet/internal/transfer"
	"github.com/postfleet/postfleet/internal/uploader"
)

const (
	twitterMediaUploadURL = "https://upload.twitter.com/1.1/media/upload.json"
	twitterTweetURL       = "https://api.twitter.com/2/tweets"
	twitterMeURL          = "https://api.twitter.com/2/users/me"

	// APPEND segments may be at most 5 MB.
	twitterChunkSize = int64(4 << 20)
)

type TwitterAdapter struct {
	client *http.Client
}

func NewTwitterAdapter() *TwitterAdapter {
	return &TwitterAdapter{client: &http.Client{}}
}

func (a *TwitterAdapter) Platform() string {
	return Twitter
}

func (a *TwitterAdapter) CheckAuth(ctx context.Context, cred *models.Credential) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, twitterMeURL, nil)
	if err != nil {
		return Errorf(models.ErrorKindInternal, "creating request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return ClassifyRequestError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ClassifyResponse(resp, "")
	}
	return nil
}

func (a *TwitterAdapter) Publish(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*Outcome, error) {
	if task.ContentType == models.ContentTypeVideo {
		return a.publishVideo(ctx, task, cred)
	}

	var mediaIDs []string
	for _, imageURL := range task.ImageURLs {
		mediaID, err := a.uploadMedia(ctx, cred, imageURL, "image/jpeg", "tweet_image")
		if err != nil {
			return nil, err
		}
		mediaIDs = append(mediaIDs, mediaID)
	}

	result, err := a.createTweet(ctx, cred, task.Caption, mediaIDs)
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: result}, nil
}

func (a *TwitterAdapter) publishVideo(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*Outcome, error) {
	mediaID, err := a.uploadMedia(ctx, cred, task.VideoURL, "video/mp4", "tweet_video")
	if err != nil {
		return nil, err
	}

	final, err := a.finalize(ctx, cred, mediaID)
	if err != nil {
		return nil, err
	}

	if final.ProcessingInfo != nil && final.ProcessingInfo.State != "succeeded" {
		if final.ProcessingInfo.State == "failed" {
			return nil, twitterProcessingError(final.ProcessingInfo)
		}
		return &Outcome{Handle: &AsyncHandle{SessionID: mediaID}}, nil
	}

	result, err := a.createTweet(ctx, cred, task.Caption, []string{mediaID})
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: result}, nil
}

// CheckStatus polls video processing; once the media succeeds the tweet
// itself is created here, which completes the publish.
func (a *TwitterAdapter) CheckStatus(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*Status, error) {
	if task.UploadSessionID == "" {
		return nil, Errorf(models.ErrorKindInternal, "task %s has no media id to poll", task.ID)
	}

	params := url.Values{}
	params.Set("command", "STATUS")
	params.Set("media_id", task.UploadSessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, twitterMediaUploadURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, Errorf(models.ErrorKindInternal, "creating request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, ClassifyRequestError(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, ClassifyResponse(resp, string(body))
	}

	var status transfer.TwitterMediaInitResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, Errorf(models.ErrorKindInternal, "decoding media status: %v", err)
	}

	if status.ProcessingInfo == nil || status.ProcessingInfo.State == "succeeded" {
		result, err := a.createTweet(ctx, cred, task.Caption, []string{task.UploadSessionID})
		if err != nil {
			return nil, err
		}
		return &Status{Done: true, Result: result}, nil
	}
	if status.ProcessingInfo.State == "failed" {
		return &Status{Done: true, Err: twitterProcessingError(status.ProcessingInfo)}, nil
	}
	return &Status{Done: false}, nil
}

// uploadMedia runs INIT and the chunked APPEND loop, returning the media id.
// FINALIZE is separate because images finalize inline while videos may keep
// processing.
func (a *TwitterAdapter) uploadMedia(ctx context.Context, cred *models.Credential, sourceURL, mediaType, category string) (string, error) {
	src := uploader.NewURLSource(sourceURL)
	size, err := src.Size(ctx)
	if err != nil {
		return "", ClassifyRequestError(err)
	}

	params := url.Values{}
	params.Set("command", "INIT")
	params.Set("total_bytes", strconv.FormatInt(size, 10))
	params.Set("media_type", mediaType)
	params.Set("media_category", category)

	var initRes transfer.TwitterMediaInitResponse
	if err := a.postForm(ctx, cred, params, &initRes); err != nil {
		return "", err
	}
	if initRes.MediaIDString == "" {
		return "", Errorf(models.ErrorKindInternal, "twitter INIT returned no media id")
	}

	err = uploader.Upload(ctx, src, twitterChunkSize, func(chunk []byte, index int, totalSize int64) error {
		return a.appendChunk(ctx, cred, initRes.MediaIDString, chunk, index)
	})
	if err != nil {
		return "", AsError(err)
	}

	if category == "tweet_image" {
		if _, err := a.finalize(ctx, cred, initRes.MediaIDString); err != nil {
			return "", err
		}
	}

	return initRes.MediaIDString, nil
}

func (a *TwitterAdapter) appendChunk(ctx context.Context, cred *models.Credential, mediaID string, chunk []byte, index int) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	writer.WriteField("command", "APPEND")
	writer.WriteField("media_id", mediaID)
	writer.WriteField("segment_index", strconv.Itoa(index))

	part, err := writer.CreateFormFile("media", "chunk")
	if err != nil {
		return Errorf(models.ErrorKindInternal, "building multipart body: %v", err)
	}
	if _, err := part.Write(chunk); err != nil {
		return Errorf(models.ErrorKindInternal, "building multipart body: %v", err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, twitterMediaUploadURL, &body)
	if err != nil {
		return Errorf(models.ErrorKindInternal, "creating request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := a.client.Do(req)
	if err != nil {
		return ClassifyRequestError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return ClassifyResponse(resp, string(respBody))
	}
	return nil
}

func (a *TwitterAdapter) finalize(ctx context.Context, cred *models.Credential, mediaID string) (*transfer.TwitterMediaInitResponse, error) {
	params := url.Values{}
	params.Set("command", "FINALIZE")
	params.Set("media_id", mediaID)

	var result transfer.TwitterMediaInitResponse
	if err := a.postForm(ctx, cred, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (a *TwitterAdapter) createTweet(ctx context.Context, cred *models.Credential, text string, mediaIDs []string) (*Result, error) {
	payload := transfer.TwitterTweetRequest{Text: text}
	if len(mediaIDs) > 0 {
		payload.Media = &transfer.TwitterTweetMedia{MediaIDs: mediaIDs}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Errorf(models.ErrorKindInternal, "marshalling tweet: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, twitterTweetURL, bytes.NewReader(body))
	if err != nil {
		return nil, Errorf(models.ErrorKindInternal, "creating request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, ClassifyRequestError(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, ClassifyResponse(resp, string(respBody))
	}

	var result transfer.TwitterTweetResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, Errorf(models.ErrorKindInternal, "decoding tweet response: %v", err)
	}

	return &Result{
		ExternalID:  result.Data.ID,
		ExternalURL: fmt.Sprintf("https://x.com/%s/status/%s", cred.AccountRef, result.Data.ID),
	}, nil
}

func (a *TwitterAdapter) postForm(ctx context.Context, cred *models.Credential, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, twitterMediaUploadURL, bytes.NewBufferString(params.Encode()))
	if err != nil {
		return Errorf(models.ErrorKindInternal, "creating request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return ClassifyRequestError(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ClassifyResponse(resp, string(body))
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return Errorf(models.ErrorKindInternal, "decoding response: %v", err)
		}
	}
	return nil
}

func twitterProcessingError(info *transfer.TwitterProcessingInfo) *Error {
	if info.Error != nil {
		return Errorf(models.ErrorKindPayloadInvalid, "twitter rejected the media: %s", info.Error.Message)
	}
	return Errorf(models.ErrorKindPayloadInvalid, "twitter media processing failed")
}
