package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/postfleet/postfleet/internal/models"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

type YoutubeAdapter struct {
	client *http.Client
}

func NewYoutubeAdapter() *YoutubeAdapter {
	return &YoutubeAdapter{client: &http.Client{}}
}

func (a *YoutubeAdapter) Platform() string {
	return Youtube
}

func (a *YoutubeAdapter) CheckAuth(ctx context.Context, cred *models.Credential) error {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://www.googleapis.com/oauth2/v1/userinfo", nil)
	if err != nil {
		return Errorf(models.ErrorKindInternal, "creating request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return ClassifyRequestError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ClassifyResponse(resp, "")
	}
	return nil
}

// Publish uploads the video through the official client and completes
// synchronously; YouTube exposes the video id as soon as the upload call
// returns.
func (a *YoutubeAdapter) Publish(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*Outcome, error) {
	if task.VideoURL == "" {
		return nil, Errorf(models.ErrorKindPayloadInvalid, "youtube task %s has no video", task.ID)
	}

	token := &oauth2.Token{AccessToken: cred.AccessToken}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	service, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, Errorf(models.ErrorKindInternal, "creating youtube service: %v", err)
	}

	tempFile, err := a.downloadVideo(ctx, task.VideoURL)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tempFile)

	file, err := os.Open(tempFile)
	if err != nil {
		return nil, Errorf(models.ErrorKindInternal, "opening video file: %v", err)
	}
	defer file.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       task.Title,
			Description: task.Caption,
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: "public",
		},
	}

	call := service.Videos.Insert([]string{"snippet", "status"}, video)
	response, err := call.Media(file).Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogleError(err)
	}

	return &Outcome{Result: &Result{
		ExternalID:  response.Id,
		ExternalURL: fmt.Sprintf("https://youtu.be/%s", response.Id),
	}}, nil
}

func (a *YoutubeAdapter) CheckStatus(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*Status, error) {
	return nil, Errorf(models.ErrorKindInternal, "youtube publishes synchronously, task %s should not be polled", task.ID)
}

func (a *YoutubeAdapter) downloadVideo(ctx context.Context, videoURL string) (string, error) {
	tempFile, err := os.CreateTemp("", "video-*.mp4")
	if err != nil {
		return "", Errorf(models.ErrorKindInternal, "creating temporary file: %v", err)
	}
	defer tempFile.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return "", Errorf(models.ErrorKindInternal, "creating request: %v", err)
	}

	response, err := a.client.Do(req)
	if err != nil {
		os.Remove(tempFile.Name())
		return "", ClassifyRequestError(err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		os.Remove(tempFile.Name())
		return "", ClassifyResponse(response, "fetching source video")
	}

	if _, err = io.Copy(tempFile, response.Body); err != nil {
		os.Remove(tempFile.Name())
		return "", ClassifyRequestError(err)
	}

	return tempFile.Name(), nil
}

func classifyGoogleError(err error) *Error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		resp := &http.Response{StatusCode: apiErr.Code, Header: apiErr.Header}
		return ClassifyResponse(resp, apiErr.Message)
	}
	return ClassifyRequestError(err)
}
