package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/postfleet/postfleet/internal/models"
	"github.com/postfleet/postfleet/internal/transfer"
)

const instagramGraphURL = "https://graph.instagram.com/v21.0"

type InstagramAdapter struct {
	client *http.Client
}

func NewInstagramAdapter() *InstagramAdapter {
	return &InstagramAdapter{client: &http.Client{}}
}

func (a *InstagramAdapter) Platform() string {
	return Instagram
}

func (a *InstagramAdapter) CheckAuth(ctx context.Context, cred *models.Credential) error {
	reqURL := fmt.Sprintf("https://graph.instagram.com/me?fields=id&access_token=%s", url.QueryEscape(cred.AccessToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Errorf(models.ErrorKindInternal, "creating request: %v", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return ClassifyRequestError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return ClassifyResponse(resp, instagramErrorDetail(body))
	}
	return nil
}

// Publish creates the media container(s) and, for image content, publishes
// immediately. Video containers process out-of-band, so those return an async
// handle and the poller finishes the job.
func (a *InstagramAdapter) Publish(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*Outcome, error) {
	switch task.ContentType {
	case models.ContentTypeVideo:
		containerID, err := a.createContainer(ctx, cred, map[string]interface{}{
			"media_type":   "REELS",
			"video_url":    task.VideoURL,
			"caption":      task.Caption,
			"cover_url":    task.CoverURL,
			"access_token": cred.AccessToken,
		})
		if err != nil {
			return nil, err
		}
		return &Outcome{Handle: &AsyncHandle{ContainerID: containerID}}, nil

	case models.ContentTypeCarousel:
		children := make([]string, 0, len(task.ImageURLs))
		for _, imageURL := range task.ImageURLs {
			childID, err := a.createContainer(ctx, cred, map[string]interface{}{
				"image_url":        imageURL,
				"is_carousel_item": true,
				"access_token":     cred.AccessToken,
			})
			if err != nil {
				return nil, err
			}
			children = append(children, childID)
		}

		containerID, err := a.createContainer(ctx, cred, map[string]interface{}{
			"media_type":   "CAROUSEL",
			"caption":      task.Caption,
			"children":     children,
			"access_token": cred.AccessToken,
		})
		if err != nil {
			return nil, err
		}

		mediaID, err := a.publishContainer(ctx, cred, containerID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: &Result{ExternalID: mediaID}}, nil

	default:
		if len(task.ImageURLs) == 0 {
			return nil, Errorf(models.ErrorKindPayloadInvalid, "no image attached to task %s", task.ID)
		}
		containerID, err := a.createContainer(ctx, cred, map[string]interface{}{
			"image_url":    task.ImageURLs[0],
			"caption":      task.Caption,
			"access_token": cred.AccessToken,
		})
		if err != nil {
			return nil, err
		}

		mediaID, err := a.publishContainer(ctx, cred, containerID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: &Result{ExternalID: mediaID}}, nil
	}
}

func (a *InstagramAdapter) CheckStatus(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*Status, error) {
	if task.ContainerID == "" {
		return nil, Errorf(models.ErrorKindInternal, "task %s has no container id to poll", task.ID)
	}

	reqURL := fmt.Sprintf("%s/%s?fields=status_code&access_token=%s",
		instagramGraphURL, task.ContainerID, url.QueryEscape(cred.AccessToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, Errorf(models.ErrorKindInternal, "creating request: %v", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, ClassifyRequestError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ClassifyRequestError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ClassifyResponse(resp, instagramErrorDetail(body))
	}

	var status transfer.InstagramContainerStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, Errorf(models.ErrorKindInternal, "decoding container status: %v", err)
	}

	switch status.StatusCode {
	case "FINISHED":
		mediaID, err := a.publishContainer(ctx, cred, task.ContainerID)
		if err != nil {
			return nil, err
		}
		return &Status{Done: true, Result: &Result{ExternalID: mediaID}}, nil
	case "PUBLISHED":
		return &Status{Done: true, Result: &Result{ExternalID: task.ContainerID}}, nil
	case "ERROR":
		return &Status{Done: true, Err: Errorf(models.ErrorKindPayloadInvalid, "instagram could not process container %s", task.ContainerID)}, nil
	case "EXPIRED":
		return &Status{Done: true, Err: Errorf(models.ErrorKindTransientNetwork, "instagram container %s expired before publish", task.ContainerID)}, nil
	default:
		// IN_PROGRESS
		return &Status{Done: false}, nil
	}
}

func (a *InstagramAdapter) createContainer(ctx context.Context, cred *models.Credential, payload map[string]interface{}) (string, error) {
	reqURL := fmt.Sprintf("%s/%s/media", instagramGraphURL, cred.AccountRef)
	return a.postForID(ctx, reqURL, payload)
}

func (a *InstagramAdapter) publishContainer(ctx context.Context, cred *models.Credential, containerID string) (string, error) {
	reqURL := fmt.Sprintf("%s/%s/media_publish", instagramGraphURL, cred.AccountRef)
	return a.postForID(ctx, reqURL, map[string]interface{}{
		"creation_id":  containerID,
		"access_token": cred.AccessToken,
	})
}

func (a *InstagramAdapter) postForID(ctx context.Context, reqURL string, payload map[string]interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", Errorf(models.ErrorKindInternal, "marshalling payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewBuffer(body))
	if err != nil {
		return "", Errorf(models.ErrorKindInternal, "creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", ClassifyRequestError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ClassifyRequestError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", ClassifyResponse(resp, instagramErrorDetail(respBody))
	}

	var result transfer.InstagramContainerResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", Errorf(models.ErrorKindInternal, "decoding response: %v", err)
	}
	if result.ID == "" {
		return "", Errorf(models.ErrorKindInternal, "no media id returned from instagram")
	}
	return result.ID, nil
}

// instagramErrorDetail pulls the human-readable message out of a Graph API
// error body so raw payloads never reach the user.
func instagramErrorDetail(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return ""
}
