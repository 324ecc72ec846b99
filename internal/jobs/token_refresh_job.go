package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/postfleet/postfleet/internal/models"
	"github.com/postfleet/postfleet/internal/repository"
	"github.com/postfleet/postfleet/internal/service"
)

// TokenRefreshJob renews access tokens shortly before they lapse so queued
// tasks do not fail with expired credentials mid-flight.
type TokenRefreshJob struct {
	sr repository.SocialAccountRepository
	yt service.YoutubeService
	tt service.TiktokService
	ig service.InstagramService
	tw service.TwitterService
}

func NewTokenRefreshJob(
	sr repository.SocialAccountRepository,
	yt service.YoutubeService,
	tt service.TiktokService,
	ig service.InstagramService,
	tw service.TwitterService) *TokenRefreshJob {
	return &TokenRefreshJob{
		sr: sr,
		yt: yt,
		tt: tt,
		ig: ig,
		tw: tw,
	}
}

func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	currentTime := time.Now()
	timeIn30Minutes := currentTime.Add(30 * time.Minute)

	accounts, err := c.sr.ListExpiringBetween(ctx, currentTime, timeIn30Minutes)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, acc := range accounts {

		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			var err error
			switch acc.Platform {
			case "youtube":
				err = c.yt.RefreshYoutubeToken(ctx, acc)
			case "instagram":
				err = c.ig.RefreshInstagramToken(ctx, acc)
			case "tiktok":
				err = c.tt.RefreshTiktokToken(ctx, acc)
			case "twitter":
				err = c.tw.RefreshTwitterToken(ctx, acc)
			}
			if err != nil {
				slog.Info("Unable to refresh tokens", "platform", acc.Platform, "account_id", acc.ID)
			}
		}(acc)
	}
	wg.Wait()
}
