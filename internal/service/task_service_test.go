package service

import (
	"testing"

	"github.com/postfleet/postfleet/internal/models"
	"github.com/postfleet/postfleet/internal/platform"
	"github.com/postfleet/postfleet/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferContentType(t *testing.T) {
	tests := []struct {
		name       string
		submission transfer.TaskSubmission
		want       string
	}{
		{
			name:       "video url wins",
			submission: transfer.TaskSubmission{Platform: platform.Tiktok, VideoURL: "https://cdn.example.com/clip.mp4"},
			want:       models.ContentTypeVideo,
		},
		{
			name:       "multiple images make a carousel",
			submission: transfer.TaskSubmission{Platform: platform.Instagram, ImageURLs: []string{"a.jpg", "b.jpg"}},
			want:       models.ContentTypeCarousel,
		},
		{
			name:       "one image is a single post",
			submission: transfer.TaskSubmission{Platform: platform.Instagram, ImageURLs: []string{"a.jpg"}},
			want:       models.ContentTypeSingle,
		},
		{
			name:       "text-only tweet",
			submission: transfer.TaskSubmission{Platform: platform.Twitter, Caption: "hello"},
			want:       models.ContentTypeSingle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := inferContentType(&tt.submission)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInferContentTypeRejectsEmptySubmission(t *testing.T) {
	_, err := inferContentType(&transfer.TaskSubmission{Platform: platform.Tiktok, Caption: "caption with no media"})
	assert.ErrorIs(t, err, ErrValidation)
}
