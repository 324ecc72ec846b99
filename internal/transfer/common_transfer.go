package transfer

import (
	"github.com/golang-jwt/jwt/v5"
)

type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TaskSubmission is the inbound submitPublish payload from the authoring and
// calendar UI layer.
type TaskSubmission struct {
	AccountID   int64    `json:"account_id"`
	Platform    string   `json:"platform"`
	Caption     string   `json:"caption"`
	Title       string   `json:"title"`
	VideoURL    string   `json:"video_url"`
	ImageURLs   []string `json:"image_urls"`
	CoverURL    string   `json:"cover_url"`
	ScheduledAt string   `json:"scheduled_at"` // RFC 3339, empty = publish now
}

type GoogleUserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}
