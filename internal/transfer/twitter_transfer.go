package transfer

type TwitterMediaInitResponse struct {
	MediaIDString  string                 `json:"media_id_string"`
	ExpiresAfter   int64                  `json:"expires_after_secs"`
	ProcessingInfo *TwitterProcessingInfo `json:"processing_info,omitempty"`
}

type TwitterProcessingInfo struct {
	State           string           `json:"state"` // pending, in_progress, succeeded, failed
	CheckAfterSecs  int              `json:"check_after_secs"`
	ProgressPercent int              `json:"progress_percent"`
	Error           *TwitterMediaErr `json:"error,omitempty"`
}

type TwitterMediaErr struct {
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

type TwitterTweetRequest struct {
	Text  string             `json:"text"`
	Media *TwitterTweetMedia `json:"media,omitempty"`
}

type TwitterTweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type TwitterTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}
