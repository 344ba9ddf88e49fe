package domain

// IntegratedProfile is the structured summary of requester, event and request
// produced by the integrate stage.
type IntegratedProfile struct {
	UserTraits          []string `json:"user_traits"`
	ActivityInfo        string   `json:"activity_info"`
	MatchingPreferences string   `json:"matching_preferences"`
	RawResponse         string   `json:"raw_response,omitempty"`
}

// Recommendation is a transient ranked suggestion; it is never persisted.
type Recommendation struct {
	CandidateUserID int64    `json:"user_id" validate:"gt=0"`
	MatchScore      float64  `json:"match_score" validate:"gte=0,lte=10"`
	Reasons         []string `json:"reasons"`
}
