package domain

const (
	TagMinLength = 2
	TagMaxLength = 50
	MaxTags      = 10
)

type Tag struct {
	RequestID int64  `json:"request_id" db:"request_id"`
	TagName   string `json:"tag_name" db:"tag_name"`
}
