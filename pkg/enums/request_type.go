package enums

import "fmt"

// RequestType labels what kind of assistant request produced a usage record.
type RequestType string

const (
	RequestTypeCompletion RequestType = "completion"
	RequestTypeChat       RequestType = "chat"
	RequestTypeRewrite    RequestType = "rewrite"
	RequestTypeSummarize  RequestType = "summarize"
	RequestTypeEmbedding  RequestType = "embedding"
)

var validRequestTypes = []RequestType{
	RequestTypeCompletion,
	RequestTypeChat,
	RequestTypeRewrite,
	RequestTypeSummarize,
	RequestTypeEmbedding,
}

// IsValid reports whether the value matches the canonical request type enum.
func (t RequestType) IsValid() bool {
	for _, candidate := range validRequestTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseRequestType converts raw input into RequestType.
func ParseRequestType(value string) (RequestType, error) {
	for _, candidate := range validRequestTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid request type %q", value)
}
