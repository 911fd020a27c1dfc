package dto

type APIErrorResponse struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func NewAPIErrorResponse(code, message string) APIErrorResponse {
	return APIErrorResponse{Code: code, Message: message}
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
