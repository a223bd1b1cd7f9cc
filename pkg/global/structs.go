package global

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// APIResponse is the envelope shared by the local API and the remote cart
// service. Status is the discriminator; Success mirrors it for older clients.
type APIResponse struct {
	Status  string            `json:"status"`
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Message string            `json:"message,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

func SuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Status:  StatusSuccess,
		Success: true,
		Data:    data,
	}
}

func ErrorResponse(message string, errors []ValidationError) APIResponse {
	return APIResponse{
		Status:  StatusError,
		Success: false,
		Message: message,
		Errors:  errors,
	}
}
