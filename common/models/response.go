package models

// BaseResponse wraps every successful JSON response body.
type BaseResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse wraps every error JSON response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Msg   string `json:"msg"`
}
