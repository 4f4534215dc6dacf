package handlers

// ErrorResponse is the JSON body for failures that occur before
// streaming begins.
type ErrorResponse struct {
	Error string `json:"error"`
}
