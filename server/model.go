package server

type ResponseModel struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// StartedQueryModel is returned when a query is started over HTTP.
type StartedQueryModel struct {
	ID   string `json:"id"`
	Plan string `json:"plan"`
}
