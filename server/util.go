package server

import (
	"encoding/json"
	"net/http"
)

func createResponse(success bool, data interface{}, errorMsg string) ResponseModel {
	response := ResponseModel{
		Success: success,
		Data:    data,
		Error:   errorMsg,
	}
	return response
}

// SendResponse writes a 200 response.
func SendResponse(w http.ResponseWriter, data interface{}) {
	SendResponseWithStatus(w, true, data, "", http.StatusOK)
}

// SendError writes a failed response, 400 when statusCode is 0.
func SendError(w http.ResponseWriter, err error, statusCode int) {
	if statusCode == 0 {
		statusCode = http.StatusBadRequest
	}
	SendResponseWithStatus(w, false, nil, err.Error(), statusCode)
}

func SendResponseWithStatus(w http.ResponseWriter, success bool, data interface{}, errorMsg string, statusCode int) {
	response := createResponse(success, data, errorMsg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, `{"success":false,"error":"Internal Server Error"}`, http.StatusInternalServerError)
	}
}
