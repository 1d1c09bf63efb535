package server

import (
	"encoding/json"
	"net/http"

	"github.com/golang/glog"

	"github.com/Makepad-fr/tada/internal/errs"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusFor(code errs.Code) int {
	switch code {
	case errs.Validation:
		return http.StatusBadRequest
	case errs.Authentication:
		return http.StatusUnauthorized
	case errs.Authorization:
		return http.StatusForbidden
	case errs.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	status := statusFor(code)
	if status >= 500 {
		glog.Errorf("[server]%s", err)
	}
	writeJSON(w, status, errorBody{Code: string(code), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.V(2).Infof("[server]write response error = %s", err)
	}
}
