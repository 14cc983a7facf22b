package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vocdoni/vocdoni-qf/log"
	"github.com/vocdoni/vocdoni-qf/storage"
)

// Error is used by handler functions to wrap errors, assigning a unique error
// code and the HTTP status of the response.
type Error struct {
	Err        error
	Code       int
	HTTPstatus int
}

// ErrorResponse is the JSON body of every error response.
//
// Example: {"error":"round not found","code":40007}
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// MarshalJSON encodes the error as an ErrorResponse. HTTPstatus is not part
// of the body.
func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(&ErrorResponse{Error: e.Err.Error(), Code: e.Code})
}

func (e Error) Error() string {
	return e.Err.Error()
}

func (e Error) Unwrap() error {
	return e.Err
}

// Write sends the error as a JSON response with its HTTP status.
func (e Error) Write(w http.ResponseWriter) {
	msg, err := json.Marshal(e)
	if err != nil {
		log.Warn(err)
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	log.Debugw("API error response", "error", e.Error(), "code", e.Code, "httpStatus", e.HTTPstatus)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.HTTPstatus)
	if _, err := w.Write(append(msg, '\n')); err != nil {
		log.Warnw("failed to write error response", "error", err.Error())
	}
}

// Withf returns a copy of the error with the formatted string appended.
func (e Error) Withf(format string, args ...any) Error {
	return Error{
		Err:        fmt.Errorf("%w: %s", e.Err, fmt.Sprintf(format, args...)),
		Code:       e.Code,
		HTTPstatus: e.HTTPstatus,
	}
}

// WithErr returns a copy of the error with err appended.
func (e Error) WithErr(err error) Error {
	return e.Withf("%v", err)
}

// storageError maps an error returned by the storage to the API error of the
// response: notFound for storage.ErrNotFound, a generic server error
// otherwise.
func storageError(err error, notFound Error) Error {
	if errors.Is(err, storage.ErrNotFound) {
		return notFound
	}
	return ErrGenericInternalServerError.WithErr(err)
}
