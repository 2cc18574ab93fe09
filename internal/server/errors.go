package server

import (
	"PerpClearing/internal/query"
	"PerpClearing/internal/types"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// statusCode maps err to a gRPC code. Clearing errors carry their own
// code from registration.
func statusCode(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, errMalformed):
		return codes.InvalidArgument
	case errors.Is(err, query.ErrNoDatabase):
		return codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	if e, ok := types.Lookup(err); ok {
		return e.GRPCStatus().Code()
	}
	return codes.Internal
}

func toStatus(err error) error {
	return status.Error(statusCode(err), err.Error())
}

// errorName is the stable name returned to API clients.
func errorName(err error) string {
	if errors.Is(err, errMalformed) {
		return "Malformed"
	}
	return query.ErrorCode(err)
}

// ErrorBody is the JSON error returned by the HTTP gateway.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	writeJSON(w, runtime.HTTPStatusFromCode(code), ErrorBody{
		Error:   errorName(err),
		Message: err.Error(),
		Code:    int(code),
	})
}

func writeJSON(w http.ResponseWriter, httpStatus int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(v)
}
