package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"multicurrency-ledger/internal/errors"
	"multicurrency-ledger/internal/service"
)

const (
	HeaderClientID  = "X-Client-ID"
	HeaderAdmin     = "X-Admin"
	HeaderRequestID = "X-Request-ID"
)

type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

var validate = validator.New()

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := Response{Data: data}
	json.NewEncoder(w).Encode(response)
}

// WriteError renders err in the error envelope. Anything that is not an
// AppError is reported as internal_error without leaking its text.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := errors.As(err)
	if appErr.Code == errors.InternalError {
		LoggerFromContext(r.Context()).Error("Request failed", "error", err)
		appErr = errors.NewAppError(errors.InternalError, "an unexpected error occurred")
	}
	writeError(w, appErr)
}

func writeError(w http.ResponseWriter, appErr *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")

	statusCode := appErr.HTTPStatus()
	errResponse := Error{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Details,
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{Error: &errResponse})
}

// decodeJSON reads the request body into dst and runs the struct's validate
// tags. An empty body is treated as an empty object.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.ErrInvalidInput.WithDetails(err.Error())
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		problems = append(problems, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return errors.NewAppError(errors.InvalidInput, "request validation failed").
		WithDetails(strings.Join(problems, "; "))
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, errors.NewAppError(errors.InvalidAmount, "invalid amount format").WithDetails(err.Error())
	}
	return amount, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.ErrInvalidAccountID
	}
	return id, nil
}

// CallerFromRequest reads the identity headers set by the gateway in front
// of the service. A missing client ID yields an anonymous caller that owns
// nothing.
func CallerFromRequest(r *http.Request) (service.Caller, error) {
	var caller service.Caller
	if admin, err := strconv.ParseBool(r.Header.Get(HeaderAdmin)); err == nil && admin {
		caller.Admin = true
	}

	raw := strings.TrimSpace(r.Header.Get(HeaderClientID))
	if raw == "" {
		return caller, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return caller, errors.NewAppError(errors.InvalidInput, "invalid "+HeaderClientID+" header")
	}
	caller.ClientID = id
	return caller, nil
}

type loggerKey struct{}

// WithLogger stores a request-scoped logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
