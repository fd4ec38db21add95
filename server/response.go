package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/logging"
)

// maxBodyBytes 是请求体上限
const maxBodyBytes = 1 << 20

// ErrorResponse 是错误响应体，不包含内部错误细节
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeRequest 解析并校验 JSON 请求体，错误均为 VALIDATION
func decodeRequest(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return core.WrapDomainError(core.ModuleServer, core.ErrorCodeValidation, "read request body", err)
	}
	if len(body) > maxBodyBytes {
		return core.NewValidationError(core.ModuleServer, "request body too large")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return core.NewValidationError(core.ModuleServer, "invalid JSON body")
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return core.NewValidationError(core.ModuleServer, fmt.Sprintf("field %s failed %s", fe.Namespace(), fe.Tag()))
		}
		return core.NewValidationError(core.ModuleServer, "invalid request")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("write response failed")
	}
}

// statusFor 把领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case core.IsValidation(err):
		return http.StatusBadRequest
	case core.IsModelUnavailable(err):
		return http.StatusServiceUnavailable
	case core.IsUpstreamTimeout(err):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeError 写出错误响应；500 只返回通用信息，细节进日志
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Code: core.ErrorCodeInternalError, Error: "internal error"}
	var de *core.DomainError
	switch {
	case status == http.StatusBadRequest && errors.As(err, &de):
		resp = ErrorResponse{Code: core.ErrorCodeValidation, Error: de.Message}
	case status == http.StatusServiceUnavailable:
		resp = ErrorResponse{Code: core.ErrorCodeModelUnavailable, Error: "model or index unavailable"}
	case status == http.StatusGatewayTimeout:
		resp = ErrorResponse{Code: core.ErrorCodeUpstreamTimeout, Error: "upstream timeout"}
	}
	ev := logging.Ctx(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		ev = logging.Ctx(r.Context()).Error()
	}
	ev.Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request failed")
	writeJSON(w, status, resp)
}
