package core

import "errors"

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX），可穿透 fmt.Errorf("%w") 包装
//
// 使用场景：
//   - 请求校验失败：VALIDATION
//   - 模型/索引未加载：MODEL_UNAVAILABLE
//   - 召回/排序降级：RETRIEVAL_DEGRADED, RANKING_DEGRADED
//   - 下游超时（安全检查、特征服务）：UPSTREAM_TIMEOUT
type DomainError struct {
	Code    string // 错误代码（如 "VALIDATION", "MODEL_UNAVAILABLE"）
	Message string // 错误消息
	Module  string // 模块名称（如 "model", "vector", "server"）
	Err     error  // 底层错误（可选）
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// IsDomainError 检查错误链中是否有 DomainError
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链中的 DomainError，如果没有则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// WrapDomainError 以领域错误包装底层错误
func WrapDomainError(module, code, message string, err error) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 错误代码常量
const (
	// 通用错误代码
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeNotSupported  = "NOT_SUPPORTED"  // 操作不支持
	ErrorCodeUnavailable   = "UNAVAILABLE"    // 服务不可用
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误

	// 推荐链路错误代码
	ErrorCodeValidation        = "VALIDATION"         // 请求校验失败
	ErrorCodeModelUnavailable  = "MODEL_UNAVAILABLE"  // 模型或索引未加载
	ErrorCodeRetrievalDegraded = "RETRIEVAL_DEGRADED" // 召回失败，已降级
	ErrorCodeRankingDegraded   = "RANKING_DEGRADED"   // 排序失败，已降级
	ErrorCodeUpstreamTimeout   = "UPSTREAM_TIMEOUT"   // 下游超时
)

// 模块名称常量
const (
	ModuleStore   = "store"   // 存储模块
	ModuleFeature = "feature" // 特征模块
	ModuleVector  = "vector"  // 向量模块
	ModuleService = "service" // 服务模块
	ModuleModel   = "model"   // 模型模块
	ModuleRefresh = "refresh" // 特征刷新任务
	ModuleServer  = "server"  // 网关
	ModuleConfig  = "config"  // 配置与链路装配
)

// ErrStoreNotFound 存储中不存在对应 key
var ErrStoreNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: not found")

// NewValidationError 创建请求校验错误
func NewValidationError(module, message string) *DomainError {
	return NewDomainError(module, ErrorCodeValidation, message)
}

// NewModelUnavailableError 创建模型不可用错误
func NewModelUnavailableError(module, message string) *DomainError {
	return NewDomainError(module, ErrorCodeModelUnavailable, message)
}

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool { return hasCode(err, ErrorCodeNotFound) }

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool { return hasCode(err, ErrorCodeNotSupported) }

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool { return hasCode(err, ErrorCodeUnavailable) }

// IsValidation 检查错误是否为 VALIDATION（或 INVALID_INPUT）
func IsValidation(err error) bool {
	return hasCode(err, ErrorCodeValidation) || hasCode(err, ErrorCodeInvalidInput)
}

// IsModelUnavailable 检查错误是否为 MODEL_UNAVAILABLE
func IsModelUnavailable(err error) bool { return hasCode(err, ErrorCodeModelUnavailable) }

// IsRetrievalDegraded 检查错误是否为 RETRIEVAL_DEGRADED
func IsRetrievalDegraded(err error) bool { return hasCode(err, ErrorCodeRetrievalDegraded) }

// IsRankingDegraded 检查错误是否为 RANKING_DEGRADED
func IsRankingDegraded(err error) bool { return hasCode(err, ErrorCodeRankingDegraded) }

// IsUpstreamTimeout 检查错误是否为 UPSTREAM_TIMEOUT
func IsUpstreamTimeout(err error) bool { return hasCode(err, ErrorCodeUpstreamTimeout) }
