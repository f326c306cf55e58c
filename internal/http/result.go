package httpapi

// Result 分诊 API 的响应信封；失败时 Message 携带校验或服务错误，Result 为 null
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

// 信封 Code 取值
const (
	ResultSuccess = 2000
	ResultError   = -1
)

// Ok 成功信封，评估结果与会话信息放在 Result 中
func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

// Fail 错误信封，HTTP 状态码由调用方按错误类型决定
func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message, Result: nil}
}
