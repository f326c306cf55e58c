package models

// TokenUsage 建议服务返回的 token 统计
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Split 输入/输出 token 占比（百分比），total 为 0 时返回 0
func (u *TokenUsage) Split() (promptPct, completionPct float64) {
	if u == nil || u.TotalTokens <= 0 {
		return 0, 0
	}
	total := float64(u.TotalTokens)
	return float64(u.PromptTokens) / total * 100, float64(u.CompletionTokens) / total * 100
}

// AdvisoryResult 一次外部建议调用的结果信封
// 失败也以信封形式返回，缓存中始终是结构完整的值
type AdvisoryResult struct {
	OK         bool        `json:"ok"`
	Error      *string     `json:"error"`
	LatencySec float64     `json:"latency_s"`
	Usage      *TokenUsage `json:"usage"`
	Text       *string     `json:"text"`

	// 以下字段仅用于可观测性上报，不进入缓存
	StatusCode  int    `json:"-"`
	Model       string `json:"-"`
	PromptChars int    `json:"-"`
}

// ErrorMessage 错误信息（无错误时为空字符串）
func (r *AdvisoryResult) ErrorMessage() string {
	if r == nil || r.Error == nil {
		return ""
	}
	return *r.Error
}

// AdviceText 建议文本（无文本时为空字符串）
func (r *AdvisoryResult) AdviceText() string {
	if r == nil || r.Text == nil {
		return ""
	}
	return *r.Text
}

// StringPtr 辅助函数
func StringPtr(s string) *string {
	return &s
}
