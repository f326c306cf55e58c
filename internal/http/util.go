package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
)

// SessionHeader 携带分诊会话 ID；创建或复用会话的接口会在响应中回写
const SessionHeader = "X-Session-ID"

// writeJSON 写出响应信封
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readBodyJSON 读取 JSON 请求体，最多 maxBytes 字节；空请求体保持 out 不变
func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// parseBool 解析 multipart 表单中的开关字段
func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

// sessionIDFromReq 优先取 SessionHeader，其次取 session_id 查询参数
func sessionIDFromReq(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("session_id")
}
