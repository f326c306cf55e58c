package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// APIPrefix 分诊 API 前缀
const APIPrefix = "/triage/api/v1"

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// method 限定请求方法
func method(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != m {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// RegisterHealthRoutes 健康检查
func (r *Router) RegisterHealthRoutes() {
	r.Handle("/health", method(http.MethodGet, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	}))
}

// RegisterTriageRoutes 注册分诊路由
func (r *Router) RegisterTriageRoutes(h *TriageHandler) {
	r.Handle(APIPrefix+"/evaluate", method(http.MethodPost, h.Evaluate))
	r.Handle(APIPrefix+"/regenerate", method(http.MethodPost, h.Regenerate))
	r.Handle(APIPrefix+"/acknowledge", method(http.MethodPost, h.Acknowledge))
	r.Handle(APIPrefix+"/reset", method(http.MethodPost, h.Reset))
	r.Handle(APIPrefix+"/report", method(http.MethodGet, h.DownloadReport))
	r.Handle(APIPrefix+"/run-summary", method(http.MethodGet, h.RunSummary))
	r.Handle(APIPrefix+"/criteria", method(http.MethodGet, h.Criteria))

	r.Handle(APIPrefix+"/settings", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			h.GetSettings(w, req)
		case http.MethodPut, http.MethodPost:
			h.UpdateSettings(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}
