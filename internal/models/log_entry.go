package models

import "time"

// LogEntry 定义了用于结构化日志的统一数据格式。
// 这个结构旨在方便日志采集、传输和后续的解析、索引与分析。
type LogEntry struct {
	// ServiceName 是指产生这条日志的服务或组件的名称。
	ServiceName string `json:"service_name"`

	// TraceID 用于将跨越多个组件的单个请求串联起来。
	TraceID string `json:"trace_id,omitempty"`

	// UserID 标识了与此日志事件相关的用户（如果适用）。
	UserID string `json:"user_id,omitempty"`

	// RequestInfo 包含了触发此日志的 HTTP 请求的详细信息。
	RequestInfo *RequestInfo `json:"request_info,omitempty"`

	// Error 包含了详细的错误信息。
	Error *ErrorInfo `json:"error,omitempty"`

	// Payload 用于存放任何其他与业务逻辑相关的结构化数据。
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// RequestInfo 存储了关于 HTTP 请求的上下文信息。
type RequestInfo struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	RemoteAddr string `json:"remote_addr"`
	UserAgent  string `json:"user_agent"`
}

// ErrorInfo 存储了关于错误的结构化信息。
type ErrorInfo struct {
	Message    string `json:"message"`
	Stack      string `json:"stack,omitempty"`
	Type       string `json:"type,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

// AuditKind 区分审计事件的种类。
type AuditKind string

const (
	AuditCommandExecuted   AuditKind = "command_executed"
	AuditCommandFailed     AuditKind = "command_failed"
	AuditSecurityViolation AuditKind = "security_violation"
)

// AuditEntry 是发送到审计主题的一条记录。命令执行结果与安全违规
// 都会以这种格式落入 Kafka，供外部追溯。
type AuditEntry struct {
	AuditID    string    `json:"audit_id"`
	ProjectID  string    `json:"project_id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Kind       AuditKind `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
	Command    string    `json:"command,omitempty"`
	Method     string    `json:"method,omitempty"`
	Path       string    `json:"path,omitempty"`
	Capability string    `json:"capability,omitempty"`
	ResourceID string    `json:"resource_id,omitempty"`
	Message    string    `json:"message,omitempty"`
}
