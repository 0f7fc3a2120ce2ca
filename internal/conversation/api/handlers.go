package api

import (
	"errors"
	"net/http"
	"sort"

	"Minerva/internal/cerrors"
	"Minerva/internal/conversation/service"
	"Minerva/internal/models"

	"github.com/gin-gonic/gin"
)

// Handler 封装了对话核心全部 endpoint 的处理函数。
type Handler struct {
	service *service.Service
	health  func() map[string]string
}

// NewHandler 创建一个新的 Handler 实例。health 返回各后端依赖的
// 健康状态，供 /healthz 使用。
func NewHandler(s *service.Service, health func() map[string]string) *Handler {
	return &Handler{service: s, health: health}
}

// SendMessageRequest 定义了发送消息请求的 JSON 结构。
type SendMessageRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
	UserID    string `json:"user_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

// SendMessage 处理一条入站消息：意图解析、检索或命令执行、追加线程。
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply, err := h.service.ProcessMessage(c.Request.Context(), req.ProjectID, req.UserID, req.Message)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, reply)
}

// GetThread 获取（或首次创建）项目的会话线程及其近期历史。
func (h *Handler) GetThread(c *gin.Context) {
	projectID := c.Param("id")
	userID := c.Query("user_id")

	t, events, msgs, err := h.service.Thread(c.Request.Context(), projectID, userID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"thread_id":     t.ThreadID,
		"project_id":    t.ProjectID,
		"created_at":    t.CreatedAt,
		"last_activity": t.LastActivity,
		"context":       t.Snapshot(),
		"references":    t.RefList(),
		"history":       mergeHistory(events, msgs),
	})
}

// GetHistory 返回事件与消息按时间合并后的完整时间线。
func (h *Handler) GetHistory(c *gin.Context) {
	projectID := c.Param("id")

	events, msgs, err := h.service.History(c.Request.Context(), projectID, 0)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": projectID,
		"history":    mergeHistory(events, msgs),
	})
}

// DeleteLastMessage 执行"编辑并重试"截断：删除最后一条用户消息及其后
// 的所有记录。
func (h *Handler) DeleteLastMessage(c *gin.Context) {
	projectID := c.Param("id")

	if err := h.service.TruncateLast(c.Request.Context(), projectID); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "truncated", "project_id": projectID})
}

// UploadDocumentRequest 定义了文档上传请求的 JSON 结构。
type UploadDocumentRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	Title      string `json:"title" binding:"required"`
	Source     string `json:"source"`
	Collection string `json:"collection" binding:"required"`
	Text       string `json:"text" binding:"required"`
}

// UploadDocument 接收一篇文档：切分、入库、镜像到向量集合。
func (h *Handler) UploadDocument(c *gin.Context) {
	projectID := c.Param("id")

	var req UploadDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, chunks, err := h.service.IngestDocument(c.Request.Context(), projectID, req.UserID, req.Title, req.Source, req.Collection, req.Text)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"doc_id":     doc.DocID,
		"project_id": projectID,
		"collection": doc.Collection,
		"chunks":     chunks,
	})
}

// Healthz 汇报各后端依赖的健康状态。
func (h *Handler) Healthz(c *gin.Context) {
	statuses := h.health()
	code := http.StatusOK
	for _, status := range statuses {
		if status != "ok" {
			code = http.StatusServiceUnavailable
			break
		}
	}
	c.JSON(code, statuses)
}

// renderError 把错误分类映射到 HTTP 状态码。FatalDependency 与
// SecurityViolation 从不隐藏在笼统的 500 文案后面。
func (h *Handler) renderError(c *gin.Context, err error) {
	var fatal *cerrors.FatalDependencyError
	var violation *cerrors.SecurityViolationError
	var conflict *cerrors.ConflictError
	var validation *cerrors.ValidationError

	switch {
	case errors.As(err, &violation):
		c.JSON(http.StatusForbidden, gin.H{"error": violation.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
	case errors.As(err, &fatal):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": fatal.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// HistoryItem 是时间线上的一个条目，来源于事件或聊天消息。
type HistoryItem struct {
	Kind      string               `json:"kind"` // "event" 或 "message"
	Timestamp string               `json:"timestamp"`
	Seq       int64                `json:"seq"`
	EventType models.EventType     `json:"event_type,omitempty"`
	Summary   string               `json:"summary,omitempty"`
	Role      string               `json:"role,omitempty"`
	Content   string               `json:"content,omitempty"`
	KeyData   *models.EventKeyData `json:"key_data,omitempty"`
}

// mergeHistory 将事件与消息合并为单一时间线，按时间戳排序。时间戳相同
// 时事件排在消息之前（追加事务先写事件行），同类条目再用 Seq 打破平
// 局；Seq 是两张表各自独立的计数器，不做跨表比较。
func mergeHistory(events []*models.Event, msgs []*models.ChatMessage) []HistoryItem {
	items := make([]HistoryItem, 0, len(events)+len(msgs))
	for _, ev := range events {
		kd := ev.DecodeKeyData()
		items = append(items, HistoryItem{
			Kind:      "event",
			Timestamp: ev.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
			Seq:       ev.Seq,
			EventType: ev.EventType,
			Summary:   ev.Summary,
			KeyData:   &kd,
		})
	}
	for _, msg := range msgs {
		items = append(items, HistoryItem{
			Kind:      "message",
			Timestamp: msg.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
			Seq:       msg.Seq,
			Role:      msg.Role,
			Content:   msg.Content,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Timestamp != items[j].Timestamp {
			return items[i].Timestamp < items[j].Timestamp
		}
		if items[i].Kind != items[j].Kind {
			return items[i].Kind == "event"
		}
		return items[i].Seq < items[j].Seq
	})
	return items
}
