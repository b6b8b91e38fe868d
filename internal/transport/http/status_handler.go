package httptransport

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/middleware"
	"ledgermail/backend/internal/storage"
)

// statusPayload 单条状态的传输格式，与 status.HTTPRemote 保持一致
type statusPayload struct {
	ID     string        `json:"id"`
	Status domain.Status `json:"status"`
	Owner  string        `json:"owner"`
}

// StatusHandler 邮件状态接口
type StatusHandler struct {
	store  storage.StatusRepository
	auth   *middleware.JWTAuth
	logger *zap.Logger
}

// NewStatusHandler 创建邮件状态接口
func NewStatusHandler(store storage.StatusRepository, auth *middleware.JWTAuth, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{store: store, auth: auth, logger: logger}
}

// List 返回某个所有者的全部状态 {id: Status}
//
// @Summary 列出邮件状态
// @Description 返回所有者的全部邮件状态，键为邮件 ID
// @Tags Status
// @Produce json
// @Param owner query string true "邮箱所有者"
// @Success 200 {object} map[string]domain.Status
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 403 {object} Response
// @Failure 500 {object} Response
// @Security BearerAuth
// @Router /api/status [get]
func (h *StatusHandler) List(c *gin.Context) {
	owner := strings.TrimSpace(c.Query("owner"))
	if owner == "" {
		BadRequest(c, MsgMissingOwner)
		return
	}
	if !h.authorized(c, owner) {
		Forbidden(c, MsgOwnerMismatch)
		return
	}

	statuses, err := h.store.ListStatuses(c.Request.Context(), owner)
	if err != nil {
		h.logger.Error("Failed to list statuses", zap.String("owner", owner), zap.Error(err))
		InternalError(c, MsgStoreFailure)
		return
	}
	if statuses == nil {
		statuses = map[string]domain.Status{}
	}

	c.JSON(http.StatusOK, statuses)
}

// Save 写入单封邮件状态，后写入者覆盖
//
// @Summary 写入邮件状态
// @Description 保存单封邮件的状态，后写入者覆盖
// @Tags Status
// @Accept json
// @Param status body statusPayload true "邮件状态"
// @Success 204
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 403 {object} Response
// @Failure 500 {object} Response
// @Security BearerAuth
// @Router /api/status [post]
func (h *StatusHandler) Save(c *gin.Context) {
	var req statusPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	req.Owner = strings.TrimSpace(req.Owner)
	req.ID = strings.TrimSpace(req.ID)
	if req.Owner == "" {
		BadRequest(c, MsgMissingOwner)
		return
	}
	if req.ID == "" {
		BadRequest(c, MsgMissingID)
		return
	}
	if !h.authorized(c, req.Owner) {
		Forbidden(c, MsgOwnerMismatch)
		return
	}

	if err := h.store.SaveStatus(c.Request.Context(), req.Owner, req.ID, req.Status); err != nil {
		h.logger.Error("Failed to save status",
			zap.String("owner", req.Owner),
			zap.String("id", req.ID),
			zap.Error(err))
		InternalError(c, GetErrorMessage(err))
		return
	}

	c.Status(http.StatusNoContent)
}

// authorized 启用令牌校验时要求令牌所有者与请求所有者一致
func (h *StatusHandler) authorized(c *gin.Context, owner string) bool {
	if !h.auth.Enabled() {
		return true
	}
	tokenOwner, ok := middleware.OwnerFromContext(c)
	return ok && tokenOwner == owner
}
