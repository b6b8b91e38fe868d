package httptransport

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ledgermail/backend/internal/locator"
	"ledgermail/backend/internal/storage"
)

// locatorPayload 定位映射的传输格式，与 locator.HTTPStore 保持一致
type locatorPayload struct {
	Locator     string `json:"locator"`
	FullAddress string `json:"fullAddress"`
}

// LocatorHandler 定位映射接口
type LocatorHandler struct {
	store  storage.LocatorRepository
	logger *zap.Logger
}

// NewLocatorHandler 创建定位映射接口
func NewLocatorHandler(store storage.LocatorRepository, logger *zap.Logger) *LocatorHandler {
	return &LocatorHandler{store: store, logger: logger}
}

// Get 按定位符查询完整地址，未命中返回 404
//
// @Summary 查询定位映射
// @Description 按 32 字节十六进制定位符查询内容存储的完整地址
// @Tags Locators
// @Produce json
// @Param locator query string true "0x 开头的定位符"
// @Success 200 {object} locatorPayload
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 500 {object} Response
// @Router /api/locators [get]
func (h *LocatorHandler) Get(c *gin.Context) {
	locator, ok := normalizeLocator(c.Query("locator"))
	if !ok {
		BadRequest(c, MsgInvalidLocator)
		return
	}

	fullAddress, err := h.store.GetLocator(c.Request.Context(), locator)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			NotFound(c, MsgLocatorNotFound)
			return
		}
		h.logger.Error("Failed to read locator", zap.String("locator", locator), zap.Error(err))
		InternalError(c, MsgStoreFailure)
		return
	}

	c.JSON(http.StatusOK, locatorPayload{Locator: locator, FullAddress: fullAddress})
}

// Save 写入定位映射，重复写入覆盖
//
// @Summary 写入定位映射
// @Description 保存定位符到完整地址的映射，已存在时覆盖
// @Tags Locators
// @Accept json
// @Produce json
// @Param mapping body locatorPayload true "定位映射"
// @Success 200 {object} locatorPayload
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 500 {object} Response
// @Security BearerAuth
// @Router /api/locators [post]
func (h *LocatorHandler) Save(c *gin.Context) {
	var req locatorPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	locator, ok := normalizeLocator(req.Locator)
	if !ok {
		BadRequest(c, MsgInvalidLocator)
		return
	}
	if strings.TrimSpace(req.FullAddress) == "" {
		BadRequest(c, MsgMissingAddress)
		return
	}

	if err := h.store.SaveLocator(c.Request.Context(), locator, req.FullAddress); err != nil {
		h.logger.Error("Failed to save locator", zap.String("locator", locator), zap.Error(err))
		InternalError(c, GetErrorMessage(err))
		return
	}

	c.JSON(http.StatusOK, locatorPayload{Locator: locator, FullAddress: req.FullAddress})
}

// normalizeLocator 校验 32 字节十六进制定位符并统一为小写
func normalizeLocator(raw string) (string, bool) {
	digest, err := locator.ParseHex(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return locator.Hex(digest), true
}
