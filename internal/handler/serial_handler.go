// internal/handler/serial_handler.go
package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-bridge/internal/bridge"
	"serial-bridge/internal/config"
	"serial-bridge/internal/model"
	"serial-bridge/internal/serialport"
	"serial-bridge/internal/utils"
)

// SerialHandler handles the serial control surface: port enumeration and
// the connect/disconnect/status lifecycle.
type SerialHandler struct {
	manager *bridge.Manager
	config  *config.Config
	logger  *utils.ServiceLogger
}

// NewSerialHandler creates a new serial control handler
func NewSerialHandler(manager *bridge.Manager, cfg *config.Config, logger *zap.Logger) *SerialHandler {
	return &SerialHandler{
		manager: manager,
		config:  cfg,
		logger:  utils.NewServiceLogger(logger, "serial-handler"),
	}
}

// RegisterRoutes registers serial control routes
func (h *SerialHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ports", h.ListPorts)
	router.POST("/connect", h.Connect)
	router.POST("/disconnect", h.Disconnect)
	router.GET("/status", h.Status)
}

// ListPorts lists serial ports available on the host
// @Summary List serial ports
// @Description Enumerate serial ports with a human-readable type string
// @Tags Serial
// @Produce json
// @Success 200 {array} model.PortInfo "Available ports"
// @Failure 500 {object} utils.APIResponse "Enumeration failed"
// @Router /ports [get]
func (h *SerialHandler) ListPorts(c *gin.Context) {
	ports, err := serialport.List()
	if err != nil {
		h.logger.Error("Failed to list ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list ports", err)
		return
	}

	c.JSON(http.StatusOK, ports)
}

// Connect opens a serial port and starts bridging it
// @Summary Connect to a serial port
// @Description Open the given port and start the bridge; only one port can be open at a time
// @Tags Serial
// @Accept json
// @Produce json
// @Param request body model.PortConfig true "Port configuration"
// @Success 200 {object} utils.APIResponse "Connected"
// @Failure 400 {object} utils.APIResponse "Invalid request or port could not be opened"
// @Failure 409 {object} utils.APIResponse "Another port is already open"
// @Router /connect [post]
func (h *SerialHandler) Connect(c *gin.Context) {
	var req model.PortConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	req.ApplyDefaults(
		h.config.Serial.BaudRate,
		h.config.Serial.DataBits,
		h.config.Serial.StopBits,
		h.config.Serial.Parity,
	)

	if err := h.manager.Open(req); err != nil {
		if errors.Is(err, bridge.ErrAlreadyOpen) {
			utils.ErrorResponse(c, http.StatusConflict, "Already connected. Disconnect first.", nil)
			return
		}
		h.logger.Error("Failed to open serial port",
			zap.String("port", req.Port),
			zap.Error(err),
		)
		utils.ErrorResponse(c, http.StatusBadRequest, "Failed to open port", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, fmt.Sprintf("Connected to %s", req.Port), nil)
}

// Disconnect closes the open serial port
// @Summary Disconnect from the serial port
// @Description Close the open port; succeeds as a no-op when nothing is open
// @Tags Serial
// @Produce json
// @Success 200 {object} utils.APIResponse "Disconnected or nothing was open"
// @Router /disconnect [post]
func (h *SerialHandler) Disconnect(c *gin.Context) {
	port, ok := h.manager.Close()
	if !ok {
		utils.SuccessResponse(c, http.StatusOK, "Not connected", nil)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, fmt.Sprintf("Disconnected from %s", port), nil)
}

// Status reports the current connection state
// @Summary Connection status
// @Description Report whether a port is open and, if so, its configuration
// @Tags Serial
// @Produce json
// @Success 200 {object} model.PortStatus "Current status"
// @Router /status [get]
func (h *SerialHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Status())
}
