package handler

import (
	"net/http"

	"github.com/haatos/simple-dispatch/internal"
	"github.com/labstack/echo/v4"
)

func SetupConfigRoutes(g *echo.Group, configPath string) {
	h := &ConfigHandler{configPath: configPath}
	g.GET("/config", h.GetConfig)
	g.PUT("/config", h.PutConfig)
}

type ConfigHandler struct {
	configPath string
}

func (h *ConfigHandler) GetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, internal.Config)
}

// PutConfig replaces the configuration file. Queue size and concurrency
// changes take effect on the next start.
func (h *ConfigHandler) PutConfig(c echo.Context) error {
	config := internal.DefaultConfiguration()
	if err := c.Bind(config); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid config data")
	}

	if err := internal.UpdateConfiguration(h.configPath, config); err != nil {
		return newError(c, err, http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusOK, config)
}
