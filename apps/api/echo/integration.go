package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/integration"
)

type (
	// TestConnectionRequest carries ad-hoc credentials to probe before saving.
	TestConnectionRequest struct {
		Credentials map[string]string `json:"credentials"`
	}
)

type integrationApi struct {
	svc *integration.Service
}

func registerIntegrationAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *integration.Service) {
	api := integrationApi{svc: svc}

	ig := g.Group("/integrations", jwt, adminMiddleware())
	ig.GET("", api.query)
	ig.GET("/progress", api.queryProgress)
	ig.PUT("/:platform", api.save)
	ig.POST("/:platform/test", api.testConnection)
	ig.POST("/:platform/sync", api.sync)
}

// Handlers

func (api *integrationApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	cfgs, err := api.svc.QueryConfigs(ctx.Request().Context(), claims.OrgID)
	if err != nil {
		return errors.Wrap(err, "querying platform configs")
	}
	if cfgs == nil {
		cfgs = []integration.PlatformConfig{}
	}
	return ctx.JSON(http.StatusOK, cfgs)
}

func (api *integrationApi) save(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data integration.NewPlatformConfig
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPlatformConfig")
	}
	data.Platform = ctx.Param("platform")

	cfg, err := api.svc.SaveConfig(ctx.Request().Context(), claims.OrgID, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, cfg)
}

func (api *integrationApi) testConnection(ctx echo.Context) error {
	if _, err := getContextClaims(ctx); err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data TestConnectionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TestConnectionRequest")
	}

	res, err := api.svc.TestConnection(
		ctx.Request().Context(),
		integration.Platform(ctx.Param("platform")),
		data.Credentials,
	)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *integrationApi) sync(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	res, err := api.svc.Run(ctx.Request().Context(), claims.OrgID, integration.Platform(ctx.Param("platform")))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *integrationApi) queryProgress(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var filter integration.ProgressFilter
	if err = ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to ProgressFilter")
	}
	filter.OrgID = claims.OrgID

	prgs, err := api.svc.QueryProgress(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying progress")
	}
	if prgs == nil {
		prgs = []integration.UnifiedProgress{}
	}
	return ctx.JSON(http.StatusOK, prgs)
}
