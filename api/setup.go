package api

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"taskboard/domain"
	"taskboard/identity"
)

const userIDKey = "userID"

func requireAdmin(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if auth == nil {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: "authentication is not configured"})
			}
			userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

// loadAssignee resolves the clientId/companyId query of c for cfg.
func loadAssignee(c echo.Context, svc Services, cfg domain.AppConfig) (*domain.Assignee, int, error) {
	a, err := svc.Identity.GetClientOrCompany(c.Request().Context(), cfg.CopilotAPIKey,
		strings.TrimSpace(c.QueryParam("clientId")), strings.TrimSpace(c.QueryParam("companyId")))
	switch {
	case err == nil:
		return a, http.StatusOK, nil
	case errors.Is(err, identity.ErrNoAssigneeID):
		return nil, http.StatusBadRequest, err
	case errors.Is(err, identity.ErrAssigneeNotFound):
		return nil, http.StatusNotFound, err
	default:
		svc.Logger.WithError(err).WithField("app", cfg.ID).Error("assignee lookup failed")
		return nil, http.StatusBadGateway, errors.New("assignee lookup failed")
	}
}

// loadConfig writes the error response itself when it returns nil.
func loadConfig(c echo.Context, svc Services) (*domain.AppConfig, error) {
	appID := strings.TrimSpace(c.QueryParam("appId"))
	if appID == "" {
		return nil, c.JSON(http.StatusBadRequest, errorResponse{Error: "appId is required"})
	}
	cfg, err := svc.Configs.GetConfig(c.Request().Context(), appID)
	if err != nil {
		svc.Logger.WithError(err).WithField("app", appID).Error("load app config")
		return nil, c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load configuration"})
	}
	if cfg == nil {
		return nil, c.JSON(http.StatusNotFound, errorResponse{Error: "app is not configured", Kind: kindNotConfigured})
	}
	return cfg, nil
}

func getInitialData(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		cfg, err := loadConfig(c, svc)
		if cfg == nil {
			return err
		}
		a, status, err := loadAssignee(c, svc, *cfg)
		if err != nil {
			return c.JSON(status, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusOK, InitialData{
			ClientData: a,
			AppConfig: PublicAppConfig{
				Controls:           cfg.Controls,
				DefaultChannelType: cfg.DefaultChannelType,
			},
			DBType: cfg.Backend(),
		})
	}
}

func getClientInfo(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		cfg, err := loadConfig(c, svc)
		if cfg == nil {
			return err
		}
		a, status, err := loadAssignee(c, svc, *cfg)
		if err != nil {
			return c.JSON(status, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusOK, a)
	}
}

// ownsApp reports whether userID may administer appID. Unclaimed apps may be
// configured by any administrator.
func ownsApp(c echo.Context, svc Services, userID, appID string) (bool, []string, error) {
	apps, err := svc.Configs.GetUserApps(c.Request().Context(), userID)
	if err != nil {
		return false, nil, err
	}
	if slices.Contains(apps, appID) {
		return true, apps, nil
	}
	cfg, err := svc.Configs.GetConfig(c.Request().Context(), appID)
	if err != nil {
		return false, nil, err
	}
	return cfg == nil, apps, nil
}

func getConfig(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _ := c.Get(userIDKey).(string)
		appID := strings.TrimSpace(c.QueryParam("appId"))
		if appID == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "appId is required"})
		}
		owned, apps, err := ownsApp(c, svc, userID, appID)
		if err != nil {
			svc.Logger.WithError(err).WithField("app", appID).Error("load admin index")
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load configuration"})
		}
		if !owned {
			return c.JSON(http.StatusForbidden, errorResponse{Error: "app belongs to another administrator"})
		}
		if !slices.Contains(apps, appID) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "app is not configured", Kind: kindNotConfigured})
		}
		cfg, err := loadConfig(c, svc)
		if cfg == nil {
			return err
		}
		return c.JSON(http.StatusOK, cfg.Redacted())
	}
}

func postConfig(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _ := c.Get(userIDKey).(string)
		var cfg domain.AppConfig
		dec := sonic.ConfigStd.NewDecoder(c.Request().Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		cfg.ID = strings.TrimSpace(cfg.ID)
		if cfg.ID == "" {
			cfg.ID = strings.TrimSpace(c.QueryParam("appId"))
		}
		if cfg.ID == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "id is required"})
		}
		ctx := c.Request().Context()
		owned, apps, err := ownsApp(c, svc, userID, cfg.ID)
		if err != nil {
			svc.Logger.WithError(err).WithField("app", cfg.ID).Error("load admin index")
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to save configuration"})
		}
		if !owned {
			return c.JSON(http.StatusForbidden, errorResponse{Error: "app belongs to another administrator"})
		}
		existing, err := svc.Configs.GetConfig(ctx, cfg.ID)
		if err != nil {
			svc.Logger.WithError(err).WithField("app", cfg.ID).Error("load app config")
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to save configuration"})
		}
		if existing != nil {
			cfg = keepMaskedSecrets(*existing, cfg)
		}
		if err := cfg.Ready(); err != nil {
			return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		}
		if err := svc.Configs.PutConfig(ctx, cfg.ID, cfg); err != nil {
			svc.Logger.WithError(err).WithField("app", cfg.ID).Error("save app config")
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to save configuration"})
		}
		// saving resets the app's repository and its breaker
		if f, ok := svc.Repos.(interface{ Forget(appID string) }); ok {
			f.Forget(cfg.ID)
		}
		if !slices.Contains(apps, cfg.ID) {
			if err := svc.Configs.PutUserApps(ctx, userID, append(apps, cfg.ID)); err != nil {
				svc.Logger.WithError(err).WithField("app", cfg.ID).Error("save admin index")
			}
		}
		svc.Logger.WithField("app", cfg.ID).WithField("backend", cfg.Backend()).Info("app configuration saved")
		return c.JSON(http.StatusOK, cfg.Redacted())
	}
}

func getApps(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _ := c.Get(userIDKey).(string)
		apps, err := svc.Configs.GetUserApps(c.Request().Context(), userID)
		if err != nil {
			svc.Logger.WithError(err).WithField("user", userID).Error("load admin index")
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load apps"})
		}
		if apps == nil {
			apps = []string{}
		}
		return c.JSON(http.StatusOK, appsResponse{Apps: apps})
	}
}

// keepMaskedSecrets restores secrets the setup UI echoed back redacted.
func keepMaskedSecrets(existing, incoming domain.AppConfig) domain.AppConfig {
	red := existing.Redacted()
	if incoming.AirtableAPIKey != "" && incoming.AirtableAPIKey == red.AirtableAPIKey {
		incoming.AirtableAPIKey = existing.AirtableAPIKey
	}
	if incoming.CopilotAPIKey != "" && incoming.CopilotAPIKey == red.CopilotAPIKey {
		incoming.CopilotAPIKey = existing.CopilotAPIKey
	}
	return incoming
}
