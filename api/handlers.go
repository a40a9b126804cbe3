package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/storage"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Services) {
	if svc.Logger == nil {
		svc.Logger = log.StandardLogger()
	}
	e.GET("/data", getData(svc))
	e.POST("/data", postData(svc))
	e.PATCH("/data", patchData(svc))
	e.GET("/initial-data", getInitialData(svc))
	e.GET("/client-info", getClientInfo(svc))

	admin := requireAdmin(svc.Auth)
	e.GET("/config", getConfig(svc), admin)
	e.POST("/config", postConfig(svc), admin)
	e.GET("/apps", getApps(svc), admin)

	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// dataRequest is the state shared by the three /data handlers.
type dataRequest struct {
	c       echo.Context
	ctx     context.Context
	metrics *dataRequestMetrics
	appID   string
	cfg     domain.AppConfig
	repo    storage.TaskRepository
}

func beginDataRequest(c echo.Context, svc Services) *dataRequest {
	ctx := c.Request().Context()
	metrics, spanCtx := newDataRequestMetrics(ctx, svc.Logger, c.Request().Method, "/data")
	c.SetRequest(c.Request().WithContext(spanCtx))
	return &dataRequest{c: c, ctx: spanCtx, metrics: metrics, appID: strings.TrimSpace(c.QueryParam("appId"))}
}

func (r *dataRequest) fail(status int, stage, msg string, err error) error {
	return r.failKind(status, stage, "", msg, err)
}

func (r *dataRequest) failKind(status int, stage, kind, msg string, err error) error {
	r.metrics.SetErrorStage(stage)
	r.metrics.Log(status, err)
	return r.c.JSON(status, errorResponse{Error: msg, Kind: kind})
}

// resolve loads the app configuration and its repository. It writes the
// error response itself and reports whether the handler may continue.
func (r *dataRequest) resolve(svc Services) (bool, error) {
	if r.appID == "" {
		return false, r.fail(http.StatusBadRequest, "params", "appId is required", nil)
	}
	start := time.Now()
	cfg, err := svc.Configs.GetConfig(r.ctx, r.appID)
	r.metrics.ObserveConfig(time.Since(start))
	if err != nil {
		svc.Logger.WithError(err).WithField("app", r.appID).Error("load app config")
		return false, r.fail(http.StatusInternalServerError, "config", "failed to load configuration", err)
	}
	if cfg == nil {
		return false, r.failKind(http.StatusNotFound, "config", kindNotConfigured, "app is not configured", nil)
	}
	r.cfg = *cfg
	r.metrics.SetApp(r.appID, string(cfg.Backend()))
	if err := cfg.Ready(); err != nil {
		return false, r.failKind(http.StatusConflict, "config", kindNotReady, err.Error(), nil)
	}
	repo, err := svc.Repos.Repository(*cfg)
	if err != nil {
		var cfgErr *domain.ConfigError
		if errors.As(err, &cfgErr) {
			return false, r.failKind(http.StatusConflict, "config", kindNotReady, err.Error(), nil)
		}
		svc.Logger.WithError(err).WithField("app", r.appID).Error("build repository")
		return false, r.fail(http.StatusInternalServerError, "repository", "failed to open backend", err)
	}
	r.repo = repo
	return true, nil
}

func (r *dataRequest) repositoryFailure(svc Services, op string, err error) error {
	status := statusForRepositoryError(err)
	resp := errorResponse{Error: "backend request failed"}
	var repoErr *storage.RepositoryError
	if errors.As(err, &repoErr) {
		resp.Kind = string(repoErr.Kind)
	}
	svc.Logger.WithError(err).WithFields(log.Fields{"app": r.appID, "op": op, "backend": r.cfg.Backend()}).Warn("repository call failed")
	r.metrics.SetErrorStage("backend")
	if status == http.StatusNotFound {
		r.metrics.Log(status, nil)
	} else {
		r.metrics.Log(status, err)
	}
	return r.c.JSON(status, resp)
}

func (r *dataRequest) ok(body any) error {
	start := time.Now()
	err := r.c.JSON(http.StatusOK, body)
	r.metrics.ObserveEncode(time.Since(start))
	if err != nil {
		r.metrics.SetErrorStage("encode_response")
	}
	r.metrics.Log(http.StatusOK, err)
	return err
}

func statusForRepositoryError(err error) int {
	switch {
	case storage.IsKind(err, storage.KindNotFound):
		return http.StatusNotFound
	case storage.IsKind(err, storage.KindUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusBadGateway
	}
}

func getData(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := beginDataRequest(c, svc)
		assigneeID := strings.TrimSpace(c.QueryParam("assigneeId"))
		if r.appID != "" && assigneeID == "" {
			return r.fail(http.StatusBadRequest, "params", "assigneeId is required", nil)
		}
		if ok, err := r.resolve(svc); !ok {
			return err
		}
		start := time.Now()
		records, err := r.repo.FetchTasks(r.ctx, assigneeID)
		r.metrics.ObserveBackend(time.Since(start))
		if err != nil {
			return r.repositoryFailure(svc, "fetch", err)
		}
		r.metrics.SetRecords(len(records))
		return r.ok(records)
	}
}

func postData(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := beginDataRequest(c, svc)
		if ok, err := r.resolve(svc); !ok {
			return err
		}
		fields, err := decodeFields(c.Request().Body)
		if err != nil {
			return r.fail(http.StatusBadRequest, "decode", "invalid body", nil)
		}

		key := strings.TrimSpace(c.Request().Header.Get(IdempotencyHeader))
		if key != "" && svc.Deduper != nil {
			added, err := svc.Deduper.Add(r.ctx, r.appID, key)
			if err != nil {
				svc.Logger.WithError(err).WithField("app", r.appID).Error("dedupe check failed")
				return r.fail(http.StatusServiceUnavailable, "dedupe", "idempotency check unavailable", err)
			}
			if !added {
				r.metrics.SetDuplicate()
				return r.fail(http.StatusConflict, "dedupe", "duplicate request", nil)
			}
		}

		start := time.Now()
		rec, err := r.repo.CreateTask(r.ctx, fields)
		r.metrics.ObserveBackend(time.Since(start))
		if err != nil {
			if key != "" && svc.Deduper != nil {
				if rerr := svc.Deduper.Remove(context.WithoutCancel(r.ctx), r.appID, key); rerr != nil {
					svc.Logger.WithError(rerr).WithFields(log.Fields{"app": r.appID, "key": key}).Error("dedupe rollback failed")
				}
			}
			svc.DeadLetters.Dispatch(failedWrite(r.appID, "create", "", key, fields, err))
			return r.repositoryFailure(svc, "create", err)
		}
		r.metrics.SetRecords(1)
		return r.ok(rec)
	}
}

func patchData(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := beginDataRequest(c, svc)
		recordID := strings.TrimSpace(c.QueryParam("recordId"))
		if r.appID != "" && recordID == "" {
			return r.fail(http.StatusBadRequest, "params", "recordId is required", nil)
		}
		if ok, err := r.resolve(svc); !ok {
			return err
		}
		fields, err := decodeFields(c.Request().Body)
		if err != nil {
			return r.fail(http.StatusBadRequest, "decode", "invalid body", nil)
		}
		start := time.Now()
		rec, err := r.repo.PatchTask(r.ctx, recordID, fields)
		r.metrics.ObserveBackend(time.Since(start))
		if err != nil {
			if !storage.IsKind(err, storage.KindNotFound) {
				svc.DeadLetters.Dispatch(failedWrite(r.appID, "patch", recordID, "", fields, err))
			}
			return r.repositoryFailure(svc, "patch", err)
		}
		r.metrics.SetRecords(1)
		return r.ok(rec)
	}
}

func decodeFields(body io.Reader) (domain.Fields, error) {
	if body == nil {
		return nil, errors.New("empty body")
	}
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(body, dataBodyMaxSize))
	fields := domain.Fields{}
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func failedWrite(appID, op, recordID, key string, fields domain.Fields, err error) storage.FailedWrite {
	fw := storage.FailedWrite{
		AppID:          appID,
		Op:             op,
		RecordID:       recordID,
		Fields:         fields,
		IdempotencyKey: key,
		Error:          err.Error(),
		FailedAt:       nextTimestamp(),
	}
	var repoErr *storage.RepositoryError
	if errors.As(err, &repoErr) {
		fw.Kind = repoErr.Kind
	}
	return fw
}
