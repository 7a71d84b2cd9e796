package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"KlineHub/internal/domain/models"
	"KlineHub/internal/usecase"
	xhttp "KlineHub/pkg/http"
	xlogger "KlineHub/pkg/logger"
	"KlineHub/pkg/util"
)

// KlinesEchoHandler serves kline queries over HTTP.
type KlinesEchoHandler struct {
	logger *xlogger.Logger
	svc    *usecase.KlineService
}

func NewKlinesEchoHandler(logger *xlogger.Logger, svc *usecase.KlineService) *KlinesEchoHandler {
	return &KlinesEchoHandler{logger: logger, svc: svc}
}

func (h *KlinesEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/klines/:symbol", h.Klines)
	g.GET("/klines/:symbol/archive", h.Archive)
	g.GET("/klines/:symbol/last", h.Last)
	g.GET("/symbols", h.Symbols)
	e.GET("/health", h.Health)
}

func (h *KlinesEchoHandler) Klines(c echo.Context) error {
	req := &models.KlineRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.svc.GetKlines(c.Request().Context(), req.Symbol, req.Interval, req.Limit)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *KlinesEchoHandler) Archive(c echo.Context) error {
	req := &models.ArchiveRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	p := usecase.ArchiveParams{Symbol: req.Symbol, Interval: req.Interval, Limit: req.Limit}
	var ok bool
	if req.From != "" {
		if p.From, ok = util.ParseTime(req.From); !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from must be RFC3339 or a unix timestamp").WithParam("field", "from"))
		}
	}
	if req.To != "" {
		if p.To, ok = util.ParseTime(req.To); !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("to must be RFC3339 or a unix timestamp").WithParam("field", "to"))
		}
	}

	res, err := h.svc.Archived(c.Request().Context(), p)
	if err != nil {
		if !isClientError(err) {
			h.logger.Error("archive usecase error", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		}
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

func (h *KlinesEchoHandler) Last(c echo.Context) error {
	req := &models.TradeStreamRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.svc.LastClosed(c.Request().Context(), req.Symbol)
	if err != nil {
		if !isClientError(err) {
			h.logger.Error("last bars usecase error", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		}
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *KlinesEchoHandler) Symbols(c echo.Context) error {
	symbols := h.svc.Symbols()
	return xhttp.ListResponse(c, symbols, int64(len(symbols)))
}

func (h *KlinesEchoHandler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func isClientError(err error) bool {
	return errors.Is(err, models.ErrInvalidInterval) ||
		errors.Is(err, models.ErrInvalidSymbol) ||
		errors.Is(err, models.ErrInvalidRange) ||
		errors.Is(err, models.ErrArchiveDisabled) ||
		errors.Is(err, models.ErrMirrorDisabled)
}

// toAppError maps domain errors to HTTP errors. Unknown errors stay opaque
// and end up as 500.
func toAppError(err error) error {
	switch {
	case errors.Is(err, models.ErrInvalidInterval):
		return xhttp.BadRequestError(err.Error()).WithParam("field", "interval")
	case errors.Is(err, models.ErrInvalidSymbol):
		return xhttp.BadRequestError(err.Error()).WithParam("field", "symbol")
	case errors.Is(err, models.ErrInvalidRange):
		return xhttp.BadRequestError(err.Error()).WithParam("field", "from")
	case errors.Is(err, models.ErrArchiveDisabled), errors.Is(err, models.ErrMirrorDisabled):
		return xhttp.NotFoundError(err.Error())
	default:
		return err
	}
}
