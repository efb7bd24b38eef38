package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/amankumarsingh77/media-downloader/internal/config"
	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/amankumarsingh77/media-downloader/pkg/httpErrors"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
	"github.com/amankumarsingh77/media-downloader/pkg/utils"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type downloadsHandler struct {
	cfg        *config.Config
	downloadUC downloads.UseCase
	logger     logger.Logger
}

func NewDownloadsHandler(cfg *config.Config, downloadUC downloads.UseCase, log logger.Logger) downloads.Handler {
	return &downloadsHandler{
		cfg:        cfg,
		downloadUC: downloadUC,
		logger:     log,
	}
}

func (h *downloadsHandler) CreateDownload() echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, err := utils.GetOwnerFromCtx(c.Request().Context())
		if err != nil {
			return httpErrors.Unauthorized(c)
		}
		input := &models.DownloadInput{}
		if err = c.Bind(input); err != nil {
			return httpErrors.BadRequest(c, "Invalid request payload")
		}
		download, err := h.downloadUC.Create(c.Request().Context(), owner, input)
		if err != nil {
			return h.errorResponse(c, "CreateDownload", err)
		}
		return c.JSON(http.StatusCreated, download)
	}
}

func (h *downloadsHandler) ListDownloads() echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, err := utils.GetOwnerFromCtx(c.Request().Context())
		if err != nil {
			return httpErrors.Unauthorized(c)
		}
		list, err := h.downloadUC.List(c.Request().Context(), owner)
		if err != nil {
			return h.errorResponse(c, "ListDownloads", err)
		}
		if list == nil {
			list = []*models.Download{}
		}
		return c.JSON(http.StatusOK, list)
	}
}

func (h *downloadsHandler) DeleteDownload() echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, err := utils.GetOwnerFromCtx(c.Request().Context())
		if err != nil {
			return httpErrors.Unauthorized(c)
		}
		id, err := uuid.Parse(c.Param("download_id"))
		if err != nil {
			return httpErrors.BadRequest(c, "Invalid download id")
		}
		if err = h.downloadUC.Delete(c.Request().Context(), owner, id); err != nil {
			return h.errorResponse(c, "DeleteDownload", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// Feed answers one subscribe call, long-polling up to ?wait= when the caller
// is caught up.
func (h *downloadsHandler) Feed() echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, err := utils.GetOwnerFromCtx(c.Request().Context())
		if err != nil {
			return httpErrors.Unauthorized(c)
		}
		query, err := utils.GetFeedQuery(c, h.cfg.Feed.LongPollTimeout)
		if err != nil {
			return httpErrors.BadRequest(c, err.Error())
		}
		batch, err := h.downloadUC.Subscribe(c.Request().Context(), owner, query.Since, query.Wait)
		if err != nil {
			return h.errorResponse(c, "Feed", err)
		}
		return c.JSON(http.StatusOK, batch)
	}
}

// Stream pushes feed batches as server-sent events until the client leaves.
// Each event id is the batch sequence, so a reconnecting EventSource resumes
// through Last-Event-ID.
func (h *downloadsHandler) Stream() echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		owner, err := utils.GetOwnerFromCtx(ctx)
		if err != nil {
			return httpErrors.Unauthorized(c)
		}
		query, err := utils.GetFeedQuery(c, h.cfg.Feed.LongPollTimeout)
		if err != nil {
			return httpErrors.BadRequest(c, err.Error())
		}
		since := query.Since
		if last := c.Request().Header.Get("Last-Event-ID"); last != "" && since == nil {
			seq, err := strconv.ParseInt(last, 10, 64)
			if err != nil {
				return httpErrors.BadRequest(c, "Invalid Last-Event-ID")
			}
			since = &seq
		}

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.WriteHeader(http.StatusOK)
		res.Flush()

		for {
			batch, err := h.downloadUC.Subscribe(ctx, owner, since, h.cfg.Feed.LongPollTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				h.logger.Errorf("Stream - Subscribe error RequestID: %s, ERROR: %v", utils.GetRequestID(c), err)
				return nil
			}
			if batch.Empty() {
				if _, err = fmt.Fprint(res, ": keepalive\n\n"); err != nil {
					return nil
				}
			} else if err = writeEvent(res, batch); err != nil {
				return nil
			}
			res.Flush()
			seq := batch.Sequence
			since = &seq
		}
	}
}

func writeEvent(res *echo.Response, batch *models.FeedBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(res, "id: %d\nevent: %s\ndata: %s\n\n", batch.Sequence, batch.Kind, data)
	return err
}

func (h *downloadsHandler) errorResponse(c echo.Context, op string, err error) error {
	if status, _, _ := httpErrors.ParseError(err); status >= http.StatusInternalServerError {
		h.logger.Errorf("%s RequestID: %s, ERROR: %v", op, utils.GetRequestID(c), err)
	}
	return httpErrors.ErrorResponse(c, err)
}
