// resources.go implements the team-scoped site, report and report media endpoints.
// Every handler passes the caller's policy.Context down; the services derive the
// tenant scope from it, so ids from another team behave as missing.
package api

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/middleware"
	"github.com/fieldops/fieldops/internal/services"
)

// multipartOverhead is the allowance for multipart framing on top of the file itself
const multipartOverhead = 1 << 20

// ResourceHandlers handles sites, reports and media
type ResourceHandlers struct {
	sites     SiteService
	reports   ReportService
	maxUpload int64
}

// NewResourceHandlers creates a new ResourceHandlers instance
func NewResourceHandlers(sites SiteService, reports ReportService, maxUpload int64) *ResourceHandlers {
	return &ResourceHandlers{sites: sites, reports: reports, maxUpload: maxUpload}
}

func (h *ResourceHandlers) ListSitesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sites, err := h.sites.List(c.Request.Context(), middleware.PolicyContext(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sites": sites})
	}
}

func (h *ResourceHandlers) GetSiteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		site, err := h.sites.Get(c.Request.Context(), middleware.PolicyContext(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, site)
	}
}

type siteRequest struct {
	Name      string   `json:"name" binding:"required"`
	Address   *string  `json:"address"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// CreateSiteHandler adds a site. Owners and admins only.
// POST /api/v1/sites
func (h *ResourceHandlers) CreateSiteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req siteRequest
		if !bindJSON(c, &req) {
			return
		}
		site, err := h.sites.Create(c.Request.Context(), middleware.PolicyContext(c), &models.Site{
			Name:      req.Name,
			Address:   req.Address,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, site)
	}
}

func (h *ResourceHandlers) UpdateSiteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var patch models.SitePatch
		if !bindJSON(c, &patch) {
			return
		}
		site, err := h.sites.Update(c.Request.Context(), middleware.PolicyContext(c), c.Param("id"), patch)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, site)
	}
}

func (h *ResourceHandlers) DeleteSiteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.sites.Delete(c.Request.Context(), middleware.PolicyContext(c), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ListReportsHandler lists the team's reports, optionally for one site
// GET /api/v1/reports?site_id=&page=&per_page=
func (h *ResourceHandlers) ListReportsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage := pagination(c)
		reports, err := h.reports.List(c.Request.Context(), middleware.PolicyContext(c), c.Query("site_id"), perPage, (page-1)*perPage)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"reports":    reports,
			"pagination": gin.H{"page": page, "per_page": perPage},
		})
	}
}

func (h *ResourceHandlers) GetReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := h.reports.Get(c.Request.Context(), middleware.PolicyContext(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

type createReportRequest struct {
	SiteID string  `json:"site_id" binding:"required"`
	Title  string  `json:"title" binding:"required"`
	Notes  *string `json:"notes"`
}

func (h *ResourceHandlers) CreateReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createReportRequest
		if !bindJSON(c, &req) {
			return
		}
		report, err := h.reports.Create(c.Request.Context(), middleware.PolicyContext(c), req.SiteID, req.Title, req.Notes)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, report)
	}
}

// UpdateReportHandler edits a report within the submitter's edit allowance
// PATCH /api/v1/reports/:id
func (h *ResourceHandlers) UpdateReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var patch models.ReportPatch
		if !bindJSON(c, &patch) {
			return
		}
		report, err := h.reports.Update(c.Request.Context(), middleware.PolicyContext(c), c.Param("id"), patch)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func (h *ResourceHandlers) DeleteReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.reports.Delete(c.Request.Context(), middleware.PolicyContext(c), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (h *ResourceHandlers) ListMediaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		media, err := h.reports.ListMedia(c.Request.Context(), middleware.PolicyContext(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"media": media})
	}
}

// @Summary      Attach media
// @Description  Upload a file (multipart field "file") and attach it to a report.
// @Tags         Reports
// @Security     Bearer
// @Accept       multipart/form-data
// @Produce      json
// @Success      201  {object}  models.ReportMedia
// @Failure      400  {object}  map[string]interface{}  "Missing, empty or oversized file"
// @Router       /api/v1/reports/{id}/media [post]
func (h *ResourceHandlers) AttachMediaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.maxUpload > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)
		}
		header, err := c.FormFile("file")
		if err != nil {
			respondError(c, apperr.Invalid("multipart field \"file\" is required"))
			return
		}
		f, err := header.Open()
		if err != nil {
			respondError(c, err)
			return
		}
		defer f.Close()

		media, err := h.reports.AttachMedia(c.Request.Context(), middleware.PolicyContext(c), c.Param("id"), services.MediaUpload{
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        f,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, media)
	}
}

func (h *ResourceHandlers) DetachMediaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.reports.DetachMedia(c.Request.Context(), middleware.PolicyContext(c), c.Param("id"), c.Param("media_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ServeFileHandler streams a stored object for the local backend's download URLs
// GET /api/v1/files/*path
func (h *ResourceHandlers) ServeFileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := strings.TrimPrefix(c.Param("path"), "/")
		rc, err := h.reports.OpenMedia(c.Request.Context(), middleware.PolicyContext(c), p)
		if err != nil {
			respondError(c, err)
			return
		}
		defer rc.Close()

		contentType := mime.TypeByExtension(path.Ext(p))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Header("Content-Type", contentType)
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(p)}))
		c.Status(http.StatusOK)
		_, _ = io.Copy(c.Writer, rc)
	}
}
