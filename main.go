package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"studyshelf/config"
	"studyshelf/models"
	"studyshelf/providers/gemini"
	"studyshelf/providers/resend"
	"studyshelf/services"
	"studyshelf/storage"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	newMaterialsCounter prometheus.Counter
	summariesCounter    prometheus.Counter
	downloadsCounter    prometheus.Counter
	missingObjectsGauge prometheus.Gauge
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

func init() {
	newMaterialsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "materials_created_total",
		Help: "Total number of materials added to the catalog.",
	})
	summariesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "summaries_generated_total",
		Help: "Total number of PDF summaries generated.",
	})
	downloadsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "downloads_served_total",
		Help: "Total number of file downloads relayed to clients.",
	})
	missingObjectsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "materials_storage_missing",
		Help: "Number of catalog rows whose storage object is missing, per last sweep.",
	})
	prometheus.MustRegister(newMaterialsCounter, summariesCounter, downloadsCounter, missingObjectsGauge)
}

// identityMiddleware extracts the requester identity from a bearer JWT
// when one is present and valid. It never aborts: handlers that need a
// session check for an empty identity themselves, so anonymous browsing
// and anonymous material creation keep working.
func identityMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if cfg.JWTSecret != "" && len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
			token, err := jwt.Parse(header[7:], func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(cfg.JWTSecret), nil
			})
			if err == nil && token.Valid {
				if claims, ok := token.Claims.(jwt.MapClaims); ok {
					if email, ok := claims["email"].(string); ok && email != "" {
						c.Set("userEmail", email)
					}
				}
			}
		}
		c.Next()
	}
}

func currentEmail(c *gin.Context) string {
	return c.GetString("userEmail")
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to materials database.")

	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(&models.Material{}); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	store, err := storage.NewStore(cfg)
	if err != nil {
		logging.Fatal("Object store client creation failed", zap.Error(err))
	}

	generator := gemini.NewClient(cfg, logging)
	mailer := resend.NewClient(cfg, logging)
	extractor := services.NewFitzExtractor(logging)
	summarizer := services.NewSummarizer(generator, logging, cfg.MaxChunkChars)
	catalog := services.NewCatalogService(db, store, logging, cfg.ExistenceBatchSize)
	proxy := services.NewFileProxy(db, store, logging)

	router := gin.Default()
	router.Use(identityMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "studyshelf"})
	})

	setupMaterialRoutes(router, cfg, catalog, store, mailer, logging)
	setupDownloadRoutes(router, proxy, logging)
	setupSummarizeRoutes(router, summarizer, extractor, logging)

	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.SweepSchedule, func() {
		logging.Info("Running scheduled storage verification sweep...")
		missing, err := catalog.Sweep(context.Background())
		if err != nil {
			logging.Error("Sweep failed", zap.Error(err))
			return
		}
		missingObjectsGauge.Set(float64(missing))
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupMaterialRoutes(router *gin.Engine, cfg *config.Config, catalog *services.CatalogService, store services.ObjectStore, mailer *resend.Client, log *zap.Logger) {
	rg := router.Group("/materials")

	rg.GET("", func(c *gin.Context) {
		semester := 0
		if s := c.Query("semester"); s != "" && s != "all" {
			n, err := strconv.Atoi(s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "semester must be a number"})
				return
			}
			semester = n
		}

		items, err := catalog.List(c.Request.Context(), c.Query("q"), semester, c.Query("subject"))
		if err != nil {
			log.Error("Catalog listing failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if items == nil {
			items = []services.ListedMaterial{}
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	})

	rg.POST("", func(c *gin.Context) {
		var req struct {
			services.MaterialInput
			UploaderEmail string `json:"uploader_email"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		// Session identity wins; the body-provided fallback keeps
		// anonymous uploads working for clients without a session.
		email := currentEmail(c)
		if email == "" {
			email = req.UploaderEmail
		}
		if email == "" {
			email = "anonymous@user"
		}

		item, err := catalog.Create(c.Request.Context(), req.MaterialInput, email)
		if err != nil {
			if errors.Is(err, services.ErrInvalidInput) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			log.Error("Material creation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save material"})
			return
		}
		newMaterialsCounter.Inc()

		if strings.HasSuffix(strings.ToLower(item.FileURL), ".pdf") {
			go func(m models.Material) {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := mailer.SendUploadNotification(ctx, &m); err != nil {
					log.Warn("Upload notification failed", zap.Error(err))
				}
			}(*item)
		}

		c.JSON(http.StatusCreated, gin.H{"item": item})
	})

	rg.POST("/upload", func(c *gin.Context) {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
			return
		}
		if fh.Size > cfg.MaxUploadBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
			return
		}
		declared := fh.Header.Get("Content-Type")
		if !strings.Contains(strings.ToLower(declared), "application/pdf") &&
			!strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded file is not a PDF"})
			return
		}

		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
			return
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, cfg.MaxUploadBytes+1))
		if err != nil || int64(len(data)) > cfg.MaxUploadBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
			return
		}

		email := currentEmail(c)
		if email == "" {
			email = "anonymous@user"
		}
		key := fmt.Sprintf("%s/%s.pdf", email, uuid.New().String())

		link, err := store.Upload(c.Request.Context(), key, data, "application/pdf")
		if err != nil {
			log.Error("Storage upload failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"path": key, "file_url": link})
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		email := currentEmail(c)
		if email == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}

		if err := catalog.Delete(c.Request.Context(), uint(id), email); err != nil {
			switch {
			case errors.Is(err, services.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "material not found"})
			case errors.Is(err, services.ErrForbidden):
				c.JSON(http.StatusForbidden, gin.H{"error": "not authorized to delete this item"})
			default:
				log.Error("Material delete failed", zap.Uint64("id", id), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
}

func setupDownloadRoutes(router *gin.Engine, proxy *services.FileProxy, log *zap.Logger) {
	router.GET("/download", func(c *gin.Context) {
		disposition := "attachment"
		if strings.EqualFold(c.Query("disposition"), "inline") {
			disposition = "inline"
		}

		res, err := proxy.Open(c.Request.Context(), currentEmail(c), c.Query("path"), c.Query("url"))
		if err != nil {
			switch {
			case errors.Is(err, services.ErrUnauthenticated):
				c.String(http.StatusUnauthorized, "Authentication required")
			case errors.Is(err, services.ErrNoUploads):
				c.String(http.StatusForbidden, "Please upload at least one semester-related document to unlock downloads.")
			case errors.Is(err, services.ErrNotPDF):
				c.String(http.StatusBadRequest, "Provided URL is not a PDF")
			case errors.Is(err, services.ErrInvalidInput):
				c.String(http.StatusBadRequest, "Missing file reference")
			case errors.Is(err, services.ErrNotFound):
				c.String(http.StatusNotFound, "File not found")
			default:
				log.Error("Download resolution failed", zap.Error(err))
				c.String(http.StatusInternalServerError, "Internal error")
			}
			return
		}
		defer res.Body.Close()
		downloadsCounter.Inc()

		extraHeaders := map[string]string{
			"Content-Disposition":    fmt.Sprintf("%s; filename=%q", disposition, res.Filename),
			"Cache-Control":          "no-cache, no-store, must-revalidate",
			"Pragma":                 "no-cache",
			"Expires":                "0",
			"X-Content-Type-Options": "nosniff",
		}
		c.DataFromReader(http.StatusOK, res.ContentLength, "application/pdf", res.Body, extraHeaders)
	})
}

func setupSummarizeRoutes(router *gin.Engine, summarizer *services.Summarizer, extractor services.TextExtractor, log *zap.Logger) {
	router.POST("/summarize", func(c *gin.Context) {
		var text, prompt string

		contentType := c.GetHeader("Content-Type")
		if strings.Contains(contentType, "multipart/form-data") {
			fh, err := c.FormFile("file")
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file"})
				return
			}
			prompt = c.PostForm("prompt")

			declared := strings.ToLower(fh.Header.Get("Content-Type"))
			if !strings.Contains(declared, "application/pdf") {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Uploaded file is not a PDF"})
				return
			}

			f, err := fh.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable file"})
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable file"})
				return
			}

			text, err = extractor.Extract(data)
			if err != nil {
				summarizeExtractionError(c, log, err)
				return
			}
		} else {
			var req struct {
				FileURL string `json:"file_url"`
				URL     string `json:"url"`
				Text    string `json:"text"`
				Prompt  string `json:"prompt"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Provide a PDF file (multipart) or { file_url } / { text } in JSON"})
				return
			}
			prompt = req.Prompt
			fileURL := req.FileURL
			if fileURL == "" {
				fileURL = req.URL
			}

			switch {
			case req.Text != "":
				text = req.Text
			case fileURL != "":
				data, err := fetchPDF(c.Request.Context(), fileURL)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
				text, err = extractor.Extract(data)
				if err != nil {
					summarizeExtractionError(c, log, err)
					return
				}
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "Provide a PDF file (multipart) or { file_url } / { text } in JSON"})
				return
			}
		}

		if strings.TrimSpace(text) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No text extracted from PDF"})
			return
		}

		summary, err := summarizer.Summarize(c.Request.Context(), text, prompt)
		if err != nil {
			log.Error("Summarization failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate summary"})
			return
		}
		summariesCounter.Inc()
		c.JSON(http.StatusOK, gin.H{"summary": summary})
	})
}

// summarizeExtractionError maps extraction failures onto client-facing
// responses. Parser failures on malformed input are the client's fault
// and come back as 400 with an actionable message.
func summarizeExtractionError(c *gin.Context, log *zap.Logger, err error) {
	if errors.Is(err, services.ErrInvalidPDF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "PDF parsing failed (invalid PDF or incompatible parser). Ensure the file is a valid PDF and try again."})
		return
	}
	log.Error("Text extraction failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to extract text"})
}

// fetchPDF downloads a remote document for summarization and verifies
// the declared content type before handing the bytes to the extractor.
func fetchPDF(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid file URL")
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch file: %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(ct), "application/pdf") {
		if ct == "" {
			ct = "unknown"
		}
		return nil, fmt.Errorf("URL does not point to a PDF (content-type: %s)", ct)
	}
	return io.ReadAll(resp.Body)
}
