package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"

	"footergen/domain"
	"footergen/feed"
	"footergen/imagestore"
	"footergen/orchestrator"
	"footergen/store"
	"footergen/trigger"
)

// Service is the HTTP surface for conversion jobs.
type Service struct {
	store   store.ProcessingJobStore
	feed    feed.JobFeed
	trigger trigger.PipelineTrigger
	images  *imagestore.Store
	budget  orchestrator.Budget
	tmpRoot string
}

func NewService(
	st store.ProcessingJobStore,
	f feed.JobFeed,
	tr trigger.PipelineTrigger,
	images *imagestore.Store,
	budget orchestrator.Budget,
	tmpRoot string,
) *Service {
	if err := budget.Validate(); err != nil {
		budget = orchestrator.DefaultBudget()
	}
	return &Service{
		store:   st,
		feed:    f,
		trigger: tr,
		images:  images,
		budget:  budget,
		tmpRoot: tmpRoot,
	}
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/footer/jobs", s.handleCreateJob)
	mux.HandleFunc("/footer/jobs/", s.handleJobRoutes)
}

// newOrchestrator builds a per-request orchestrator. Create/complete handlers
// pass a nil feed: they do not stay around to observe events.
func (s *Service) newOrchestrator(f feed.JobFeed) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(s.store, f, s.trigger, s.budget)
}

func (s *Service) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		http.Error(w, "X-User-ID header required", http.StatusUnauthorized)
		return
	}

	ct := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
	if strings.HasPrefix(ct, "application/json") {
		s.createFigmaJob(w, r, userID)
		return
	}
	s.createUploadJob(w, r, userID)
}

func (s *Service) createFigmaJob(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		Source    string `json:"source"`
		SourceURL string `json:"sourceUrl"`
		BrandID   string `json:"brandId"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if body.Source != "" && body.Source != string(domain.JobSourceFigma) {
		http.Error(w, "unsupported source for json body", http.StatusBadRequest)
		return
	}

	orc, err := s.newOrchestrator(nil)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	jobID, err := orc.CreateJob(r.Context(), orchestrator.CreateJobParams{
		UserID:    userID,
		BrandID:   body.BrandID,
		Source:    domain.JobSourceFigma,
		SourceURL: body.SourceURL,
		// Figma imports fetch their reference image in the pipeline; the
		// export URL doubles as the reference until then.
		ImageURL: body.SourceURL,
	})
	if err != nil {
		writeCreateError(w, err)
		return
	}
	s.respondCreated(w, r, jobID)
}

func (s *Service) createUploadJob(w http.ResponseWriter, r *http.Request, userID string) {
	maxUploadMB := readEnvIntDefault("CONVERT_MAX_UPLOAD_MB", 32)
	if maxUploadMB <= 0 {
		maxUploadMB = 32
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxUploadMB)<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	uploadID := uuid.NewString()
	uploadDir := filepath.Join(s.tmpRoot, "footer_uploads", uploadID)
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		http.Error(w, "failed to create upload dir", http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(uploadDir)

	var (
		imagePath string
		imageName string
		brandID   string
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, "invalid multipart stream", http.StatusBadRequest)
			return
		}
		if part == nil {
			continue
		}
		switch strings.TrimSpace(part.FormName()) {
		case "image":
			name := safeBaseNameFromName(part.FileName())
			dst, err := saveUploadTo(uploadDir, name, part)
			_ = part.Close()
			if err != nil {
				http.Error(w, "failed to save image", http.StatusInternalServerError)
				return
			}
			imagePath = dst
			imageName = name
		case "brandId":
			b, _ := io.ReadAll(io.LimitReader(part, 256))
			_ = part.Close()
			brandID = strings.TrimSpace(string(b))
		default:
			// Drain unknown parts to keep the parser healthy.
			_, _ = io.Copy(io.Discard, part)
			_ = part.Close()
		}
	}
	if imagePath == "" {
		http.Error(w, "missing image", http.StatusBadRequest)
		return
	}

	width, height, err := imageDimensions(imagePath)
	if err != nil {
		http.Error(w, "unsupported image format (png/jpeg)", http.StatusBadRequest)
		return
	}

	if s.images == nil || !s.images.Enabled() {
		http.Error(w, "image store not enabled", http.StatusServiceUnavailable)
		return
	}
	key := s.images.ObjectKeyForReference(uploadID, imageName)
	if err := s.images.PutFileFromPath(key, imagePath, imageContentTypeByName(imageName)); err != nil {
		http.Error(w, "image upload failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	imageURL, err := s.images.SignViewURL(key)
	if err != nil {
		http.Error(w, "sign image url failed", http.StatusBadGateway)
		return
	}

	orc, err := s.newOrchestrator(nil)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	jobID, err := orc.CreateJob(r.Context(), orchestrator.CreateJobParams{
		UserID:             userID,
		BrandID:            brandID,
		Source:             domain.JobSourceUpload,
		ImageURL:           imageURL,
		CloudinaryPublicID: key,
		ImageWidth:         width,
		ImageHeight:        height,
	})
	if err != nil {
		writeCreateError(w, err)
		return
	}
	s.respondCreated(w, r, jobID)
}

func (s *Service) respondCreated(w http.ResponseWriter, r *http.Request, jobID string) {
	job, ok, err := s.store.Get(r.Context(), jobID)
	if err != nil || !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobId": jobID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":  job.ID,
		"status": string(job.Status),
		"step":   job.ProcessingStep,
	})
}

func writeCreateError(w http.ResponseWriter, err error) {
	var ve *orchestrator.ValidationError
	if errors.As(err, &ve) {
		http.Error(w, ve.Error(), http.StatusBadRequest)
		return
	}
	var pe *orchestrator.PersistenceError
	if errors.As(err, &pe) {
		http.Error(w, "job store unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, "server error", http.StatusInternalServerError)
}

func (s *Service) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	// /footer/jobs/{jobId}
	// /footer/jobs/{jobId}/events
	// /footer/jobs/{jobId}/complete
	path := strings.TrimPrefix(r.URL.Path, "/footer/jobs/")
	path = strings.Trim(path, "/")
	if path == "" {
		http.Error(w, "jobId required", http.StatusBadRequest)
		return
	}
	parts := strings.Split(path, "/")
	jobID := parts[0]
	if jobID == "" {
		http.Error(w, "jobId required", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleGetJob(w, r, jobID)
		return
	}

	if len(parts) == 2 && parts[1] == "events" {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleJobEvents(w, r, jobID)
		return
	}

	if len(parts) == 2 && parts[1] == "complete" {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleCompleteJob(w, r, jobID)
		return
	}

	http.NotFound(w, r)
}

func (s *Service) handleGetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, ok, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Service) handleCompleteJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, ok, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	// Idempotent: already completed.
	if job.Status == domain.JobStatusCompleted {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"jobId":  job.ID,
			"status": string(job.Status),
		})
		return
	}
	if job.Status != domain.JobStatusPendingReview {
		http.Error(w, "job is not awaiting review", http.StatusConflict)
		return
	}

	orc, err := s.newOrchestrator(nil)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if err := orc.Subscribe(jobID); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if err := orc.CompleteJob(r.Context()); err != nil {
		http.Error(w, "job store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":  jobID,
		"status": string(domain.JobStatusCompleted),
	})
}

// handleJobEvents streams job snapshots over SSE until the job reaches a
// terminal status or the client disconnects.
func (s *Service) handleJobEvents(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if s.feed == nil {
		http.Error(w, "job feed not enabled", http.StatusServiceUnavailable)
		return
	}

	events := make(chan feed.Event, 16)
	unsubscribe, err := s.feed.RegisterListener(jobID, func(ev feed.Event) {
		select {
		case events <- ev:
		default:
			// Slow consumer; the next snapshot supersedes the lost one.
		}
	})
	if err != nil {
		http.Error(w, "subscribe failed", http.StatusServiceUnavailable)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Initial snapshot so late subscribers see current state immediately.
	if job, ok, _ := s.store.Get(r.Context(), jobID); ok {
		writeSSE(w, job)
		flusher.Flush()
		if job.Status.IsTerminal() {
			return
		}
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if ev.Job == nil {
				continue
			}
			writeSSE(w, ev.Job)
			flusher.Flush()
			if ev.Job.Status.IsTerminal() {
				return
			}
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, job *domain.ProcessingJob) {
	b, err := json.Marshal(job)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func safeBaseNameFromName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "reference.png"
	}
	return filepath.Base(name)
}

func saveUploadTo(dir, name string, src io.Reader) (string, error) {
	if dir == "" || name == "" {
		return "", errors.New("invalid path")
	}
	dstPath := filepath.Join(dir, name)
	f, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, src); err != nil {
		return "", err
	}
	return dstPath, nil
}

func imageDimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func imageContentTypeByName(name string) string {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(name))) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
