package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/command"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/memory"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc      *memory.Service
	commands *command.Registry
	logger   *zap.Logger
}

// NewHandler creates a new API handler. commands may be nil.
func NewHandler(svc *memory.Service, commands *command.Registry, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, commands: commands, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Route("/memories", func(r chi.Router) {
			r.Get("/", h.listRecent)
			r.Post("/", h.remember)
			r.Post("/visual", h.rememberVisual)
			r.Post("/audio", h.rememberAudio)
			r.Get("/search", h.search)
			r.Get("/stats", h.stats)
			r.Get("/{id}", h.getMemory)
			r.Get("/{id}/chain", h.chain)
			r.Get("/{id}/causes", h.causalChain)
		})
		r.Post("/links", h.link)

		r.Route("/recall", func(r chi.Router) {
			r.Post("/", h.recall)
			r.Post("/associations", h.recallAssociations)
			r.Post("/scored", h.recallScored)
			r.Get("/camera", h.recallCamera)
		})

		r.Route("/episodes", func(r chi.Router) {
			r.Get("/", h.listEpisodes)
			r.Post("/", h.createEpisode)
			r.Get("/search", h.searchEpisodes)
			r.Get("/{id}", h.getEpisode)
			r.Get("/{id}/memories", h.episodeMemories)
		})

		r.Get("/working", h.workingMemory)
		r.Post("/working/refresh", h.refreshWorking)

		r.Post("/command", h.dispatchCommand)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Store.Count(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "memories": n})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the structured error every route renders.
type errorBody struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	IDs     []string `json:"ids,omitempty"`
}

func statusFor(kind string) int {
	switch kind {
	case memory.KindValidation:
		return http.StatusBadRequest
	case memory.KindNotFound:
		return http.StatusNotFound
	case memory.KindConflict:
		return http.StatusConflict
	case memory.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := memory.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, status, errorBody{Kind: kind, Message: err.Error(), IDs: memory.MissingIDs(err)})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Kind: memory.KindValidation, Message: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// queryInt reads an integer query parameter, falling back to def when absent.
func queryInt(r *http.Request, key string, def int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

func queryFloat(r *http.Request, key string) (float64, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

// --- Memories ---

type rememberRequest struct {
	Content       string   `json:"content"`
	Emotion       string   `json:"emotion"`
	Category      string   `json:"category"`
	Importance    int      `json:"importance"`
	Tags          []string `json:"tags"`
	LinkThreshold float64  `json:"link_threshold"`
	SkipAutoLink  bool     `json:"skip_auto_link"`
}

type rememberResponse struct {
	Memory        memory.Memory `json:"memory"`
	AutoLinks     []memory.Link `json:"auto_links"`
	AutoLinkError string        `json:"auto_link_error,omitempty"`
}

func newRememberResponse(res *memory.InsertResult) rememberResponse {
	out := rememberResponse{Memory: res.Memory, AutoLinks: res.AutoLink.Links}
	if out.AutoLinks == nil {
		out.AutoLinks = []memory.Link{}
	}
	if res.AutoLink.Err != nil {
		out.AutoLinkError = res.AutoLink.Err.Error()
	}
	return out
}

func (h *Handler) remember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if !decodeBody(w, r, &req) {
		return
	}
	emotion, err := memory.ParseEmotion(req.Emotion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	category, err := memory.ParseCategory(req.Category)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Store.Insert(r.Context(), memory.InsertRequest{
		Content:       req.Content,
		Emotion:       emotion,
		Category:      category,
		Importance:    req.Importance,
		Tags:          req.Tags,
		LinkThreshold: req.LinkThreshold,
		SkipAutoLink:  req.SkipAutoLink,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRememberResponse(res))
}

type visualRequest struct {
	Content    string   `json:"content"`
	ImageRef   string   `json:"image_ref"`
	Pan        *float64 `json:"pan"`
	Tilt       *float64 `json:"tilt"`
	PresetID   string   `json:"preset_id"`
	Emotion    string   `json:"emotion"`
	Importance int      `json:"importance"`
	Tags       []string `json:"tags"`
}

func (h *Handler) rememberVisual(w http.ResponseWriter, r *http.Request) {
	var req visualRequest
	if !decodeBody(w, r, &req) {
		return
	}
	emotion, err := memory.ParseEmotion(req.Emotion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var pose *memory.CameraPose
	if req.Pan != nil || req.Tilt != nil {
		if req.Pan == nil || req.Tilt == nil {
			badRequest(w, "pan and tilt must be given together")
			return
		}
		pose = &memory.CameraPose{Pan: *req.Pan, Tilt: *req.Tilt, PresetID: req.PresetID}
	}
	res, err := h.svc.Store.InsertVisual(r.Context(), memory.VisualRequest{
		Content:    req.Content,
		ImageRef:   req.ImageRef,
		Camera:     pose,
		Emotion:    emotion,
		Importance: req.Importance,
		Tags:       req.Tags,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRememberResponse(res))
}

type audioRequest struct {
	Content    string   `json:"content"`
	AudioRef   string   `json:"audio_ref"`
	Transcript string   `json:"transcript"`
	Emotion    string   `json:"emotion"`
	Importance int      `json:"importance"`
	Tags       []string `json:"tags"`
}

func (h *Handler) rememberAudio(w http.ResponseWriter, r *http.Request) {
	var req audioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	emotion, err := memory.ParseEmotion(req.Emotion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Store.InsertAudio(r.Context(), memory.AudioRequest{
		Content:    req.Content,
		AudioRef:   req.AudioRef,
		Transcript: req.Transcript,
		Emotion:    emotion,
		Importance: req.Importance,
		Tags:       req.Tags,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRememberResponse(res))
}

func (h *Handler) listRecent(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 10)
	if !ok {
		badRequest(w, "limit must be an integer")
		return
	}
	category, err := memory.ParseCategory(r.URL.Query().Get("category"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ms, err := h.svc.Store.ListRecent(r.Context(), limit, category)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	k, ok := queryInt(r, "k", 5)
	if !ok {
		badRequest(w, "k must be an integer")
		return
	}
	emotion, err := memory.ParseEmotion(q.Get("emotion"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	category, err := memory.ParseCategory(q.Get("category"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	from, err := memory.ParseDate(q.Get("from"), false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := memory.ParseDate(q.Get("to"), true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	hits, err := h.svc.Store.Search(r.Context(), q.Get("q"), k, memory.SearchFilter{
		Emotion:  emotion,
		Category: category,
		From:     from,
		To:       to,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Store.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memories":         st,
		"links":            h.svc.Graph.LinkCount(),
		"working_memory":   h.svc.Working.Size(),
		"working_capacity": h.svc.Working.Capacity(),
	})
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := h.svc.Store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out, in := h.svc.Graph.Links(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memory":         m,
		"outgoing_links": out,
		"incoming_links": in,
	})
}

func (h *Handler) chain(w http.ResponseWriter, r *http.Request) {
	depth, ok := queryInt(r, "depth", 2)
	if !ok {
		badRequest(w, "depth must be an integer")
		return
	}
	nodes, err := h.svc.Graph.Chain(r.Context(), chi.URLParam(r, "id"), depth)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (h *Handler) causalChain(w http.ResponseWriter, r *http.Request) {
	depth, ok := queryInt(r, "depth", 3)
	if !ok {
		badRequest(w, "depth must be an integer")
		return
	}
	dir, err := memory.ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	steps, err := h.svc.Graph.CausalChain(r.Context(), chi.URLParam(r, "id"), dir, depth)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, steps)
}

type linkRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	LinkType string `json:"link_type"`
	Note     string `json:"note"`
}

func (h *Handler) link(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	typ, err := memory.ParseLinkType(req.LinkType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	l, err := h.svc.Graph.Link(r.Context(), req.SourceID, req.TargetID, typ, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// --- Recall ---

type recallRequest struct {
	Context string `json:"context"`
	K       int    `json:"k"`
	Depth   int    `json:"depth"`
}

func (req *recallRequest) defaults(k, depth int) {
	if req.K == 0 {
		req.K = k
	}
	if req.Depth == 0 {
		req.Depth = depth
	}
}

func (h *Handler) recall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.defaults(3, 0)
	hits, err := h.svc.Recall.Recall(r.Context(), req.Context, req.K)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (h *Handler) recallAssociations(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.defaults(3, 2)
	res, err := h.svc.Recall.RecallWithAssociations(r.Context(), req.Context, req.K, req.Depth)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) recallScored(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.defaults(5, 0)
	hits, err := h.svc.Recall.RecallScored(r.Context(), req.Context, req.K)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (h *Handler) recallCamera(w http.ResponseWriter, r *http.Request) {
	pan, ok := queryFloat(r, "pan")
	if !ok {
		badRequest(w, "pan is required and must be a number")
		return
	}
	tilt, ok := queryFloat(r, "tilt")
	if !ok {
		badRequest(w, "tilt is required and must be a number")
		return
	}
	tolerance := 15.0
	if r.URL.Query().Get("tolerance") != "" {
		if tolerance, ok = queryFloat(r, "tolerance"); !ok {
			badRequest(w, "tolerance must be a number")
			return
		}
	}
	hits, err := h.svc.Recall.RecallByCameraPosition(r.Context(), pan, tilt, tolerance)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

// --- Episodes ---

type episodeRequest struct {
	Title         string   `json:"title"`
	MemoryIDs     []string `json:"memory_ids"`
	Participants  []string `json:"participants"`
	AutoSummarize *bool    `json:"auto_summarize"`
}

func (h *Handler) createEpisode(w http.ResponseWriter, r *http.Request) {
	var req episodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	summarize := req.AutoSummarize == nil || *req.AutoSummarize
	ep, err := h.svc.Episodes.CreateEpisode(r.Context(), memory.EpisodeRequest{
		Title:         req.Title,
		MemoryIDs:     req.MemoryIDs,
		Participants:  req.Participants,
		AutoSummarize: summarize,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ep)
}

func (h *Handler) listEpisodes(w http.ResponseWriter, r *http.Request) {
	eps, err := h.svc.Episodes.ListEpisodes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eps)
}

func (h *Handler) searchEpisodes(w http.ResponseWriter, r *http.Request) {
	k, ok := queryInt(r, "k", 3)
	if !ok {
		badRequest(w, "k must be an integer")
		return
	}
	hits, err := h.svc.Episodes.SearchEpisodes(r.Context(), r.URL.Query().Get("q"), k)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (h *Handler) getEpisode(w http.ResponseWriter, r *http.Request) {
	ep, err := h.svc.Episodes.GetEpisode(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) episodeMemories(w http.ResponseWriter, r *http.Request) {
	ms, err := h.svc.Episodes.GetEpisodeMemories(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

// --- Working memory ---

func (h *Handler) workingMemory(w http.ResponseWriter, r *http.Request) {
	n, ok := queryInt(r, "n", 10)
	if !ok {
		badRequest(w, "n must be an integer")
		return
	}
	ms, err := h.svc.Working.Get(n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (h *Handler) refreshWorking(w http.ResponseWriter, r *http.Request) {
	ms, err := h.svc.Working.Refresh(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

// --- Commands ---

func (h *Handler) dispatchCommand(w http.ResponseWriter, r *http.Request) {
	if h.commands == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Kind: memory.KindNotFound, Message: "commands are not enabled"})
		return
	}
	var req struct {
		Input     string `json:"input"`
		SessionID string `json:"session_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.commands.Dispatch(r.Context(), req.Input, &command.CommandContext{
		Source:    "http",
		SessionID: req.SessionID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
