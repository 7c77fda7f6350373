package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"stayassist/internal/config"
	"stayassist/internal/db"
	"stayassist/internal/guard"
	"stayassist/internal/rasa"
	"stayassist/internal/reconcile"
	"stayassist/internal/store"
	"stayassist/internal/types"
)

const (
	ApologyRasaError = "I'm sorry, I encountered an error processing your request. Please try again later."
	continueReply    = "Great! Let's continue with your booking."
	keyLastMessage   = "last_message"
)

// slotQuestion pairs a booking slot with the question that collects it, in the
// order the booking flow asks them.
type slotQuestion struct {
	slot     string
	question string
}

var slotQuestions = []slotQuestion{
	{"guests", "For how many guests?"},
	{"room_type", "Which room would you like? (standard or suite)"},
	{"arrival_date", "Please select your arrival and departure date:"},
	{"departure_date", "Please select your departure date:"},
	{"payment_option", "Would you like to pay at the front desk or complete the payment online now?"},
}

type Server struct {
	router     *chi.Mux
	cfg        config.Config
	rasa       *rasa.Client
	guard      *guard.Guard
	policy     *reconcile.Policy
	transcript store.TurnStore
	database   *db.DB
	now        func() time.Time
}

// Deps are the collaborators New wires into the router. Transcript may be nil.
type Deps struct {
	Rasa       *rasa.Client
	Guard      *guard.Guard
	Policy     *reconcile.Policy
	Transcript store.TurnStore
}

// NewServer builds the gateway from configuration: the Rasa client, the topic
// guard (LLM-backed when OPENAI_API_KEY is set) and, when DB_URL is set, the
// Postgres transcript.
func NewServer(ctx context.Context, cfg config.Config) (*Server, error) {
	policy, err := reconcile.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	var classifier *guard.Classifier
	if cfg.OpenAIAPIKey != "" {
		spec, err := guard.LoadPromptSpec(cfg.GuardPromptFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load topic guard prompt")
		}
		classifier = guard.NewClassifier(spec, openai.NewClient(cfg.OpenAIAPIKey), cfg.Model)
	}

	deps := Deps{
		Rasa:   rasa.New(cfg.RasaURL, cfg.RasaWebhook, 30*time.Second),
		Guard:  guard.New(classifier),
		Policy: policy,
	}

	var database *db.DB
	if cfg.DatabaseURL != "" {
		database, err = db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to initialize database")
		}
		log.Info().Msg("database connection established")
		if err := database.RunMigrations(ctx); err != nil {
			_ = database.Close()
			return nil, errors.Wrap(err, "failed to run migrations")
		}
		deps.Transcript, err = store.NewTurnStore(store.KindPostgres, store.WithDatabase(database), store.WithMaxTurns(cfg.MaxTurns))
		if err != nil {
			_ = database.Close()
			return nil, err
		}
	} else {
		log.Warn().Msg("DB_URL not provided, gateway transcripts are not stored")
	}

	s := New(cfg, deps)
	s.database = database
	return s, nil
}

func New(cfg config.Config, deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", "X-Session-Id"},
		ExposedHeaders:   []string{"X-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if deps.Policy == nil {
		deps.Policy = reconcile.DefaultPolicy()
	}
	if deps.Guard == nil {
		deps.Guard = guard.New(nil)
	}
	s := &Server{
		router:     r,
		cfg:        cfg,
		rasa:       deps.Rasa,
		guard:      deps.Guard,
		policy:     deps.Policy,
		transcript: deps.Transcript,
		now:        time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/check_rasa", s.handleCheckRasa)
	s.router.Post("/api/send_message", s.handleSendMessage)
}

func (s *Server) Router() http.Handler { return s.router }

// Close releases the transcript store and database, if any.
func (s *Server) Close() error {
	if s.transcript != nil {
		_ = s.transcript.Close()
	}
	if s.database != nil {
		return s.database.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCheckRasa(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	v, err := s.rasa.Version(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to Rasa server")
		writeJSON(w, http.StatusServiceUnavailable, types.StatusResponse{Status: "unavailable", Reason: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, types.StatusResponse{Status: types.StatusAvailable, Version: v})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sid := getOrCreateSessionID(r, w)
	convCtx := req.Context
	if convCtx == nil {
		convCtx = types.Context{}
	}
	if convCtx.String(types.KeySenderID) == "" {
		convCtx[types.KeySenderID] = sid
	}
	message := req.Message
	logger := log.With().Str("sender", convCtx.String(types.KeySenderID)).Logger()
	logger.Info().Str("text", message).Msg("received message")

	if message != "" {
		if v := s.guard.Check(r.Context(), message); !v.Allowed {
			logger.Warn().Str("source", v.Source).Str("reason", v.Reason).Msg("blocked off-topic message")
			writeJSON(w, http.StatusOK, types.BackendResponse{
				Messages: []types.BackendMessage{{Text: s.guard.Refusal()}},
				Context:  convCtx,
				Actions:  []any{},
			})
			return
		}
	}

	if s.policy.IsShortcut(message) {
		if resp, ok := s.continueShortcut(r.Context(), convCtx); ok {
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	if message != "" {
		convCtx[keyLastMessage] = message
	}
	if types.IsBookingStart(message) {
		convCtx.ResetBookingSlots()
		convCtx[types.KeySenderID] = newSenderID()
		logger = log.With().Str("sender", convCtx.String(types.KeySenderID)).Logger()
		logger.Info().Msg("new booking, reset slots and sender")
	}
	sender := convCtx.String(types.KeySenderID)

	items, err := s.rasa.SendMessage(r.Context(), sender, message, convCtx)
	if err != nil {
		logger.Error().Err(err).Msg("error communicating with Rasa server")
		writeJSON(w, http.StatusInternalServerError, types.BackendResponse{
			Error:    "Error communicating with Rasa server: " + err.Error(),
			Context:  convCtx,
			Messages: []types.BackendMessage{{Text: ApologyRasaError}},
		})
		return
	}

	if message != "" {
		tctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		tr, err := s.rasa.Tracker(tctx, sender)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("could not get tracker state")
		} else {
			convCtx.Slots()[types.SlotInformationSufficient] = tr.Slots[types.SlotInformationSufficient]
		}
	}

	resp := processRasaResponse(items, convCtx)
	s.record(r.Context(), sender, message, resp)
	writeJSON(w, http.StatusOK, resp)
}

// continueShortcut answers a "continue" while the dialogue is waiting on the
// information-sufficient prompt, without calling the webhook. It reports false
// when the tracker is not in that state.
func (s *Server) continueShortcut(ctx context.Context, convCtx types.Context) (types.BackendResponse, bool) {
	sender := convCtx.String(types.KeySenderID)
	tctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tr, err := s.rasa.Tracker(tctx, sender)
	if err != nil {
		log.Error().Err(err).Str("sender", sender).Msg("error checking tracker state")
		return types.BackendResponse{}, false
	}
	if tr.Slot(types.SlotInformationSufficient) != types.InfoAsked {
		return types.BackendResponse{}, false
	}

	messages := []types.BackendMessage{{Text: continueReply}}
	unset := []string{types.SlotInformationSufficient}
	for _, q := range slotQuestions {
		if isUnset(tr.Slots[q.slot]) {
			messages = append(messages, types.BackendMessage{Text: q.question})
			unset = append(unset, q.slot)
			break
		}
	}
	for _, name := range unset {
		if err := s.rasa.SetSlot(tctx, sender, name, nil); err != nil {
			log.Warn().Err(err).Str("slot", name).Msg("could not update slot in Rasa")
			break
		}
	}
	convCtx.Slots()[types.SlotInformationSufficient] = nil
	log.Info().Str("sender", sender).Msg("continue after information prompt answered directly")
	return types.BackendResponse{Messages: messages, Context: convCtx, Actions: []any{}}, true
}

func isUnset(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// processRasaResponse converts webhook items into the client reply, lifting
// actions and context out of structured payloads.
func processRasaResponse(items []rasa.Message, convCtx types.Context) types.BackendResponse {
	out := types.BackendResponse{
		Messages: []types.BackendMessage{},
		Context:  convCtx.Clone(),
		Actions:  []any{},
	}
	for _, it := range items {
		m := it.BackendMessage()
		if w, ok := types.ParseWidget(m.JSONMessage); ok {
			if w.Action != nil {
				out.Actions = append(out.Actions, w.Action)
			}
			for k, v := range w.Context {
				out.Context[k] = v
			}
		}
		out.Messages = append(out.Messages, m)
	}
	return out
}

// record appends the exchange to the gateway transcript, if one is configured.
func (s *Server) record(ctx context.Context, sender, message string, resp types.BackendResponse) {
	if s.transcript == nil {
		return
	}
	now := s.now()
	turns := []types.Turn{{Sender: types.SenderUser, Text: message, Timestamp: now}}
	for _, m := range resp.Messages {
		t := types.Turn{Sender: types.SenderBot, Text: m.Text, Timestamp: now}
		if w, ok := types.ParseWidget(m.JSONMessage); ok && w.IsCalendar() {
			t.Attachments = []types.WidgetDescriptor{w}
		}
		turns = append(turns, t)
	}
	for _, t := range turns {
		if err := s.transcript.Save(ctx, sender, t); err != nil {
			log.Warn().Err(err).Str("sender", sender).Msg("failed to store transcript")
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, types.ErrorResponse{Error: msg})
}
