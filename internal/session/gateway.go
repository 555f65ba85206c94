package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fluentvoice/lesson-gateway/internal/brain"
	"github.com/fluentvoice/lesson-gateway/internal/lesson"
	"github.com/fluentvoice/lesson-gateway/internal/metrics"
	"github.com/fluentvoice/lesson-gateway/internal/provider"
	"github.com/fluentvoice/lesson-gateway/internal/rules"
	"github.com/fluentvoice/lesson-gateway/internal/store"
)

// State is the session lifecycle position. Transitions are one-way except
// ACTIVE ⇄ PAUSED.
type State string

const (
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StatePaused     State = "paused"
	StateEnded      State = "ended"
)

// Pause reason codes sent to the client alongside the lesson_paused event.
const (
	PauseRequested  = "student_requested"
	PauseDisconnect = "client_disconnected"
)

// Store is the persistence surface the gateway needs.
type Store interface {
	GetStudent(ctx context.Context, id string) (*store.Student, error)
	GetLesson(ctx context.Context, id string) (*store.Lesson, error)
	CompleteLesson(ctx context.Context, id string) error
	AppendTurn(ctx context.Context, t *store.Turn) error
	Turns(ctx context.Context, lessonID string) ([]store.Turn, error)
	LastLessonRecap(ctx context.Context, studentID string) (string, error)
	ActiveRules(ctx context.Context, studentID string) ([]store.Rule, error)
	CreateLessonSession(ctx context.Context, ls *store.LessonSession) error
	GetLessonSession(ctx context.Context, id string) (*store.LessonSession, error)
	SetSessionStatus(ctx context.Context, id string, status store.SessionStatus) error
	CreatePauseEvent(ctx context.Context, pe *store.PauseEvent) error
	OpenPauseEvent(ctx context.Context, sessionID string) (*store.PauseEvent, error)
	ClosePauseEvent(ctx context.Context, sessionID string) error
}

// Registrar resolves which lesson a connecting student lands in and stores
// onboarding profiles.
type Registrar interface {
	GetOrCreateLesson(ctx context.Context, studentID string) (*store.Lesson, error)
	SaveProfile(ctx context.Context, studentID string, raw []byte) error
}

// RuleManager inspects finalized user turns for behavioral directives.
type RuleManager interface {
	OnUserTurn(ctx context.Context, text string) ([]rules.Injection, error)
}

// Analyzer consumes persisted turns asynchronously and produces the
// lesson-end recap.
type Analyzer interface {
	Enqueue(t store.Turn)
	FinishLesson(ctx context.Context, lessonNumber int, turns []store.Turn) (string, error)
	Shutdown(ctx context.Context) error
}

// Client is the connected student surface. Implementations serialize writes.
type Client interface {
	SendAudio(data []byte) error
	SendTranscript(role, text string, final bool) error
	SendSystemEvent(event, reason string) error
	SendNotice(level, text string) error
}

// BridgeFactory builds a provider bridge of the requested mode wired to the
// gateway's event callback.
type BridgeFactory func(mode provider.Mode, onEvent provider.EventCallback) (provider.Bridge, error)

// Config wires one gateway instance.
type Config struct {
	Store     Store
	Registrar Registrar
	Client    Client
	Bridges   BridgeFactory

	NewRuleManager func(studentID string) RuleManager
	NewAnalyzer    func(studentID, lessonID string) Analyzer

	// Summarizer, when set, produces the pause summary with one extra short
	// completion. Nil falls back to a locally composed summary.
	Summarizer provider.Completer

	VoiceID string

	// StreamingEnabled gates the preferred mode; false starts directly in
	// the fallback pipeline without counting a downgrade.
	StreamingEnabled bool

	// GracePeriod bounds teardown work on End.
	GracePeriod time.Duration
}

const defaultGracePeriod = 15 * time.Second

// Gateway orchestrates one client connection: provider bridge lifecycle,
// turn persistence, rule injection and analysis handoff.
type Gateway struct {
	cfg Config

	mu         sync.Mutex
	state      State
	bridge     provider.Bridge
	downgraded bool
	instr      string
	toolJSON   []string

	student *store.Student
	lsn     *store.Lesson
	sess    *store.LessonSession

	ruleMgr  RuleManager
	analyzer Analyzer

	events    chan provider.Event
	closedCh  chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc
	eg        *errgroup.Group

	// held exclusively while a rule injection is in flight, so no audio
	// frame passes the directive on the wire
	relayMu sync.RWMutex

	endOnce sync.Once
}

// StartParams are the connect parameters supplied by the client's first frame.
type StartParams struct {
	StudentID       string
	ResumeSessionID string
	LanguageMode    string
}

// NewGateway creates an unstarted gateway.
func NewGateway(cfg Config) *Gateway {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	return &Gateway{
		cfg:      cfg,
		state:    StateConnecting,
		events:   make(chan provider.Event, 256),
		closedCh: make(chan struct{}),
	}
}

// State reports the current lifecycle position.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Mode reports the active bridge mode, empty before Start.
func (g *Gateway) Mode() provider.Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bridge == nil {
		return ""
	}
	return g.bridge.Mode()
}

// Start resolves the lesson, connects a provider bridge and opens the
// conversation. The client receives lesson_started only after the provider
// acknowledged its configuration; audio sent before that is rejected.
func (g *Gateway) Start(ctx context.Context, p StartParams) error {
	if p.StudentID == "" && p.ResumeSessionID == "" {
		return fmt.Errorf("either student_id or session_id is required")
	}

	resuming := p.ResumeSessionID != ""
	var pauseSummary string

	if resuming {
		sess, err := g.cfg.Store.GetLessonSession(ctx, p.ResumeSessionID)
		if err != nil {
			return fmt.Errorf("resume session %s: %w", p.ResumeSessionID, err)
		}
		if sess.Status != store.SessionPaused {
			return fmt.Errorf("session %s is %s, only paused sessions resume", sess.ID, sess.Status)
		}
		lsn, err := g.cfg.Store.GetLesson(ctx, sess.LessonID)
		if err != nil {
			return fmt.Errorf("resume lesson: %w", err)
		}
		if pe, err := g.cfg.Store.OpenPauseEvent(ctx, sess.ID); err == nil {
			pauseSummary = pe.Summary
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("open pause event: %w", err)
		}
		g.sess, g.lsn = sess, lsn
	} else {
		lsn, err := g.cfg.Registrar.GetOrCreateLesson(ctx, p.StudentID)
		if err != nil {
			return fmt.Errorf("resolve lesson: %w", err)
		}
		sess := &store.LessonSession{
			StudentID:    p.StudentID,
			LessonID:     lsn.ID,
			LanguageMode: p.LanguageMode,
		}
		if err := g.cfg.Store.CreateLessonSession(ctx, sess); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		g.sess, g.lsn = sess, lsn
	}

	student, err := g.cfg.Store.GetStudent(ctx, g.sess.StudentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load student: %w", err)
	}
	g.student = student

	activeRules, err := g.cfg.Store.ActiveRules(ctx, g.sess.StudentID)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	lastRecap, err := g.cfg.Store.LastLessonRecap(ctx, g.sess.StudentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load recap: %w", err)
	}

	g.instr = buildInstructions(instructionInput{
		student:      student,
		lesson:       g.lsn,
		rules:        activeRules,
		lastRecap:    lastRecap,
		pauseSummary: pauseSummary,
		resuming:     resuming,
		languageMode: g.sess.LanguageMode,
	})
	if g.lsn.IsFirstLesson {
		g.toolJSON = []string{lesson.ProfileToolSchema}
	}

	if err := g.connect(ctx); err != nil {
		return err
	}

	if resuming {
		if err := g.cfg.Store.ClosePauseEvent(ctx, g.sess.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Error("close pause event", "session_id", g.sess.ID, "error", err)
		}
	}
	if err := g.cfg.Store.SetSessionStatus(ctx, g.sess.ID, store.SessionActive); err != nil {
		return fmt.Errorf("mark session active: %w", err)
	}

	g.ruleMgr = g.cfg.NewRuleManager(g.sess.StudentID)
	g.analyzer = g.cfg.NewAnalyzer(g.sess.StudentID, g.lsn.ID)

	runCtx, cancel := context.WithCancel(context.Background())
	g.eg, runCtx = errgroup.WithContext(runCtx)
	g.cancel = cancel
	g.eg.Go(func() error { return g.processEvents(runCtx) })

	g.mu.Lock()
	g.state = StateActive
	bridge := g.bridge
	g.mu.Unlock()

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()

	_ = g.cfg.Client.SendSystemEvent("lesson_started", "")

	trigger := provider.TriggerGreeting
	if resuming {
		trigger = provider.TriggerResume
	}
	if err := bridge.Trigger(ctx, trigger); err != nil {
		g.handleProviderError(runCtx, err)
	}

	slog.Info("session started",
		"session_id", g.sess.ID,
		"lesson_id", g.lsn.ID,
		"lesson_number", g.lsn.LessonNumber,
		"mode", bridge.Mode(),
		"resumed", resuming)
	return nil
}

// connect dials the preferred mode, falling back to the legacy pipeline on a
// transient failure. The session gets at most one downgrade; it is consumed
// here or mid-session, whichever comes first.
func (g *Gateway) connect(ctx context.Context) error {
	cfg := provider.SessionConfig{
		Instructions: g.instr,
		VoiceID:      g.cfg.VoiceID,
		LanguageMode: g.sess.LanguageMode,
		Tools:        g.toolJSON,
	}

	if g.cfg.StreamingEnabled {
		bridge, err := g.buildBridge(provider.ModeStreaming, cfg)
		if err == nil {
			g.mu.Lock()
			g.bridge = bridge
			g.mu.Unlock()
			return nil
		}
		metrics.Errors.WithLabelValues("connect", string(provider.ClassOf(err))).Inc()
		if isFatal(err) {
			return err
		}
		slog.Warn("streaming connect failed, downgrading", "error", err)
		g.mu.Lock()
		g.downgraded = true
		g.mu.Unlock()
		metrics.Downgrades.Inc()
	}

	bridge, err := g.buildBridge(provider.ModeLegacy, cfg)
	if err != nil {
		metrics.Errors.WithLabelValues("connect", string(provider.ClassOf(err))).Inc()
		return err
	}
	g.mu.Lock()
	g.bridge = bridge
	g.mu.Unlock()
	return nil
}

func (g *Gateway) buildBridge(mode provider.Mode, cfg provider.SessionConfig) (provider.Bridge, error) {
	bridge, err := g.cfg.Bridges(mode, g.onBridgeEvent)
	if err != nil {
		return nil, err
	}
	if err := bridge.Configure(context.Background(), cfg); err != nil {
		_ = bridge.Close()
		return nil, err
	}
	return bridge, nil
}

func isFatal(err error) bool {
	var pe *provider.Error
	if errors.As(err, &pe) {
		return pe.Fatal()
	}
	return false
}

// HandleAudio relays a binary audio frame from the client.
func (g *Gateway) HandleAudio(ctx context.Context, data []byte) error {
	g.mu.Lock()
	state := g.state
	bridge := g.bridge
	g.mu.Unlock()

	if state != StateActive {
		return fmt.Errorf("audio in state %s", state)
	}
	metrics.AudioChunks.Inc()
	g.relayMu.RLock()
	err := bridge.Relay(ctx, data)
	g.relayMu.RUnlock()
	if err != nil {
		g.handleProviderError(ctx, err)
		return err
	}
	return nil
}

// onBridgeEvent hands bridge output to the ordered processing loop. It never
// blocks longer than the gateway lives.
func (g *Gateway) onBridgeEvent(ev provider.Event) {
	select {
	case g.events <- ev:
	case <-g.closedCh:
	}
}

// processEvents consumes bridge events in arrival order, which makes turn
// persistence sequential without any locking in the hot path.
func (g *Gateway) processEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-g.events:
			g.dispatch(ctx, ev)
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, ev provider.Event) {
	switch ev.Type {
	case provider.EventAudio:
		if err := g.cfg.Client.SendAudio(ev.Audio); err != nil {
			slog.Debug("client audio write failed", "error", err)
		}
	case provider.EventTranscriptDelta:
		_ = g.cfg.Client.SendTranscript(ev.Speaker, ev.Text, false)
	case provider.EventTurnComplete:
		g.handleTurnComplete(ctx, ev)
	case provider.EventToolCall:
		g.handleToolCall(ctx, ev)
	case provider.EventError:
		g.handleProviderError(ctx, ev.Err)
	}
}

// handleTurnComplete persists the turn, forwards the final transcript, and
// for user turns runs directive detection before any further audio is
// processed, so a spoken rule takes effect in the same exchange.
func (g *Gateway) handleTurnComplete(ctx context.Context, ev provider.Event) {
	g.mu.Lock()
	bridge := g.bridge
	lsn := g.lsn
	g.mu.Unlock()

	speaker := store.Speaker(ev.Speaker)
	pipeline := store.PipelineLegacy
	if bridge.Mode() == provider.ModeStreaming {
		pipeline = store.PipelineStreaming
	}

	turn := &store.Turn{
		LessonID:     lsn.ID,
		PipelineType: pipeline,
		Speaker:      speaker,
		Text:         ev.Text,
		RawPayload:   ev.Raw,
	}
	if err := g.cfg.Store.AppendTurn(ctx, turn); err != nil {
		slog.Error("append turn", "lesson_id", lsn.ID, "speaker", speaker, "error", err)
		return
	}
	metrics.TurnsTotal.WithLabelValues(string(speaker), string(pipeline)).Inc()

	_ = g.cfg.Client.SendTranscript(ev.Speaker, ev.Text, true)

	if speaker == store.SpeakerUser {
		g.applyRules(ctx, bridge, ev.Text)
	}
	g.analyzer.Enqueue(*turn)
}

func (g *Gateway) applyRules(ctx context.Context, bridge provider.Bridge, text string) {
	injections, err := g.ruleMgr.OnUserTurn(ctx, text)
	if err != nil {
		slog.Error("rule detection", "error", err)
		return
	}
	if len(injections) == 0 {
		return
	}

	// audio relay waits until every injection is on the wire
	g.relayMu.Lock()
	injectErr := func() error {
		for _, inj := range injections {
			if err := bridge.Inject(ctx, inj.Text); err != nil {
				slog.Error("rule injection", "rule_type", inj.RuleType, "error", err)
				return err
			}
			slog.Info("rule injected", "rule_type", inj.RuleType, "kind", inj.Kind, "requires_ack", inj.RequiresAck)
		}
		return nil
	}()
	g.relayMu.Unlock()

	if injectErr != nil {
		g.handleProviderError(ctx, injectErr)
	}
}

func (g *Gateway) handleToolCall(ctx context.Context, ev provider.Event) {
	if ev.Text != lesson.ProfileToolName {
		slog.Warn("unknown tool call", "name", ev.Text)
		return
	}
	if err := g.cfg.Registrar.SaveProfile(ctx, g.sess.StudentID, ev.Raw); err != nil {
		slog.Error("save student profile", "student_id", g.sess.StudentID, "error", err)
		return
	}
	slog.Info("student profile captured", "student_id", g.sess.StudentID)
}

// handleProviderError applies the failure policy: configuration and critical
// errors end the session, the first transient streaming failure downgrades
// to the legacy pipeline, anything after that is fatal. The client always
// gets the sanitized message; the operator log gets the detail.
func (g *Gateway) handleProviderError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	class := provider.ClassOf(err)
	metrics.Errors.WithLabelValues("session", string(class)).Inc()

	if class == provider.ClassEmptyResponse {
		metrics.EmptyResponses.Inc()
		slog.Error("empty provider response", "session_id", g.sess.ID, "error", err)
		_ = g.cfg.Client.SendNotice("warn", provider.UserMessageOf(err))
		return
	}

	g.mu.Lock()
	canDowngrade := g.bridge != nil &&
		g.bridge.Mode() == provider.ModeStreaming &&
		!g.downgraded &&
		class == provider.ClassTransient &&
		g.state == StateActive
	g.mu.Unlock()

	if canDowngrade {
		if derr := g.downgrade(ctx); derr == nil {
			return
		} else {
			slog.Error("downgrade failed", "session_id", g.sess.ID, "error", derr)
		}
	}

	slog.Error("fatal provider error",
		"session_id", g.sess.ID,
		"class", class,
		"error", err)
	_ = g.cfg.Client.SendNotice("error", provider.UserMessageOf(err))

	// End waits for the event loop; when the failure arrived through that
	// loop, ending inline would wait on ourselves.
	go func() { _ = g.End(context.Background()) }()
}

// downgrade swaps the live streaming bridge for a legacy pipeline without
// dropping the session. The replacement is configured with the same
// instructions; conversation history already persisted stays authoritative.
func (g *Gateway) downgrade(ctx context.Context) error {
	g.mu.Lock()
	g.downgraded = true
	old := g.bridge
	cfg := provider.SessionConfig{
		Instructions: g.instr,
		VoiceID:      g.cfg.VoiceID,
		LanguageMode: g.sess.LanguageMode,
	}
	g.mu.Unlock()

	metrics.Downgrades.Inc()
	if old != nil {
		_ = old.Close()
	}

	replacement, err := g.buildBridge(provider.ModeLegacy, cfg)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.bridge = replacement
	g.mu.Unlock()

	_ = g.cfg.Client.SendNotice("warn", "The connection hiccuped; switching to a backup line. One moment.")
	slog.Warn("downgraded to legacy pipeline", "session_id", g.sess.ID)
	return nil
}

// Pause suspends the session: the provider is released, a pause record with
// a short summary is persisted, and the client is told why. The lesson
// itself stays open for a later resume.
func (g *Gateway) Pause(ctx context.Context, reason string) error {
	g.mu.Lock()
	if g.state != StateActive {
		state := g.state
		g.mu.Unlock()
		return fmt.Errorf("pause in state %s", state)
	}
	g.state = StatePaused
	bridge := g.bridge
	g.mu.Unlock()

	summary := g.pauseSummary(ctx)

	if err := g.cfg.Store.CreatePauseEvent(ctx, &store.PauseEvent{
		LessonSessionID: g.sess.ID,
		Summary:         summary,
		Reason:          reason,
	}); err != nil {
		slog.Error("persist pause event", "session_id", g.sess.ID, "error", err)
	}
	if err := g.cfg.Store.SetSessionStatus(ctx, g.sess.ID, store.SessionPaused); err != nil {
		slog.Error("mark session paused", "session_id", g.sess.ID, "error", err)
	}

	_ = g.cfg.Client.SendSystemEvent("lesson_paused", reason)

	if bridge != nil {
		_ = bridge.Close()
	}
	g.teardownWorkers()

	graceCtx, done := context.WithTimeout(context.Background(), g.cfg.GracePeriod)
	defer done()
	if err := g.analyzer.Shutdown(graceCtx); err != nil {
		slog.Warn("analysis shutdown incomplete", "session_id", g.sess.ID, "error", err)
	}

	metrics.SessionsActive.Dec()
	slog.Info("session paused", "session_id", g.sess.ID, "reason", reason, "summary", summary)
	return nil
}

// pauseSummary asks the completion vendor for one short "what we were doing"
// line, falling back to a locally composed summary from persisted turns.
func (g *Gateway) pauseSummary(ctx context.Context) string {
	turns, err := g.cfg.Store.Turns(ctx, g.lsn.ID)
	if err != nil {
		slog.Warn("load turns for pause summary", "error", err)
		return ""
	}

	if g.cfg.Summarizer != nil {
		input := recentDialogue(turns, 6)
		res, err := g.cfg.Summarizer.Complete(ctx,
			"Summarize in one or two short sentences what the tutor and student were doing, so the lesson can continue later. Plain prose, no preamble.",
			input, nil)
		if err == nil && res.Text != "" {
			return res.Text
		}
		slog.Warn("pause summary completion failed, composing locally", "error", err)
	}
	return brain.ComposePauseSummary(turns)
}

func recentDialogue(turns []store.Turn, n int) string {
	start := len(turns) - n
	if start < 0 {
		start = 0
	}
	var sb []byte
	for _, t := range turns[start:] {
		sb = append(sb, fmt.Sprintf("%s: %s\n", t.Speaker, t.Text)...)
	}
	return string(sb)
}

// End closes the session permanently: the provider is released, analysis is
// flushed, the lesson recap is produced and the lesson is marked complete.
// Safe to call from any state and concurrently; later calls are no-ops.
func (g *Gateway) End(ctx context.Context) error {
	var endErr error
	g.endOnce.Do(func() {
		g.mu.Lock()
		prev := g.state
		g.state = StateEnded
		bridge := g.bridge
		g.mu.Unlock()

		if prev == StateConnecting {
			// never became active, nothing to flush
			if bridge != nil {
				_ = bridge.Close()
			}
			return
		}

		if bridge != nil {
			_ = bridge.Close()
		}
		g.teardownWorkers()

		graceCtx, done := context.WithTimeout(context.Background(), g.cfg.GracePeriod)
		defer done()

		turns, err := g.cfg.Store.Turns(graceCtx, g.lsn.ID)
		if err != nil {
			slog.Error("load turns at lesson end", "lesson_id", g.lsn.ID, "error", err)
		}
		recap, err := g.analyzer.FinishLesson(graceCtx, g.lsn.LessonNumber, turns)
		if err != nil {
			slog.Error("finish lesson analysis", "lesson_id", g.lsn.ID, "error", err)
		} else {
			slog.Info("lesson recap saved", "lesson_id", g.lsn.ID, "recap_len", len(recap))
		}

		if err := g.cfg.Store.CompleteLesson(graceCtx, g.lsn.ID); err != nil {
			slog.Error("complete lesson", "lesson_id", g.lsn.ID, "error", err)
			endErr = err
		}
		if err := g.cfg.Store.SetSessionStatus(graceCtx, g.sess.ID, store.SessionEnded); err != nil {
			slog.Error("mark session ended", "session_id", g.sess.ID, "error", err)
		}

		_ = g.cfg.Client.SendSystemEvent("lesson_ended", "")

		if prev == StateActive {
			metrics.SessionsActive.Dec()
		}
		slog.Info("session ended", "session_id", g.sess.ID, "lesson_id", g.lsn.ID)
	})
	return endErr
}

// teardownWorkers stops the event loop and unblocks any bridge callback
// still trying to deliver.
func (g *Gateway) teardownWorkers() {
	g.mu.Lock()
	cancel := g.cancel
	eg := g.eg
	g.cancel, g.eg = nil, nil
	g.mu.Unlock()

	g.closeOnce.Do(func() { close(g.closedCh) })
	if cancel != nil {
		cancel()
	}
	if eg != nil {
		_ = eg.Wait()
	}
}

// SessionID is available after Start.
func (g *Gateway) SessionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sess == nil {
		return ""
	}
	return g.sess.ID
}

// LessonInfo exposes the resolved lesson for the client handshake reply.
func (g *Gateway) LessonInfo() (lessonNumber int, isFirst bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lsn == nil {
		return 0, false
	}
	return g.lsn.LessonNumber, g.lsn.IsFirstLesson
}
