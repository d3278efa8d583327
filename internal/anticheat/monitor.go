// Package anticheat classifies raw client signals into violation categories
// while a question is on screen and forwards each occurrence to a reporter.
package anticheat

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"live-quiz-service/internal/domain"
)

const (
	// DefaultDevToolsThreshold is the outer minus inner window size, in pixels,
	// above which a docked devtools panel is assumed.
	DefaultDevToolsThreshold = 160
	DefaultDevToolsPoll      = time.Second
)

// SignalKind names the browser event a signal was captured from.
type SignalKind string

const (
	SignalContextMenu SignalKind = "contextmenu"
	SignalSelectStart SignalKind = "selectstart"
	SignalKeyDown     SignalKind = "keydown"
	SignalVisibility  SignalKind = "visibilitychange"
	SignalBlur        SignalKind = "blur"
	SignalDragStart   SignalKind = "dragstart"
	SignalViewport    SignalKind = "viewport"
)

// Signal is one raw client event.
type Signal struct {
	Kind        SignalKind `json:"kind"`
	Key         string     `json:"key,omitempty"`
	Ctrl        bool       `json:"ctrl,omitempty"`
	Shift       bool       `json:"shift,omitempty"`
	Hidden      bool       `json:"hidden,omitempty"`
	OuterWidth  int        `json:"outerWidth,omitempty"`
	InnerWidth  int        `json:"innerWidth,omitempty"`
	OuterHeight int        `json:"outerHeight,omitempty"`
	InnerHeight int        `json:"innerHeight,omitempty"`
}

// Options toggles detection categories. Shortcuts for view-source, copy,
// paste, print and save are always reported.
type Options struct {
	DisableDevTools      bool
	DisableRightClick    bool
	DisableTextSelection bool
	DisablePrintScreen   bool
	DevToolsThreshold    int
	DevToolsPoll         time.Duration
}

// DefaultOptions enables every category.
func DefaultOptions() Options {
	return Options{
		DisableDevTools:      true,
		DisableRightClick:    true,
		DisableTextSelection: true,
		DisablePrintScreen:   true,
		DevToolsThreshold:    DefaultDevToolsThreshold,
		DevToolsPoll:         DefaultDevToolsPoll,
	}
}

// Reporter receives every detected occurrence.
type Reporter interface {
	Report(ctx context.Context, sessionID, participantID string, violationType domain.ViolationType) error
}

// Classify maps a signal to its violation category under opts.
func Classify(sig Signal, opts Options) (domain.ViolationType, bool) {
	switch sig.Kind {
	case SignalContextMenu:
		if opts.DisableRightClick {
			return domain.ViolationRightClick, true
		}
	case SignalSelectStart:
		if opts.DisableTextSelection {
			return domain.ViolationCopyPaste, true
		}
	case SignalKeyDown:
		return classifyKey(sig, opts)
	case SignalVisibility:
		if sig.Hidden {
			return domain.ViolationTabSwitch, true
		}
	case SignalBlur:
		return domain.ViolationTabSwitch, true
	case SignalDragStart:
		return domain.ViolationFocusLoss, true
	case SignalViewport:
		if opts.DisableDevTools && devToolsOpen(sig, opts.DevToolsThreshold) {
			return domain.ViolationDevTools, true
		}
	}
	return "", false
}

func classifyKey(sig Signal, opts Options) (domain.ViolationType, bool) {
	key := sig.Key
	if key == "F12" {
		return domain.ViolationDevTools, opts.DisableDevTools
	}
	if key == "PrintScreen" {
		return domain.ViolationKeyboardShortcut, opts.DisablePrintScreen
	}
	if !sig.Ctrl {
		return "", false
	}
	key = strings.ToLower(key)
	if sig.Shift && (key == "i" || key == "j") {
		return domain.ViolationDevTools, opts.DisableDevTools
	}
	switch key {
	case "u", "p", "s":
		return domain.ViolationKeyboardShortcut, true
	case "a":
		return domain.ViolationCopyPaste, opts.DisableTextSelection
	case "c", "v":
		return domain.ViolationCopyPaste, true
	}
	return "", false
}

func devToolsOpen(sig Signal, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultDevToolsThreshold
	}
	return sig.OuterHeight-sig.InnerHeight > threshold || sig.OuterWidth-sig.InnerWidth > threshold
}

// Monitor is one participant's detector. It implements app.Guard so the
// progression engine arms it only while a question is displayed.
type Monitor struct {
	reporter      Reporter
	sessionID     string
	participantID string
	opts          Options
	logger        *zap.Logger

	mu       sync.Mutex
	enabled  bool
	count    int
	viewport *Signal
}

func NewMonitor(reporter Reporter, sessionID, participantID string, opts Options, logger *zap.Logger) *Monitor {
	if opts.DevToolsThreshold <= 0 {
		opts.DevToolsThreshold = DefaultDevToolsThreshold
	}
	if opts.DevToolsPoll <= 0 {
		opts.DevToolsPoll = DefaultDevToolsPoll
	}
	return &Monitor{
		reporter:      reporter,
		sessionID:     sessionID,
		participantID: participantID,
		opts:          opts,
		logger:        logger.With(zap.String("session_id", sessionID), zap.String("participant_id", participantID)),
	}
}

func (m *Monitor) Enable() {
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
}

func (m *Monitor) Disable() {
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
}

func (m *Monitor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Count is the number of occurrences detected so far, for client feedback.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Observe handles one client signal. Viewport signals only update the
// dimensions sampled by the devtools poll. Every other detection is reported
// once; nothing is deduplicated here.
func (m *Monitor) Observe(ctx context.Context, sig Signal) (domain.ViolationType, bool) {
	if sig.Kind == SignalViewport {
		m.mu.Lock()
		v := sig
		m.viewport = &v
		m.mu.Unlock()
		return "", false
	}

	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return "", false
	}
	vt, ok := Classify(sig, m.opts)
	if ok {
		m.count++
	}
	m.mu.Unlock()

	if ok {
		m.report(ctx, vt)
	}
	return vt, ok
}

// CheckDevTools samples the latest viewport once and reports dev_tools while
// the panel appears open.
func (m *Monitor) CheckDevTools(ctx context.Context) bool {
	m.mu.Lock()
	if !m.enabled || !m.opts.DisableDevTools || m.viewport == nil {
		m.mu.Unlock()
		return false
	}
	_, open := Classify(*m.viewport, m.opts)
	if open {
		m.count++
	}
	m.mu.Unlock()

	if open {
		m.report(ctx, domain.ViolationDevTools)
	}
	return open
}

// Run polls the devtools heuristic until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if !m.opts.DisableDevTools {
		return
	}
	ticker := time.NewTicker(m.opts.DevToolsPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckDevTools(ctx)
		}
	}
}

func (m *Monitor) report(ctx context.Context, vt domain.ViolationType) {
	if m.reporter == nil {
		return
	}
	if err := m.reporter.Report(ctx, m.sessionID, m.participantID, vt); err != nil {
		m.logger.Warn("record violation failed", zap.String("violation_type", string(vt)), zap.Error(err))
	}
}
