// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/settings"
)

// =============================================================================
// CONSTANTS AND ERRORS
// =============================================================================

const (
	// MsgMissingAPIKey is the canned reply when no credential is configured.
	MsgMissingAPIKey = "Please add your OpenRouter API key in settings."

	// FailurePrefix starts the content of every failure turn.
	FailurePrefix = "An error occurred: "

	// readBufferSize is the size of each body read.
	readBufferSize = 4096
)

var (
	// ErrBusy is returned by Send while another send is in flight.
	ErrBusy = errors.New("a completion is already in progress")

	// ErrAborted is the cause recorded when Cancel stops a stream.
	ErrAborted = errors.New("completion aborted")

	// ErrStalled is the cause recorded when the stream delivers no data for
	// the idle timeout.
	ErrStalled = errors.New("stream stalled")

	// ErrTimeout is the cause recorded when a request exceeds the request
	// timeout.
	ErrTimeout = errors.New("request timed out")
)

var tracer = otel.Tracer("github.com/jeranaias/rigrun-chat/internal/engine")

// =============================================================================
// COLLABORATORS
// =============================================================================

// SettingsSource provides the session configuration for a send.
type SettingsSource interface {
	Snapshot() settings.Snapshot
}

// ConversationStore receives committed turns.
type ConversationStore interface {
	Active() (*model.Conversation, bool)
	AppendTurn(turn model.Turn) error
	AppendTurnTo(id string, turn model.Turn) error
	EffectiveSystemPrompt() string
}

// Streamer opens a completion stream.
type Streamer interface {
	OpenStream(ctx context.Context, apiKey string, req cloud.CompletionRequest) (io.ReadCloser, error)
}

// Options tunes the engine.
type Options struct {
	// RequestTimeout bounds a whole request. Zero disables it.
	RequestTimeout time.Duration

	// IdleTimeout fails a stream that delivers no bytes for this long. Zero
	// disables it.
	IdleTimeout time.Duration

	// CommitPartialOnAbort commits accumulated content when a stream is
	// cancelled. When false a cancelled stream never produces a turn.
	CommitPartialOnAbort bool

	// MaxTokens is the completion budget sent with each request.
	MaxTokens int
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		RequestTimeout: 10 * time.Minute,
		IdleTimeout:    90 * time.Second,
		MaxTokens:      cloud.DefaultMaxTokens,
	}
}

// Outcome describes how a send ended.
type Outcome struct {
	// State is the terminal state reached. It is StateIdle when no request
	// was made because the credential was missing.
	State State

	// Turn is the committed turn, or nil when none was committed.
	Turn *model.Turn

	// Err is the failure or abort cause.
	Err error

	Frames    int
	Malformed int
	Duration  time.Duration
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs one completion request at a time and commits exactly one turn
// per request that reaches Completed or Failed.
type Engine struct {
	settings SettingsSource
	convs    ConversationStore
	streamer Streamer
	opts     Options
	logger   *slog.Logger
	acc      *Accumulator

	busy atomic.Bool

	mu            sync.Mutex
	state         State
	cancel        context.CancelCauseFunc
	cancelPending bool
}

// New creates an idle engine.
func New(settingsSrc SettingsSource, convs ConversationStore, streamer Streamer, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = cloud.DefaultMaxTokens
	}
	return &Engine{
		settings: settingsSrc,
		convs:    convs,
		streamer: streamer,
		opts:     opts,
		logger:   logger.With("component", "engine"),
		acc:      NewAccumulator(),
	}
}

// Accumulator returns the live accumulator.
func (e *Engine) Accumulator() *Accumulator {
	return e.acc
}

// Subscribe registers an observer on the accumulator.
func (e *Engine) Subscribe(fn Observer) (unsubscribe func()) {
	return e.acc.Subscribe(fn)
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Busy reports whether a send is in flight.
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

// Cancel aborts the in-flight send. It returns false when nothing was in
// flight. A send that has not opened its request yet is aborted as soon as
// it does.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	cancel := e.cancel
	pending := cancel == nil && e.busy.Load()
	if pending {
		e.cancelPending = true
	}
	e.mu.Unlock()
	if cancel == nil {
		return pending
	}
	cancel(ErrAborted)
	return true
}

// release ends a send. A cancel that arrived too late for it is dropped.
func (e *Engine) release() {
	e.mu.Lock()
	e.cancelPending = false
	e.busy.Store(false)
	e.mu.Unlock()
}

func (e *Engine) fire(ev Event) State {
	e.mu.Lock()
	next, err := transition(e.state, ev)
	if err == nil {
		e.state = next
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Error("state machine violation", "error", err)
		return next
	}
	e.acc.notifyState(next)
	return next
}

// =============================================================================
// SEND
// =============================================================================

// Send streams a reply to the active conversation.
//
// A send while another is in flight returns ErrBusy and leaves the running
// request untouched. A missing credential commits the canned reply without
// any outbound call. Every other path ends in Completed, Aborted or Failed
// and returns the engine to Idle before Send returns. The returned error is
// only set for ErrBusy or when a committed turn could not be stored.
func (e *Engine) Send(ctx context.Context) (Outcome, error) {
	return e.send(ctx, nil)
}

// SendTurn appends userTurn to the active conversation and streams the
// reply. The turn is stored only when the engine was idle, so a send
// rejected with ErrBusy leaves the conversation unchanged.
func (e *Engine) SendTurn(ctx context.Context, userTurn model.Turn) (Outcome, error) {
	return e.send(ctx, &userTurn)
}

func (e *Engine) send(ctx context.Context, userTurn *model.Turn) (Outcome, error) {
	if !e.busy.CompareAndSwap(false, true) {
		sendsTotal.WithLabelValues(outcomeBusy).Inc()
		return Outcome{}, ErrBusy
	}
	defer e.release()

	if userTurn != nil {
		if err := e.convs.AppendTurn(*userTurn); err != nil {
			return Outcome{}, fmt.Errorf("append user turn: %w", err)
		}
	}

	snap := e.settings.Snapshot()
	if strings.TrimSpace(snap.APIKey) == "" {
		sendsTotal.WithLabelValues(outcomeMissingKey).Inc()
		e.logger.Info("send skipped, api key not set")
		turn := model.AssistantTurn(MsgMissingAPIKey)
		out := Outcome{State: StateIdle, Err: cloud.ErrNotConfigured}
		if err := e.convs.AppendTurn(turn); err != nil {
			return out, fmt.Errorf("commit turn: %w", err)
		}
		out.Turn = &turn
		return out, nil
	}

	ctx, span := tracer.Start(ctx, "engine.Send",
		trace.WithAttributes(
			attribute.String("model", snap.SelectedModel),
			attribute.Float64("temperature", snap.Temperature),
		))
	defer span.End()

	inFlight.Inc()
	defer inFlight.Dec()

	r := &run{engine: e, start: time.Now(), snap: snap}
	out, err := r.execute(ctx)

	sendsTotal.WithLabelValues(out.State.String()).Inc()
	streamDuration.WithLabelValues(out.State.String()).Observe(out.Duration.Seconds())

	span.SetAttributes(
		attribute.String("outcome", out.State.String()),
		attribute.Int("frames", out.Frames),
		attribute.Int("malformed_frames", out.Malformed),
	)
	if out.State == StateFailed && out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, cloud.ErrorMessage(out.Err))
	}

	e.logger.Info("completion finished",
		"model", snap.SelectedModel,
		"outcome", out.State.String(),
		"duration", out.Duration,
		"frames", out.Frames,
		"malformed_frames", out.Malformed,
		"committed", out.Turn != nil)
	return out, err
}

// run is the state of one send.
type run struct {
	engine *Engine
	snap   settings.Snapshot
	start  time.Time
	convID string

	frames     int
	malformed  int
	firstToken bool
}

func (r *run) execute(ctx context.Context) (Outcome, error) {
	e := r.engine
	e.acc.Reset()

	req := r.buildRequest()

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if e.opts.RequestTimeout > 0 {
		var stop context.CancelFunc
		reqCtx, stop = context.WithTimeoutCause(reqCtx, e.opts.RequestTimeout,
			fmt.Errorf("%w after %s", ErrTimeout, e.opts.RequestTimeout))
		defer stop()
	}

	e.mu.Lock()
	e.cancel = cancel
	if e.cancelPending {
		e.cancelPending = false
		cancel(ErrAborted)
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
	}()

	e.fire(EventSend)

	body, err := e.streamer.OpenStream(reqCtx, r.snap.APIKey, req)
	if err != nil {
		if cause := context.Cause(reqCtx); cause != nil {
			return r.interrupted(cause)
		}
		return r.fail(err)
	}
	defer body.Close()

	// Closing the body releases a Read blocked on a cancelled request.
	stopClose := context.AfterFunc(reqCtx, func() { _ = body.Close() })
	defer stopClose()

	e.fire(EventResponseOK)

	var idle *time.Timer
	if e.opts.IdleTimeout > 0 {
		idleTimeout := e.opts.IdleTimeout
		idle = time.AfterFunc(idleTimeout, func() {
			cancel(fmt.Errorf("%w: no data for %s", ErrStalled, idleTimeout))
		})
		defer idle.Stop()
	}

	dec := cloud.NewFrameDecoder()
	buf := make([]byte, readBufferSize)
	for {
		if cause := context.Cause(reqCtx); cause != nil {
			return r.interrupted(cause)
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if idle != nil {
				idle.Reset(e.opts.IdleTimeout)
			}
			events, ferr := dec.Feed(buf[:n])
			done, herr := r.handle(events)
			if herr != nil {
				return r.fail(herr)
			}
			if done {
				return r.complete()
			}
			if ferr != nil {
				return r.fail(ferr)
			}
		}

		if errors.Is(rerr, io.EOF) {
			if _, herr := r.handle(dec.Flush()); herr != nil {
				return r.fail(herr)
			}
			return r.complete()
		}
		if rerr != nil {
			if cause := context.Cause(reqCtx); cause != nil {
				return r.interrupted(cause)
			}
			return r.fail(fmt.Errorf("read stream: %w", rerr))
		}
	}
}

// buildRequest assembles the system prompt and the active conversation.
func (r *run) buildRequest() cloud.CompletionRequest {
	e := r.engine
	var history []model.Turn
	if conv, ok := e.convs.Active(); ok {
		r.convID = conv.ID
		history = conv.Turns
	}

	messages := make([]cloud.ChatMessage, 0, len(history)+1)
	messages = append(messages, cloud.ChatMessage{
		Role:    string(model.RoleSystem),
		Content: e.convs.EffectiveSystemPrompt(),
	})
	for _, t := range history {
		messages = append(messages, cloud.ChatMessage{Role: string(t.Role), Content: t.Content})
	}

	return cloud.CompletionRequest{
		Model:       r.snap.SelectedModel,
		Messages:    messages,
		Temperature: r.snap.Temperature,
		Stream:      true,
		MaxTokens:   e.opts.MaxTokens,
		Reasoning:   cloud.ReasoningOptions{Exclude: false},
	}
}

// handle routes decoded events into the accumulator. It reports whether the
// [DONE] sentinel was seen.
func (r *run) handle(events []cloud.Event) (bool, error) {
	e := r.engine
	for _, ev := range events {
		switch ev.Kind {
		case cloud.EventDone:
			return true, nil

		case cloud.EventMalformed:
			r.malformed++
			frameErrorsTotal.Inc()
			e.logger.Warn("skipping malformed frame", "error", ev.Err)

		case cloud.EventFrame:
			f := ev.Frame
			r.frames++
			if f.Error != nil {
				msg := f.Error.Message
				if msg == "" {
					msg = "stream error"
				}
				return false, &cloud.FrameError{Message: msg}
			}
			if f.HasUsage() {
				e.acc.SetUsage(f.Usage)
			}

			kind, text := f.Delta()
			framesTotal.WithLabelValues(kind.String()).Inc()
			switch kind {
			case cloud.DeltaReasoning:
				r.markFirstToken()
				e.acc.AppendReasoning(text)
			case cloud.DeltaContent:
				r.markFirstToken()
				e.acc.AppendContent(text)
			}
		}
	}
	return false, nil
}

func (r *run) markFirstToken() {
	if r.firstToken {
		return
	}
	r.firstToken = true
	timeToFirstToken.Observe(time.Since(r.start).Seconds())
}

// =============================================================================
// TERMINAL STATES
// =============================================================================

func (r *run) complete() (Outcome, error) {
	state := r.engine.fire(EventEndOfData)
	snap := r.engine.acc.Snapshot()
	return r.finish(state, r.accumulatedTurn(snap), nil)
}

func (r *run) fail(err error) (Outcome, error) {
	state := r.engine.fire(EventError)
	r.engine.logger.Warn("completion failed", "error", err)
	turn := model.AssistantTurn(FailurePrefix + cloud.ErrorMessage(err))
	return r.finish(state, &turn, err)
}

// interrupted classifies a context cause. Cancellation by the caller is an
// abort; every other cause is a failure.
func (r *run) interrupted(cause error) (Outcome, error) {
	if errors.Is(cause, ErrAborted) || errors.Is(cause, context.Canceled) {
		return r.abort(cause)
	}
	return r.fail(cause)
}

func (r *run) abort(cause error) (Outcome, error) {
	e := r.engine
	state := e.fire(EventCancel)

	var turn *model.Turn
	if e.opts.CommitPartialOnAbort && e.acc.HasContent() {
		turn = r.accumulatedTurn(e.acc.Snapshot())
	}
	return r.finish(state, turn, cause)
}

func (r *run) accumulatedTurn(snap Snapshot) *model.Turn {
	turn := model.AssistantTurn(snap.Content)
	turn.Reasoning = snap.Reasoning
	if len(snap.Usage) > 0 {
		turn.Usage = snap.Usage
	}
	return &turn
}

// finish commits the turn, clears the accumulator and returns to Idle.
func (r *run) finish(state State, turn *model.Turn, cause error) (Outcome, error) {
	e := r.engine
	out := Outcome{
		State:     state,
		Err:       cause,
		Frames:    r.frames,
		Malformed: r.malformed,
	}

	var commitErr error
	if turn != nil {
		if err := r.commit(*turn); err != nil {
			commitErr = fmt.Errorf("commit turn: %w", err)
			e.logger.Error("failed to commit turn", "error", err)
		} else {
			out.Turn = turn
		}
	}

	e.acc.Reset()
	e.fire(EventReset)
	out.Duration = time.Since(r.start)
	return out, commitErr
}

// commit hands the turn to the conversation the request was built from.
func (r *run) commit(turn model.Turn) error {
	if r.convID == "" {
		return r.engine.convs.AppendTurn(turn)
	}
	return r.engine.convs.AppendTurnTo(r.convID, turn)
}
