// Package skill routes voice-platform requests to task operations and
// renders their outcomes as localized speech.
package skill

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/nhle/tasktalk/internal/locale"
	"github.com/nhle/tasktalk/internal/model"
	"github.com/nhle/tasktalk/internal/outcome"
	"github.com/nhle/tasktalk/internal/store"
	"github.com/nhle/tasktalk/internal/tasks"
)

// journalTimeout bounds the journal write after each turn.
const journalTimeout = 2 * time.Second

// Tasks is the set of task operations a connected session offers.
type Tasks interface {
	AddTask(ctx context.Context, summary string) outcome.Outcome[string]
	CountOpenTasks(ctx context.Context) outcome.Outcome[int]
	ListOpenTasks(ctx context.Context) outcome.Outcome[string]
}

// ConnectFunc opens a task session for an access token.
type ConnectFunc func(ctx context.Context, token string) (Tasks, error)

// ConnectWith adapts a tasks.Connector to a ConnectFunc.
func ConnectWith(c *tasks.Connector) ConnectFunc {
	return func(ctx context.Context, token string) (Tasks, error) {
		svc, err := c.Connect(ctx, token)
		if err != nil {
			return nil, err
		}
		return svc, nil
	}
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithJournal records every handled turn in s.
func WithJournal(s store.Store) HandlerOption {
	return func(h *Handler) { h.journal = s }
}

// WithLogger sets the handler's logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// WithDefaultLocale sets the locale used for requests that carry none.
func WithDefaultLocale(tag string) HandlerOption {
	return func(h *Handler) { h.defaultLocale = tag }
}

// Handler turns request envelopes into response envelopes. It is safe for
// concurrent use; each request connects its own task session.
type Handler struct {
	connect       ConnectFunc
	prompts       *locale.Catalog
	journal       store.Store
	logger        *slog.Logger
	defaultLocale string
	now           func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(connect ConnectFunc, prompts *locale.Catalog, opts ...HandlerOption) *Handler {
	h := &Handler{
		connect:       connect,
		prompts:       prompts,
		logger:        slog.Default(),
		defaultLocale: "en-US",
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// turn collects what happened while handling one request.
type turn struct {
	env      RequestEnvelope
	strings  locale.Strings
	result   outcome.Kind
	issueKey string
}

// Handle answers one request. It never panics and always returns speech
// the device can play.
func (h *Handler) Handle(ctx context.Context, env RequestEnvelope) (resp ResponseEnvelope) {
	start := h.now()

	tag := env.Request.Locale
	if tag == "" {
		tag = h.defaultLocale
	}
	t := &turn{env: env, strings: h.prompts.For(tag)}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic handling request",
				"request_id", env.Request.RequestID,
				"panic", fmt.Sprint(r),
			)
			t.result = outcome.RemoteOperationFailed
			resp = ask(t.strings.Get(locale.ErrorGeneric))
		}
		h.record(t, h.now().Sub(start))
	}()

	h.logger.Info("handling request",
		"request_id", env.Request.RequestID,
		"type", env.Request.Type,
		"intent", env.IntentName(),
		"locale", t.strings.Locale(),
		"linked", env.AccessToken() != "",
	)

	return h.route(ctx, t)
}

func (h *Handler) route(ctx context.Context, t *turn) ResponseEnvelope {
	s := t.strings

	switch t.env.Request.Type {
	case RequestLaunch:
		if t.env.AccessToken() == "" {
			t.result = outcome.Unauthenticated
			return notLinked(s)
		}
		return ask(s.Get(locale.Welcome))

	case RequestSessionEnded:
		h.logger.Info("session ended", "reason", t.env.Request.Reason)
		return ResponseEnvelope{Version: "1.0"}

	case RequestIntent:
		return h.routeIntent(ctx, t)

	default:
		h.logger.Warn("unsupported request type", "type", t.env.Request.Type)
		return ask(s.Get(locale.ErrorGeneric))
	}
}

func (h *Handler) routeIntent(ctx context.Context, t *turn) ResponseEnvelope {
	s := t.strings

	switch name := t.env.IntentName(); name {
	case IntentAddNewTask:
		if t.env.AccessToken() == "" {
			t.result = outcome.Unauthenticated
			return notLinked(s)
		}
		summary := capitalizeFirst(strings.TrimSpace(t.env.SlotValue(SlotTaskName)))
		if summary == "" {
			return ask(s.Get(locale.TaskNameMissing))
		}
		return h.withTasks(ctx, t, func(svc Tasks) ResponseEnvelope {
			res := svc.AddTask(ctx, summary)
			key, ok := res.Get()
			if !ok {
				return h.failure(t, res.Err())
			}
			t.issueKey = key
			return tell(s.Get(locale.TaskCreated) + " " + key)
		})

	case IntentGetToDoCount:
		return h.withTasks(ctx, t, func(svc Tasks) ResponseEnvelope {
			res := svc.CountOpenTasks(ctx)
			n, ok := res.Get()
			if !ok {
				return h.failure(t, res.Err())
			}
			if n == 1 {
				return tell(s.Get(locale.TaskCountOne))
			}
			return tell(s.Get(locale.TaskCount1) + " " + strconv.Itoa(n) + " " + s.Get(locale.TaskCount2))
		})

	case IntentGetToDoList:
		return h.withTasks(ctx, t, func(svc Tasks) ResponseEnvelope {
			res := svc.ListOpenTasks(ctx)
			text, ok := res.Get()
			if !ok {
				return h.failure(t, res.Err())
			}
			if text == "" {
				return tell(s.Get(locale.TaskListEmpty))
			}
			return tell(s.Get(locale.TaskList) + " " + text)
		})

	case IntentHelp:
		return ask(s.Get(locale.Help))

	case IntentCancel, IntentStop:
		return tell(s.Get(locale.Goodbye))

	default:
		return tell(s.Get(locale.Fallback) + " " + name + ".")
	}
}

// withTasks connects a task session for the request's token and runs fn
// with it. Unlinked or unresolvable accounts never reach fn.
func (h *Handler) withTasks(ctx context.Context, t *turn, fn func(Tasks) ResponseEnvelope) ResponseEnvelope {
	token := t.env.AccessToken()
	if token == "" {
		t.result = outcome.Unauthenticated
		return notLinked(t.strings)
	}

	svc, err := h.connect(ctx, token)
	if err != nil {
		return h.failure(t, err)
	}
	return fn(svc)
}

// failure renders a failed task operation. Only the presentation layer
// turns failure kinds into words.
func (h *Handler) failure(t *turn, err error) ResponseEnvelope {
	t.result = outcome.KindOf(err)
	h.logger.Warn("task request failed",
		"request_id", t.env.Request.RequestID,
		"intent", t.env.IntentName(),
		"kind", t.result,
		"error", err,
	)
	if t.result == outcome.Unauthenticated {
		return notLinked(t.strings)
	}
	return tell(t.strings.Get(locale.ErrorUnknown))
}

func (h *Handler) record(t *turn, elapsed time.Duration) {
	if h.journal == nil {
		return
	}

	intent := t.env.Request.Type
	if name := t.env.IntentName(); name != "" {
		intent = name
	}
	if intent == "" {
		intent = "unknown"
	}

	result := model.TurnResultOK
	if t.result != outcome.KindNone {
		result = string(t.result)
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	err := h.journal.RecordTurn(ctx, model.Turn{
		RequestID: t.env.Request.RequestID,
		Intent:    intent,
		Locale:    t.strings.Locale(),
		Result:    result,
		IssueKey:  t.issueKey,
		Duration:  elapsed,
		CreatedAt: h.now(),
	})
	if err != nil {
		h.logger.Warn("recording turn failed", "error", err)
	}
}

func speech(text string) *OutputSpeech {
	return &OutputSpeech{Type: "PlainText", Text: text}
}

// tell speaks text and ends the session.
func tell(text string) ResponseEnvelope {
	end := true
	return ResponseEnvelope{Version: "1.0", Response: Response{
		OutputSpeech:     speech(text),
		ShouldEndSession: &end,
	}}
}

// ask speaks text, repeats it as the reprompt and keeps the session open.
func ask(text string) ResponseEnvelope {
	end := false
	return ResponseEnvelope{Version: "1.0", Response: Response{
		OutputSpeech:     speech(text),
		Reprompt:         &Reprompt{OutputSpeech: *speech(text)},
		ShouldEndSession: &end,
	}}
}

func notLinked(s locale.Strings) ResponseEnvelope {
	resp := tell(s.Get(locale.ErrorNotLinked))
	resp.Response.Card = &Card{Type: "LinkAccount"}
	return resp
}

// capitalizeFirst upper-cases the first letter of s and leaves the rest
// untouched.
func capitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
