package ruleengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/carepoint/policygate/internal/audit"
	"github.com/carepoint/policygate/internal/observability"
	"github.com/carepoint/policygate/internal/protocol"
)

// Extractor pulls extra fields for an audit record out of the context.
type Extractor func(rc *Context) map[string]any

// AuditOptions configures an AuditRule.
type AuditOptions struct {
	LogBody    bool
	LogQuery   bool
	LogHeaders bool
	LogUser    bool
	// OmitStandardFields drops path, method, handler and endpoint from records.
	OmitStandardFields bool
	Extractors         []Extractor
	// RecordOutcome emits a second record with the final status.
	RecordOutcome bool
	Sink          audit.Sink
	// Clock defaults to SystemClock.
	Clock  Clock
	Logger *slog.Logger
}

// AuditRule writes an audit record for every request it applies to. It never
// rejects a request; sink failures are logged and swallowed.
type AuditRule struct {
	cfg  RuleConfig
	opts AuditOptions
}

var (
	_ Rule            = (*AuditRule)(nil)
	_ OutcomeObserver = (*AuditRule)(nil)
)

// NewAuditRule creates an audit rule. Without a sink, records go to the log.
func NewAuditRule(cfg RuleConfig, opts AuditOptions) *AuditRule {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sink == nil {
		opts.Sink = audit.NewLogSink(opts.Logger)
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	return &AuditRule{cfg: cfg.withDefaults(RuleTypeAudit), opts: opts}
}

func (r *AuditRule) Config() RuleConfig { return r.cfg }

// Execute writes the request record. It always passes: audit failures are
// logged and counted, never surfaced to the caller.
func (r *AuditRule) Execute(ctx context.Context, rc *Context) (Result, error) {
	if rec, ok := r.build(rc, audit.PhaseRequest); ok {
		r.write(ctx, rec)
	}
	return Pass(nil), nil
}

// Observe records the final status when outcome recording is on.
func (r *AuditRule) Observe(ctx context.Context, rc *Context, resp *protocol.Response) {
	if !r.opts.RecordOutcome {
		return
	}

	rec, ok := r.build(rc, audit.PhaseOutcome)
	if !ok {
		return
	}
	rec.Status = resp.Status
	if resp.Error != nil {
		rec.ErrorCode = resp.Error.Code
	}
	r.write(ctx, rec)
}

// build runs record under a recover so a faulty extractor cannot fail the request.
func (r *AuditRule) build(rc *Context, phase string) (rec audit.Record, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			observability.AuditRecordsTotal.WithLabelValues(r.opts.Sink.Name(), "failed").Inc()
			r.opts.Logger.Warn("failed to build audit record",
				slog.String("rule_id", r.cfg.ID),
				slog.String("phase", phase),
				slog.String("panic", fmt.Sprint(p)),
			)
			ok = false
		}
	}()
	return r.record(rc, phase), true
}

func (r *AuditRule) record(rc *Context, phase string) audit.Record {
	rec := audit.Record{
		Timestamp: r.opts.Clock.Now().UTC(),
		Phase:     phase,
	}

	if !r.opts.OmitStandardFields {
		rec.Path = rc.Request.Path
		rec.Method = rc.Request.Method
		rec.HandlerName = rc.HandlerName
		rec.Endpoint = rc.Endpoint
	}
	if r.opts.LogUser {
		if u := rc.User(); u != nil {
			rec.UserID = u.ID
		}
	}
	// Request contents are only captured before dispatch.
	if phase == audit.PhaseRequest {
		if r.opts.LogBody {
			rec.Body = rc.Request.Body
		}
		if r.opts.LogQuery && len(rc.Request.Query) > 0 {
			rec.Query = rc.Request.Query
		}
		if r.opts.LogHeaders {
			rec.Headers = audit.RedactHeaders(rc.Request.Headers)
		}
	}

	for _, extract := range r.opts.Extractors {
		for k, v := range extract(rc) {
			if rec.Extra == nil {
				rec.Extra = make(map[string]any)
			}
			rec.Extra[k] = v
		}
	}

	return rec
}

func (r *AuditRule) write(ctx context.Context, rec audit.Record) {
	sink := r.opts.Sink.Name()

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("sink panicked: %v", p)
			}
		}()
		return r.opts.Sink.Write(ctx, rec)
	}()

	if err != nil {
		observability.AuditRecordsTotal.WithLabelValues(sink, "failed").Inc()
		r.opts.Logger.Warn("failed to write audit record",
			slog.String("rule_id", r.cfg.ID),
			slog.String("sink", sink),
			slog.String("error", err.Error()),
		)
		return
	}
	observability.AuditRecordsTotal.WithLabelValues(sink, "accepted").Inc()
}
