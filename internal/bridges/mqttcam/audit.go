package mqttcam

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/payload-core/internal/audit"
)

const (
	auditSource       = "mqtt"
	auditRole         = "operator"
	auditWriteTimeout = 5 * time.Second
)

// AuditRecorder stores audit entries. *audit.SQLiteRepository satisfies it.
type AuditRecorder interface {
	Create(ctx context.Context, e *audit.Entry) error
}

// auditEntry builds the audit record for cmd, or nil when the command
// does not change camera configuration.
func auditEntry(cmd CommandMessage) *audit.Entry {
	e := &audit.Entry{
		Subject: cmd.Source,
		Role:    auditRole,
		Source:  auditSource,
		Outcome: audit.OutcomeOK,
		Details: map[string]any{"command_id": cmd.ID},
	}
	if e.Subject == "" {
		e.Subject = auditSource
	}

	switch cmd.Command {
	case CommandSet:
		e.Action = audit.ActionPropertySet
		e.Target = fmt.Sprint(cmd.Parameters["setting"])
		e.Details["value"] = cmd.Parameters["value"]
	case CommandPropertySet:
		e.Action = audit.ActionPropertySet
		e.Target = fmt.Sprint(cmd.Parameters["code"])
		e.Details["value"] = cmd.Parameters["value"]
		e.Details["kind"] = cmd.Parameters["type"]
	case CommandReset:
		e.Action = audit.ActionReset
	case CommandInitialize:
		e.Action = audit.ActionInitialize
	default:
		return nil
	}
	return e
}

func (b *Bridge) recordAudit(cmd CommandMessage, opErr error) {
	if b.opts.Audit == nil {
		return
	}
	e := auditEntry(cmd)
	if e == nil {
		return
	}
	if opErr != nil {
		e.Outcome = audit.OutcomeFailed
		e.Details["error"] = opErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(b.ctx), auditWriteTimeout)
	defer cancel()
	if err := b.opts.Audit.Create(ctx, e); err != nil {
		b.logError("audit write failed", err, "id", cmd.ID, "command", cmd.Command)
	}
}
