// Package bridgeerr defines the error taxonomy spec.md §7 names.
//
// Adapted from the teacher's src/pkg/errors/types.go BridgeError/severity
// pair: same wrap-and-classify shape, retargeted at the discovery
// pipeline's error classes instead of Modbus gateway errors.
package bridgeerr

import "fmt"

// Severity mirrors the teacher's ErrorSeverity ladder.
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityWarn
)

func (s Severity) String() string {
	switch s {
	case SeverityTrace:
		return "TRACE"
	case SeverityDebug:
		return "DEBUG"
	case SeverityWarn:
		return "WARN"
	default:
		return "UNKNOWN"
	}
}

// Class identifies one of spec.md §7's error categories.
type Class string

const (
	MalformedTopic        Class = "malformed_topic"
	MalformedPayload       Class = "malformed_payload"
	SchemaMismatch         Class = "schema_mismatch"
	TemplateError          Class = "template_error"
	SubscriptionTransient  Class = "subscription_transient"
	SubscriptionPermanent  Class = "subscription_permanent"
	BrokerDisconnected     Class = "broker_disconnected"
)

// severityFor assigns the log severity spec.md §7 specifies per class.
func severityFor(c Class) Severity {
	switch c {
	case MalformedTopic:
		return SeverityTrace
	case MalformedPayload:
		return SeverityDebug
	default:
		return SeverityWarn
	}
}

// PipelineError is the base error type for every per-message failure in
// the discovery pipeline. Every per-message error is contained to that
// message (spec.md §7); only config-time errors at startup are fatal.
type PipelineError struct {
	Class    Class
	Topic    string
	Err      error
	Severity Severity
}

// New builds a PipelineError of the given class for topic, wrapping err.
func New(class Class, topic string, err error) *PipelineError {
	return &PipelineError{
		Class:    class,
		Topic:    topic,
		Err:      err,
		Severity: severityFor(class),
	}
}

func (e *PipelineError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("[%s] %s (topic=%s): %v", e.Severity, e.Class, e.Topic, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Severity, e.Class, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// TemplateFailure is a TemplateError carrying the offending template and
// entity hash, for the warn-level log spec.md §7 requires.
type TemplateFailure struct {
	PipelineError
	Template string
	Hash     string
}

// NewTemplateFailure builds a TemplateError for a render failure against
// an entity's state or availability template.
func NewTemplateFailure(template, hash string, err error) *TemplateFailure {
	return &TemplateFailure{
		PipelineError: PipelineError{
			Class:    TemplateError,
			Err:      err,
			Severity: SeverityWarn,
		},
		Template: template,
		Hash:     hash,
	}
}

func (e *TemplateFailure) Error() string {
	return fmt.Sprintf("[%s] template_error (hash=%s template=%q): %v",
		e.Severity, e.Hash, e.Template, e.Err)
}
