package entities

import (
	"fmt"
	"strings"
)

// ParseErrorKind classifies why a binary could not be parsed.
type ParseErrorKind string

// Parse error kinds
const (
	ParseNotELF    ParseErrorKind = "not-elf"
	ParseTruncated ParseErrorKind = "truncated"
	ParseIO        ParseErrorKind = "io"
)

// ParseError reports a malformed, truncated or unreadable binary.
type ParseError struct {
	Path   string
	Kind   ParseErrorKind
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	switch e.Kind {
	case ParseNotELF:
		fmt.Fprintf(&b, "%s: not an ELF file", e.Path)
	case ParseTruncated:
		fmt.Fprintf(&b, "%s: file is truncated", e.Path)
	default:
		fmt.Fprintf(&b, "%s: failed to read file", e.Path)
	}
	if e.Detail != "" {
		b.WriteString(" (" + e.Detail + ")")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

// ResolveError reports a dependency that could not be located in any search path.
type ResolveError struct {
	Name        string
	RequiredBy  string
	SearchPaths []string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("unable to locate %s (required by %s) in search paths [%s]",
		e.Name, e.RequiredBy, strings.Join(e.SearchPaths, ", "))
}

// ToolErrorKind classifies patcher tool failures.
type ToolErrorKind string

// Tool error kinds
const (
	ToolMissing          ToolErrorKind = "missing"
	ToolVersionTooOld    ToolErrorKind = "version-too-old"
	ToolInvocationFailed ToolErrorKind = "invocation-failed"
)

// ToolError reports a missing, outdated or failing external tool.
type ToolError struct {
	Tool    string
	Kind    ToolErrorKind
	Minimum string // required minimum version
	Found   string // version found, when known
	Hint    string // install/upgrade hint
	Args    []string
	Stderr  string // tool diagnostic, verbatim
	Err     error
}

func (e *ToolError) Error() string {
	switch e.Kind {
	case ToolMissing:
		msg := fmt.Sprintf("%s not found: version %s or newer is required", e.Tool, e.Minimum)
		if e.Hint != "" {
			msg += "; install it with `" + e.Hint + "`"
		}
		return msg
	case ToolVersionTooOld:
		msg := fmt.Sprintf("%s %s is too old: version %s or newer is required", e.Tool, e.Found, e.Minimum)
		if e.Hint != "" {
			msg += "; upgrade it with `" + e.Hint + "`"
		}
		return msg
	}
	msg := fmt.Sprintf("%s %s failed", e.Tool, strings.Join(e.Args, " "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += "\n" + e.Stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// Repair steps reported by RepairError
const (
	StepInspect  = "inspect"
	StepResolve  = "resolve"
	StepCopy     = "copy"
	StepSoname   = "set-soname"
	StepRename   = "replace-needed"
	StepRpath    = "set-rpath"
	StepVerify   = "verify"
	StepClassify = "classify"
)

// RepairError scopes a failure to one target and the step that failed.
type RepairError struct {
	Target string
	Step   string
	Err    error
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("failed to repair %s at step %s: %v", e.Target, e.Step, e.Err)
}

func (e *RepairError) Unwrap() error { return e.Err }

// PolicyError reports that a requested tier cannot be achieved.
type PolicyError struct {
	Requested string
	Achieved  string
	Reason    string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("requested policy %s is not satisfied (best achievable: %s): %s",
		e.Requested, e.Achieved, e.Reason)
}
