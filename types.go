package dartrt

import "github.com/dash-hpc/dartrt/core"

// Re-export commonly used types from core so most callers only need to
// import the dartrt package.

type (
	Task       = core.Task
	TaskID     = core.TaskID
	State      = core.State
	Priority   = core.Priority
	Flags      = core.Flags
	Fn         = core.Fn
	GlobalAddr = core.GlobalAddr
	DepType    = core.DepType

	Dependency    = core.Dependency
	SubmitOptions = core.SubmitOptions

	RuntimeConfig = core.RuntimeConfig
	Runtime       = core.Runtime
	IdleBackoff   = core.IdleBackoff

	CopyinRequest = core.CopyinRequest
	CopyinMethod  = core.CopyinMethod
	WaitStrategy  = core.WaitStrategy

	Logger       = core.Logger
	Metrics      = core.Metrics
	Field        = core.Field
	PanicHandler = core.PanicHandler

	DomainStats         = core.DomainStats
	RuntimeStats        = core.RuntimeStats
	TaskExecutionRecord = core.TaskExecutionRecord

	Code  = core.Code
	Error = core.Error
)

const (
	PriorityLow     = core.PriorityLow
	PriorityDefault = core.PriorityDefault
	PriorityHigh    = core.PriorityHigh
	PriorityParent  = core.PriorityParent
	PriorityInline  = core.PriorityInline

	DepIn    = core.DepIn
	DepOut   = core.DepOut
	DepInOut = core.DepInOut

	FlagHasRef        = core.FlagHasRef
	FlagInline        = core.FlagInline
	FlagImmediate     = core.FlagImmediate
	FlagCommTask      = core.FlagCommTask
	FlagNoYield       = core.FlagNoYield
	FlagDataAllocated = core.FlagDataAllocated

	BackoffPoll    = core.BackoffPoll
	BackoffSleep   = core.BackoffSleep
	BackoffCondvar = core.BackoffCondvar

	CopyinGet      = core.CopyinGet
	CopyinSendRecv = core.CopyinSendRecv

	WaitBlock        = core.WaitBlock
	WaitDetach       = core.WaitDetach
	WaitDetachInline = core.WaitDetachInline
	WaitTestYield    = core.WaitTestYield

	CodeOK    = core.CodeOK
	CodeAgain = core.CodeAgain
	CodeInval = core.CodeInval
	CodeOther = core.CodeOther
)

// NewRuntime constructs and starts a Runtime.
func NewRuntime(cfg RuntimeConfig) *Runtime { return core.NewRuntime(cfg) }

// Suspend voluntarily yields the calling task's worker, parking the task
// until something resumes it. Must be called from within a task body.
// Returns an INVAL error, without suspending, when called from an INLINE
// task, which has no context to park.
var Suspend = core.Suspend

// CurrentTask returns the Task executing on ctx's goroutine, or nil.
var CurrentTask = core.CurrentTask

// CodeOf extracts the Code from err, defaulting to CodeOther.
var CodeOf = core.CodeOf

// F creates a structured logging Field.
var F = core.F

// NoOpLogger discards everything logged to it.
type NoOpLogger = core.NoOpLogger

// NilMetrics discards every metric recorded to it.
type NilMetrics = core.NilMetrics

// DefaultPanicHandler logs a task panic through a Logger.
type DefaultPanicHandler = core.DefaultPanicHandler

// StdLogger logs to the standard library "log" package.
type StdLogger = core.StdLogger

var NewStdLogger = core.NewStdLogger
