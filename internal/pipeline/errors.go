package pipeline

import "fmt"

// InputKind classifies a rejected upload.
type InputKind string

const (
	InputMissing     InputKind = "missing"
	InputEmpty       InputKind = "empty"
	InputUnsupported InputKind = "unsupported_type"
	InputTooLarge    InputKind = "too_large"
	InputBadMode     InputKind = "invalid_mode"
)

// InputError reports an upload rejected before any service call.
type InputError struct {
	Kind     InputKind
	Filename string
	Detail   string
}

func (e *InputError) Error() string {
	msg := "input " + string(e.Kind)
	if e.Filename != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Filename)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// WarningKind classifies a non-fatal problem reported alongside a result.
type WarningKind string

const (
	WarnMissingCredential  WarningKind = "missing_credential"
	WarnRomanizationFailed WarningKind = "romanization_failed"
	WarnCaptionFailed      WarningKind = "caption_failed"
	WarnStoreFailed        WarningKind = "store_failed"
)

// Warning is shown to the user; the job still produced its transcript.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}
