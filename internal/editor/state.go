package editor

import "fmt"

// Phase is the submission state of an editor.
type Phase int

const (
	Idle Phase = iota
	Editing
	Rasterizing
	Uploading
	Succeeded
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Editing:
		return "editing"
	case Rasterizing:
		return "rasterizing"
	case Uploading:
		return "uploading"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Busy reports whether a save is in flight.
func (p Phase) Busy() bool { return p == Rasterizing || p == Uploading }

type FailureKind int

const (
	NoFailure FailureKind = iota
	UnsupportedFormat
	FileTooLarge
	DecodeFailure
	EncodeFailure
	UploadFailure
)

func (k FailureKind) String() string {
	switch k {
	case NoFailure:
		return ""
	case UnsupportedFormat:
		return "unsupported_format"
	case FileTooLarge:
		return "file_too_large"
	case DecodeFailure:
		return "decode_failure"
	case EncodeFailure:
		return "encode_failure"
	case UploadFailure:
		return "upload_failure"
	}
	return fmt.Sprintf("failure(%d)", int(k))
}

func (k FailureKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// State is the active submission state. URL is set only when Succeeded,
// Failure and Reason only when Failed.
type State struct {
	Phase   Phase       `json:"phase"`
	URL     string      `json:"url,omitempty"`
	Failure FailureKind `json:"failure,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}
