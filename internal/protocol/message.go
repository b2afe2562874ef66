// Package protocol defines the JSON frames exchanged over the execute
// WebSocket and the messages published on the job bus. Server-to-client
// frames are forwarded from the bus verbatim, so the bus message types and
// the wire types are the same structs.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame types for client → server communication
const (
	TypeExecute = "execute"
	TypeInput   = "input"
)

// Frame types for server → client communication (also published on the bus)
const (
	TypeOutput   = "output"
	TypeComplete = "complete"
	TypeError    = "error"
)

// Output stream names
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Language is one of the supported execution languages.
type Language string

const (
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangRust       Language = "rust"
)

// Languages lists every supported language.
var Languages = []Language{LangPython, LangJavaScript, LangC, LangCPP, LangRust}

// Valid reports whether l is in the closed language set.
func (l Language) Valid() bool {
	switch l {
	case LangPython, LangJavaScript, LangC, LangCPP, LangRust:
		return true
	}
	return false
}

// DefaultFilename returns the on-disk filename used when the client
// does not supply one.
func (l Language) DefaultFilename() string {
	switch l {
	case LangPython:
		return "main.py"
	case LangJavaScript:
		return "main.js"
	case LangC:
		return "main.c"
	case LangCPP:
		return "main.cpp"
	case LangRust:
		return "main.rs"
	}
	return "main.txt"
}

// Execute is the first (and only mandatory) client frame. It authenticates
// the session and carries the source to run.
type Execute struct {
	Type     string   `json:"type"`
	JobID    string   `json:"jobId"`
	JobToken string   `json:"jobToken"`
	Code     string   `json:"code"`
	Language Language `json:"language"`
	Filename string   `json:"filename,omitempty"`
}

// Input carries interactive keystrokes from the client. Data is forwarded
// to the PTY as-is; the client appends its own trailing newline.
type Input struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Output is one chunk of PTY output.
type Output struct {
	Type   string `json:"type"`
	Stream string `json:"stream"` // "stdout" or "stderr"
	Data   string `json:"data"`
}

// Complete is the terminal frame on the success path. Exactly one per job.
type Complete struct {
	Type          string  `json:"type"`
	ExitCode      int     `json:"exit_code"`
	ExecutionTime float64 `json:"execution_time"` // seconds
}

// Error is the terminal frame for abnormal termination. Mutually exclusive
// with Complete.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewOutput builds an output frame for a chunk of PTY bytes.
func NewOutput(stream string, data []byte) Output {
	return Output{Type: TypeOutput, Stream: stream, Data: string(data)}
}

// NewComplete builds the terminal complete frame.
func NewComplete(exitCode int, executionTime float64) Complete {
	return Complete{Type: TypeComplete, ExitCode: exitCode, ExecutionTime: executionTime}
}

// NewError builds the terminal error frame.
func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// Marshal encodes a frame to its wire form.
func Marshal(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return data, nil
}

// PeekType extracts the type discriminator without decoding the full frame.
func PeekType(data []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("unmarshal frame: %w", err)
	}
	return head.Type, nil
}

// Decode unmarshals a frame into the given type.
func Decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("unmarshal frame: %w", err)
	}
	return v, nil
}

// IsTerminal reports whether a frame type ends the job's message stream.
func IsTerminal(frameType string) bool {
	return frameType == TypeComplete || frameType == TypeError
}
