package protocol

import (
	"encoding/json"
	"testing"
)

func TestPeekType(t *testing.T) {
	data := []byte(`{"type":"execute","code":"print(1)"}`)
	frameType, err := PeekType(data)
	if err != nil {
		t.Fatalf("PeekType failed: %v", err)
	}
	if frameType != TypeExecute {
		t.Errorf("expected execute, got %s", frameType)
	}

	if _, err := PeekType([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestDecodeExecute(t *testing.T) {
	data := []byte(`{"type":"execute","jobId":"j1","jobToken":"tok","code":"print(1)","language":"python"}`)
	frame, err := Decode[Execute](data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if frame.JobID != "j1" || frame.JobToken != "tok" {
		t.Errorf("unexpected identity fields: %+v", frame)
	}
	if frame.Language != LangPython {
		t.Errorf("expected python, got %s", frame.Language)
	}
}

func TestCompleteWireFormat(t *testing.T) {
	data, err := Marshal(NewComplete(0, 1.25))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["type"] != TypeComplete {
		t.Errorf("expected complete, got %v", raw["type"])
	}
	if _, ok := raw["exit_code"]; !ok {
		t.Error("expected exit_code key")
	}
	if _, ok := raw["execution_time"]; !ok {
		t.Error("expected execution_time key")
	}
}

func TestLanguageValid(t *testing.T) {
	for _, l := range Languages {
		if !l.Valid() {
			t.Errorf("%s should be valid", l)
		}
	}
	if Language("go").Valid() {
		t.Error("go should not be valid")
	}
	if Language("").Valid() {
		t.Error("empty language should not be valid")
	}
}

func TestDefaultFilename(t *testing.T) {
	tests := []struct {
		language Language
		want     string
	}{
		{LangPython, "main.py"},
		{LangJavaScript, "main.js"},
		{LangC, "main.c"},
		{LangCPP, "main.cpp"},
		{LangRust, "main.rs"},
	}
	for _, tt := range tests {
		if got := tt.language.DefaultFilename(); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.language, tt.want, got)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(TypeComplete) || !IsTerminal(TypeError) {
		t.Error("complete and error are terminal")
	}
	if IsTerminal(TypeOutput) || IsTerminal(TypeInput) {
		t.Error("output and input are not terminal")
	}
}
