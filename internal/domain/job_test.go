package domain

import (
	"errors"
	"testing"

	"github.com/dunamismax/flyimg/internal/input"
	"github.com/dunamismax/flyimg/internal/options"
)

func TestCreateJobRequestValidate(t *testing.T) {
	valid := []CreateJobRequest{
		{SourceType: SourceTypeS3Presigned},
		{SourceType: "Remote_URL", SourceURL: "https://example.com/a.jpg", Options: options.Of("width", 100)},
		{SourceType: SourceTypeBase64, Payload: "aGk=", Mode: ModeUpload},
		{SourceType: SourceTypeDataURI, Payload: "data:image/png;base64,aGk="},
	}
	for _, req := range valid {
		if err := req.Validate(); err != nil {
			t.Fatalf("expected valid request %+v, got error: %v", req, err)
		}
	}

	invalid := map[string]CreateJobRequest{
		"empty":                {},
		"unsupported source":   {SourceType: "local_file"},
		"relative url":         {SourceType: SourceTypeRemoteURL, SourceURL: "images/a.jpg"},
		"missing payload":      {SourceType: SourceTypeBase64},
		"not a data uri":       {SourceType: SourceTypeDataURI, Payload: "aGk="},
		"unknown mode":         {SourceType: SourceTypeS3Presigned, Mode: "batch"},
		"upload of remote url": {SourceType: SourceTypeRemoteURL, SourceURL: "https://example.com/a.jpg", Mode: ModeUpload},
	}
	for name, req := range invalid {
		if err := req.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestJobInput(t *testing.T) {
	in, err := Job{SourceType: SourceTypeRemoteURL, SourceURL: "https://example.com/a.jpg"}.Input()
	if err != nil || in != "https://example.com/a.jpg" {
		t.Fatalf("expected remote url input, got %#v err=%v", in, err)
	}

	in, err = Job{SourceType: SourceTypeBase64, Payload: " aGk= "}.Input()
	if err != nil || in != input.Base64("aGk=") {
		t.Fatalf("expected base64 input, got %#v err=%v", in, err)
	}

	in, err = Job{SourceType: SourceTypeDataURI, Payload: "data:,hi"}.Input()
	if err != nil || in != input.DataURI("data:,hi") {
		t.Fatalf("expected data uri input, got %#v err=%v", in, err)
	}

	if _, err := (Job{SourceType: SourceTypeS3Presigned}).Input(); !errors.Is(err, input.ErrUnsupportedInputKind) {
		t.Fatalf("expected ErrUnsupportedInputKind for object sources, got %v", err)
	}
}

func TestNormalizeMode(t *testing.T) {
	if got := NormalizeMode(""); got != ModeTransform {
		t.Fatalf("expected %s, got %s", ModeTransform, got)
	}
	if got := NormalizeMode(" UPLOAD "); got != ModeUpload {
		t.Fatalf("expected %s, got %s", ModeUpload, got)
	}
}
