package observe

import (
	"errors"
	"testing"
)

func TestCallMeta_Identity(t *testing.T) {
	tests := []struct {
		meta     CallMeta
		wantID   string
		wantSpan string
	}{
		{
			meta:     CallMeta{Provider: "gemini", Operation: "analyze_image"},
			wantID:   "gemini.analyze_image",
			wantSpan: "vision.call.gemini.analyze_image",
		},
		{
			meta:     CallMeta{Provider: "gemini", Operation: "compare_images"},
			wantID:   "gemini.compare_images",
			wantSpan: "vision.call.gemini.compare_images",
		},
		{
			// The model never contributes to the identity.
			meta:     CallMeta{Provider: "gemini", Operation: "health_check", Model: "gemini-2.0-flash"},
			wantID:   "gemini.health_check",
			wantSpan: "vision.call.gemini.health_check",
		},
	}

	for _, tc := range tests {
		if got := tc.meta.CallID(); got != tc.wantID {
			t.Errorf("CallID() = %q, want %q", got, tc.wantID)
		}
		if got := tc.meta.SpanName(); got != tc.wantSpan {
			t.Errorf("SpanName() = %q, want %q", got, tc.wantSpan)
		}
	}
}

func TestCallMeta_Validate(t *testing.T) {
	valid := CallMeta{Provider: "gemini", Operation: "analyze_image"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	noProvider := CallMeta{Operation: "analyze_image"}
	if err := noProvider.Validate(); !errors.Is(err, ErrMissingProvider) {
		t.Errorf("Validate() = %v, want ErrMissingProvider", err)
	}

	noOperation := CallMeta{Provider: "gemini"}
	if err := noOperation.Validate(); !errors.Is(err, ErrMissingOperation) {
		t.Errorf("Validate() = %v, want ErrMissingOperation", err)
	}
}

func TestCallMeta_Attrs(t *testing.T) {
	bare := CallMeta{Provider: "gemini", Operation: "upload_file"}
	if got := len(bare.attrs()); got != 2 {
		t.Errorf("attrs() without model has %d entries, want 2", got)
	}

	withModel := CallMeta{Provider: "gemini", Operation: "analyze_image", Model: "gemini-2.0-flash"}
	attrs := withModel.attrs()
	if len(attrs) != 3 {
		t.Fatalf("attrs() with model has %d entries, want 3", len(attrs))
	}
	if string(attrs[2].Key) != "vision.model" || attrs[2].Value.AsString() != "gemini-2.0-flash" {
		t.Errorf("attrs()[2] = %v=%v, want vision.model=gemini-2.0-flash", attrs[2].Key, attrs[2].Value.AsString())
	}
}
