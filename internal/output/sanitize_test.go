package output

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"
)

// TestSanitizeSpecialFloats NaN уходит в null, бесконечности - в максимальный
// float: JSON не умеет ни того, ни другого
func TestSanitizeSpecialFloats(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want any
	}{
		{"nan", math.NaN(), nil},
		{"plus inf", math.Inf(1), math.MaxFloat64},
		{"minus inf", math.Inf(-1), -math.MaxFloat64},
		{"normal", 0.5, 0.5},
	}

	for _, tt := range tests {
		got := Sanitize(tt.in)
		if tt.want == nil {
			if got != nil {
				t.Errorf("%s: Sanitize = %v, want nil", tt.name, got)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("%s: Sanitize = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// TestSanitizeNested специальные значения вычищаются из вложенных структур,
// map и срезов
func TestSanitizeNested(t *testing.T) {
	in := map[string]any{
		"scores": []float64{0.5, math.NaN(), math.Inf(1)},
		"inner":  map[string]any{"v": math.NaN()},
	}

	out := Sanitize(in).(map[string]any)

	scores := out["scores"].([]any)
	if scores[0] != 0.5 || scores[1] != nil || scores[2] != math.MaxFloat64 {
		t.Errorf("scores sanitized wrong: %v", scores)
	}
	inner := out["inner"].(map[string]any)
	if inner["v"] != nil {
		t.Errorf("nested NaN survived: %v", inner["v"])
	}
}

// TestSanitizeStructTags структура разворачивается по json-тегам
// с учётом omitempty
func TestSanitizeStructTags(t *testing.T) {
	rec := SpeakerSegment{Type: "speaker_segment", Speaker: "SPEAKER_0", Start: 1, End: 2, Confidence: math.NaN()}

	out := Sanitize(rec).(map[string]any)
	if out["type"] != "speaker_segment" || out["speaker"] != "SPEAKER_0" {
		t.Errorf("tags not honored: %v", out)
	}
	if out["confidence"] != nil {
		t.Errorf("NaN confidence = %v, want nil", out["confidence"])
	}

	// omitempty: пустые опциональные поля сегмента не сериализуются
	seg := Segment{Type: "segment", Text: "hi", Start: 0, End: 1}
	segOut := Sanitize(seg).(map[string]any)
	if _, present := segOut["speaker"]; present {
		t.Error("empty speaker must be omitted")
	}
	if _, present := segOut["words"]; present {
		t.Error("nil words must be omitted")
	}
}

// TestWriterRecoversFromNaN запись с NaN не роняет поток: после прогона
// через санитайзер выходит валидный JSON с null
func TestWriterRecoversFromNaN(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	w.Emit(SpeakerSegment{Type: "speaker_segment", Speaker: "SPEAKER_0", Start: 0, End: 2, Confidence: math.NaN()})

	line := strings.TrimSpace(buf.String())
	var parsed map[string]any
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v (%s)", err, line)
	}
	if parsed["type"] != "speaker_segment" {
		t.Errorf("type = %v, want speaker_segment", parsed["type"])
	}
	if v, present := parsed["confidence"]; !present || v != nil {
		t.Errorf("confidence = %v, want explicit null", v)
	}
	if strings.Contains(line, "NaN") || strings.Contains(line, "Inf") {
		t.Errorf("special float leaked into output: %s", line)
	}
}

// TestWriterPlainRecord обычная запись сериализуется напрямую, одной строкой
func TestWriterPlainRecord(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	w.Emit(Status{Type: "status", Message: "hello"})
	w.Emit(Complete{Type: "complete", TotalSeconds: 10})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	for _, line := range lines {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			t.Errorf("invalid JSON line: %s", line)
		}
	}
}
