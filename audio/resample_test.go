package audio

import (
	"math"
	"testing"
)

// TestResamplerIdentity совпадающие частоты возвращают вход без изменений
func TestResamplerIdentity(t *testing.T) {
	r := NewResampler(16000, 16000)
	in := []float32{0.1, 0.2, 0.3}
	out := r.Process(in)
	if len(out) != 3 || out[0] != 0.1 {
		t.Errorf("identity resample changed data: %v", out)
	}
	if r.Method() != "none" {
		t.Errorf("method = %s, want none", r.Method())
	}
}

// TestResamplerRatio48to16 децимация 3:1 даёт треть сэмплов
func TestResamplerRatio48to16(t *testing.T) {
	r := NewResampler(48000, 16000)
	if r.Method() != "polyphase" {
		t.Fatalf("method = %s, want polyphase", r.Method())
	}

	out := r.Process(make([]float32, 48000))
	if len(out) < 16000-16 || len(out) > 16000+16 {
		t.Errorf("output length = %d, want ~16000", len(out))
	}
}

// TestResamplerDCLevel постоянный уровень сохраняется после фильтра
// (единичное усиление в полосе пропускания)
func TestResamplerDCLevel(t *testing.T) {
	r := NewResampler(48000, 16000)

	in := make([]float32, 48000)
	for i := range in {
		in[i] = 0.5
	}
	out := r.Process(in)

	// Пропускаем переходный процесс фильтра
	for i := 50; i < len(out); i++ {
		if math.Abs(float64(out[i]-0.5)) > 0.01 {
			t.Fatalf("DC level at %d = %f, want ~0.5", i, out[i])
		}
	}
}

// TestResamplerSineEnergy энергия синуса в полосе пропускания сохраняется
func TestResamplerSineEnergy(t *testing.T) {
	r := NewResampler(44100, 16000)
	if r.Method() != "polyphase" {
		t.Fatalf("method = %s, want polyphase", r.Method())
	}

	in := make([]float32, 44100)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 44100))
	}
	out := r.Process(in)

	wantLen := 16000
	if len(out) < wantLen-200 || len(out) > wantLen+200 {
		t.Fatalf("output length = %d, want ~%d", len(out), wantLen)
	}

	rms := CalculateRMS(out[100:])
	wantRMS := 1.0 / math.Sqrt2
	if math.Abs(rms-wantRMS) > 0.05 {
		t.Errorf("sine RMS after resample = %.3f, want ~%.3f", rms, wantRMS)
	}
}

// TestResamplerStreamingEquivalence поблочная подача эквивалентна подаче
// целиком (состояние фильтра переносится между блоками)
func TestResamplerStreamingEquivalence(t *testing.T) {
	in := make([]float32, 9600)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * 200 * float64(i) / 48000))
	}

	whole := NewResampler(48000, 16000).Process(in)

	chunked := NewResampler(48000, 16000)
	var out []float32
	for off := 0; off < len(in); off += 1024 {
		end := off + 1024
		if end > len(in) {
			end = len(in)
		}
		out = append(out, chunked.Process(in[off:end])...)
	}

	if len(out) != len(whole) {
		t.Fatalf("chunked length = %d, whole = %d", len(out), len(whole))
	}
	for i := range out {
		if math.Abs(float64(out[i]-whole[i])) > 1e-6 {
			t.Fatalf("sample %d differs: chunked %f vs whole %f", i, out[i], whole[i])
		}
	}
}

// TestResamplerLinearFallback несоизмеримые частоты откатываются на
// линейную интерполяцию
func TestResamplerLinearFallback(t *testing.T) {
	r := NewResampler(44101, 16000) // gcd = 1, полифаза неподъёмна
	if r.Method() != "linear" {
		t.Fatalf("method = %s, want linear", r.Method())
	}

	out := r.Process(make([]float32, 44101))
	if len(out) < 15900 || len(out) > 16100 {
		t.Errorf("linear output length = %d, want ~16000", len(out))
	}
}
