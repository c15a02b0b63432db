package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hirely/hirely-api/internal/ai"
	"github.com/hirely/hirely-api/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(Config{
		Provider:   "groq",
		APIKey:     "test-key",
		BaseURL:    ts.URL + "/v1/",
		Model:      "llama-3.3-70b-versatile",
		HTTPClient: ts.Client(),
	}), ts
}

func TestClient_Score(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "llama-3.3-70b-versatile" {
			t.Errorf("model = %v", req["model"])
		}
		if rf, _ := req["response_format"].(map[string]any); rf["type"] != "json_object" {
			t.Errorf("response_format = %v", req["response_format"])
		}
		if _, ok := req["max_tokens"]; !ok {
			t.Error("max_tokens should be set for non-reasoning models")
		}

		content := `{"summary":"ok","feedback_items":[{"category":"clarity","score":0.9,"feedback":"clear"}]}`
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
		})
	})

	scores, err := client.Score(context.Background(), ai.ScoreRequest{
		Transcript:    "hello",
		InterviewType: model.InterviewTypeMixed,
		AnalysisType:  model.AnalysisTypeFull,
	})
	if err != nil {
		t.Fatalf("Score error: %v", err)
	}
	if scores.Summary != "ok" || len(scores.Items) != 1 || scores.Items[0].Score != 0.9 {
		t.Errorf("scores = %+v", scores)
	}
}

func TestClient_Score_ProviderError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid API Key","type":"invalid_request_error"}}`))
	})

	_, err := client.Score(context.Background(), ai.ScoreRequest{Transcript: "hello"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "groq") || !strings.Contains(err.Error(), "Invalid API Key") {
		t.Errorf("error = %q, want provider name and message", err.Error())
	}
}

func TestClient_Embed_OrdersByIndex(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 2 || strings.Contains(req.Input[0], "\n") {
			t.Errorf("input = %q", req.Input)
		}
		if req.Model != "text-embedding-3-small" {
			t.Errorf("model = %q", req.Model)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float32{0, 1}},
				{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
			},
		})
	})

	vectors, err := client.Embed(context.Background(), []string{"line one\nline two", "job"})
	if err != nil {
		t.Fatalf("Embed error: %v", err)
	}
	if len(vectors) != 2 || vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Errorf("vectors = %v", vectors)
	}
}

func TestClient_Embed_Empty(t *testing.T) {
	client := NewClient(Config{APIKey: "k"})
	vectors, err := client.Embed(context.Background(), nil)
	if err != nil || vectors != nil {
		t.Errorf("Embed(nil) = %v, %v", vectors, err)
	}
}

func TestClient_Transcribe(t *testing.T) {
	client, ts := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/media/rec.mp3":
			w.Write([]byte("fake-audio"))
		case "/v1/audio/transcriptions":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("ParseMultipartForm: %v", err)
				return
			}
			if got := r.FormValue("response_format"); got != "verbose_json" {
				t.Errorf("response_format = %q", got)
			}
			file, header, err := r.FormFile("file")
			if err != nil {
				t.Errorf("FormFile: %v", err)
				return
			}
			body, _ := io.ReadAll(file)
			if string(body) != "fake-audio" {
				t.Errorf("uploaded body = %q", body)
			}
			if header.Filename != "recording.mp3" {
				t.Errorf("filename = %q", header.Filename)
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"text":     " hello world ",
				"duration": 1.5,
				"words": []map[string]any{
					{"word": "hello", "start": 0.0, "end": 0.5},
					{"word": "world", "start": 0.6, "end": 1.1},
				},
			})
		default:
			http.NotFound(w, r)
		}
	})

	transcript, err := client.Transcribe(context.Background(), ts.URL+"/media/rec.mp3?X-Amz-Signature=abc")
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if transcript.Text != "hello world" || transcript.Duration != 1.5 {
		t.Errorf("transcript = %+v", transcript)
	}
	if len(transcript.Words) != 2 || transcript.Words[1].Start != 0.6 {
		t.Errorf("words = %+v", transcript.Words)
	}
}

func TestClient_Transcribe_DownloadFailure(t *testing.T) {
	client, ts := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	if _, err := client.Transcribe(context.Background(), ts.URL+"/media/rec.webm"); err == nil {
		t.Fatal("expected error")
	}
}

func TestIsReasoningModel(t *testing.T) {
	for model, want := range map[string]bool{
		"o3-mini": true, "o1": true, "gpt-5-mini": true, "gpt-4o-mini": false, "llama-3.3-70b-versatile": false,
	} {
		if got := isReasoningModel(model); got != want {
			t.Errorf("isReasoningModel(%q) = %v, want %v", model, got, want)
		}
	}
}

func TestRecordingFileName(t *testing.T) {
	tests := map[string]string{
		"https://s3/bucket/recordings/u/i/abc.MP4?X-Amz-Signature=x": "recording.mp4",
		"https://s3/bucket/abc":                                      "recording.webm",
		"https://s3/bucket/abc.wav#frag":                             "recording.wav",
	}
	for in, want := range tests {
		if got := recordingFileName(in); got != want {
			t.Errorf("recordingFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
