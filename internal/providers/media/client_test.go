package media

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, apiKey string, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Options{
		APIKey:  apiKey,
		BaseURL: server.URL,
		Model:   "forge-video-1",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestSubmitImageReturnsURL(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, "key-1", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/images:generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req imageGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Prompt != "a red bicycle" {
			t.Errorf("prompt = %q", req.Prompt)
		}
		json.NewEncoder(w).Encode(imageGenerateResponse{ImageURL: "https://x/img.png"})
	}))

	url, err := client.SubmitImage(context.Background(), ImageRequest{Prompt: "a red bicycle", RequestID: "r1"})
	if err != nil {
		t.Fatalf("SubmitImage: %v", err)
	}
	if url != "https://x/img.png" {
		t.Fatalf("url = %q", url)
	}
	if gotAuth != "Bearer key-1" {
		t.Fatalf("authorization = %q", gotAuth)
	}
}

func TestSubmitVideoReturnsHandle(t *testing.T) {
	client := newTestClient(t, "key-1", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos:generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(videoGenerateResponse{JobID: "vj-42"})
	}))

	handle, err := client.SubmitVideo(context.Background(), VideoRequest{ImageURL: "https://x/img.png", Prompt: "animate"})
	if err != nil {
		t.Fatalf("SubmitVideo: %v", err)
	}
	if handle != "vj-42" {
		t.Fatalf("handle = %q", handle)
	}
}

func TestPollVideoStatuses(t *testing.T) {
	cases := []struct {
		name     string
		response videoStatusResponse
		want     PollStatus
		wantURL  string
	}{
		{"succeeded", videoStatusResponse{Status: "succeeded", OutputURL: "https://x/vid.mp4"}, PollSucceeded, "https://x/vid.mp4"},
		{"failed", videoStatusResponse{Status: "failed", Detail: "unsafe content"}, PollFailed, ""},
		{"processing", videoStatusResponse{Status: "processing"}, PollProcessing, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, "key-1", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !strings.HasPrefix(r.URL.Path, "/videos/") {
					t.Errorf("path = %q", r.URL.Path)
				}
				json.NewEncoder(w).Encode(tc.response)
			}))

			result, err := client.PollVideo(context.Background(), "vj-42")
			if err != nil {
				t.Fatalf("PollVideo: %v", err)
			}
			if result.Status != tc.want {
				t.Fatalf("status = %q, want %q", result.Status, tc.want)
			}
			if result.OutputURL != tc.wantURL {
				t.Fatalf("output url = %q, want %q", result.OutputURL, tc.wantURL)
			}
		})
	}
}

func TestPollVideoSucceededWithoutURLFails(t *testing.T) {
	client := newTestClient(t, "key-1", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(videoStatusResponse{Status: "succeeded"})
	}))
	if _, err := client.PollVideo(context.Background(), "vj-42"); err == nil {
		t.Fatal("expected error for succeeded status without output url")
	}
}

func TestInvokeSurfacesAPIError(t *testing.T) {
	client := newTestClient(t, "key-1", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 429, "message": "rate limited"}})
	}))
	_, err := client.SubmitImage(context.Background(), ImageRequest{Prompt: "p"})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}

func TestSyntheticFallbackIsDeterministic(t *testing.T) {
	client := newTestClient(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no HTTP call expected without api key")
	}))

	req := ImageRequest{Prompt: "a red bicycle", RequestID: "r1"}
	first, err := client.SubmitImage(context.Background(), req)
	if err != nil {
		t.Fatalf("SubmitImage: %v", err)
	}
	second, _ := client.SubmitImage(context.Background(), req)
	if first != second {
		t.Fatalf("synthetic urls differ: %q vs %q", first, second)
	}

	handle, err := client.SubmitVideo(context.Background(), VideoRequest{ImageURL: first, Prompt: "animate", RequestID: "r1"})
	if err != nil {
		t.Fatalf("SubmitVideo: %v", err)
	}
	if !strings.HasPrefix(handle, syntheticHandlePrefix) {
		t.Fatalf("handle = %q", handle)
	}
	result, err := client.PollVideo(context.Background(), handle)
	if err != nil {
		t.Fatalf("PollVideo: %v", err)
	}
	if result.Status != PollSucceeded || result.OutputURL == "" {
		t.Fatalf("synthetic poll = %+v", result)
	}
}
