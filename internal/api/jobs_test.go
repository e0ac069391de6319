package api

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// awaitJobStatus polls GET /v1/jobs/{id} until the reported status matches.
func awaitJobStatus(t *testing.T, baseURL, id, want string) jobStatusResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last jobStatusResponse
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/v1/jobs/" + id)
		if err != nil {
			t.Fatalf("GET /v1/jobs/%s: %v", id, err)
		}
		last = decodeJSON[jobStatusResponse](t, resp)
		resp.Body.Close()
		if last.Status == want {
			return last
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s status = %q, want %q", id, last.Status, want)
	return last
}

func TestGetJobUnknown(t *testing.T) {
	srv, _, _ := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs/01ARZ3NDEKTSV4RRFFQ69G5FAV")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	body := decodeJSON[jobStatusResponse](t, resp)
	if body.Status != "unknown" {
		t.Errorf("status = %q, want %q", body.Status, "unknown")
	}
	if body.Evicted {
		t.Error("never-seen job reported as evicted")
	}
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	srv, q, store := newTestServer(t)
	audio := []byte("synthesized audio")

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/tts/async", `{"engine":"coqui","text":"hello"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("async status = %d, want 202", resp.StatusCode)
	}
	accepted := decodeJSON[acceptedResponse](t, resp)

	// Queued but unclaimed: status is pending and audio is not available.
	pending := awaitJobStatus(t, ts.URL, accepted.ID, "pending")
	if pending.State != "queued" {
		t.Errorf("pending state = %q, want %q", pending.State, "queued")
	}

	audioResp, err := http.Get(ts.URL + "/v1/jobs/" + accepted.ID + "/audio")
	if err != nil {
		t.Fatalf("GET audio: %v", err)
	}
	audioResp.Body.Close()
	if audioResp.StatusCode != http.StatusConflict {
		t.Errorf("audio status while pending = %d, want 409", audioResp.StatusCode)
	}

	startSynthesizer(t, q, store, "coqui", audio)

	ready := awaitJobStatus(t, ts.URL, accepted.ID, "ready")
	if ready.Result == nil {
		t.Fatal("ready status missing result record")
	}
	if ready.Result.Bytes != int64(len(audio)) {
		t.Errorf("result bytes = %d, want %d", ready.Result.Bytes, len(audio))
	}

	audioResp, err = http.Get(ts.URL + "/v1/jobs/" + accepted.ID + "/audio")
	if err != nil {
		t.Fatalf("GET audio: %v", err)
	}
	defer audioResp.Body.Close()
	if audioResp.StatusCode != http.StatusOK {
		t.Fatalf("audio status = %d, want 200", audioResp.StatusCode)
	}
	got, _ := io.ReadAll(audioResp.Body)
	if !bytes.Equal(got, audio) {
		t.Errorf("audio = %q, want %q", got, audio)
	}
}

func TestGetJobAudioFailed(t *testing.T) {
	srv, q, store := newTestServer(t)
	startFailingSynthesizer(t, q, store, "coqui", "boom")

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/tts/async", `{"engine":"coqui","text":"hello"}`)
	accepted := decodeJSON[acceptedResponse](t, resp)

	failed := awaitJobStatus(t, ts.URL, accepted.ID, "failed")
	if failed.Failure == nil || failed.Failure.Kind != "engine" {
		t.Fatalf("failure = %+v, want engine kind", failed.Failure)
	}

	audioResp, err := http.Get(ts.URL + "/v1/jobs/" + accepted.ID + "/audio")
	if err != nil {
		t.Fatalf("GET audio: %v", err)
	}
	defer audioResp.Body.Close()
	if audioResp.StatusCode != http.StatusConflict {
		t.Errorf("audio status = %d, want 409", audioResp.StatusCode)
	}
}

func TestListJobs(t *testing.T) {
	srv, _, _ := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, text := range []string{"first", "second", "third"} {
		resp := postJSON(t, ts.URL+"/v1/tts/async", `{"engine":"coqui","text":"`+text+`"}`)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("async status = %d, want 202", resp.StatusCode)
		}
	}

	resp, err := http.Get(ts.URL + "/v1/jobs?limit=2")
	if err != nil {
		t.Fatalf("GET /v1/jobs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeJSON[listJobsResponse](t, resp)
	if body.Total != 3 {
		t.Errorf("total = %d, want 3", body.Total)
	}
	if len(body.Jobs) != 2 {
		t.Errorf("len(jobs) = %d, want 2", len(body.Jobs))
	}
}

func TestGetStats(t *testing.T) {
	srv, q, store := newTestServer(t)
	startSynthesizer(t, q, store, "coqui", []byte("audio"))

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/tts", `{"engine":"coqui","text":"hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d, want 200", resp.StatusCode)
	}

	statsResp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	defer statsResp.Body.Close()

	if statsResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", statsResp.StatusCode)
	}
	stats := decodeJSON[statsResponse](t, statsResp)
	if stats.Total != 1 {
		t.Errorf("total = %d, want 1", stats.Total)
	}
	if stats.ByEngine["coqui"] != 1 {
		t.Errorf("by_engine[coqui] = %d, want 1", stats.ByEngine["coqui"])
	}
	if stats.ByStatus["completed"] != 1 {
		t.Errorf("by_status[completed] = %d, want 1", stats.ByStatus["completed"])
	}
}
