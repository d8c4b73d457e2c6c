package mazeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	appErr "labyrinth/pkg/errors"
)

func TestSubmitAndWait(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/submit", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["maze_id"] != "tutorial" || body["code"] == "" {
			t.Errorf("unexpected body %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"submission_id":"sub-1","status":"pending"}}`))
	})
	mux.HandleFunc("GET /v1/submission/sub-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"id":"sub-1","status":"running"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"id":"sub-1","status":"completed","score":42}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "")
	ctx := context.Background()
	receipt, err := c.Submit(ctx, "tutorial", "move('north')")
	if err != nil || receipt.SubmissionID != "sub-1" || receipt.Status != "pending" {
		t.Fatalf("submit = %+v, %v", receipt, err)
	}
	sub, err := c.WaitSubmission(ctx, receipt.SubmissionID, time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !sub.Terminal() || sub.Score == nil || *sub.Score != 42 {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if polls.Load() != 3 {
		t.Fatalf("polled %d times", polls.Load())
	}
}

func TestSubmitRejectedCarriesCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/submit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":13003,"message":"Blocked import: 'os' is not allowed for security reasons"}`))
	})
	mux.HandleFunc("POST /v1/validate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"is_valid":false,"errors":["Blocked import: 'os' is not allowed for security reasons"],"warnings":[]}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Submit(context.Background(), "tutorial", "import os")
	if appErr.GetCode(err) != appErr.CodeValidationFailed {
		t.Fatalf("expected validation failure, got %v", err)
	}
	res, err := c.Validate(context.Background(), "import os")
	if err != nil || res.IsValid || len(res.Errors) != 1 {
		t.Fatalf("validate = %+v, %v", res, err)
	}
}

func TestWaitSubmissionStopsOnCancel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/submission/slow", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"id":"slow","status":"pending"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sub, err := New(srv.URL, "").WaitSubmission(ctx, "slow", 5*time.Millisecond)
	if err == nil || sub.Terminal() {
		t.Fatalf("expected cancellation, got %+v, %v", sub, err)
	}
}
