// Copyright 2026 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/abcxyz/pkg/renderer"

	"github.com/abcxyz/github-mirror/pkg/ingest"
	"github.com/abcxyz/github-mirror/pkg/store/memory"
)

func newTestServer(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()

	ctx := context.Background()
	h, err := renderer.New(ctx, nil)
	if err != nil {
		t.Fatalf("renderer.New: %v", err)
	}
	db := memory.New()
	srv := NewServer(ctx, h, db, "test-project")
	return srv.Routes(ctx), db
}

func ingestBody(deliveryID string) string {
	return `{
		"deliveryId": "` + deliveryID + `",
		"eventName": "issues",
		"action": "opened",
		"repositoryId": 12345,
		"signatureValid": true,
		"payloadJson": ` + jsonString(`{"action":"opened"}`) + `,
		"receivedAt": 1771410000000
	}`
}

// jsonString base64-wraps payload bytes the way encoding/json expects for
// a []byte field.
func jsonString(raw string) string {
	b, _ := json.Marshal([]byte(raw))
	return string(b)
}

func TestHandleIngest(t *testing.T) {
	t.Parallel()

	mux, db := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(ingestBody("d-1")))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body=%s", w.Code, w.Body.String())
	}
	var res ingest.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to decode body %q: %v", w.Body.String(), err)
	}
	if !res.Stored {
		t.Errorf("stored = false, want true")
	}

	if _, err := db.GetDelivery(context.Background(), "d-1"); err != nil {
		t.Errorf("delivery not persisted: %v", err)
	}

	// Duplicate delivery returns 200 with stored=false.
	req = httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(ingestBody("d-1")))
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if res.Stored {
		t.Errorf("duplicate stored = true, want false")
	}
}

func TestHandleIngest_BadRequests(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		method   string
		body     string
		wantCode int
	}{
		{name: "wrong_method", method: http.MethodGet, body: "", wantCode: http.StatusMethodNotAllowed},
		{name: "malformed_json", method: http.MethodPost, body: "{", wantCode: http.StatusBadRequest},
		{name: "missing_delivery_id", method: http.MethodPost, body: `{"eventName":"issues","payloadJson":"e30="}`, wantCode: http.StatusBadRequest},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mux, _ := newTestServer(t)
			req := httptest.NewRequest(tc.method, "/ingest", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code != tc.wantCode {
				t.Errorf("status = %d, want %d; body=%s", w.Code, tc.wantCode, w.Body.String())
			}
		})
	}
}

func TestHandleQueueAndStatus(t *testing.T) {
	t.Parallel()

	mux, _ := newTestServer(t)

	for _, path := range []string{"/queue", "/status", "/healthz", "/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200; body=%s", path, w.Code, w.Body.String())
		}
	}
}
