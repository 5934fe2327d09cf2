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

// Package events defines the webhook delivery envelope exchanged with the
// HTTP boundary and the payload parsing into typed event variants.
package events

import (
	"fmt"
	"time"

	"github.com/google/go-github/v56/github"

	"github.com/abcxyz/github-mirror/pkg/store"
)

// Envelope is the wire shape of one verified webhook delivery as handed to
// the ingestion entrypoint. The payload is opaque JSON bytes; signature
// verification happened upstream.
type Envelope struct {
	DeliveryID     string `json:"deliveryId"`
	EventName      string `json:"eventName"`
	Action         string `json:"action,omitempty"`
	InstallationID *int64 `json:"installationId,omitempty"`
	RepositoryID   *int64 `json:"repositoryId,omitempty"`
	SignatureValid bool   `json:"signatureValid"`
	PayloadJSON    []byte `json:"payloadJson"`
	ReceivedAt     int64  `json:"receivedAt"`
}

// Validate checks the minimum fields the queue needs.
func (e *Envelope) Validate() error {
	if e.DeliveryID == "" {
		return fmt.Errorf("deliveryId is required")
	}
	if e.EventName == "" {
		return fmt.Errorf("eventName is required")
	}
	if len(e.PayloadJSON) == 0 {
		return fmt.Errorf("payloadJson is required")
	}
	return nil
}

// ToRawDelivery converts the envelope into the queue row shape.
func (e *Envelope) ToRawDelivery() *store.RawDelivery {
	received := time.UnixMilli(e.ReceivedAt).UTC()
	if e.ReceivedAt == 0 {
		received = time.Now().UTC()
	}
	return &store.RawDelivery{
		DeliveryID:     e.DeliveryID,
		EventName:      e.EventName,
		Action:         e.Action,
		InstallationID: e.InstallationID,
		RepositoryID:   e.RepositoryID,
		SignatureValid: e.SignatureValid,
		Payload:        e.PayloadJSON,
		ReceivedAt:     received,
		ProcessState:   store.ProcessStatePending,
	}
}

// handledEvents is the closed set of event names the processor interprets.
// Anything else parses to the no-op arm.
var handledEvents = map[string]struct{}{
	"issues":              {},
	"pull_request":        {},
	"issue_comment":       {},
	"pull_request_review": {},
	"push":                {},
	"check_run":           {},
	"create":              {},
	"delete":              {},
}

// Handled reports whether the event name is one the processor interprets.
func Handled(eventName string) bool {
	_, ok := handledEvents[eventName]
	return ok
}

// Parse decodes a payload into its typed variant (a go-github event
// struct). Unknown event names and malformed payloads return an error; the
// dispatcher converts both into the no-op arm so the delivery still
// reaches its processed state.
func Parse(eventName string, payload []byte) (any, error) {
	if !Handled(eventName) {
		return nil, fmt.Errorf("unhandled event name %q", eventName)
	}
	evt, err := github.ParseWebHook(eventName, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q payload: %w", eventName, err)
	}
	return evt, nil
}
