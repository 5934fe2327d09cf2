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

// Package ingest is the ingestion boundary: it durably records verified
// webhook deliveries in the queue, idempotent on delivery ID.
package ingest

import (
	"context"
	"fmt"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/github-mirror/pkg/events"
	"github.com/abcxyz/github-mirror/pkg/store"
)

// Result reports whether the delivery was newly stored.
type Result struct {
	Stored bool `json:"stored"`
}

// StoreRawDelivery inserts the delivery in state pending. A duplicate
// delivery ID makes no writes and reports Stored=false; concurrent ingests
// of the same delivery observe exactly one winner via the unique index.
func StoreRawDelivery(ctx context.Context, db store.DeliveryStore, env *events.Envelope) (*Result, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid delivery: %w", err)
	}

	inserted, err := db.InsertDelivery(ctx, env.ToRawDelivery())
	if err != nil {
		return nil, fmt.Errorf("failed to insert delivery: %w", err)
	}
	if !inserted {
		logging.FromContext(ctx).DebugContext(ctx, "duplicate delivery ignored",
			"delivery_id", env.DeliveryID,
			"event", env.EventName)
	}
	return &Result{Stored: inserted}, nil
}
