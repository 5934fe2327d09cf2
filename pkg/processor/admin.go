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

package processor

import (
	"context"
	"fmt"

	"github.com/abcxyz/github-mirror/pkg/store"
)

// Operator tools for the delivery queue.

// ReplayDelivery resets a row to pending, clearing its error and retry
// schedule. The next queue drain reprocesses it; handler idempotency makes
// that safe.
func (p *Processor) ReplayDelivery(ctx context.Context, deliveryID string) error {
	if err := p.db.ResetDelivery(ctx, deliveryID); err != nil {
		return fmt.Errorf("failed to replay delivery %q: %w", deliveryID, err)
	}
	return nil
}

// RetryAllFailed resets up to limit failed rows to pending and reports how
// many were reset.
func (p *Processor) RetryAllFailed(ctx context.Context, limit int) (int, error) {
	failed, err := p.db.ListFailedDeliveries(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list failed deliveries: %w", err)
	}
	var reset int
	for _, d := range failed {
		if err := p.db.ResetDelivery(ctx, d.DeliveryID); err != nil {
			return reset, fmt.Errorf("failed to reset delivery %q: %w", d.DeliveryID, err)
		}
		reset++
	}
	return reset, nil
}

// MoveToDeadLetter promotes a raw row into the dead-letter table with the
// given reason and removes it from the live queue.
func (p *Processor) MoveToDeadLetter(ctx context.Context, deliveryID, reason string) error {
	d, err := p.db.GetDelivery(ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("failed to read delivery %q: %w", deliveryID, err)
	}

	err = p.db.WithTx(ctx, func(tx store.Store) error {
		if err := tx.InsertDeadLetter(ctx, &store.DeadLetter{
			DeliveryID:   d.DeliveryID,
			EventName:    d.EventName,
			Action:       d.Action,
			RepositoryID: d.RepositoryID,
			Payload:      d.Payload,
			Reason:       reason,
			CreatedAt:    p.now(),
		}); err != nil {
			return err
		}
		return tx.DeleteDelivery(ctx, d.DeliveryID)
	})
	if err != nil {
		return fmt.Errorf("failed to dead-letter delivery %q: %w", deliveryID, err)
	}
	return nil
}
