// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/wakilimsomi/wakili-tui/internal/api"
)

// maxEventBatch bounds how many stream events one Update cycle absorbs.
// Batching keeps redraw frequency sane when the backend emits very
// small deltas; arrival order within and across batches is preserved.
const maxEventBatch = 32

// readEventsCmd blocks for the next stream event, then drains whatever
// else is already buffered, up to maxEventBatch. A batch stops early at
// a terminal event so nothing is consumed past it.
func readEventsCmd(events <-chan api.StreamEvent) tea.Cmd {
	return func() tea.Msg {
		first, ok := <-events
		if !ok {
			return streamEventsMsg{closed: true}
		}

		batch := []api.StreamEvent{first}
		if first.Done || first.Err != nil {
			return streamEventsMsg{events: batch}
		}

		for len(batch) < maxEventBatch {
			select {
			case ev, ok := <-events:
				if !ok {
					return streamEventsMsg{events: batch, closed: true}
				}
				batch = append(batch, ev)
				if ev.Done || ev.Err != nil {
					return streamEventsMsg{events: batch}
				}
			default:
				return streamEventsMsg{events: batch}
			}
		}
		return streamEventsMsg{events: batch}
	}
}
