package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// slotMappingInput marks the synthetic turn rows that carry a published
// candidate list mapping.
const slotMappingInput = "[slot_mapping]"

type slotMappingMeta struct {
	AvailableSlots []slotEntry `json:"available_slots"`
}

type slotEntry struct {
	Index     int       `json:"index"`
	SegmentID uuid.UUID `json:"segment_id"`
}

// PublishSlots appends a new slot index generation for the session. Earlier
// generations are not deleted; resolution always prefers the newest one.
func (l *TurnLog) PublishSlots(ctx context.Context, sessionID uuid.UUID, mapping map[int]uuid.UUID, patientID, doctorID *uuid.UUID, inputMode string) error {
	if len(mapping) == 0 {
		return nil
	}
	ctx, span := l.tracer.Start(ctx, "session.publish_slots")
	defer span.End()

	// The active task rides on the latest record. Carry it onto the mapping
	// row so publishing a candidate list does not drop the task pointer.
	task, err := l.Task(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	entries := make([]slotEntry, 0, len(mapping))
	for idx, segID := range mapping {
		entries = append(entries, slotEntry{Index: idx, SegmentID: segID})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })

	slots := make([]any, 0, len(entries))
	for _, e := range entries {
		slots = append(slots, map[string]any{"index": e.Index, "segment_id": e.SegmentID.String()})
	}

	return l.Append(ctx, TurnRecord{
		SessionID: sessionID,
		PatientID: patientID,
		DoctorID:  doctorID,
		Role:      "assistant",
		Input:     slotMappingInput,
		Response:  slotMappingInput,
		InputMode: inputMode,
		TaskID:    task,
		Meta:      map[string]any{"available_slots": slots},
	})
}

// SlotMapping returns the newest published index mapping within the lookback
// window, or an empty map when none exists.
func (l *TurnLog) SlotMapping(ctx context.Context, sessionID uuid.UUID) (map[int]uuid.UUID, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT meta FROM conversations
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, sessionID, l.lookback)
	if err != nil {
		return nil, fmt.Errorf("session: read slot mappings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("session: scan slot mapping row: %w", err)
		}
		if len(raw) == 0 {
			continue
		}
		var meta slotMappingMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			l.logger.Warn("skipping undecodable turn meta", "session_id", sessionID, "error", err)
			continue
		}
		if len(meta.AvailableSlots) == 0 {
			continue
		}
		mapping := make(map[int]uuid.UUID, len(meta.AvailableSlots))
		for _, slot := range meta.AvailableSlots {
			if slot.Index > 0 && slot.SegmentID != uuid.Nil {
				mapping[slot.Index] = slot.SegmentID
			}
		}
		if len(mapping) > 0 {
			return mapping, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: iterate slot mappings: %w", err)
	}
	return map[int]uuid.UUID{}, nil
}

// ResolveSlot maps a displayed index back to a segment id using the newest
// generation only. A stale or absent index yields ErrSlotMappingNotFound,
// never a wrong segment.
func (l *TurnLog) ResolveSlot(ctx context.Context, sessionID uuid.UUID, index int) (uuid.UUID, error) {
	mapping, err := l.SlotMapping(ctx, sessionID)
	if err != nil {
		return uuid.Nil, err
	}
	segID, ok := mapping[index]
	if !ok {
		return uuid.Nil, ErrSlotMappingNotFound
	}
	return segID, nil
}
