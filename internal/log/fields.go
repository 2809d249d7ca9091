// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldTitleID   = "title_id"
	FieldEpisodeID = "episode_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldProvider  = "provider"
	FieldAttempt   = "attempt"
	FieldEpoch     = "epoch"

	// Media / stream fields
	FieldCodec        = "codec"
	FieldQualityRank  = "quality_rank"
	FieldDeliveryMode = "delivery_mode"
	FieldEpisodeIndex = "episode_index"
	FieldSubtitleLang = "subtitle_lang"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldURL     = "url"
	FieldBaseURL = "base_url"
)
