package core

import (
	"time"

	"resourcewatch/internal/types"
)

// Classify decides what has to happen to a listed resource given its last
// recorded state. A nil state means the resource was never attempted.
func Classify(meta types.ResourceMetadata, state *types.ResourceState, now time.Time) types.ProcessType {
	if state == nil {
		return types.ProcessNew
	}
	if state.IsBanned(now) {
		return types.ProcessBanned
	}
	if meta.Fingerprint != state.Fingerprint || meta.Modified.After(state.Modified) {
		return types.ProcessModified
	}
	return types.ProcessNothingToDo
}

// classifyIgnoringState treats every listed resource as changed but still
// honors an active ban.
func classifyIgnoringState(state *types.ResourceState, now time.Time) types.ProcessType {
	if state != nil && state.IsBanned(now) {
		return types.ProcessBanned
	}
	return types.ProcessModified
}
