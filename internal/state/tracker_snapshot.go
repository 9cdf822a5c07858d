package state

import (
	"context"
	"encoding/base64"
	"strings"

	"deriv-fusion-bot/internal/strategy"

	"github.com/vmihailenco/msgpack/v5"
)

const trackerKeyPrefix = "tracker:"

func trackerKey(instrument string) string {
	return trackerKeyPrefix + instrument
}

// KV is the slice of Store the snapshot helpers need.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// LoadTrackerState restores the persisted direction-tracker state for one
// instrument. A missing key is not an error; the tracker starts cold.
func LoadTrackerState(ctx context.Context, store KV, instrument string) (strategy.TrackerState, bool, error) {
	if store == nil {
		return strategy.TrackerState{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, trackerKey(instrument))
	if err != nil {
		return strategy.TrackerState{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return strategy.TrackerState{}, false, nil
	}
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return strategy.TrackerState{}, false, err
	}
	var snapshot strategy.TrackerState
	if err := msgpack.Unmarshal(payload, &snapshot); err != nil {
		return strategy.TrackerState{}, false, err
	}
	return snapshot, true, nil
}

// SaveTrackerState persists the direction-tracker state for one instrument.
func SaveTrackerState(ctx context.Context, store KV, instrument string, snapshot strategy.TrackerState) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := msgpack.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, trackerKey(instrument), base64.StdEncoding.EncodeToString(payload))
}
