package audit

import (
	"log/slog"

	"mintforge/events"
)

// Recorder adapts the audit store to the authority's event feed. Writes are
// best effort from the emitter's point of view: the signature has already
// been issued by the time an event fires, so a failed audit insert is logged
// and counted rather than unwinding the authorization.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder wires a recorder around the store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Emit implements the events.Emitter interface.
func (r *Recorder) Emit(event events.Event) {
	if r == nil || r.store == nil {
		return
	}
	var err error
	switch evt := event.(type) {
	case events.GoldClaimSigned:
		amount := "0"
		if evt.Amount != nil {
			amount = evt.Amount.String()
		}
		err = r.store.RecordClaim(evt.Player, amount, evt.Nonce)
	case events.ItemMintSigned:
		itemID, amount := "0", "0"
		if evt.ItemID != nil {
			itemID = evt.ItemID.String()
		}
		if evt.Amount != nil {
			amount = evt.Amount.String()
		}
		err = r.store.RecordMint(evt.Player, itemID, amount, evt.InstanceID)
	case events.NonceReset:
		err = r.store.RecordAdmin(ActionNonceReset, evt.Player, "", evt.Reason, evt.Previous)
	case events.InstanceCleared:
		err = r.store.RecordAdmin(ActionInstanceClear, "", evt.InstanceID, evt.Reason, 0)
	default:
		return
	}
	if err != nil {
		r.logger.Error("audit write failed", "eventType", event.EventType(), "error", err)
	}
}
