package eventstore

import (
	"encoding/gob"

	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
)

// gob needs every concrete EventData implementation registered before it
// can encode/decode the interface-typed envelope.Data field.
func init() {
	gob.Register(eventbus.E3Requested{})
	gob.Register(eventbus.CommitteeRequested{})
	gob.Register(eventbus.CiphernodeSelected{})
	gob.Register(eventbus.CiphernodeAdded{})
	gob.Register(eventbus.CiphernodeRemoved{})
	gob.Register(eventbus.KeyshareCreated{})
	gob.Register(eventbus.PublicKeyAggregated{})
	gob.Register(eventbus.InputPublished{})
	gob.Register(eventbus.CiphertextOutputPublished{})
	gob.Register(eventbus.DecryptionshareCreated{})
	gob.Register(eventbus.PlaintextAggregated{})
	gob.Register(eventbus.E3RequestComplete{})
	gob.Register(eventbus.FinalizeCommittee{})
	gob.Register(eventbus.EncryptionKeyCreated{})
	gob.Register(eventbus.EncryptionKeyReceived{})
	gob.Register(eventbus.AllEncryptionKeysCollected{})
	gob.Register(eventbus.EncryptionKeyCollectionFailed{})
	gob.Register(eventbus.ThresholdShareCreated{})
	gob.Register(eventbus.AllThresholdSharesCollected{})
	gob.Register(eventbus.ThresholdShareCollectionFailed{})
	gob.Register(eventbus.AllDecryptionSharesCollected{})
	gob.Register(eventbus.DecryptionShareCollectionFailed{})
	gob.Register(eventbus.ComputeRequested{})
	gob.Register(eventbus.ComputeSucceeded{})
	gob.Register(eventbus.ComputeFailed{})
	gob.Register(eventbus.HistoricalSyncComplete{})
	gob.Register(eventbus.SyncStart{})
	gob.Register(eventbus.SyncEnd{})
	gob.Register(eventbus.SyncRequest{})
	gob.Register(eventbus.NetEventsReceived{})
	gob.Register(eventbus.TicketBalanceUpdated{})
	gob.Register(eventbus.OperatorActivationChanged{})
	gob.Register(eventbus.SignedProofFailed{})
	gob.Register(eventbus.ConfigurationUpdated{})
	gob.Register(eventbus.Shutdown{})
	gob.Register(eventbus.Die{})
}
