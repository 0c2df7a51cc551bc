// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package record

// NumSlots is the fixed length of a FeatureVector. A change here is a
// breaking change requiring a new artifact major version (§6).
const NumSlots = 11

// Feature slot indices, in a fixed, stable order.
const (
	SlotByteRate              = 0
	SlotPacketRate            = 1
	SlotMeanPacketSize        = 2
	SlotPacketSizeVariance    = 3
	SlotSYNRatio              = 4
	SlotRSTRatio              = 5
	SlotFINRatio              = 6
	SlotUniqueDstPortEntropy  = 7
	SlotUniqueDstAddrEntropy  = 8
	SlotSessionDurationSec    = 9
	SlotACKByteRatio          = 10
)

// SlotNames is indexed identically to FeatureVector.Values, for logging
// and explanation output.
var SlotNames = [NumSlots]string{
	SlotByteRate:             "byte_rate",
	SlotPacketRate:           "packet_rate",
	SlotMeanPacketSize:       "mean_packet_size",
	SlotPacketSizeVariance:   "packet_size_variance",
	SlotSYNRatio:             "syn_ratio",
	SlotRSTRatio:             "rst_ratio",
	SlotFINRatio:             "fin_ratio",
	SlotUniqueDstPortEntropy: "unique_dst_port_entropy",
	SlotUniqueDstAddrEntropy: "unique_dst_addr_entropy",
	SlotSessionDurationSec:   "session_duration_s",
	SlotACKByteRatio:         "ack_byte_ratio",
}
