package syncengine

import "bitbucket.org/meditrust/medsync_backend/config"

// The pg node was seeded after the medicines catalog had already grown on the
// other nodes, so its auto-increment sequence starts 253 higher. Every
// medicine reference crossing that node's boundary must be shifted by this
// constant. Canonical numbering is the non-pg numbering.
const medicineIDOffset = 253

// nodeIDOffsets maps a node to the offset its local medicine numbering adds
// on top of the canonical numbering. Absent nodes use canonical numbering.
var nodeIDOffsets = map[string]int{
	config.NodePostgres: medicineIDOffset,
}

// ToCanonicalMedicineID converts a node-local medicine id to canonical
// numbering. Identity for nodes without an offset.
func ToCanonicalMedicineID(nodeId string, v int) int {
	return v - nodeIDOffsets[nodeId]
}

// FromCanonicalMedicineID converts a canonical medicine id to the numbering
// a node stores locally.
func FromCanonicalMedicineID(nodeId string, v int) int {
	return v + nodeIDOffsets[nodeId]
}
