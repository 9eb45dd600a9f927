package syncengine

import (
	"fmt"

	"bitbucket.org/meditrust/medsync_backend/config"
)

// OwnerMap assigns write authority: branch/warehouse id to owning node.
// A partition key outside this map is a configuration error; the engine
// skips the record and logs loudly rather than guessing.
var OwnerMap = map[int]string{
	1: config.NodeMySQL,
	2: config.NodePostgres,
	3: config.NodeSQLServer,
}

// NodeHomeWarehouse is the inverse of OwnerMap: the warehouse/branch a node
// is authoritative for. Line items with no direct partition column fall back
// to the scanned node's home warehouse.
var NodeHomeWarehouse = map[string]int{
	config.NodeMySQL:     1,
	config.NodePostgres:  2,
	config.NodeSQLServer: 3,
}

// OwnerOf resolves the owning node for a partition key.
func OwnerOf(partitionKey int) (string, bool) {
	owner, ok := OwnerMap[partitionKey]
	return owner, ok
}

type unmappedPartitionError struct {
	table string
	key   string
	pk    int
}

func (e *unmappedPartitionError) Error() string {
	return fmt.Sprintf("no owner mapped for partition key %d (%s:%s)", e.pk, e.table, e.key)
}
