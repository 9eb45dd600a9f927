package syncengine

import (
	"strconv"
	"time"

	"bitbucket.org/meditrust/medsync_backend/models"
)

// Field is one comparable/copyable payload column of a replicated entity.
// The explicit field lists replace any reflective "all columns except X"
// iteration: adding a column to a model without touching its schema here
// deliberately keeps it out of replication.
type Field[T any] struct {
	Column string
	Value  func(*T) any
}

// TranslatedField marks a medicine-reference column whose value is
// node-local and must be shifted when crossing node boundaries. Ptr returns
// the location of the value inside the record, or nil when the column is
// NULL (translation applies only to non-null values).
type TranslatedField[T any] struct {
	Column string
	Ptr    func(*T) *int
}

// Schema is the per-entity descriptor driving the reconciliation engine, the
// record comparator and the arbitration service.
type Schema[T any] struct {
	Table          string
	ID             func(*T) any
	ParseKey       func(string) (any, error)
	PartitionKey   func(r *T, scanNode string) (int, error)
	LastUpdated    func(*T) time.Time
	SetLastUpdated func(*T, time.Time)
	Fields         []Field[T]
	Translated     []TranslatedField[T]

	// CloneHook re-boxes pointer fields after a shallow copy so translation
	// on a clone never mutates the source record.
	CloneHook func(*T)
}

func (sc *Schema[T]) clone(r *T) *T {
	c := *r
	if sc.CloneHook != nil {
		sc.CloneHook(&c)
	}
	return &c
}

// Key renders the primary identifier as the ledger key string.
func (sc *Schema[T]) Key(r *T) string {
	switch v := sc.ID(r).(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// canonicalize shifts every translated column from nodeId's local numbering
// to canonical numbering, in place. Callers pass a clone, never a row that
// will be written back to the same node.
func (sc *Schema[T]) canonicalize(r *T, nodeId string) {
	for _, f := range sc.Translated {
		if p := f.Ptr(r); p != nil {
			*p = ToCanonicalMedicineID(nodeId, *p)
		}
	}
}

// localize is the inverse of canonicalize: canonical numbering to nodeId's
// local numbering.
func (sc *Schema[T]) localize(r *T, nodeId string) {
	for _, f := range sc.Translated {
		if p := f.Ptr(r); p != nil {
			*p = FromCanonicalMedicineID(nodeId, *p)
		}
	}
}

// columnValues renders the payload columns plus last_updated as an update
// map. The record must already be localized for the target node.
func (sc *Schema[T]) columnValues(r *T) map[string]interface{} {
	out := make(map[string]interface{}, len(sc.Fields)+1)
	for _, f := range sc.Fields {
		out[f.Column] = f.Value(r)
	}
	out["last_updated"] = sc.LastUpdated(r)
	return out
}

func parseIntKey(s string) (any, error) {
	n, err := strconv.Atoi(s)
	return n, err
}

func parseStringKey(s string) (any, error) { return s, nil }

// directPartition builds the partition resolver for entities carrying their
// own branch/warehouse column.
func directPartition[T any](get func(*T) int) func(*T, string) (int, error) {
	return func(r *T, _ string) (int, error) {
		return get(r), nil
	}
}

// scanNodePartition approximates ownership for line items by the node the
// record was scanned from. Correct only while line items are written solely
// at their parent's owning node, which is how every write path in this
// system behaves.
func scanNodePartition[T any]() func(*T, string) (int, error) {
	return func(_ *T, scanNode string) (int, error) {
		pk, ok := NodeHomeWarehouse[scanNode]
		if !ok {
			return 0, &unmappedPartitionError{pk: -1}
		}
		return pk, nil
	}
}

var userSchema = &Schema[models.User]{
	Table:          "users",
	ID:             func(r *models.User) any { return r.ID },
	ParseKey:       parseIntKey,
	PartitionKey:   directPartition(func(r *models.User) int { return r.BranchId }),
	LastUpdated:    func(r *models.User) time.Time { return r.LastUpdated },
	SetLastUpdated: func(r *models.User, t time.Time) { r.LastUpdated = t },
	Fields: []Field[models.User]{
		{Column: "username", Value: func(r *models.User) any { return r.Username }},
		{Column: "password", Value: func(r *models.User) any { return r.Password }},
		{Column: "role", Value: func(r *models.User) any { return r.Role }},
		{Column: "branch_id", Value: func(r *models.User) any { return r.BranchId }},
	},
}

var inventorySchema = &Schema[models.Inventory]{
	Table:          "inventory",
	ID:             func(r *models.Inventory) any { return r.ID },
	ParseKey:       parseIntKey,
	PartitionKey:   directPartition(func(r *models.Inventory) int { return r.WarehouseId }),
	LastUpdated:    func(r *models.Inventory) time.Time { return r.LastUpdated },
	SetLastUpdated: func(r *models.Inventory, t time.Time) { r.LastUpdated = t },
	Fields: []Field[models.Inventory]{
		{Column: "medicine_id", Value: func(r *models.Inventory) any { return r.MedicineId }},
		{Column: "warehouse_id", Value: func(r *models.Inventory) any { return r.WarehouseId }},
		{Column: "quantity", Value: func(r *models.Inventory) any { return r.Quantity }},
	},
	Translated: []TranslatedField[models.Inventory]{
		{Column: "medicine_id", Ptr: func(r *models.Inventory) *int { return &r.MedicineId }},
	},
}

var prescriptionSchema = &Schema[models.Prescription]{
	Table:          "prescriptions",
	ID:             func(r *models.Prescription) any { return r.ID },
	ParseKey:       parseStringKey,
	PartitionKey:   directPartition(func(r *models.Prescription) int { return r.WarehouseId }),
	LastUpdated:    func(r *models.Prescription) time.Time { return r.LastUpdated },
	SetLastUpdated: func(r *models.Prescription, t time.Time) { r.LastUpdated = t },
	Fields: []Field[models.Prescription]{
		{Column: "prescription_no", Value: func(r *models.Prescription) any { return r.PrescriptionNo }},
		{Column: "patient_name", Value: func(r *models.Prescription) any { return r.PatientName }},
		{Column: "doctor_id", Value: func(r *models.Prescription) any { return r.DoctorId }},
		{Column: "warehouse_id", Value: func(r *models.Prescription) any { return r.WarehouseId }},
		{Column: "total_amount", Value: func(r *models.Prescription) any { return r.TotalAmount }},
		{Column: "is_warned", Value: func(r *models.Prescription) any { return r.IsWarned }},
	},
}

var prescriptionItemSchema = &Schema[models.PrescriptionItem]{
	Table:          "prescription_items",
	ID:             func(r *models.PrescriptionItem) any { return r.ID },
	ParseKey:       parseStringKey,
	PartitionKey:   scanNodePartition[models.PrescriptionItem](),
	LastUpdated:    func(r *models.PrescriptionItem) time.Time { return r.LastUpdated },
	SetLastUpdated: func(r *models.PrescriptionItem, t time.Time) { r.LastUpdated = t },
	Fields: []Field[models.PrescriptionItem]{
		{Column: "prescription_id", Value: func(r *models.PrescriptionItem) any { return r.PrescriptionId }},
		{Column: "medicine_id", Value: func(r *models.PrescriptionItem) any { return r.MedicineId }},
		{Column: "quantity", Value: func(r *models.PrescriptionItem) any { return r.Quantity }},
		{Column: "price_snapshot", Value: func(r *models.PrescriptionItem) any { return r.PriceSnapshot }},
	},
	Translated: []TranslatedField[models.PrescriptionItem]{
		{Column: "medicine_id", Ptr: func(r *models.PrescriptionItem) *int { return &r.MedicineId }},
	},
}

var alertSchema = &Schema[models.AlertMessage]{
	Table:          "alert_messages",
	ID:             func(r *models.AlertMessage) any { return r.ID },
	ParseKey:       parseStringKey,
	PartitionKey:   directPartition(func(r *models.AlertMessage) int { return r.WarehouseId }),
	LastUpdated:    func(r *models.AlertMessage) time.Time { return r.LastUpdated },
	SetLastUpdated: func(r *models.AlertMessage, t time.Time) { r.LastUpdated = t },
	Fields: []Field[models.AlertMessage]{
		{Column: "warehouse_id", Value: func(r *models.AlertMessage) any { return r.WarehouseId }},
		{Column: "alert_type", Value: func(r *models.AlertMessage) any { return r.AlertType }},
		{Column: "message", Value: func(r *models.AlertMessage) any { return r.Message }},
		{Column: "medicine_id", Value: func(r *models.AlertMessage) any { return r.MedicineId }},
	},
	Translated: []TranslatedField[models.AlertMessage]{
		{Column: "medicine_id", Ptr: func(r *models.AlertMessage) *int { return r.MedicineId }},
	},
	CloneHook: func(r *models.AlertMessage) {
		if r.MedicineId != nil {
			v := *r.MedicineId
			r.MedicineId = &v
		}
	},
}
