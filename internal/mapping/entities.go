package mapping

import (
	"fmt"

	"github.com/hyperengineering/trestle/internal/types"
)

// Set holds the validated registry for every entity type.
type Set struct {
	regs map[types.EntityType]*Registry
}

// NewSet builds and validates the registries for all entity types. It fails
// fast on any malformed definition so a misdeclared field can never reach a
// sync run.
func NewSet() (*Set, error) {
	tables := map[types.EntityType][]FieldDef{
		types.EntityOpportunity:      opportunityFields(),
		types.EntitySite:             siteFields(),
		types.EntitySalesRecord:      salesRecordFields(),
		types.EntityMaintenanceOrder: maintenanceOrderFields(),
	}

	set := &Set{regs: make(map[types.EntityType]*Registry, len(tables))}
	for entity, defs := range tables {
		reg, err := NewRegistry(entity, defs)
		if err != nil {
			return nil, fmt.Errorf("build registry: %w", err)
		}
		set.regs[entity] = reg
	}
	return set, nil
}

// For returns the registry for an entity type.
func (s *Set) For(entity types.EntityType) (*Registry, bool) {
	reg, ok := s.regs[entity]
	return reg, ok
}

func opportunityFields() []FieldDef {
	return []FieldDef{
		{Key: "name", Frontend: "name", Local: "name", External: "oppName", Kind: KindText},
		{Key: "customer", Frontend: "customer", Local: "customer_name", External: "customerName", Kind: KindText},
		{Key: "status", Frontend: "status", Local: "status", External: "oppStatus", Kind: KindEnum,
			Options: []string{"following", "quoted", "won", "lost"}},
		{Key: "amount", Frontend: "amount", Local: "amount", External: "amount", Kind: KindDecimal},
		{Key: "expected_date", Frontend: "expectedDate", Local: "expected_date", External: "expectedTime", Kind: KindDate,
			ToExternal: DateToEpoch, FromExternal: DateFromEpoch},
		{Key: "remark", Frontend: "remark", Local: "remark", External: "remark", Kind: KindText},
		{Key: "photos", Frontend: "photos", Local: "photos", External: "photoList", Kind: KindFileList,
			ToLocal: NormalizeFileList, ToExternal: ExpandFileList, FromExternal: NormalizeFileList},
		{Key: "updated_time", Local: "updated_time", External: "updateTime", Kind: KindTimestamp,
			ToExternal: TimestampToEpoch, FromExternal: TimestampFromEpoch},
	}
}

func siteFields() []FieldDef {
	return []FieldDef{
		{Key: "name", Frontend: "name", Local: "name", External: "siteName", Kind: KindText},
		{Key: "address", Frontend: "address", Local: "address", External: "siteAddress", Kind: KindText},
		// Floors travel as a digit-suffixed label ("12F") on our side and a
		// plain integer on the external side.
		{Key: "floor", Frontend: "floor", Local: "floor", External: "floorNum", Kind: KindText,
			ToExternal: FloorToNumber, FromExternal: FloorFromNumber},
		{Key: "status", Frontend: "status", Local: "status", External: "status", Kind: KindEnum,
			Options: []string{"displayed", "hidden"}},
		{Key: "start_date", Frontend: "startDate", Local: "start_date", External: "startTime", Kind: KindDate,
			ToExternal: DateToEpoch, FromExternal: DateFromEpoch},
		{Key: "active", Frontend: "active", Local: "is_active", External: "isActive", Kind: KindBoolean},
		{Key: "photos", Frontend: "photos", Local: "photos", External: "photoList", Kind: KindFileList,
			ToLocal: NormalizeFileList, ToExternal: ExpandFileList, FromExternal: NormalizeFileList},
		{Key: "updated_time", Local: "updated_time", External: "updateTime", Kind: KindTimestamp,
			ToExternal: TimestampToEpoch, FromExternal: TimestampFromEpoch},
	}
}

func salesRecordFields() []FieldDef {
	return []FieldDef{
		{Key: "site", Frontend: "siteId", Local: "site_id", External: "siteId", Kind: KindText},
		{Key: "salesperson", Frontend: "salesperson", Local: "salesperson", External: "ownerName", Kind: KindText},
		{Key: "content", Frontend: "content", Local: "content", External: "recordContent", Kind: KindText},
		{Key: "visit_date", Frontend: "visitDate", Local: "visit_date", External: "visitTime", Kind: KindDate,
			ToExternal: DateToEpoch, FromExternal: DateFromEpoch},
		{Key: "amount", Frontend: "amount", Local: "amount", External: "dealAmount", Kind: KindDecimal},
		{Key: "photos", Frontend: "photos", Local: "photos", External: "photoList", Kind: KindFileList,
			ToLocal: NormalizeFileList, ToExternal: ExpandFileList, FromExternal: NormalizeFileList},
		{Key: "updated_time", Local: "updated_time", External: "updateTime", Kind: KindTimestamp,
			ToExternal: TimestampToEpoch, FromExternal: TimestampFromEpoch},
	}
}

func maintenanceOrderFields() []FieldDef {
	return []FieldDef{
		{Key: "order_no", Frontend: "orderNo", Local: "order_no", External: "orderNo", Kind: KindText},
		{Key: "site_name", Frontend: "siteName", Local: "site_name", External: "siteName", Kind: KindText},
		{Key: "issue", Frontend: "issue", Local: "issue", External: "issueDesc", Kind: KindText},
		{Key: "status", Frontend: "status", Local: "status", External: "orderStatus", Kind: KindEnum,
			Options: []string{"open", "processing", "closed"}},
		{Key: "reported_date", Frontend: "reportedDate", Local: "reported_date", External: "reportTime", Kind: KindDate,
			ToExternal: DateToEpoch, FromExternal: DateFromEpoch},
		{Key: "urgent", Frontend: "urgent", Local: "is_urgent", External: "isUrgent", Kind: KindBoolean},
		{Key: "photos", Frontend: "photos", Local: "photos", External: "photoList", Kind: KindFileList,
			ToLocal: NormalizeFileList, ToExternal: ExpandFileList, FromExternal: NormalizeFileList},
		{Key: "updated_time", Local: "updated_time", External: "updateTime", Kind: KindTimestamp,
			ToExternal: TimestampToEpoch, FromExternal: TimestampFromEpoch},
	}
}
