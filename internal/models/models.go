package models

import (
	"strings"
	"time"
)

// ===========================================
// OBJECT TYPE
// ===========================================

// ObjectType classifies an object detected in a billboard's camera zone.
type ObjectType string

const (
	ObjectPerson     ObjectType = "person"
	ObjectCar        ObjectType = "car"
	ObjectBus        ObjectType = "bus"
	ObjectMotorcycle ObjectType = "motorcycle"
	ObjectTruck      ObjectType = "truck"
	ObjectVan        ObjectType = "van"
	ObjectAnimal     ObjectType = "animal"
	ObjectOther      ObjectType = "other"
)

// AllObjectTypes lists every recognized classification.
var AllObjectTypes = []ObjectType{
	ObjectPerson, ObjectCar, ObjectBus, ObjectMotorcycle,
	ObjectTruck, ObjectVan, ObjectAnimal, ObjectOther,
}

// ParseObjectType normalizes a free-form classification string.
// Unknown values map to ObjectOther.
func ParseObjectType(s string) ObjectType {
	switch ObjectType(strings.ToLower(strings.TrimSpace(s))) {
	case ObjectPerson:
		return ObjectPerson
	case ObjectCar:
		return ObjectCar
	case ObjectBus:
		return ObjectBus
	case ObjectMotorcycle:
		return ObjectMotorcycle
	case ObjectTruck:
		return ObjectTruck
	case ObjectVan:
		return ObjectVan
	case ObjectAnimal:
		return ObjectAnimal
	default:
		return ObjectOther
	}
}

// ===========================================
// BILLBOARD (reference data)
// ===========================================

// BillboardType is the display technology category.
type BillboardType string

const (
	BillboardLED     BillboardType = "LED"
	BillboardDigital BillboardType = "Digital"
	BillboardStatic  BillboardType = "Static"
)

// Billboard is a physical billboard site. Location is the administrative
// division name; TownClass and SubLocation drive the area-wise report
// grouping.
type Billboard struct {
	UUID          string        `json:"uuid"`
	Title         string        `json:"title"`
	Location      string        `json:"location"`
	TownClass     string        `json:"town_class"`
	SubLocation   string        `json:"sub_location"`
	BillboardType BillboardType `json:"billboard_type"`
	Latitude      float64       `json:"latitude"`
	Longitude     float64       `json:"longitude"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ===========================================
// CAMPAIGN WINDOW (reference data)
// ===========================================

// CampaignWindow attaches a billboard to a campaign for a time range.
// A rollup dated d counts toward the campaign when start <= d < end.
type CampaignWindow struct {
	CampaignUUID  string    `json:"campaign_uuid"`
	BillboardUUID string    `json:"billboard_uuid"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

// Contains reports whether the given date falls inside the window.
func (w CampaignWindow) Contains(date time.Time) bool {
	return !date.Before(w.StartTime) && date.Before(w.EndTime)
}

// ===========================================
// RAW DETECTION (staging)
// ===========================================

// Detection is a single raw perception-pipeline record staged for
// aggregation. Rows are consumed exactly once by the drain job and
// discarded afterwards; ID is the monotonically increasing watermark key.
type Detection struct {
	ID            int64      `json:"id"`
	CameraID      string     `json:"camera_id"`
	BillboardUUID string     `json:"billboard_uuid"`
	ObjectType    ObjectType `json:"object_type"`
	EntryTime     time.Time  `json:"entry_time"`
	ExitTime      time.Time  `json:"exit_time"`
	DwellSeconds  float64    `json:"dwell_seconds"`
	ReachTokens   []string   `json:"reach_tokens,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
