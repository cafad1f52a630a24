package domain

// FuelConfig describes the fuel economics of one vehicle.
type FuelConfig struct {
	TankCapacityL     float64 `json:"tank_capacity" yaml:"tank_capacity"`
	ExpectedKmL       float64 `json:"expected_kml" yaml:"expected_kml"`
	FuelPrice         float64 `json:"fuel_price" yaml:"fuel_price"`
	IdleConsumptionLH float64 `json:"idle_consumption_lh" yaml:"idle_consumption_lh"`
}

type WasteBreakdown struct {
	IdleCost       float64 `json:"idle_cost"`
	IdleHours      float64 `json:"idle_hours"`
	IdlePercentage float64 `json:"idle_percentage"`

	AggressiveCost       float64 `json:"aggressive_cost"`
	AggressiveEvents     int     `json:"aggressive_events"`
	AggressivePercentage float64 `json:"aggressive_percentage"`

	RouteCost       float64 `json:"route_cost"`
	RouteExtraKm    float64 `json:"route_extra_km"`
	RoutePercentage float64 `json:"route_percentage"`

	TotalWaste float64 `json:"total_waste"`
}

type DriverScore struct {
	DriverID       string  `json:"driver_id"`
	Score          int     `json:"score"`
	AvgConsumption float64 `json:"avg_consumption"`
	HarshEvents    int     `json:"harsh_events"`
	IdleHours      float64 `json:"idle_hours"`
	EstimatedWaste float64 `json:"estimated_waste"`
	Rank           *int    `json:"rank,omitempty"`
}

type AlertKind string

const (
	AlertIdle       AlertKind = "idle"
	AlertAggressive AlertKind = "aggressive"
	AlertLowScore   AlertKind = "low_score"
)

// CriticalAlert is a cost-ranked recommendation derived from a device's analytics.
type CriticalAlert struct {
	DeviceID     string    `json:"device_id"`
	Kind         AlertKind `json:"alert_type"`
	CostPerMonth float64   `json:"cost_per_month"`
	Description  string    `json:"description"`
	Action       string    `json:"action"`
}

// ROIResult is the payback projection for deploying the monitoring system.
type ROIResult struct {
	SystemCost     float64 `json:"system_cost"`
	MonthlySavings float64 `json:"monthly_savings"`
	PaybackMonths  float64 `json:"payback_months"`
	AnnualSavings  float64 `json:"annual_savings"`
	ROIPercent     float64 `json:"roi_percent"`
	TimesPaid      float64 `json:"times_paid"`
}
