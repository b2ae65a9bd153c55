package models

// TableCounts is the row count of each table the service owns.
type TableCounts struct {
	Donations     int64 `db:"donations" json:"donations"`
	PaymentLogs   int64 `db:"payment_logs" json:"paymentLogs"`
	SystemConfigs int64 `db:"system_configs" json:"systemConfigs"`
}
