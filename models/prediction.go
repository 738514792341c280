package models

import "time"

// Prediction is one scored customer row of an upload. The risk tier is derived
// on read and never stored.
type Prediction struct {
	ID               uint      `gorm:"column:id;primaryKey" json:"id"`
	UploadID         string    `gorm:"column:upload_id;type:varchar(36);index;not null" json:"upload_id"`
	Position         int       `gorm:"column:position;not null" json:"position"`
	CustomerID       string    `gorm:"column:customer_id;index" json:"customer_id"`
	ChurnProbability float64   `gorm:"column:churn_probability;not null" json:"churn_probability"`
	ChurnLabel       int       `gorm:"column:churn_label;not null" json:"churn_label"`
	CreatedAt        time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Prediction) TableName() string { return "predictions" }
